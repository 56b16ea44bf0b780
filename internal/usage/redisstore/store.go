// Package redisstore keeps usage counters in redis and enforces limits with a Lua script.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	usagedomain "github.com/smallbiznis/bizcore/internal/usage/domain"
)

const (
	keyPrefix  = "bizcore:usage"
	defaultTTL = 400 * 24 * time.Hour
)

// KEYS[1] counter, ARGV[1] delta, ARGV[2] limit (negative = unlimited), ARGV[3] ttl ms.
// Returns {applied, value}.
const incrementIfWithinScript = `
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local delta = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

if limit >= 0 and current + delta > limit then
  return {0, current}
end

local value = redis.call("INCRBY", KEYS[1], delta)
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ttl)
end
return {1, value}
`

type Store struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
}

var _ usagedomain.CounterStore = (*Store)(nil)

func New(client *redis.Client) *Store {
	if client == nil {
		return nil
	}
	return &Store{
		client: client,
		script: redis.NewScript(incrementIfWithinScript),
		ttl:    defaultTTL,
	}
}

func (s *Store) IncrementIfWithin(ctx context.Context, key usagedomain.CounterKey, delta int64, limit int64) (usagedomain.IncrementResult, error) {
	if s == nil || s.client == nil {
		return usagedomain.IncrementResult{}, errors.New("usage redis store not configured")
	}
	key, err := key.Normalize()
	if err != nil {
		return usagedomain.IncrementResult{}, err
	}
	if delta <= 0 {
		return usagedomain.IncrementResult{}, usagedomain.ErrInvalidDelta
	}

	res, err := s.script.Run(ctx, s.client, []string{redisKey(key)},
		delta,
		limit,
		s.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return usagedomain.IncrementResult{}, err
	}
	if len(res) < 2 {
		return usagedomain.IncrementResult{}, errors.New("invalid usage script response")
	}
	return usagedomain.IncrementResult{Applied: res[0] == 1, Value: res[1]}, nil
}

func (s *Store) Get(ctx context.Context, key usagedomain.CounterKey) (int64, error) {
	key, err := key.Normalize()
	if err != nil {
		return 0, err
	}
	value, err := s.client.Get(ctx, redisKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return value, err
}

func (s *Store) List(ctx context.Context, accountID snowflake.ID, periodStart time.Time) (map[string]int64, error) {
	period := strconv.FormatInt(periodStart.UTC().Truncate(time.Second).Unix(), 10)
	prefix := fmt.Sprintf("%s:%s:", keyPrefix, accountID.String())
	match := prefix + "*:" + period

	out := map[string]int64{}
	iter := s.client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		resource := strings.TrimSuffix(strings.TrimPrefix(k, prefix), ":"+period)
		value, err := s.client.Get(ctx, k).Int64()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[resource] = value
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func redisKey(key usagedomain.CounterKey) string {
	return fmt.Sprintf("%s:%s:%s:%d", keyPrefix, key.AccountID.String(), key.Resource, key.PeriodStart.Unix())
}
