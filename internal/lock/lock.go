// Package lock provides a best-effort redis mutex. Callers must stay correct
// without it; it only keeps concurrent workers from duplicating effort.
package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

const keyPrefix = "bizcore:lock:"

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const extendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

var (
	ErrNotConfigured = errors.New("lock_not_configured")
	ErrEmptyKey      = errors.New("lock_key_empty")
	ErrInvalidTTL    = errors.New("lock_ttl_invalid")
)

type Locker struct {
	client  *redis.Client
	release *redis.Script
	extend  *redis.Script
}

type Params struct {
	fx.In

	Client *redis.Client `optional:"true"`
}

func Provide(p Params) *Locker {
	return NewLocker(p.Client)
}

// NewLocker returns nil without a client; a nil *Locker is a valid no-op.
func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client:  client,
		release: redis.NewScript(releaseScript),
		extend:  redis.NewScript(extendScript),
	}
}

func (l *Locker) Enabled() bool {
	return l != nil && l.client != nil
}

// TryLock returns the token to release with, and false when another holder has the key.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if !l.Enabled() {
		return "", false, ErrNotConfigured
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, ErrEmptyKey
	}
	if ttl <= 0 {
		return "", false, ErrInvalidTTL
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Extend refreshes the ttl while token still owns the key.
func (l *Locker) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if !l.Enabled() {
		return false, ErrNotConfigured
	}
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}
	n, err := l.extend.Run(ctx, l.client, []string{keyPrefix + strings.TrimSpace(key)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release deletes the key only if token still owns it.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if !l.Enabled() {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" || token == "" {
		return nil
	}
	return l.release.Run(ctx, l.client, []string{keyPrefix + key}, token).Err()
}

var Module = fx.Module("lock",
	fx.Provide(Provide),
)
