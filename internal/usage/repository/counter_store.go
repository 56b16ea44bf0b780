package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bizcore/internal/clock"
	usagedomain "github.com/smallbiznis/bizcore/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CounterStore keeps usage counters in the usage_counters table.
type CounterStore struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
}

var (
	_ usagedomain.CounterStore   = (*CounterStore)(nil)
	_ usagedomain.VersionedStore = (*CounterStore)(nil)
)

func NewCounterStore(db *gorm.DB, genID *snowflake.Node, clk clock.Clock) *CounterStore {
	return &CounterStore{db: db, genID: genID, clock: clk}
}

// IncrementIfWithin runs UPDATE ... SET value = value + delta WHERE value + delta <= limit.
func (s *CounterStore) IncrementIfWithin(ctx context.Context, key usagedomain.CounterKey, delta int64, limit int64) (usagedomain.IncrementResult, error) {
	key, err := key.Normalize()
	if err != nil {
		return usagedomain.IncrementResult{}, err
	}
	if delta <= 0 {
		return usagedomain.IncrementResult{}, usagedomain.ErrInvalidDelta
	}
	if err := s.ensure(ctx, key); err != nil {
		return usagedomain.IncrementResult{}, err
	}

	stmt := s.whereKey(s.db.WithContext(ctx).Model(&usagedomain.UsageCounter{}), key)
	if limit >= 0 {
		stmt = stmt.Where("value + ? <= ?", delta, limit)
	}
	result := stmt.Updates(map[string]any{
		"value":      gorm.Expr("value + ?", delta),
		"version":    gorm.Expr("version + 1"),
		"updated_at": s.clock.Now(),
	})
	if result.Error != nil {
		return usagedomain.IncrementResult{}, result.Error
	}

	current, err := s.Get(ctx, key)
	if err != nil {
		return usagedomain.IncrementResult{}, err
	}
	return usagedomain.IncrementResult{Applied: result.RowsAffected == 1, Value: current}, nil
}

func (s *CounterStore) Get(ctx context.Context, key usagedomain.CounterKey) (int64, error) {
	key, err := key.Normalize()
	if err != nil {
		return 0, err
	}
	var counter usagedomain.UsageCounter
	err = s.whereKey(s.db.WithContext(ctx), key).Limit(1).Find(&counter).Error
	if err != nil {
		return 0, err
	}
	return counter.Value, nil
}

func (s *CounterStore) List(ctx context.Context, accountID snowflake.ID, periodStart time.Time) (map[string]int64, error) {
	var counters []usagedomain.UsageCounter
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND period_start = ?", accountID, periodStart.UTC().Truncate(time.Second)).
		Find(&counters).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(counters))
	for _, c := range counters {
		out[c.Resource] = c.Value
	}
	return out, nil
}

func (s *CounterStore) Load(ctx context.Context, key usagedomain.CounterKey) (usagedomain.Versioned, error) {
	key, err := key.Normalize()
	if err != nil {
		return usagedomain.Versioned{}, err
	}
	if err := s.ensure(ctx, key); err != nil {
		return usagedomain.Versioned{}, err
	}
	var counter usagedomain.UsageCounter
	if err := s.whereKey(s.db.WithContext(ctx), key).Limit(1).Find(&counter).Error; err != nil {
		return usagedomain.Versioned{}, err
	}
	return usagedomain.Versioned{Value: counter.Value, Version: counter.Version}, nil
}

func (s *CounterStore) CompareAndSwap(ctx context.Context, key usagedomain.CounterKey, expectedVersion int64, value int64) (bool, error) {
	key, err := key.Normalize()
	if err != nil {
		return false, err
	}
	if value < 0 {
		return false, usagedomain.ErrInvalidDelta
	}
	result := s.whereKey(s.db.WithContext(ctx).Model(&usagedomain.UsageCounter{}), key).
		Where("version = ?", expectedVersion).
		Updates(map[string]any{
			"value":      value,
			"version":    gorm.Expr("version + 1"),
			"updated_at": s.clock.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ensure creates the zero row for a new period so the conditional update has a target.
func (s *CounterStore) ensure(ctx context.Context, key usagedomain.CounterKey) error {
	now := s.clock.Now()
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&usagedomain.UsageCounter{
			ID:          s.genID.Generate(),
			AccountID:   key.AccountID,
			Resource:    key.Resource,
			PeriodStart: key.PeriodStart,
			CreatedAt:   now,
			UpdatedAt:   now,
		}).Error
}

func (s *CounterStore) whereKey(db *gorm.DB, key usagedomain.CounterKey) *gorm.DB {
	return db.Where("account_id = ? AND resource = ? AND period_start = ?", key.AccountID, key.Resource, key.PeriodStart)
}
