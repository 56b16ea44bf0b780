package domain

//go:generate mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidCounterKey = errors.New("invalid_counter_key")
	ErrInvalidDelta      = errors.New("invalid_usage_delta")
	ErrCounterConflict   = errors.New("usage_counter_conflict")
)

// IncrementResult carries the counter value after an applied increment, or
// the value that caused the rejection.
type IncrementResult struct {
	Applied bool
	Value   int64
}

type CounterReader interface {
	Get(ctx context.Context, key CounterKey) (int64, error)
	// List returns resource -> value for one account period.
	List(ctx context.Context, accountID snowflake.ID, periodStart time.Time) (map[string]int64, error)
}

// CounterStore increments atomically: the limit check and the write are a
// single operation, so concurrent callers can never push value past limit.
// A negative limit means unlimited.
type CounterStore interface {
	CounterReader
	IncrementIfWithin(ctx context.Context, key CounterKey, delta int64, limit int64) (IncrementResult, error)
}

type Versioned struct {
	Value   int64
	Version int64
}

// VersionedStore is a backend that can only read and compare-and-swap.
type VersionedStore interface {
	CounterReader
	Load(ctx context.Context, key CounterKey) (Versioned, error)
	CompareAndSwap(ctx context.Context, key CounterKey, expectedVersion int64, value int64) (bool, error)
}
