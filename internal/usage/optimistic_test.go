package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/bizcore/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// racyStore loses the first `conflicts` swaps as if another writer got there first.
type racyStore struct {
	mu        sync.Mutex
	value     int64
	version   int64
	conflicts int
}

func (s *racyStore) Get(context.Context, usagedomain.CounterKey) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, nil
}

func (s *racyStore) List(context.Context, snowflake.ID, time.Time) (map[string]int64, error) {
	return nil, nil
}

func (s *racyStore) Load(context.Context, usagedomain.CounterKey) (usagedomain.Versioned, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return usagedomain.Versioned{Value: s.value, Version: s.version}, nil
}

func (s *racyStore) CompareAndSwap(_ context.Context, _ usagedomain.CounterKey, expected int64, value int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflicts > 0 {
		s.conflicts--
		s.value++
		s.version++
		return false, nil
	}
	if expected != s.version {
		return false, nil
	}
	s.value = value
	s.version++
	return true, nil
}

var testKey = usagedomain.CounterKey{AccountID: 1, Resource: "invoices", PeriodStart: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

func TestOptimisticStoreRetriesOnConflict(t *testing.T) {
	backend := &racyStore{conflicts: 2}
	store := NewOptimisticStore(backend, 5)

	res, err := store.IncrementIfWithin(context.Background(), testKey, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, usagedomain.IncrementResult{Applied: true, Value: 3}, res)
}

func TestOptimisticStoreRechecksLimitAfterConflict(t *testing.T) {
	backend := &racyStore{value: 9, conflicts: 1}
	store := NewOptimisticStore(backend, 5)

	res, err := store.IncrementIfWithin(context.Background(), testKey, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, usagedomain.IncrementResult{Applied: false, Value: 10}, res)
}

func TestOptimisticStoreGivesUp(t *testing.T) {
	backend := &racyStore{conflicts: 100}
	store := NewOptimisticStore(backend, 3)

	_, err := store.IncrementIfWithin(context.Background(), testKey, 1, -1)
	require.ErrorIs(t, err, usagedomain.ErrCounterConflict)
}

func TestOptimisticStoreRejectsNonPositiveDelta(t *testing.T) {
	store := NewOptimisticStore(&racyStore{}, 0)

	_, err := store.IncrementIfWithin(context.Background(), testKey, -1, 10)
	require.ErrorIs(t, err, usagedomain.ErrInvalidDelta)
}
