package usage

import (
	"context"

	usagedomain "github.com/smallbiznis/bizcore/internal/usage/domain"
)

const DefaultMaxRetries = 5

// OptimisticStore turns a read/compare-and-swap backend into a CounterStore.
// The limit is checked against the version that is swapped, so a lost race
// retries against fresh state instead of overshooting.
type OptimisticStore struct {
	usagedomain.VersionedStore
	maxRetries int
}

var _ usagedomain.CounterStore = (*OptimisticStore)(nil)

func NewOptimisticStore(store usagedomain.VersionedStore, maxRetries int) *OptimisticStore {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &OptimisticStore{VersionedStore: store, maxRetries: maxRetries}
}

func (s *OptimisticStore) IncrementIfWithin(ctx context.Context, key usagedomain.CounterKey, delta int64, limit int64) (usagedomain.IncrementResult, error) {
	if delta <= 0 {
		return usagedomain.IncrementResult{}, usagedomain.ErrInvalidDelta
	}
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return usagedomain.IncrementResult{}, err
		}
		current, err := s.Load(ctx, key)
		if err != nil {
			return usagedomain.IncrementResult{}, err
		}
		if limit >= 0 && current.Value+delta > limit {
			return usagedomain.IncrementResult{Applied: false, Value: current.Value}, nil
		}
		next := current.Value + delta
		swapped, err := s.CompareAndSwap(ctx, key, current.Version, next)
		if err != nil {
			return usagedomain.IncrementResult{}, err
		}
		if swapped {
			return usagedomain.IncrementResult{Applied: true, Value: next}, nil
		}
	}
	return usagedomain.IncrementResult{}, usagedomain.ErrCounterConflict
}
