package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bizcore/internal/config"
)

// Status is the entitlement view of an account at evaluation time.
type Status struct {
	IsActive    bool
	Plan        string
	Status      string
	Limits      map[string]config.Limit
	Features    []string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// ResourceUsage is one counter of the current period. Remaining is -1 for unlimited resources.
type ResourceUsage struct {
	Resource  string
	Used      int64
	Limit     config.Limit
	Remaining int64
}

// Service gates feature access. Denials are typed errors, never booleans
// hidden in a nil error, and infrastructure failures are returned as-is.
type Service interface {
	CheckSubscription(ctx context.Context, accountID snowflake.ID) (Status, error)
	// CheckUsageLimit is advisory; UpdateUsage is the authoritative check.
	CheckUsageLimit(ctx context.Context, accountID snowflake.ID, resource string, increment int64) error
	// UpdateUsage atomically checks and increments, returning the new counter value.
	UpdateUsage(ctx context.Context, accountID snowflake.ID, resource string, delta int64) (int64, error)
	Usage(ctx context.Context, accountID snowflake.ID) ([]ResourceUsage, error)
	HasFeature(ctx context.Context, accountID snowflake.ID, feature string) (bool, error)
}
