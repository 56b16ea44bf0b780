package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Reader is the unauthenticated read path used by entitlement checks.
type Reader interface {
	// Current returns the subscription with Status re-derived at now, or nil.
	Current(ctx context.Context, accountID snowflake.ID) (*Subscription, error)
}

type Service interface {
	Reader

	StartTrial(ctx context.Context, accountID snowflake.ID) (*Subscription, error)
	Upgrade(ctx context.Context, accountID snowflake.ID, plan string) (*Subscription, error)
	// UpgradeInTx makes a single attempt inside the caller's transaction and
	// returns ErrVersionConflict for the caller to retry.
	UpgradeInTx(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, plan string, transactionID string) (*Subscription, error)
	PaymentFailed(ctx context.Context, accountID snowflake.ID) (*Subscription, error)
	Cancel(ctx context.Context, accountID snowflake.ID, immediately bool) (*Subscription, error)
	Reactivate(ctx context.Context, accountID snowflake.ID) (*Subscription, error)
	Get(ctx context.Context, accountID snowflake.ID) (*Subscription, error)
	History(ctx context.Context, accountID snowflake.ID) ([]SubscriptionHistory, error)
	// MarkExpired syncs stored status for lapsed subscriptions and reports how many changed.
	MarkExpired(ctx context.Context, now time.Time, limit int) (int, error)
}
