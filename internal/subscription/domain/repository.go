package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByAccountID(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*Subscription, error)
	// UpdateVersioned writes the subscription only if the stored version still
	// equals expectedVersion, then bumps Version on the model.
	UpdateVersioned(ctx context.Context, db *gorm.DB, subscription *Subscription, expectedVersion int64) (bool, error)
	InsertHistory(ctx context.Context, db *gorm.DB, history *SubscriptionHistory) error
	ListHistory(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]SubscriptionHistory, error)
	// ListLapsed returns subscriptions whose stored status still claims
	// access although the period or trial has ended.
	ListLapsed(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Subscription, error)
}
