package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/bizcore/internal/subscription/domain"
	"github.com/smallbiznis/bizcore/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	err := tx.WithContext(ctx).Create(subscription).Error
	if db.IsDuplicateKeyErr(err) {
		return subscriptiondomain.ErrSubscriptionExists
	}
	return err
}

func (r *repo) FindByAccountID(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := tx.WithContext(ctx).
		Where("account_id = ?", accountID).
		Limit(1).
		Find(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) UpdateVersioned(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription, expectedVersion int64) (bool, error) {
	result := tx.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("id = ? AND account_id = ? AND version = ?", subscription.ID, subscription.AccountID, expectedVersion).
		Updates(map[string]any{
			"plan":                   subscription.Plan,
			"status":                 subscription.Status,
			"current_period_start":   subscription.CurrentPeriodStart,
			"current_period_end":     subscription.CurrentPeriodEnd,
			"trial_ends_at":          subscription.TrialEndsAt,
			"auto_renew":             subscription.AutoRenew,
			"features":               subscription.Features,
			"canceled_at":            subscription.CanceledAt,
			"last_payment_failed_at": subscription.LastPaymentFailedAt,
			"last_transaction_id":    subscription.LastTransactionID,
			"updated_at":             subscription.UpdatedAt,
			"version":                expectedVersion + 1,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected != 1 {
		return false, nil
	}
	subscription.Version = expectedVersion + 1
	return true, nil
}

func (r *repo) InsertHistory(ctx context.Context, tx *gorm.DB, history *subscriptiondomain.SubscriptionHistory) error {
	return tx.WithContext(ctx).Create(history).Error
}

func (r *repo) ListHistory(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) ([]subscriptiondomain.SubscriptionHistory, error) {
	var items []subscriptiondomain.SubscriptionHistory
	err := tx.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListLapsed(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	var items []subscriptiondomain.Subscription
	stmt := tx.WithContext(ctx).
		Where("status IN ?", []subscriptiondomain.SubscriptionStatus{
			subscriptiondomain.SubscriptionStatusTrial,
			subscriptiondomain.SubscriptionStatusActive,
			subscriptiondomain.SubscriptionStatusCancelled,
		}).
		Where("current_period_end < ? OR (status = ? AND trial_ends_at IS NOT NULL AND trial_ends_at < ?)",
			now, subscriptiondomain.SubscriptionStatusTrial, now).
		Order("current_period_end ASC, id ASC")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
