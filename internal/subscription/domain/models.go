// Package domain contains persistence models for account subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SubscriptionStatus is the stored lifecycle hint. Readers must use
// DeriveStatus; expiry is never waited on from a background job.
type SubscriptionStatus string

const (
	SubscriptionStatusTrial     SubscriptionStatus = "trial"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusInactive  SubscriptionStatus = "inactive"
)

// Subscription is the single plan agreement of an account. Rows are never
// deleted; each write bumps Version and leaves a SubscriptionHistory row.
type Subscription struct {
	ID                  snowflake.ID                `gorm:"primaryKey"`
	AccountID           snowflake.ID                `gorm:"not null;uniqueIndex"`
	Plan                string                      `gorm:"type:text;not null"`
	Status              SubscriptionStatus          `gorm:"type:text;not null"`
	CurrentPeriodStart  time.Time                   `gorm:"not null"`
	CurrentPeriodEnd    time.Time                   `gorm:"not null;index"`
	TrialEndsAt         *time.Time                  `gorm:""`
	AutoRenew           bool                        `gorm:"not null;default:false"`
	Features            datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	Version             int64                       `gorm:"not null;default:0"`
	CanceledAt          *time.Time                  `gorm:""`
	LastPaymentFailedAt *time.Time                  `gorm:""`
	LastTransactionID   *string                     `gorm:"type:text"`
	CreatedAt           time.Time                   `gorm:"not null"`
	UpdatedAt           time.Time                   `gorm:"not null"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// DeriveStatus evaluates the effective status at now.
func (s Subscription) DeriveStatus(now time.Time) SubscriptionStatus {
	if s.Status == SubscriptionStatusInactive || s.Status == SubscriptionStatusExpired {
		return s.Status
	}
	if now.After(s.CurrentPeriodEnd) {
		return SubscriptionStatusExpired
	}
	if s.Status == SubscriptionStatusTrial && s.TrialEndsAt != nil && now.After(*s.TrialEndsAt) {
		return SubscriptionStatusExpired
	}
	return s.Status
}

// IsActive reports whether the account may use the product at now.
func (s Subscription) IsActive(now time.Time) bool {
	switch s.DeriveStatus(now) {
	case SubscriptionStatusActive, SubscriptionStatusTrial:
		return true
	default:
		return false
	}
}

// HistoryReason names the mutation that superseded a snapshot.
type HistoryReason string

const (
	HistoryReasonTrialStarted  HistoryReason = "trial_started"
	HistoryReasonUpgraded      HistoryReason = "upgraded"
	HistoryReasonPaymentFailed HistoryReason = "payment_failed"
	HistoryReasonCancelled     HistoryReason = "cancelled"
	HistoryReasonReactivated   HistoryReason = "reactivated"
	HistoryReasonExpired       HistoryReason = "expired"
)

// SubscriptionHistory records the state a mutation replaced.
type SubscriptionHistory struct {
	ID                 snowflake.ID       `gorm:"primaryKey"`
	AccountID          snowflake.ID       `gorm:"not null;index"`
	SubscriptionID     snowflake.ID       `gorm:"not null;index"`
	Reason             HistoryReason      `gorm:"type:text;not null"`
	Plan               string             `gorm:"type:text;not null"`
	Status             SubscriptionStatus `gorm:"type:text;not null"`
	CurrentPeriodStart time.Time          `gorm:"not null"`
	CurrentPeriodEnd   time.Time          `gorm:"not null"`
	TrialEndsAt        *time.Time         `gorm:""`
	AutoRenew          bool               `gorm:"not null"`
	Version            int64              `gorm:"not null"`
	CreatedAt          time.Time          `gorm:"not null"`
}

// TableName sets the database table name.
func (SubscriptionHistory) TableName() string { return "subscription_history" }
