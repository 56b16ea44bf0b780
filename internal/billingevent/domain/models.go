package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Event types double as relay topics.
const (
	EventTypeUsageLimitExceeded    = "billing.usage_limit_exceeded"
	EventTypeInvoiceGenerated      = "billing.invoice_generated"
	EventTypeSubscriptionExpired   = "billing.subscription_expired"
	EventTypeSubscriptionUpgraded  = "billing.subscription_upgraded"
	EventTypeSubscriptionCancelled = "billing.subscription_cancelled"
)

// BillingEvent is an outbox row written in the same transaction as the change it describes.
type BillingEvent struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	AccountID   snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_billing_event_dedupe,priority:1"`
	EventType   string            `gorm:"type:text;not null;index"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb;not null"`
	DedupeKey   *string           `gorm:"type:text;uniqueIndex:ux_billing_event_dedupe,priority:2"`
	Published   bool              `gorm:"not null;default:false;index"`
	PublishedAt *time.Time        `gorm:""`
	CreatedAt   time.Time         `gorm:"not null"`
}

func (BillingEvent) TableName() string { return "billing_events" }
