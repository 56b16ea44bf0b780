package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ProcessedPayment records a confirmation that has been applied. The unique
// transaction id makes redelivered confirmations no-ops.
type ProcessedPayment struct {
	ID             snowflake.ID  `json:"id" gorm:"primaryKey"`
	TransactionID  string        `json:"transaction_id" gorm:"type:text;not null;uniqueIndex"`
	AccountID      snowflake.ID  `json:"account_id" gorm:"not null;index"`
	SubscriptionID *snowflake.ID `json:"subscription_id"`
	Plan           string        `json:"plan" gorm:"type:text;not null"`
	AmountPaid     int64         `json:"amount_paid" gorm:"not null"`
	ExpectedAmount int64         `json:"expected_amount" gorm:"not null"`
	AmountMismatch bool          `json:"amount_mismatch" gorm:"not null;default:false"`
	PaidAt         time.Time     `json:"paid_at" gorm:"not null"`
	ReceivedAt     time.Time     `json:"received_at" gorm:"not null"`
}

func (ProcessedPayment) TableName() string { return "processed_payments" }

// Confirmation is a settled payment reported by the payment provider integration.
type Confirmation struct {
	AccountID     snowflake.ID `json:"account_id"`
	Plan          string       `json:"plan"`
	AmountPaid    int64        `json:"amount_paid"`
	TransactionID string       `json:"transaction_id"`
	Timestamp     time.Time    `json:"timestamp"`
}

// Failure reports a declined renewal or charge.
type Failure struct {
	AccountID     snowflake.ID `json:"account_id"`
	TransactionID string       `json:"transaction_id"`
	Reason        string       `json:"reason"`
	Timestamp     time.Time    `json:"timestamp"`
}
