package domain

import (
	"context"
	"errors"

	subscriptiondomain "github.com/smallbiznis/bizcore/internal/subscription/domain"
	"gorm.io/gorm"
)

var (
	ErrInvalidConfirmation = errors.New("invalid_payment_confirmation")
	ErrInvalidAccount      = errors.New("invalid_account")
	ErrInvalidTransaction  = errors.New("invalid_transaction_id")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrDuplicatePayment    = errors.New("duplicate_payment")
)

type Service interface {
	// HandleConfirmation upgrades the account's subscription once per transaction id.
	HandleConfirmation(ctx context.Context, confirmation Confirmation) (*subscriptiondomain.Subscription, error)
	HandleFailure(ctx context.Context, failure Failure) (*subscriptiondomain.Subscription, error)
}

type Repository interface {
	// Insert reports false when the transaction id is already recorded.
	Insert(ctx context.Context, db *gorm.DB, payment *ProcessedPayment) (bool, error)
	FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*ProcessedPayment, error)
}
