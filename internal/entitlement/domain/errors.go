package domain

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidAccount      = errors.New("invalid_account")
	ErrInvalidResource     = errors.New("invalid_resource")
	ErrInvalidUsageDelta   = errors.New("invalid_usage_delta")
	ErrSubscriptionExpired = errors.New("subscription_expired")
	ErrUsageLimitExceeded  = errors.New("usage_limit_exceeded")
)

// SubscriptionExpiredError is a business denial: the account has no active
// or trial subscription at evaluation time.
type SubscriptionExpiredError struct {
	AccountID snowflake.ID
	Status    string
}

func (e *SubscriptionExpiredError) Error() string {
	return fmt.Sprintf("subscription_expired: account %s status %s", e.AccountID, e.Status)
}

func (e *SubscriptionExpiredError) Unwrap() error { return ErrSubscriptionExpired }

// UsageLimitExceededError reports the usage that would have crossed the limit.
type UsageLimitExceededError struct {
	AccountID snowflake.ID
	Resource  string
	Current   int64
	Limit     int64
}

func (e *UsageLimitExceededError) Error() string {
	return fmt.Sprintf("usage_limit_exceeded: %s at %d of %d", e.Resource, e.Current, e.Limit)
}

func (e *UsageLimitExceededError) Unwrap() error { return ErrUsageLimitExceeded }
