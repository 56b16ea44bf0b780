package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidEvent = errors.New("invalid_billing_event")
)

type Event struct {
	AccountID snowflake.ID
	Type      string
	// DedupeKey makes Emit idempotent per account. Empty means no deduplication.
	DedupeKey string
	Payload   map[string]any
}

// Emitter writes events through the caller's transaction handle.
type Emitter interface {
	// Emit reports false when an event with the same dedupe key already exists.
	Emit(ctx context.Context, db *gorm.DB, event Event) (bool, error)
}

// Relay forwards unpublished outbox rows to the message publisher.
type Relay interface {
	PublishPending(ctx context.Context) (int, error)
}
