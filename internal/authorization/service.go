package authorization

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidActor   = errors.New("invalid_actor")
	ErrInvalidAccount = errors.New("invalid_account")
	ErrInvalidObject  = errors.New("invalid_object")
	ErrInvalidAction  = errors.New("invalid_action")
)

// Service decides whether the actor carried in ctx may perform action on
// object within the given account.
type Service interface {
	Authorize(ctx context.Context, accountID snowflake.ID, object string, action string) error
}
