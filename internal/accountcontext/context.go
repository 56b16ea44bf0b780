package accountcontext

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleSystem = "system"
)

// Actor is the authenticated principal supplied by the identity layer.
type Actor struct {
	AccountID snowflake.ID
	UserID    string
	Role      string
}

func (a Actor) IsSystem() bool {
	return a.Role == RoleSystem
}

type actorKey struct{}

// WithActor stores the actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	actor.Role = strings.ToLower(strings.TrimSpace(actor.Role))
	actor.UserID = strings.TrimSpace(actor.UserID)
	return context.WithValue(ctx, actorKey{}, actor)
}

// WithSystemActor marks the context as acting on behalf of a background process.
func WithSystemActor(ctx context.Context, name string) context.Context {
	return WithActor(ctx, Actor{UserID: name, Role: RoleSystem})
}

// ActorFromContext returns the actor from context, if set.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	if !ok || actor.Role == "" {
		return Actor{}, false
	}
	return actor, true
}

// AccountIDFromContext returns the account ID the actor belongs to.
func AccountIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.AccountID == 0 {
		return 0, false
	}
	return actor.AccountID, true
}
