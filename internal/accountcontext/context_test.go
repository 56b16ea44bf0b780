package accountcontext

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
)

func TestActorRoundTrip(t *testing.T) {
	ctx := WithActor(context.Background(), Actor{AccountID: snowflake.ID(42), UserID: " u-1 ", Role: "Owner"})

	actor, ok := ActorFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, RoleOwner, actor.Role)
	assert.Equal(t, "u-1", actor.UserID)

	accountID, ok := AccountIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, snowflake.ID(42), accountID)
}

func TestSystemActorHasNoAccount(t *testing.T) {
	ctx := WithSystemActor(context.Background(), "scheduler")

	actor, ok := ActorFromContext(ctx)
	assert.True(t, ok)
	assert.True(t, actor.IsSystem())

	_, ok = AccountIDFromContext(ctx)
	assert.False(t, ok)
}

func TestMissingActor(t *testing.T) {
	_, ok := ActorFromContext(context.Background())
	assert.False(t, ok)
}
