package authorization

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bizcore/internal/accountcontext"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	enforcer, err := NewInMemoryEnforcer()
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestAuthorizeByRole(t *testing.T) {
	svc := newTestService(t)
	accountID := snowflake.ID(100)

	member := accountcontext.WithActor(context.Background(), accountcontext.Actor{AccountID: accountID, UserID: "1", Role: accountcontext.RoleMember})
	owner := accountcontext.WithActor(context.Background(), accountcontext.Actor{AccountID: accountID, UserID: "2", Role: accountcontext.RoleOwner})

	require.NoError(t, svc.Authorize(member, accountID, ObjectInvoice, ActionInvoiceCreate))
	require.ErrorIs(t, svc.Authorize(member, accountID, ObjectInvoice, ActionInvoiceVoid), ErrForbidden)
	require.NoError(t, svc.Authorize(owner, accountID, ObjectInvoice, ActionInvoiceVoid))
	require.ErrorIs(t, svc.Authorize(owner, accountID, ObjectSubscription, ActionSubscriptionExpire), ErrForbidden)
}

func TestAuthorizeRejectsCrossAccountAccess(t *testing.T) {
	svc := newTestService(t)

	owner := accountcontext.WithActor(context.Background(), accountcontext.Actor{AccountID: 1, UserID: "7", Role: accountcontext.RoleOwner})
	require.ErrorIs(t, svc.Authorize(owner, 2, ObjectInvoice, ActionInvoiceView), ErrForbidden)
}

func TestAuthorizeSystemActorAnyAccount(t *testing.T) {
	svc := newTestService(t)

	ctx := accountcontext.WithSystemActor(context.Background(), "scheduler")
	require.NoError(t, svc.Authorize(ctx, 1, ObjectRecurringTemplate, ActionRecurringGenerate))
	require.NoError(t, svc.Authorize(ctx, 2, ObjectSubscription, ActionSubscriptionExpire))
}

func TestAuthorizePaymentFailedIsSystemOnly(t *testing.T) {
	svc := newTestService(t)
	accountID := snowflake.ID(100)

	system := accountcontext.WithSystemActor(context.Background(), "payments")
	require.NoError(t, svc.Authorize(system, accountID, ObjectSubscription, ActionSubscriptionPaymentFailed))

	owner := accountcontext.WithActor(context.Background(), accountcontext.Actor{AccountID: accountID, UserID: "2", Role: accountcontext.RoleOwner})
	require.ErrorIs(t, svc.Authorize(owner, accountID, ObjectSubscription, ActionSubscriptionPaymentFailed), ErrForbidden)
	require.NoError(t, svc.Authorize(owner, accountID, ObjectSubscription, ActionSubscriptionUpgrade))
}

func TestAuthorizeRoleChangeTakesEffect(t *testing.T) {
	svc := newTestService(t)
	accountID := snowflake.ID(5)

	asOwner := accountcontext.WithActor(context.Background(), accountcontext.Actor{AccountID: accountID, UserID: "9", Role: accountcontext.RoleOwner})
	require.NoError(t, svc.Authorize(asOwner, accountID, ObjectSubscription, ActionSubscriptionUpgrade))

	asMember := accountcontext.WithActor(context.Background(), accountcontext.Actor{AccountID: accountID, UserID: "9", Role: accountcontext.RoleMember})
	require.ErrorIs(t, svc.Authorize(asMember, accountID, ObjectSubscription, ActionSubscriptionUpgrade), ErrForbidden)
}

func TestAuthorizeRequiresActor(t *testing.T) {
	svc := newTestService(t)
	require.ErrorIs(t, svc.Authorize(context.Background(), 1, ObjectInvoice, ActionInvoiceView), ErrInvalidActor)
	require.ErrorIs(t, svc.Authorize(context.Background(), 0, ObjectInvoice, ActionInvoiceView), ErrInvalidAccount)
}
