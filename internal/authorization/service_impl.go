package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/bizcore/internal/accountcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectInvoice           = "invoice"
	ObjectRecurringTemplate = "recurring_template"
	ObjectSubscription      = "subscription"
	ObjectUsage             = "usage"
	ObjectTaxDefinition     = "tax_definition"
)

const (
	ActionInvoiceView     = "invoice.view"
	ActionInvoiceCreate   = "invoice.create"
	ActionInvoiceFinalize = "invoice.finalize"
	ActionInvoiceMarkPaid = "invoice.mark_paid"
	ActionInvoiceVoid     = "invoice.void"
	ActionInvoiceGenerate = "invoice.generate"

	ActionRecurringView     = "recurring_template.view"
	ActionRecurringCreate   = "recurring_template.create"
	ActionRecurringUpdate   = "recurring_template.update"
	ActionRecurringPause    = "recurring_template.pause"
	ActionRecurringResume   = "recurring_template.resume"
	ActionRecurringCancel   = "recurring_template.cancel"
	ActionRecurringGenerate = "recurring_template.generate"

	ActionSubscriptionView          = "subscription.view"
	ActionSubscriptionStartTrial    = "subscription.start_trial"
	ActionSubscriptionUpgrade       = "subscription.upgrade"
	ActionSubscriptionPaymentFailed = "subscription.payment_failed"
	ActionSubscriptionCancel        = "subscription.cancel"
	ActionSubscriptionReactivate    = "subscription.reactivate"
	ActionSubscriptionExpire        = "subscription.expire"

	ActionUsageView   = "usage.view"
	ActionUsageRecord = "usage.record"

	ActionTaxDefinitionView   = "tax_definition.view"
	ActionTaxDefinitionManage = "tax_definition.manage"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer builds an enforcer persisted through the gorm adapter.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

// NewInMemoryEnforcer builds an enforcer without persistence.
func NewInMemoryEnforcer() (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, accountID snowflake.ID, object string, action string) error {
	if accountID == 0 {
		return ErrInvalidAccount
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	actor, ok := accountcontext.ActorFromContext(ctx)
	if !ok {
		return ErrInvalidActor
	}
	// Tenant isolation: users act only inside their own account.
	if !actor.IsSystem() && actor.AccountID != accountID {
		s.logDenied(actor, accountID, object, action, "account_mismatch")
		return ErrForbidden
	}

	subject := subjectFor(actor)
	if subject == "" {
		return ErrInvalidActor
	}
	roleName := fmt.Sprintf("role:%s", actor.Role)
	domain := fmt.Sprintf("account:%s", accountID.String())
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.logDenied(actor, accountID, object, action, "policy")
		return ErrForbidden
	}
	return nil
}

func subjectFor(actor accountcontext.Actor) string {
	if actor.IsSystem() {
		name := actor.UserID
		if name == "" {
			name = "system"
		}
		return "system:" + name
	}
	if actor.UserID == "" {
		return ""
	}
	return "user:" + actor.UserID
}

// ensureGrouping keeps exactly one role link per subject and domain so role
// changes made by the identity layer take effect on the next call.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		_, _ = s.enforcer.RemoveGroupingPolicy(params...)
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) logDenied(actor accountcontext.Actor, accountID snowflake.ID, object, action, reason string) {
	s.log.Warn("authorization.denied",
		zap.String("account_id", accountID.String()),
		zap.String("actor_role", actor.Role),
		zap.String("actor_id", actor.UserID),
		zap.String("object", object),
		zap.String("action", action),
		zap.String("reason", reason),
	)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	member := [][2]string{
		{ObjectInvoice, ActionInvoiceView},
		{ObjectInvoice, ActionInvoiceCreate},
		{ObjectRecurringTemplate, ActionRecurringView},
		{ObjectSubscription, ActionSubscriptionView},
		{ObjectUsage, ActionUsageView},
		{ObjectUsage, ActionUsageRecord},
		{ObjectTaxDefinition, ActionTaxDefinitionView},
	}
	admin := append([][2]string{
		{ObjectInvoice, ActionInvoiceFinalize},
		{ObjectInvoice, ActionInvoiceMarkPaid},
		{ObjectRecurringTemplate, ActionRecurringCreate},
		{ObjectRecurringTemplate, ActionRecurringUpdate},
		{ObjectRecurringTemplate, ActionRecurringPause},
		{ObjectRecurringTemplate, ActionRecurringResume},
		{ObjectRecurringTemplate, ActionRecurringCancel},
		{ObjectTaxDefinition, ActionTaxDefinitionManage},
	}, member...)
	owner := append([][2]string{
		{ObjectInvoice, ActionInvoiceVoid},
		{ObjectSubscription, ActionSubscriptionUpgrade},
		{ObjectSubscription, ActionSubscriptionCancel},
		{ObjectSubscription, ActionSubscriptionReactivate},
	}, admin...)
	system := append([][2]string{
		{ObjectInvoice, ActionInvoiceGenerate},
		{ObjectRecurringTemplate, ActionRecurringGenerate},
		{ObjectSubscription, ActionSubscriptionStartTrial},
		{ObjectSubscription, ActionSubscriptionPaymentFailed},
		{ObjectSubscription, ActionSubscriptionExpire},
	}, owner...)

	roles := map[string][][2]string{
		"role:" + accountcontext.RoleMember: member,
		"role:" + accountcontext.RoleAdmin:  admin,
		"role:" + accountcontext.RoleOwner:  owner,
		"role:" + accountcontext.RoleSystem: system,
	}
	for role, perms := range roles {
		for _, perm := range perms {
			has, err := enforcer.HasPolicy(role, perm[0], perm[1])
			if err != nil {
				return err
			}
			if has {
				continue
			}
			if _, err := enforcer.AddPolicy(role, perm[0], perm[1]); err != nil {
				return err
			}
		}
	}
	return nil
}
