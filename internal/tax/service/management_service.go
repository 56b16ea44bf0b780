package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/samber/lo"
	"github.com/smallbiznis/bizcore/internal/accountcontext"
	"github.com/smallbiznis/bizcore/internal/authorization"
	"github.com/smallbiznis/bizcore/internal/clock"
	taxdomain "github.com/smallbiznis/bizcore/internal/tax/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type serviceParams struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  taxdomain.Repository
	Authz authorization.Service `optional:"true"`
}

type Service struct {
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  taxdomain.Repository
	authz authorization.Service
}

func NewService(p serviceParams) taxdomain.Service {
	return &Service{
		log:   p.Log.Named("tax.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		authz: p.Authz,
	}
}

func (s *Service) List(ctx context.Context, req taxdomain.ListRequest) ([]taxdomain.Response, error) {
	accountID, err := s.authorize(ctx, authorization.ActionTaxDefinitionView)
	if err != nil {
		return nil, err
	}

	filter := taxdomain.ListRequest{
		Code:      slug.Make(req.Code),
		IsEnabled: req.IsEnabled,
	}

	items, err := s.repo.List(ctx, accountID, filter)
	if err != nil {
		return nil, err
	}

	return lo.Map(items, func(item taxdomain.TaxDefinition, _ int) taxdomain.Response {
		return toResponse(&item)
	}), nil
}

func (s *Service) Create(ctx context.Context, req taxdomain.CreateRequest) (*taxdomain.Response, error) {
	accountID, err := s.authorize(ctx, authorization.ActionTaxDefinitionManage)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	record := &taxdomain.TaxDefinition{
		ID:          s.genID.Generate(),
		AccountID:   accountID,
		Name:        strings.TrimSpace(req.Name),
		Code:        slug.Make(req.Code),
		RatePercent: req.RatePercent,
		Description: trimmedOrNil(req.Description),
		IsEnabled:   true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, record); err != nil {
		return nil, err
	}

	resp := toResponse(record)
	return &resp, nil
}

func (s *Service) Update(ctx context.Context, req taxdomain.UpdateRequest) (*taxdomain.Response, error) {
	accountID, err := s.authorize(ctx, authorization.ActionTaxDefinitionManage)
	if err != nil {
		return nil, err
	}

	item, err := s.find(ctx, accountID, req.ID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		item.Name = strings.TrimSpace(*req.Name)
	}
	if req.RatePercent != nil {
		item.RatePercent = *req.RatePercent
	}
	if req.Description != nil {
		item.Description = trimmedOrNil(req.Description)
	}

	item.UpdatedAt = s.clock.Now()
	if err := item.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, item); err != nil {
		return nil, err
	}

	resp := toResponse(item)
	return &resp, nil
}

func (s *Service) Disable(ctx context.Context, id string) (*taxdomain.Response, error) {
	accountID, err := s.authorize(ctx, authorization.ActionTaxDefinitionManage)
	if err != nil {
		return nil, err
	}

	item, err := s.find(ctx, accountID, id)
	if err != nil {
		return nil, err
	}

	item.IsEnabled = false
	item.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, item); err != nil {
		return nil, err
	}

	resp := toResponse(item)
	return &resp, nil
}

func (s *Service) find(ctx context.Context, accountID snowflake.ID, rawID string) (*taxdomain.TaxDefinition, error) {
	defID, err := snowflake.ParseString(strings.TrimSpace(rawID))
	if err != nil {
		return nil, taxdomain.ErrInvalidID
	}
	item, err := s.repo.FindByID(ctx, accountID, defID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, taxdomain.ErrNotFound
	}
	return item, nil
}

func (s *Service) authorize(ctx context.Context, action string) (snowflake.ID, error) {
	accountID, ok := accountcontext.AccountIDFromContext(ctx)
	if !ok {
		return 0, taxdomain.ErrInvalidAccount
	}
	if s.authz == nil {
		return accountID, nil
	}
	if err := s.authz.Authorize(ctx, accountID, authorization.ObjectTaxDefinition, action); err != nil {
		return 0, err
	}
	return accountID, nil
}

func toResponse(def *taxdomain.TaxDefinition) taxdomain.Response {
	return taxdomain.Response{
		ID:          def.ID.String(),
		AccountID:   def.AccountID.String(),
		Code:        def.Code,
		Name:        def.Name,
		RatePercent: def.RatePercent,
		Description: def.Description,
		IsEnabled:   def.IsEnabled,
		CreatedAt:   def.CreatedAt,
		UpdatedAt:   def.UpdatedAt,
	}
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
