package subscription

import (
	subscriptiondomain "github.com/smallbiznis/bizcore/internal/subscription/domain"
	"github.com/smallbiznis/bizcore/internal/subscription/repository"
	"github.com/smallbiznis/bizcore/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(svc subscriptiondomain.Service) subscriptiondomain.Reader { return svc }),
)
