package recurring

import (
	"github.com/smallbiznis/bizcore/internal/recurring/repository"
	"github.com/smallbiznis/bizcore/internal/recurring/service"
	"go.uber.org/fx"
)

var Module = fx.Module("recurring.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
	fx.Provide(service.NewGenerator),
)
