package payment

import (
	"github.com/smallbiznis/bizcore/internal/payment/repository"
	paymentservice "github.com/smallbiznis/bizcore/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(paymentservice.NewService),
)

// ConsumerModule subscribes to the payment topics; it needs internal/pubsub.
var ConsumerModule = fx.Module("payment.consumer",
	fx.Provide(NewConsumer),
	fx.Invoke(func(*Consumer) {}),
)
