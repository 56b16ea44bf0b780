package pubsub

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewGoChannel builds the in-process broker used when no external broker is configured.
func NewGoChannel(lc fx.Lifecycle, log *zap.Logger) *gochannel.GoChannel {
	ch := gochannel.NewGoChannel(
		gochannel.Config{
			Persistent:                     true,
			BlockPublishUntilSubscriberAck: false,
			OutputChannelBuffer:            100,
		},
		NewLoggerAdapter(log),
	)
	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return ch.Close()
			},
		})
	}
	return ch
}

func NewRouter(lc fx.Lifecycle, log *zap.Logger) (*message.Router, error) {
	logger := NewLoggerAdapter(log)
	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, err
	}

	router.AddMiddleware(
		middleware.Recoverer,
		middleware.CorrelationID,
		middleware.Retry{
			MaxRetries:          3,
			InitialInterval:     100 * time.Millisecond,
			MaxInterval:         5 * time.Second,
			Multiplier:          2,
			RandomizationFactor: 0.5,
			Logger:              logger,
		}.Middleware,
	)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := router.Run(context.Background()); err != nil {
						log.Error("message router stopped", zap.Error(err))
					}
				}()
				return nil
			},
			OnStop: func(context.Context) error {
				return router.Close()
			},
		})
	}
	return router, nil
}

var Module = fx.Module("pubsub",
	fx.Provide(
		NewGoChannel,
		func(ch *gochannel.GoChannel) message.Publisher { return ch },
		func(ch *gochannel.GoChannel) message.Subscriber { return ch },
		NewRouter,
	),
)
