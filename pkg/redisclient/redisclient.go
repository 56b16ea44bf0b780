// Package redisclient provides the shared go-redis client.
package redisclient

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/bizcore/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
}

// New returns nil when redis is disabled; consumers treat a nil client as "not configured".
func New(p Params) *redis.Client {
	cfg := p.Config.Redis
	if !cfg.Enabled && p.Config.UsageCounterBackend != config.UsageCounterBackendRedis {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(cfg.Addr),
		Password: strings.TrimSpace(cfg.Password),
		DB:       cfg.DB,
	})
	log := p.Log.Named("redis")

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Error("redis ping failed", zap.String("addr", cfg.Addr), zap.Error(err))
				return err
			}
			log.Info("redis connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

var Module = fx.Module("redis",
	fx.Provide(New),
)
