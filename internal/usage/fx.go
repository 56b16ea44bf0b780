package usage

import (
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/bizcore/internal/clock"
	"github.com/smallbiznis/bizcore/internal/config"
	usagedomain "github.com/smallbiznis/bizcore/internal/usage/domain"
	"github.com/smallbiznis/bizcore/internal/usage/redisstore"
	"github.com/smallbiznis/bizcore/internal/usage/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type StoreParams struct {
	fx.In

	Config config.Config
	DB     *gorm.DB
	GenID  *snowflake.Node
	Clock  clock.Clock
	Log    *zap.Logger
	Redis  *redis.Client `optional:"true"`
}

// NewCounterStore selects the counter backend from configuration. The redis
// backend falls back to the database when no client is configured.
func NewCounterStore(p StoreParams) usagedomain.CounterStore {
	log := p.Log.Named("usage.store")
	dbStore := repository.NewCounterStore(p.DB, p.GenID, p.Clock)

	switch p.Config.UsageCounterBackend {
	case config.UsageCounterBackendRedis:
		if p.Redis != nil {
			log.Info("usage counters backed by redis")
			return redisstore.New(p.Redis)
		}
		log.Warn("redis usage backend requested without a redis client, using database")
	case config.UsageCounterBackendOptimistic:
		log.Info("usage counters backed by database with optimistic retry")
		return NewOptimisticStore(dbStore, DefaultMaxRetries)
	}
	return dbStore
}

var Module = fx.Module("usage.store",
	fx.Provide(NewCounterStore),
)
