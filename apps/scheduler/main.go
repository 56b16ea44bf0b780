package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bizcore/internal/authorization"
	"github.com/smallbiznis/bizcore/internal/billingevent"
	"github.com/smallbiznis/bizcore/internal/clock"
	"github.com/smallbiznis/bizcore/internal/config"
	"github.com/smallbiznis/bizcore/internal/entitlement"
	"github.com/smallbiznis/bizcore/internal/invoice"
	"github.com/smallbiznis/bizcore/internal/lock"
	"github.com/smallbiznis/bizcore/internal/migration"
	"github.com/smallbiznis/bizcore/internal/observability"
	"github.com/smallbiznis/bizcore/internal/recurring"
	"github.com/smallbiznis/bizcore/internal/scheduler"
	"github.com/smallbiznis/bizcore/internal/subscription"
	"github.com/smallbiznis/bizcore/internal/tax"
	"github.com/smallbiznis/bizcore/internal/usage"
	"github.com/smallbiznis/bizcore/pkg/db"
	"github.com/smallbiznis/bizcore/pkg/redisclient"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		redisclient.Module,
		lock.Module,

		// Domain services required by scheduler
		authorization.Module,
		billingevent.Module,
		subscription.Module,
		usage.Module,
		entitlement.Module,
		tax.Module,
		invoice.Module,
		recurring.Module,

		// No consumer and no relay: events stay in the outbox for cmd/bizcore.
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
