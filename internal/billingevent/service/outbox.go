package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bizcore/internal/billingevent/domain"
	"github.com/smallbiznis/bizcore/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OutboxParams struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Outbox struct {
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewOutbox(p OutboxParams) domain.Emitter {
	return &Outbox{
		log:   p.Log.Named("billingevent.outbox"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (o *Outbox) Emit(ctx context.Context, db *gorm.DB, event domain.Event) (bool, error) {
	if event.AccountID == 0 || strings.TrimSpace(event.Type) == "" {
		return false, domain.ErrInvalidEvent
	}

	payload := datatypes.JSONMap{}
	for k, v := range event.Payload {
		payload[k] = v
	}

	row := &domain.BillingEvent{
		ID:        o.genID.Generate(),
		AccountID: event.AccountID,
		EventType: strings.TrimSpace(event.Type),
		Payload:   payload,
		CreatedAt: o.clock.Now(),
	}
	if key := strings.TrimSpace(event.DedupeKey); key != "" {
		row.DedupeKey = &key
	}

	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		o.log.Debug("billing event deduplicated",
			zap.String("account_id", event.AccountID.String()),
			zap.String("event_type", row.EventType),
			zap.String("dedupe_key", event.DedupeKey),
		)
		return false, nil
	}
	return true, nil
}
