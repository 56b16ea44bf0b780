package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/smallbiznis/bizcore/internal/billingevent/domain"
	"github.com/smallbiznis/bizcore/internal/clock"
	obsmetrics "github.com/smallbiznis/bizcore/internal/observability/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	relayBatchSize = 100

	MetadataAccountID = "account_id"
	MetadataEventType = "event_type"
	MetadataDedupeKey = "dedupe_key"
)

type RelayParams struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Publisher message.Publisher
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Relay struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	publisher message.Publisher
	metrics   *obsmetrics.Metrics
}

func NewRelay(p RelayParams) domain.Relay {
	return &Relay{
		db:        p.DB,
		log:       p.Log.Named("billingevent.relay"),
		clock:     p.Clock,
		publisher: p.Publisher,
		metrics:   p.Metrics,
	}
}

// PublishPending publishes one batch of unpublished events in creation order.
// Delivery is at-least-once: a crash between publish and mark republishes the row.
func (r *Relay) PublishPending(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer("bizcore/billingevent").Start(ctx, "billingevent.relay.publish_pending")
	defer span.End()

	var events []domain.BillingEvent
	if err := r.db.WithContext(ctx).
		Where("published = ?", false).
		Order("created_at ASC, id ASC").
		Limit(relayBatchSize).
		Find(&events).Error; err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	published := 0
	var errs []error
	for i := range events {
		event := &events[i]
		if err := r.publish(event); err != nil {
			r.log.Error("failed to publish billing event",
				zap.String("event_id", event.ID.String()),
				zap.String("event_type", event.EventType),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("publish %s: %w", event.ID.String(), err))
			continue
		}
		marked, err := r.markPublished(ctx, event)
		if err != nil {
			errs = append(errs, fmt.Errorf("mark %s: %w", event.ID.String(), err))
			continue
		}
		if marked {
			published++
			r.metrics.RecordEventPublished(ctx, event.EventType)
		}
	}

	span.SetAttributes(
		attribute.Int("billingevent.selected", len(events)),
		attribute.Int("billingevent.published", published),
	)
	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "partial relay failure")
	}
	return published, err
}

func (r *Relay) publish(event *domain.BillingEvent) error {
	body, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	msg := message.NewMessage(event.ID.String(), body)
	msg.Metadata.Set(MetadataAccountID, event.AccountID.String())
	msg.Metadata.Set(MetadataEventType, event.EventType)
	if event.DedupeKey != nil {
		msg.Metadata.Set(MetadataDedupeKey, *event.DedupeKey)
	}
	return r.publisher.Publish(event.EventType, msg)
}

func (r *Relay) markPublished(ctx context.Context, event *domain.BillingEvent) (bool, error) {
	now := r.clock.Now()
	result := r.db.WithContext(ctx).
		Model(&domain.BillingEvent{}).
		Where("id = ? AND published = ?", event.ID, false).
		Updates(map[string]any{
			"published":    true,
			"published_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
