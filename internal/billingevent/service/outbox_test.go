package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/smallbiznis/bizcore/internal/billingevent/domain"
	"github.com/smallbiznis/bizcore/internal/clock"
	"github.com/smallbiznis/bizcore/internal/pubsub"
	"github.com/smallbiznis/bizcore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type failingPublisher struct {
	calls int
}

func (p *failingPublisher) Publish(string, ...*message.Message) error {
	p.calls++
	return errors.New("broker down")
}

func (p *failingPublisher) Close() error { return nil }

func newOutbox(t *testing.T) (*gorm.DB, domain.Emitter, *clock.FakeClock) {
	t.Helper()
	db := testutil.NewDB(t, &domain.BillingEvent{})
	clk := clock.NewFakeClock(time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC))
	outbox := NewOutbox(OutboxParams{Log: zap.NewNop(), GenID: testutil.NewNode(t), Clock: clk})
	return db, outbox, clk
}

func TestEmitDeduplicatesPerAccount(t *testing.T) {
	db, outbox, _ := newOutbox(t)
	ctx := context.Background()

	event := domain.Event{
		AccountID: 10,
		Type:      domain.EventTypeUsageLimitExceeded,
		DedupeKey: "invoices:2026-01-01",
		Payload:   map[string]any{"resource": "invoices"},
	}

	created, err := outbox.Emit(ctx, db, event)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = outbox.Emit(ctx, db, event)
	require.NoError(t, err)
	assert.False(t, created)

	event.AccountID = 11
	created, err = outbox.Emit(ctx, db, event)
	require.NoError(t, err)
	assert.True(t, created)

	var count int64
	require.NoError(t, db.Model(&domain.BillingEvent{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestEmitWithoutDedupeKeyAlwaysInserts(t *testing.T) {
	db, outbox, _ := newOutbox(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		created, err := outbox.Emit(ctx, db, domain.Event{AccountID: 10, Type: domain.EventTypeInvoiceGenerated})
		require.NoError(t, err)
		assert.True(t, created)
	}
}

func TestEmitRejectsInvalidEvent(t *testing.T) {
	db, outbox, _ := newOutbox(t)

	_, err := outbox.Emit(context.Background(), db, domain.Event{Type: domain.EventTypeInvoiceGenerated})
	require.ErrorIs(t, err, domain.ErrInvalidEvent)

	_, err = outbox.Emit(context.Background(), db, domain.Event{AccountID: 1, Type: "  "})
	require.ErrorIs(t, err, domain.ErrInvalidEvent)
}

func TestEmitRollsBackWithCallerTransaction(t *testing.T) {
	db, outbox, _ := newOutbox(t)

	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := outbox.Emit(context.Background(), tx, domain.Event{AccountID: 1, Type: domain.EventTypeInvoiceGenerated}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&domain.BillingEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRelayPublishesPendingEvents(t *testing.T) {
	db, outbox, clk := newOutbox(t)
	ctx := context.Background()

	ch := pubsub.NewGoChannel(nil, zap.NewNop())
	t.Cleanup(func() { _ = ch.Close() })
	messages, err := ch.Subscribe(ctx, domain.EventTypeInvoiceGenerated)
	require.NoError(t, err)

	_, err = outbox.Emit(ctx, db, domain.Event{
		AccountID: 42,
		Type:      domain.EventTypeInvoiceGenerated,
		DedupeKey: "invoice:1",
		Payload:   map[string]any{"invoice_number": "INV-1"},
	})
	require.NoError(t, err)

	relay := NewRelay(RelayParams{DB: db, Log: zap.NewNop(), Clock: clk, Publisher: ch})
	n, err := relay.PublishPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case msg := <-messages:
		msg.Ack()
		assert.Equal(t, "42", msg.Metadata.Get(MetadataAccountID))
		assert.Equal(t, "invoice:1", msg.Metadata.Get(MetadataDedupeKey))
		var payload map[string]any
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))
		assert.Equal(t, "INV-1", payload["invoice_number"])
	case <-time.After(2 * time.Second):
		t.Fatal("message was not delivered")
	}

	n, err = relay.PublishPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	var stored domain.BillingEvent
	require.NoError(t, db.First(&stored).Error)
	assert.True(t, stored.Published)
	require.NotNil(t, stored.PublishedAt)
}

func TestRelayKeepsEventsWhenPublishFails(t *testing.T) {
	db, outbox, clk := newOutbox(t)
	ctx := context.Background()

	_, err := outbox.Emit(ctx, db, domain.Event{AccountID: 1, Type: domain.EventTypeSubscriptionExpired})
	require.NoError(t, err)

	publisher := &failingPublisher{}
	relay := NewRelay(RelayParams{DB: db, Log: zap.NewNop(), Clock: clk, Publisher: publisher})
	n, err := relay.PublishPending(ctx)
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, publisher.calls)

	var pending int64
	require.NoError(t, db.Model(&domain.BillingEvent{}).Where("published = ?", false).Count(&pending).Error)
	assert.Equal(t, int64(1), pending)
}
