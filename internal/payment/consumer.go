package payment

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	paymentdomain "github.com/smallbiznis/bizcore/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/bizcore/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	TopicPaymentConfirmed = "payments.confirmed"
	TopicPaymentFailed    = "payments.failed"
)

type ConsumerParams struct {
	fx.In

	Log        *zap.Logger
	Router     *message.Router
	Subscriber message.Subscriber
	Service    paymentdomain.Service
}

// Consumer feeds provider notifications into the payment service.
type Consumer struct {
	log     *zap.Logger
	service paymentdomain.Service
}

func NewConsumer(p ConsumerParams) *Consumer {
	c := &Consumer{
		log:     p.Log.Named("payment.consumer"),
		service: p.Service,
	}
	p.Router.AddNoPublisherHandler("payment.confirmed", TopicPaymentConfirmed, p.Subscriber, c.HandleConfirmed)
	p.Router.AddNoPublisherHandler("payment.failed", TopicPaymentFailed, p.Subscriber, c.HandleFailed)
	return c
}

// HandleConfirmed acks duplicates and malformed payloads. Anything else that
// fails is nacked so the router retries it.
func (c *Consumer) HandleConfirmed(msg *message.Message) error {
	var confirmation paymentdomain.Confirmation
	if err := json.Unmarshal(msg.Payload, &confirmation); err != nil {
		c.drop(msg, "invalid payload", err)
		return nil
	}

	_, err := c.service.HandleConfirmation(msg.Context(), confirmation)
	switch {
	case err == nil, errors.Is(err, paymentdomain.ErrDuplicatePayment):
		return nil
	case isPermanent(err):
		c.drop(msg, "rejected confirmation", err)
		return nil
	default:
		return fmt.Errorf("handle payment confirmation %s: %w", confirmation.TransactionID, err)
	}
}

func (c *Consumer) HandleFailed(msg *message.Message) error {
	var failure paymentdomain.Failure
	if err := json.Unmarshal(msg.Payload, &failure); err != nil {
		c.drop(msg, "invalid payload", err)
		return nil
	}

	_, err := c.service.HandleFailure(msg.Context(), failure)
	switch {
	case err == nil:
		return nil
	case isPermanent(err), errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound):
		c.drop(msg, "rejected payment failure", err)
		return nil
	default:
		return fmt.Errorf("handle payment failure %s: %w", failure.TransactionID, err)
	}
}

func (c *Consumer) drop(msg *message.Message, reason string, err error) {
	c.log.Error("dropping payment message",
		zap.String("reason", reason),
		zap.String("message_uuid", msg.UUID),
		zap.String("correlation_id", middleware.MessageCorrelationID(msg)),
		zap.Error(err),
	)
}

func isPermanent(err error) bool {
	return errors.Is(err, paymentdomain.ErrInvalidConfirmation) ||
		errors.Is(err, paymentdomain.ErrInvalidAccount) ||
		errors.Is(err, paymentdomain.ErrInvalidTransaction) ||
		errors.Is(err, paymentdomain.ErrInvalidAmount) ||
		errors.Is(err, subscriptiondomain.ErrInvalidPlanTransition) ||
		errors.Is(err, subscriptiondomain.ErrInvalidAccount)
}
