/*
Package events publishes payment lifecycle events on an in-process bus.

PURPOSE:
  Downstream consumers (receipts, seller notifications, analytics) react to
  captures, failures, and refunds without the orchestrator knowing about
  them. The Bus implements payments.Notifier: publishing is fire-and-forget,
  a failed publish is logged and swallowed, and the financial operation that
  triggered it is never unwound.

TRANSPORT:
  Watermill's GoChannel pub/sub. In-process only; swapping in a broker-backed
  publisher is a constructor change, the Notifier contract stays the same.

SEE ALSO:
  - payments/types.go: The Notifier contract this satisfies
*/
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/meridian/commerce-ledger/payments"
)

// =============================================================================
// TOPICS AND PAYLOADS
// =============================================================================

const (
	TopicPaymentCaptured = "payments.captured"
	TopicPaymentFailed   = "payments.failed"
	TopicPaymentRefunded = "payments.refunded"
)

// PaymentEvent is the JSON payload published on every payment topic.
// Amounts are strings so consumers parse them as exact decimals.
type PaymentEvent struct {
	PaymentID  string    `json:"payment_id"`
	OrderID    string    `json:"order_id"`
	Method     string    `json:"method"`
	State      string    `json:"state"`
	Amount     string    `json:"amount"`
	FeeAmount  string    `json:"fee_amount"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func eventFor(p payments.Payment, reason string) PaymentEvent {
	return PaymentEvent{
		PaymentID:  string(p.ID),
		OrderID:    p.OrderID,
		Method:     string(p.Method),
		State:      string(p.State),
		Amount:     p.Amount.String(),
		FeeAmount:  p.FeeAmount.String(),
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}

// =============================================================================
// BUS
// =============================================================================

// Bus is an in-process pub/sub for payment lifecycle events.
type Bus struct {
	channel *gochannel.GoChannel
	log     zerolog.Logger
}

// NewBus builds a GoChannel-backed event bus. The buffer keeps slow
// subscribers from blocking publishers.
func NewBus(log zerolog.Logger) *Bus {
	channel := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		&watermillLogger{log: log},
	)
	return &Bus{channel: channel, log: log}
}

// Subscribe returns a channel of messages for one topic. Consumers must Ack
// each message.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.channel.Subscribe(ctx, topic)
}

// Close shuts the bus down; in-flight subscriber channels are closed.
func (b *Bus) Close() error {
	return b.channel.Close()
}

// publish serializes and publishes one event. Errors are logged, never
// returned: notification failure must not affect the ledger.
func (b *Bus) publish(topic string, ev PaymentEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.log.Error().Err(err).Str("topic", topic).Msg("marshal payment event")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set("payment_id", ev.PaymentID)
	msg.Metadata.Set("order_id", ev.OrderID)

	if err := b.channel.Publish(topic, msg); err != nil {
		b.log.Error().Err(err).
			Str("topic", topic).
			Str("payment_id", ev.PaymentID).
			Msg("publish payment event")
	}
}

// =============================================================================
// payments.Notifier
// =============================================================================

func (b *Bus) PaymentCaptured(p payments.Payment) {
	b.publish(TopicPaymentCaptured, eventFor(p, ""))
}

func (b *Bus) PaymentFailed(p payments.Payment, reason string) {
	b.publish(TopicPaymentFailed, eventFor(p, reason))
}

func (b *Bus) PaymentRefunded(p payments.Payment) {
	b.publish(TopicPaymentRefunded, eventFor(p, ""))
}

// =============================================================================
// LOGGER ADAPTER
// =============================================================================

// watermillLogger adapts zerolog to watermill's LoggerAdapter.
type watermillLogger struct {
	log zerolog.Logger
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(l.log.Error().Err(err), msg, fields)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.event(l.log.Info(), msg, fields)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(l.log.Debug(), msg, fields)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(l.log.Trace(), msg, fields)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	log := l.log
	for k, v := range fields {
		log = log.With().Interface(k, v).Logger()
	}
	return &watermillLogger{log: log}
}

func (l *watermillLogger) event(ev *zerolog.Event, msg string, fields watermill.LogFields) {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
