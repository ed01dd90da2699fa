/*
Package notify delivers billing notifications to tenants and landlords.

PURPOSE:
  Fire-and-forget outbound channel. The billing lifecycle hands over a
  Notification after its ledger change has committed; whatever happens
  here never rolls that change back.

SINKS:
  - LogNotifier:  structured log line (default, always on)
  - AMQPNotifier: JSON event on a RabbitMQ topic exchange, routing key
                  "billing.<type>"
  - SMSNotifier:  Twilio text message to recipients with a phone number
  - Fanout:       calls every sink, joins the errors

SEE ALSO:
  - billing/lifecycle.go: the only producer
*/
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/warp/rental-billing/generic"
)

// Notification is one message for one recipient.
type Notification struct {
	RecipientID generic.RecipientID `json:"recipient_id"`
	Phone       string              `json:"phone,omitempty"`
	Title       string              `json:"title"`
	Message     string              `json:"message"`
	Type        string              `json:"type"`
	Metadata    map[string]string   `json:"metadata,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Notify(context.Context, Notification) error { return nil }

// =============================================================================
// LOG
// =============================================================================

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{Logger: logger.With("component", "notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, msg Notification) error {
	n.Logger.InfoContext(ctx, "notification",
		"recipient_id", msg.RecipientID,
		"type", msg.Type,
		"title", msg.Title,
		"message", msg.Message)
	return nil
}

// =============================================================================
// FANOUT
// =============================================================================

// Fanout delivers to every sink even if earlier ones fail.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
