package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Publisher is the subset of *amqp091.Channel the notifier needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// AMQPNotifier publishes notifications as JSON events on a topic exchange.
type AMQPNotifier struct {
	publisher Publisher
	exchange  string
	conn      *amqp091.Connection
	channel   *amqp091.Channel
}

// DialAMQP connects, declares the exchange and returns a ready notifier.
func DialAMQP(rawURL, exchange string) (*AMQPNotifier, error) {
	cleanURL, err := sanitizeAMQPURL(rawURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	n := NewAMQPNotifier(ch, exchange)
	n.conn = conn
	n.channel = ch
	return n, nil
}

// NewAMQPNotifier wraps an already configured publisher.
func NewAMQPNotifier(p Publisher, exchange string) *AMQPNotifier {
	return &AMQPNotifier{publisher: p, exchange: exchange}
}

// RoutingKey is "billing.<type>".
func RoutingKey(notificationType string) string {
	return "billing." + notificationType
}

func (n *AMQPNotifier) Notify(ctx context.Context, msg Notification) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	err = n.publisher.PublishWithContext(ctx, n.exchange, RoutingKey(msg.Type), false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", RoutingKey(msg.Type), err)
	}
	return nil
}

// Close releases the channel and connection opened by DialAMQP.
func (n *AMQPNotifier) Close() {
	if n.channel != nil {
		n.channel.Close()
	}
	if n.conn != nil {
		n.conn.Close()
	}
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
