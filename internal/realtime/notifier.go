// Package realtime fans dispatch events and campaign progress out to
// subscribers through an AMQP topic exchange. Subscription management lives
// outside this service; we only publish.
package realtime

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/streadway/amqp"
)

// Topic helpers. Routing keys are "{topic}.{event}".
func CampaignTopic(campaignID string) string { return "campaign." + campaignID }
func UserTopic(userID string) string         { return "user." + userID }

// Event names.
const (
	EventDispatch = "dispatch_event"
	EventProgress = "campaign_progress"
)

// Notifier is the publish contract the dispatch engine depends on.
type Notifier interface {
	Publish(topic, event string, payload any) error
}

// AMQPNotifier publishes to a durable topic exchange. It is a process-scoped
// service with explicit Connect/Close, never reached through a global.
type AMQPNotifier struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// Connect dials AMQP and declares the topic exchange.
func Connect(amqpURL, exchange string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	log.Printf("[Realtime] connected, exchange %s", exchange)
	return &AMQPNotifier{conn: conn, channel: channel, exchange: exchange}, nil
}

// Publish sends one JSON event with routing key "{topic}.{event}".
func (n *AMQPNotifier) Publish(topic, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	return n.channel.Publish(
		n.exchange,
		topic+"."+event,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}

// Close tears the channel and connection down.
func (n *AMQPNotifier) Close() {
	if n.channel != nil {
		n.channel.Close()
	}
	if n.conn != nil {
		n.conn.Close()
	}
}

var _ Notifier = (*AMQPNotifier)(nil)
