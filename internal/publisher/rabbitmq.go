package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

var _ ArrivalPublisher = (*RabbitMQPublisher)(nil)

const (
	exchangeName = "dispatch.events"
	queueName    = "arrival_alerts"
)

// RabbitMQPublisher publishes arrival alerts to a durable fanout exchange
// so every dispatch consumer sees every arrival.
type RabbitMQPublisher struct {
	ch *amqp.Channel
}

// NewRabbitMQPublisher opens a channel on conn and declares the exchange,
// queue, and binding. The caller owns the connection lifecycle.
func NewRabbitMQPublisher(conn *amqp.Connection) (*RabbitMQPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchangeName, "fanout", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(queueName, "", exchangeName, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	return &RabbitMQPublisher{ch: ch}, nil
}

type arrivalMessage struct {
	TechnicianID  string        `json:"technician_id"`
	DestinationID string        `json:"destination_id"`
	Event         string        `json:"event"`
	Location      alertLocation `json:"location"`
	Timestamp     int64         `json:"timestamp"`
}

type alertLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (p *RabbitMQPublisher) PublishArrival(ctx context.Context, alert ArrivalAlert) error {
	msg := arrivalMessage{
		TechnicianID:  alert.TechnicianID,
		DestinationID: alert.DestinationID,
		Event:         "arrived",
		Location: alertLocation{
			Latitude:  alert.Position.Latitude,
			Longitude: alert.Position.Longitude,
		},
		Timestamp: alert.ArrivedAt.Unix(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal arrival: %w", err)
	}

	return p.ch.PublishWithContext(ctx, exchangeName, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Close releases the channel. Safe on a nil receiver.
func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.ch == nil {
		return nil
	}
	return p.ch.Close()
}
