package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/huangang/feedbackloop/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Outcome is published once a visit reaches a terminal state.
type Outcome struct {
	VisitID      string    `json:"visit_id"`
	RestaurantID string    `json:"restaurant_id"`
	Status       string    `json:"status"`
	Reason       string    `json:"reason,omitempty"`
	At           time.Time `json:"at"`
}

// OutcomePublisher forwards terminal outcomes to downstream consumers.
type OutcomePublisher interface {
	Publish(ctx context.Context, o Outcome) error
	Close() error
}

// NopPublisher is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Outcome) error { return nil }
func (NopPublisher) Close() error                           { return nil }

// RabbitPublisher publishes outcomes as persistent JSON messages on a
// durable queue.
type RabbitPublisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewRabbitPublisher(url, queue string) (*RabbitPublisher, error) {
	if queue == "" {
		queue = "feedback_outcomes"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}

	logger.Info().Str("queue", queue).Msg("RabbitMQ connection established")
	return &RabbitPublisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, o Outcome) error {
	body, err := json.Marshal(o)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    o.VisitID,
			Timestamp:    o.At,
			Body:         body,
		},
	)
	if err != nil {
		logger.Error().Err(err).Str("queue", p.queue).Str("visit_id", o.VisitID).Msg("Could not publish outcome")
		return err
	}
	logger.Debug().Str("queue", p.queue).Str("visit_id", o.VisitID).Msg("Published outcome")
	return nil
}

func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}
