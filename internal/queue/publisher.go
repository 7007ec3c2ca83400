package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Publisher enqueues send jobs onto a durable RabbitMQ queue.
type Publisher struct {
	ch    *amqp091.Channel
	queue string
}

// NewPublisher opens a channel and declares the queue. Declaration is
// idempotent, so publisher and consumer may start in any order.
func NewPublisher(conn *amqp091.Connection, queue string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	if err := declareQueue(ch, queue); err != nil {
		return nil, err
	}
	log.Info().Str("queue", queue).Msg("Send queue publisher ready")
	return &Publisher{ch: ch, queue: queue}, nil
}

// Enqueue publishes one job as persistent JSON. Failures here are
// QUEUE_ERROR territory: the message row is already persisted, the job just
// never got created.
func (p *Publisher) Enqueue(ctx context.Context, job *SendJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding send job: %w", err)
	}

	pub := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Body:         body,
	}
	if job.Priority > 0 && job.Priority <= 9 {
		pub.Priority = uint8(job.Priority)
	}

	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		return fmt.Errorf("publishing send job: %w", err)
	}
	log.Debug().
		Str("messageID", job.MessageID).
		Str("queue", p.queue).
		Int("retryAttempt", job.RetryAttempt).
		Msg("Send job enqueued")
	return nil
}

// Close releases the channel.
func (p *Publisher) Close() error {
	return p.ch.Close()
}

func declareQueue(ch *amqp091.Channel, queue string) error {
	_, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp091.Table{"x-max-priority": int32(9)},
	)
	if err != nil {
		return fmt.Errorf("declaring queue %s: %w", queue, err)
	}
	return nil
}
