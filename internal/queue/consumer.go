package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"tribsms/internal/ratelimit"
	"tribsms/internal/status"
	"tribsms/internal/twilio"
)

// AdmissionGate is the rate limiter surface consulted before each send.
type AdmissionGate interface {
	CheckAndIncrement(ctx context.Context, workspaceID, messageType string) (*ratelimit.Result, error)
	Window() time.Duration
}

// Republisher puts a job back on the queue for a later attempt.
type Republisher interface {
	Enqueue(ctx context.Context, job *SendJob) error
}

// Consumer drains the send queue with a bounded worker pool. Plain AMQP has
// no delayed retry, so failed retryable jobs are republished with an
// incremented attempt after the classifier's backoff delay.
type Consumer struct {
	conn        *amqp091.Connection
	queue       string
	concurrency int

	processor  *Processor
	classifier *twilio.Classifier
	limiter    AdmissionGate
	republish  Republisher
}

// NewConsumer wires a consumer; limiter may be nil to disable admission
// control (tests).
func NewConsumer(conn *amqp091.Connection, queueName string, concurrency int, processor *Processor, classifier *twilio.Classifier, limiter AdmissionGate, republish Republisher) *Consumer {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Consumer{
		conn:        conn,
		queue:       queueName,
		concurrency: concurrency,
		processor:   processor,
		classifier:  classifier,
		limiter:     limiter,
		republish:   republish,
	}
}

// Start consumes until ctx is canceled. Prefetch matches the worker count
// so the broker never hands us more jobs than we can run.
func (c *Consumer) Start(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := declareQueue(ch, c.queue); err != nil {
		return err
	}
	if err := ch.Qos(c.concurrency, 0, false); err != nil {
		return err
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	log.Info().
		Str("queue", c.queue).
		Int("concurrency", c.concurrency).
		Msg("Send queue consumer started")

	sem := make(chan struct{}, c.concurrency)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Send queue consumer stopping")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			sem <- struct{}{}
			go func(d amqp091.Delivery) {
				defer func() { <-sem }()
				c.handle(ctx, d)
			}(d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp091.Delivery) {
	var job SendJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		log.Error().Err(err).Msg("Dropping undecodable send job")
		_ = d.Ack(false)
		return
	}

	if c.limiter != nil {
		res, err := c.limiter.CheckAndIncrement(ctx, job.WorkspaceID, "sms")
		if err != nil {
			log.Error().Err(err).Str("messageID", job.MessageID).Msg("Rate limit check failed, requeueing")
			_ = d.Nack(false, true)
			return
		}
		if !res.Allowed {
			// denied sends go back on the queue once the window resets,
			// without consuming a retry attempt
			delay := time.Until(res.ResetAt)
			if delay <= 0 {
				delay = c.limiter.Window()
			}
			log.Info().
				Str("messageID", job.MessageID).
				Str("workspaceID", job.WorkspaceID).
				Dur("delay", delay).
				Msg("Rate limited, deferring send job")
			c.requeueAfter(delay, job)
			_ = d.Ack(false)
			return
		}
	}

	err := c.processor.Process(ctx, &job)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	attempt := job.RetryAttempt + 1
	if c.shouldRetry(err, attempt) {
		delay := c.retryDelay(err, attempt)
		log.Warn().
			Err(err).
			Str("messageID", job.MessageID).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Send job failed, scheduling retry")
		retryJob := job
		retryJob.RetryAttempt = attempt
		c.requeueAfter(delay, retryJob)
		_ = d.Ack(false)
		return
	}

	log.Error().
		Err(err).
		Str("messageID", job.MessageID).
		Int("attempt", attempt).
		Msg("Send job failed permanently")
	_ = d.Ack(false)
}

// shouldRetry applies the classifier's policy. Validation of the payload,
// unknown message ids and non-retryable provider errors all stop here.
func (c *Consumer) shouldRetry(err error, attempt int) bool {
	var nf *status.NotFoundError
	if errors.As(err, &nf) {
		return false
	}

	var terr *twilio.Error
	if errors.As(err, &terr) {
		return c.classifier.ShouldRetry(terr, attempt)
	}

	var sf *SendFailure
	if errors.As(err, &sf) && sf.Classified == nil {
		// provider reported failure without classification; be conservative
		return attempt <= c.classifier.MaxRetries
	}

	// payload validation errors are raised before any status write and are
	// never retryable; everything else unexpected gets the queue's default
	// retry budget
	switch err.Error() {
	case "message ID is required", "twilio configuration is required", "message data is required":
		return false
	}
	return attempt <= c.classifier.MaxRetries
}

func (c *Consumer) retryDelay(err error, attempt int) time.Duration {
	var terr *twilio.Error
	if errors.As(err, &terr) && terr.RetryDelay > 0 {
		return c.classifier.RetryDelay(attempt, terr.RetryDelay)
	}
	return c.classifier.RetryDelay(attempt)
}

func (c *Consumer) requeueAfter(delay time.Duration, job SendJob) {
	time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.republish.Enqueue(ctx, &job); err != nil {
			log.Error().
				Err(err).
				Str("messageID", job.MessageID).
				Msg("Failed to republish deferred send job")
		}
	})
}
