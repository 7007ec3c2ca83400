package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"tribsms/internal/models"
	"tribsms/internal/twilio"
)

// StatusWriter is the slice of the status updater the processor needs.
type StatusWriter interface {
	UpdateStatus(ctx context.Context, messageID string, newStatus models.MessageStatus) error
	UpdateWithExternalID(ctx context.Context, messageID string, newStatus models.MessageStatus, externalID string) error
	UpdateWithError(ctx context.Context, messageID string, newStatus models.MessageStatus, errorCode, errorMessage string) error
}

// Sender is the provider client capability used per job.
type Sender interface {
	SendSMS(ctx context.Context, msg twilio.OutboundMessage, cfg twilio.ProviderConfig) (*twilio.APIResult, error)
}

// SendFailure is the error the processor returns when the provider call
// fails. It carries the classification so the consumer can pick a retry
// delay, while Error() stays the plain operator-facing text.
type SendFailure struct {
	Text       string
	Classified *twilio.Error
}

func (e *SendFailure) Error() string { return e.Text }

func (e *SendFailure) Unwrap() error {
	if e.Classified != nil {
		return e.Classified
	}
	return nil
}

// Processor executes one queued send end to end: mark SENDING, call the
// provider, record the terminal status. Errors are returned to the consumer
// so the queue's own retry scheduling applies.
type Processor struct {
	updater StatusWriter
	client  Sender
}

// NewProcessor wires a processor from its two collaborators.
func NewProcessor(updater StatusWriter, client Sender) *Processor {
	return &Processor{updater: updater, client: client}
}

// Process runs one job. Payload validation fails synchronously before any
// status write; everything after SENDING ends in SENT or FAILED.
func (p *Processor) Process(ctx context.Context, job *SendJob) error {
	if err := validateJob(job); err != nil {
		return err
	}

	start := time.Now()
	log.Info().
		Str("messageID", job.MessageID).
		Str("to", job.MessageData.To).
		Int("retryAttempt", job.RetryAttempt).
		Msg("Processing send job")

	if err := p.updater.UpdateStatus(ctx, job.MessageID, models.MessageSending); err != nil {
		return err
	}

	result, err := p.client.SendSMS(ctx, *job.MessageData, *job.ProviderConfig)
	if err != nil {
		return p.fail(ctx, job, err.Error(), nil, start)
	}
	if !result.Success {
		msg := "unknown error"
		if result.Error != nil {
			msg = result.Error.Message
		}
		return p.fail(ctx, job, msg, result.Error, start)
	}

	if err := p.updater.UpdateWithExternalID(ctx, job.MessageID, models.MessageSent, result.ExternalID); err != nil {
		return err
	}

	log.Info().
		Str("messageID", job.MessageID).
		Str("externalID", result.ExternalID).
		Dur("processingTime", time.Since(start)).
		Msg("Send job completed")
	return nil
}

// fail marks the message FAILED before rethrowing, so persisted state never
// lags behind the last known outcome even mid-retry-sequence.
func (p *Processor) fail(ctx context.Context, job *SendJob, msg string, classified *twilio.Error, start time.Time) error {
	failure := &SendFailure{
		Text:       fmt.Sprintf("Twilio API failed: %s", msg),
		Classified: classified,
	}

	// The original send failure is what gets rethrown; a bookkeeping
	// failure on top of it is logged, not substituted.
	if err := p.updater.UpdateWithError(ctx, job.MessageID, models.MessageFailed, "PROCESSING_ERROR", failure.Text); err != nil {
		log.Error().
			Err(err).
			Str("messageID", job.MessageID).
			Msg("Failed to record FAILED status")
	}

	log.Error().
		Str("messageID", job.MessageID).
		Str("error", failure.Text).
		Dur("processingTime", time.Since(start)).
		Msg("Send job failed")
	return failure
}

func validateJob(job *SendJob) error {
	switch {
	case job == nil || job.MessageID == "":
		return errors.New("message ID is required")
	case job.ProviderConfig == nil:
		return errors.New("twilio configuration is required")
	case job.MessageData == nil:
		return errors.New("message data is required")
	}
	return nil
}
