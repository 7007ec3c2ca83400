// Package status owns every state transition for a message and its paired
// delivery. The queue worker and the webhook handler both write through the
// Updater; nothing else mutates these rows.
package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"tribsms/internal/models"
	"tribsms/internal/storage"
)

// NotFoundError reports an update against a message id that does not exist.
// It is fatal; callers must not retry it.
type NotFoundError struct {
	MessageID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("message not found: %s", e.MessageID)
}

// Change describes one transition to apply to a message and its delivery.
type Change struct {
	Status       models.MessageStatus
	ExternalID   *string
	ErrorCode    *string
	ErrorMessage *string
	// ErrorPath marks writes that increment the delivery attempt counter.
	ErrorPath bool
	// CallbackStatus, when set, updates the delivery's webhook sub-state.
	CallbackStatus *models.CallbackStatus
}

// Updater applies idempotent status transitions. Each call runs in one
// transaction; the row lock taken on the message serializes competing
// writers from the queue and webhook paths.
type Updater struct {
	store    storage.Store
	provider string
}

// NewUpdater builds an Updater writing delivery rows for the given provider
// name.
func NewUpdater(store storage.Store, provider string) *Updater {
	if provider == "" {
		provider = "twilio"
	}
	return &Updater{store: store, provider: provider}
}

// UpdateStatus moves a message to a new status.
func (u *Updater) UpdateStatus(ctx context.Context, messageID string, newStatus models.MessageStatus) error {
	if err := validateArgs(messageID, newStatus); err != nil {
		return err
	}
	return u.apply(ctx, messageID, Change{Status: newStatus})
}

// UpdateWithExternalID moves a message to a new status and records the
// provider message id.
func (u *Updater) UpdateWithExternalID(ctx context.Context, messageID string, newStatus models.MessageStatus, externalID string) error {
	if err := validateArgs(messageID, newStatus); err != nil {
		return err
	}
	if externalID == "" {
		return errors.New("external ID is required")
	}
	return u.apply(ctx, messageID, Change{Status: newStatus, ExternalID: &externalID})
}

// UpdateWithError moves a message to a new status and records the failure.
// Delivery attempts increment only on this path.
func (u *Updater) UpdateWithError(ctx context.Context, messageID string, newStatus models.MessageStatus, errorCode, errorMessage string) error {
	if err := validateArgs(messageID, newStatus); err != nil {
		return err
	}
	if errorCode == "" || errorMessage == "" {
		return errors.New("error code and error message are required")
	}
	return u.apply(ctx, messageID, Change{
		Status:       newStatus,
		ErrorCode:    &errorCode,
		ErrorMessage: &errorMessage,
		ErrorPath:    true,
	})
}

func (u *Updater) apply(ctx context.Context, messageID string, ch Change) error {
	return u.store.WithinTx(ctx, func(tx storage.Tx) error {
		return u.ApplyTx(ctx, tx, messageID, ch)
	})
}

// ApplyTx runs the whole transition inside the caller's transaction: lock
// the message, check idempotency, write the message, lazily upsert the
// delivery. The webhook handler uses this directly so its payload handling
// and the state write commit or roll back together. Errors propagate to the
// caller unchanged.
func (u *Updater) ApplyTx(ctx context.Context, tx storage.Tx, messageID string, ch Change) error {
	msg, err := tx.GetMessageForUpdate(ctx, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return &NotFoundError{MessageID: messageID}
	}
	if err != nil {
		return err
	}

	if isNoop(msg, ch) {
		log.Debug().
			Str("messageID", messageID).
			Str("status", string(ch.Status)).
			Msg("Status update skipped, already applied")
		return nil
	}

	msg.Status = ch.Status
	if ch.ExternalID != nil {
		msg.ExternalID = ch.ExternalID
	}
	if ch.ErrorCode != nil {
		msg.ErrorCode = ch.ErrorCode
		msg.ErrorMessage = ch.ErrorMessage
	}
	if err := tx.UpdateMessage(ctx, msg); err != nil {
		return err
	}

	if err := u.upsertDelivery(ctx, tx, msg, ch); err != nil {
		return err
	}

	log.Info().
		Str("messageID", messageID).
		Str("status", string(ch.Status)).
		Msg("Message status updated")
	return nil
}

func (u *Updater) upsertDelivery(ctx context.Context, tx storage.Tx, msg *models.Message, ch Change) error {
	d, err := tx.GetDeliveryByMessageID(ctx, msg.ID)
	if errors.Is(err, storage.ErrNotFound) {
		d = &models.Delivery{
			ID:             uuid.NewString(),
			MessageID:      msg.ID,
			Provider:       u.provider,
			Status:         models.DeliveryStatusFor(ch.Status),
			Attempts:       1,
			CallbackStatus: models.CallbackPending,
		}
		if ch.ExternalID != nil {
			d.ExternalDeliveryID = ch.ExternalID
		}
		if ch.ErrorPath {
			d.ErrorCode = ch.ErrorCode
			d.ErrorMessage = ch.ErrorMessage
		}
		if ch.CallbackStatus != nil {
			d.CallbackStatus = *ch.CallbackStatus
		}
		return tx.CreateDelivery(ctx, d)
	}
	if err != nil {
		return err
	}

	d.Status = models.DeliveryStatusFor(ch.Status)
	if ch.ExternalID != nil {
		d.ExternalDeliveryID = ch.ExternalID
	}
	if ch.ErrorPath {
		d.Attempts++
		d.ErrorCode = ch.ErrorCode
		d.ErrorMessage = ch.ErrorMessage
	}
	if ch.CallbackStatus != nil {
		d.CallbackStatus = *ch.CallbackStatus
	}
	return tx.UpdateDelivery(ctx, d)
}

// isNoop reports whether the target values are already in place, which makes
// duplicate queue executions and replayed webhooks harmless.
func isNoop(msg *models.Message, ch Change) bool {
	if msg.Status != ch.Status {
		return false
	}
	if ch.ExternalID != nil && (msg.ExternalID == nil || *msg.ExternalID != *ch.ExternalID) {
		return false
	}
	if ch.ErrorCode != nil && (msg.ErrorCode == nil || *msg.ErrorCode != *ch.ErrorCode) {
		return false
	}
	if ch.ErrorMessage != nil && (msg.ErrorMessage == nil || *msg.ErrorMessage != *ch.ErrorMessage) {
		return false
	}
	return true
}

func validateArgs(messageID string, newStatus models.MessageStatus) error {
	if messageID == "" {
		return errors.New("message ID is required")
	}
	if newStatus == "" {
		return errors.New("status is required")
	}
	return nil
}
