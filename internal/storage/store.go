package storage

import (
	"context"
	"errors"

	"tribsms/internal/models"
)

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("not found")

// Tx is the set of operations available inside one database transaction.
// GetMessageForUpdate takes a pessimistic row lock, which serializes the
// outbound (queue) and inbound (webhook) writers for the same message.
type Tx interface {
	GetMessageForUpdate(ctx context.Context, id string) (*models.Message, error)
	UpdateMessage(ctx context.Context, m *models.Message) error
	GetDeliveryByMessageID(ctx context.Context, messageID string) (*models.Delivery, error)
	GetDeliveryByExternalID(ctx context.Context, externalID string) (*models.Delivery, error)
	CreateDelivery(ctx context.Context, d *models.Delivery) error
	UpdateDelivery(ctx context.Context, d *models.Delivery) error
}

// Store is the persistence surface consumed by the rest of the service.
type Store interface {
	WithinTx(ctx context.Context, fn func(Tx) error) error

	CreateMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	GetDeliveryByMessageID(ctx context.Context, messageID string) (*models.Delivery, error)
	DeliveryStats(ctx context.Context) (*models.DeliveryStats, error)

	GetConsent(ctx context.Context, phoneNumber string) (*models.Consent, error)
	SaveConsent(ctx context.Context, c *models.Consent) error
}
