// Package storagetest provides an in-memory Store for tests. The whole
// store locks for the duration of a transaction, which mirrors the row-lock
// serialization the Postgres implementation gets from FOR UPDATE.
package storagetest

import (
	"context"
	"sync"
	"time"

	"tribsms/internal/models"
	"tribsms/internal/storage"
)

// MemStore is an in-memory storage.Store.
type MemStore struct {
	mu         sync.Mutex
	messages   map[string]*models.Message
	deliveries map[string]*models.Delivery
	consents   map[string]*models.Consent

	// write counters let tests assert idempotent no-ops
	MessageWrites  int
	DeliveryWrites int

	// FailTx, when set, makes every transaction fail with this error.
	FailTx error
}

// New returns an empty MemStore.
func New() *MemStore {
	return &MemStore{
		messages:   map[string]*models.Message{},
		deliveries: map[string]*models.Delivery{},
		consents:   map[string]*models.Consent{},
	}
}

// SeedMessage inserts a message directly.
func (s *MemStore) SeedMessage(m *models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages[m.ID] = &cp
}

// SeedDelivery inserts a delivery directly.
func (s *MemStore) SeedDelivery(d *models.Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.deliveries[d.ID] = &cp
}

// Message returns a copy of a stored message.
func (s *MemStore) Message(id string) *models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[id]; ok {
		cp := *m
		return &cp
	}
	return nil
}

// Delivery returns a copy of the delivery paired with a message.
func (s *MemStore) Delivery(messageID string) *models.Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.deliveries {
		if d.MessageID == messageID {
			cp := *d
			return &cp
		}
	}
	return nil
}

func (s *MemStore) WithinTx(ctx context.Context, fn func(storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailTx != nil {
		return s.FailTx
	}
	return fn(&memTx{s: s})
}

func (s *MemStore) CreateMessage(ctx context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	cp := *m
	s.messages[m.ID] = &cp
	s.MessageWrites++
	return nil
}

func (s *MemStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.DeletedAt != nil {
		return nil, storage.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemStore) GetDeliveryByMessageID(ctx context.Context, messageID string) (*models.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{s: s}).getDeliveryByMessageID(messageID)
}

func (s *MemStore) DeliveryStats(ctx context.Context) (*models.DeliveryStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &models.DeliveryStats{}
	for _, d := range s.deliveries {
		stats.Total++
		switch d.Status {
		case models.DeliverySent:
			stats.Sent++
		case models.DeliveryDelivered:
			stats.Delivered++
		case models.DeliveryFailed:
			stats.Failed++
		case models.DeliveryUndelivered:
			stats.Undelivered++
		default:
			stats.Pending++
		}
	}
	return stats, nil
}

func (s *MemStore) GetConsent(ctx context.Context, phoneNumber string) (*models.Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consents[phoneNumber]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemStore) SaveConsent(ctx context.Context, c *models.Consent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.consents[c.PhoneNumber] = &cp
	return nil
}

type memTx struct {
	s *MemStore
}

func (t *memTx) GetMessageForUpdate(ctx context.Context, id string) (*models.Message, error) {
	m, ok := t.s.messages[id]
	if !ok || m.DeletedAt != nil {
		return nil, storage.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (t *memTx) UpdateMessage(ctx context.Context, m *models.Message) error {
	m.UpdatedAt = time.Now().UTC()
	cp := *m
	t.s.messages[m.ID] = &cp
	t.s.MessageWrites++
	return nil
}

func (t *memTx) GetDeliveryByMessageID(ctx context.Context, messageID string) (*models.Delivery, error) {
	return t.getDeliveryByMessageID(messageID)
}

func (t *memTx) getDeliveryByMessageID(messageID string) (*models.Delivery, error) {
	for _, d := range t.s.deliveries {
		if d.MessageID == messageID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (t *memTx) GetDeliveryByExternalID(ctx context.Context, externalID string) (*models.Delivery, error) {
	for _, d := range t.s.deliveries {
		if d.ExternalDeliveryID != nil && *d.ExternalDeliveryID == externalID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (t *memTx) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	cp := *d
	t.s.deliveries[d.ID] = &cp
	t.s.DeliveryWrites++
	return nil
}

func (t *memTx) UpdateDelivery(ctx context.Context, d *models.Delivery) error {
	d.UpdatedAt = time.Now().UTC()
	cp := *d
	t.s.deliveries[d.ID] = &cp
	t.s.DeliveryWrites++
	return nil
}

var _ storage.Store = (*MemStore)(nil)
