// Package consent tracks TCPA opt-in state per phone number and gates
// outbound sends. It sits in front of the delivery pipeline; a refused
// check never reaches the queue.
package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"tribsms/internal/models"
	"tribsms/internal/storage"
)

// ErrNotOptedIn is returned when a phone number has no usable opt-in. It is
// the CONSENT_ERROR of the error taxonomy and is never retried.
var ErrNotOptedIn = errors.New("CONSENT_ERROR: phone number has not opted in")

// ErrInvalidTransition reports a consent status change outside the allowed
// graph.
type ErrInvalidTransition struct {
	From, To models.ConsentStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid consent transition %s -> %s", e.From, e.To)
}

// Store is the persistence slice the service needs.
type Store interface {
	GetConsent(ctx context.Context, phoneNumber string) (*models.Consent, error)
	SaveConsent(ctx context.Context, c *models.Consent) error
}

// Service answers consent checks with a short-lived cache in front of the
// store; writes invalidate the cached entry.
type Service struct {
	store Store
	cache *gocache.Cache
}

// NewService builds a consent service. cacheTTL bounds staleness of checks
// against concurrent opt-outs.
func NewService(store Store, cacheTTL time.Duration) *Service {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Service{
		store: store,
		cache: gocache.New(cacheTTL, 2*cacheTTL),
	}
}

// Check refuses the send unless the number is currently OPTED_IN. A missing
// record counts as no consent.
func (s *Service) Check(ctx context.Context, phoneNumber string) error {
	c, err := s.get(ctx, phoneNumber)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotOptedIn
	}
	if err != nil {
		return err
	}
	if c.Status != models.ConsentOptedIn {
		return ErrNotOptedIn
	}
	return nil
}

// AllowsMarketing reports whether the number may receive marketing content.
// maxAge bounds opt-in freshness; records without an opt-in date count as
// not expired.
func (s *Service) AllowsMarketing(ctx context.Context, phoneNumber string, maxAge time.Duration) (bool, error) {
	c, err := s.get(ctx, phoneNumber)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.AllowsMarketing(maxAge), nil
}

// Record applies a consent status change, enforcing the transition graph
// and the date invariants, and appends to the audit trail.
func (s *Service) Record(ctx context.Context, phoneNumber string, newStatus models.ConsentStatus, source string, metadata map[string]string) (*models.Consent, error) {
	if phoneNumber == "" {
		return nil, errors.New("phone number is required")
	}

	now := time.Now().UTC()
	c, err := s.store.GetConsent(ctx, phoneNumber)
	if errors.Is(err, storage.ErrNotFound) {
		c = &models.Consent{
			ID:          uuid.NewString(),
			PhoneNumber: phoneNumber,
			Status:      models.ConsentUnknown,
			Version:     0,
		}
	} else if err != nil {
		return nil, err
	}

	if c.Status != newStatus && !models.CanTransition(c.Status, newStatus) {
		return nil, &ErrInvalidTransition{From: c.Status, To: newStatus}
	}

	c.Status = newStatus
	c.Source = source
	switch newStatus {
	case models.ConsentOptedIn:
		c.OptInDate = &now
		// a fresh opt-in supersedes any earlier opt-out
		c.OptOutDate = nil
	case models.ConsentOptedOut:
		c.OptOutDate = &now
	}
	c.Version++
	c.AuditTrail = append(c.AuditTrail, models.ConsentAuditEntry{
		Action:    string(newStatus),
		Timestamp: now,
		Source:    source,
		Metadata:  metadata,
	})

	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.SaveConsent(ctx, c); err != nil {
		return nil, err
	}
	s.cache.Delete(phoneNumber)

	log.Info().
		Str("phoneNumber", phoneNumber).
		Str("status", string(newStatus)).
		Int("version", c.Version).
		Msg("Consent recorded")
	return c, nil
}

func (s *Service) get(ctx context.Context, phoneNumber string) (*models.Consent, error) {
	if cached, ok := s.cache.Get(phoneNumber); ok {
		return cached.(*models.Consent), nil
	}
	c, err := s.store.GetConsent(ctx, phoneNumber)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(phoneNumber, c)
	return c, nil
}
