package models

import (
	"time"
)

// ConsentStatus is the TCPA opt-in state for a phone number.
type ConsentStatus string

const (
	ConsentUnknown  ConsentStatus = "UNKNOWN"
	ConsentPending  ConsentStatus = "PENDING"
	ConsentOptedIn  ConsentStatus = "OPTED_IN"
	ConsentOptedOut ConsentStatus = "OPTED_OUT"
)

// consentTransitions is the allowed transition graph. UNKNOWN and PENDING
// may move to either OPTED state; the OPTED states only toggle between each
// other. There is no route back to UNKNOWN or PENDING.
var consentTransitions = map[ConsentStatus][]ConsentStatus{
	ConsentUnknown:  {ConsentPending, ConsentOptedIn, ConsentOptedOut},
	ConsentPending:  {ConsentOptedIn, ConsentOptedOut},
	ConsentOptedIn:  {ConsentOptedOut},
	ConsentOptedOut: {ConsentOptedIn},
}

// CanTransition reports whether a consent record may move from one status to
// another.
func CanTransition(from, to ConsentStatus) bool {
	for _, allowed := range consentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ConsentAuditEntry is one append-only entry in a consent audit trail.
type ConsentAuditEntry struct {
	Action    string            `json:"action"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Consent is a per-phone-number opt-in/opt-out record.
type Consent struct {
	ID                 string              `db:"id" json:"id"`
	PhoneNumber        string              `db:"phone_number" json:"phoneNumber"`
	Status             ConsentStatus       `db:"status" json:"status"`
	Source             string              `db:"source" json:"source"`
	Type               string              `db:"type" json:"type"`
	VerificationMethod string              `db:"verification_method" json:"verificationMethod"`
	LegalBasis         string              `db:"legal_basis" json:"legalBasis"`
	OptInDate          *time.Time          `db:"opt_in_date" json:"optInDate,omitempty"`
	OptOutDate         *time.Time          `db:"opt_out_date" json:"optOutDate,omitempty"`
	Version            int                 `db:"version" json:"version"`
	AuditTrail         []ConsentAuditEntry `db:"-" json:"auditTrail,omitempty"`
	CreatedAt          time.Time           `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time           `db:"updated_at" json:"updatedAt"`
}

// Validate enforces the date invariants tied to each consent status.
func (c *Consent) Validate() error {
	switch c.Status {
	case ConsentOptedIn:
		if c.OptInDate == nil {
			return ErrConsentMissingOptIn
		}
	case ConsentOptedOut:
		if c.OptOutDate == nil {
			return ErrConsentMissingOptOut
		}
	}
	if c.OptInDate != nil && c.OptOutDate != nil && !c.OptOutDate.After(*c.OptInDate) {
		return ErrConsentDateOrder
	}
	return nil
}

// AllowsMarketing reports whether the record permits marketing sends. A nil
// opt-in date on an OPTED_IN record counts as not expired.
func (c *Consent) AllowsMarketing(maxAge time.Duration) bool {
	if c.Status != ConsentOptedIn {
		return false
	}
	if c.OptInDate == nil {
		return true
	}
	if maxAge <= 0 {
		return true
	}
	return time.Since(*c.OptInDate) <= maxAge
}
