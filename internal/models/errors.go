package models

import "errors"

var (
	ErrConsentMissingOptIn  = errors.New("OPTED_IN consent requires an opt-in date")
	ErrConsentMissingOptOut = errors.New("OPTED_OUT consent requires an opt-out date")
	ErrConsentDateOrder     = errors.New("opt-out date must be after opt-in date")
)
