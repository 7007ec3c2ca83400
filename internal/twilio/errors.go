package twilio

import (
	"fmt"
	"time"
)

// ErrorType is the classification assigned to a provider failure.
type ErrorType string

const (
	ErrConfig             ErrorType = "CONFIG_ERROR"
	ErrValidation         ErrorType = "VALIDATION"
	ErrAuthentication     ErrorType = "AUTHENTICATION"
	ErrRateLimit          ErrorType = "RATE_LIMIT"
	ErrNetwork            ErrorType = "NETWORK"
	ErrServiceUnavailable ErrorType = "SERVICE_UNAVAILABLE"
	ErrUnknown            ErrorType = "UNKNOWN"
)

// Error is a classified provider failure. Retryable failures carry a
// suggested delay before the next attempt.
type Error struct {
	Type       ErrorType     `json:"type"`
	Message    string        `json:"message"`
	Code       string        `json:"code,omitempty"`
	StatusCode int           `json:"statusCode,omitempty"`
	Retryable  bool          `json:"retryable"`
	RetryDelay time.Duration `json:"retryDelayMs,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}
