package twilio

import (
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// RawError carries everything the client knows about a failed provider call
// before classification.
type RawError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter string
	Err        error
}

// Twilio error codes that signal rate limiting.
var rateLimitCodes = map[string]bool{
	"20429": true,
	"63017": true,
	"14107": true,
}

// Twilio validation codes mapped to readable messages.
var validationMessages = map[string]string{
	"21211": "invalid recipient phone number",
	"21212": "invalid sender phone number",
	"21408": "permission to send to this region is not enabled",
	"21606": "the sender number is not a valid, SMS-capable number",
	"21610": "recipient has unsubscribed from this sender",
	"21614": "recipient number is not a valid mobile number",
}

// Classifier maps raw provider errors to typed categories and owns the
// retry/backoff arithmetic.
type Classifier struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	MaxRetries int

	// fallback when a 429 arrives without a Retry-After header
	RateLimitDelay time.Duration
}

// NewClassifier returns a classifier with the default retry policy: base
// 1s, doubling per attempt, capped at 30s, three retries.
func NewClassifier() *Classifier {
	return &Classifier{
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2,
		MaxRetries:     3,
		RateLimitDelay: 3 * time.Second,
	}
}

// Classify maps a raw failure to a typed error. Rules are checked in
// priority order: a 429 carrying a validation-looking code is still rate
// limiting, because rate limiting is transient and validation is not.
func (c *Classifier) Classify(raw RawError) *Error {
	switch {
	case raw.StatusCode == 401 || raw.StatusCode == 403:
		return &Error{
			Type:       ErrAuthentication,
			Message:    nonEmpty(raw.Message, "authentication with provider failed"),
			Code:       raw.Code,
			StatusCode: raw.StatusCode,
			Retryable:  false,
		}

	case raw.StatusCode == 429 || rateLimitCodes[raw.Code]:
		delay := c.RateLimitDelay
		if raw.RetryAfter != "" {
			if secs, err := strconv.Atoi(raw.RetryAfter); err == nil && secs > 0 {
				delay = time.Duration(secs) * time.Second
			}
		}
		return &Error{
			Type:       ErrRateLimit,
			Message:    nonEmpty(raw.Message, "provider rate limit exceeded"),
			Code:       raw.Code,
			StatusCode: raw.StatusCode,
			Retryable:  true,
			RetryDelay: delay,
		}

	case raw.StatusCode == 400 || validationMessages[raw.Code] != "":
		msg := validationMessages[raw.Code]
		if msg == "" {
			msg = nonEmpty(raw.Message, "provider rejected the request")
		}
		return &Error{
			Type:       ErrValidation,
			Message:    msg,
			Code:       raw.Code,
			StatusCode: raw.StatusCode,
			Retryable:  false,
		}

	case isNetworkError(raw):
		return &Error{
			Type:       ErrNetwork,
			Message:    nonEmpty(raw.Message, "network error calling provider"),
			Code:       raw.Code,
			Retryable:  true,
			RetryDelay: c.BaseDelay,
		}

	case raw.StatusCode >= 500 && raw.StatusCode <= 599:
		return &Error{
			Type:       ErrServiceUnavailable,
			Message:    nonEmpty(raw.Message, "provider service unavailable"),
			Code:       raw.Code,
			StatusCode: raw.StatusCode,
			Retryable:  true,
			RetryDelay: 2 * c.BaseDelay,
		}

	default:
		return &Error{
			Type:       ErrUnknown,
			Message:    nonEmpty(raw.Message, "unknown provider error"),
			Code:       raw.Code,
			StatusCode: raw.StatusCode,
			Retryable:  true,
			RetryDelay: c.BaseDelay,
		}
	}
}

// ShouldRetry reports whether another attempt is worthwhile.
func (c *Classifier) ShouldRetry(err *Error, attempt int) bool {
	if err == nil || !err.Retryable {
		return false
	}
	return attempt <= c.MaxRetries
}

// RetryDelay computes the exponential backoff for the given attempt:
// base × multiplier^(attempt-1), plus up to 10% jitter, capped at MaxDelay.
// An optional base overrides the configured one.
func (c *Classifier) RetryDelay(attempt int, base ...time.Duration) time.Duration {
	b := c.BaseDelay
	if len(base) > 0 && base[0] > 0 {
		b = base[0]
	}
	if attempt < 1 {
		attempt = 1
	}

	d := float64(b) * math.Pow(c.Multiplier, float64(attempt-1))
	d += d * rand.Float64() * 0.1
	if d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

func isNetworkError(raw RawError) bool {
	msg := strings.ToLower(raw.Message)
	if raw.Err != nil {
		msg += " " + strings.ToLower(raw.Err.Error())
	}
	for _, s := range []string{"timeout", "timed out", "connection reset", "connection refused", "econnreset", "econnrefused", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
