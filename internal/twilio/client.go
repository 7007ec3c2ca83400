package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://api.twilio.com"

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// ProviderConfig is the per-workspace Twilio credential set attached to
// every queued send job.
type ProviderConfig struct {
	AccountSID     string `json:"accountSid"`
	AuthToken      string `json:"authToken"`
	FromNumber     string `json:"fromNumber"`
	StatusCallback string `json:"statusCallback,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
	MaxRetries     int    `json:"maxRetries,omitempty"`
	BaseURL        string `json:"-"`
}

// OutboundMessage is the subset of a message the provider needs.
type OutboundMessage struct {
	Body string `json:"body"`
	From string `json:"from,omitempty"`
	To   string `json:"to"`
}

// APIResult is the uniform outcome of a provider call.
type APIResult struct {
	Success     bool            `json:"success"`
	ExternalID  string          `json:"externalId,omitempty"`
	Status      string          `json:"status,omitempty"`
	RawResponse json.RawMessage `json:"rawResponse,omitempty"`
	Error       *Error          `json:"error,omitempty"`
	Retryable   bool            `json:"retryable"`
}

// apiResponse is Twilio's message resource shape; error fields are set on
// non-2xx responses.
type apiResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	Code         int    `json:"code"`
	Message      string `json:"message"`
	MoreInfo     string `json:"more_info"`
	ErrorMessage string `json:"error_message"`
}

// Client wraps Twilio's REST messages API. It is stateless per call; all
// credentials travel in the ProviderConfig.
type Client struct {
	http       *resty.Client
	classifier *Classifier
}

// NewClient builds a provider client around the given classifier.
func NewClient(classifier *Classifier) *Client {
	return &Client{
		http:       resty.New(),
		classifier: classifier,
	}
}

// ValidateConfig checks a provider config before any network call. A
// failure here is a CONFIG_ERROR and never reaches the wire.
func ValidateConfig(cfg ProviderConfig) *Error {
	switch {
	case cfg.AccountSID == "":
		return configError("account SID is required")
	case cfg.AuthToken == "":
		return configError("auth token is required")
	case !e164Pattern.MatchString(cfg.FromNumber):
		return configError("sender number must be in E.164 format")
	case cfg.TimeoutSeconds < 0 || cfg.TimeoutSeconds > 300:
		return configError("timeout must be between 0 and 300 seconds")
	case cfg.MaxRetries < 0 || cfg.MaxRetries > 10:
		return configError("max retries must be between 0 and 10")
	}
	return nil
}

// SendSMS submits one outbound message. Config errors and classified
// provider failures are reported inside the APIResult; the error return is
// reserved for request construction failures.
func (c *Client) SendSMS(ctx context.Context, msg OutboundMessage, cfg ProviderConfig) (*APIResult, error) {
	if cerr := ValidateConfig(cfg); cerr != nil {
		return &APIResult{Success: false, Error: cerr}, nil
	}

	from := msg.From
	if from == "" {
		from = cfg.FromNumber
	}

	form := map[string]string{
		"Body": msg.Body,
		"From": from,
		"To":   msg.To,
	}
	if cfg.StatusCallback != "" {
		form["StatusCallback"] = cfg.StatusCallback
	}

	url := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", baseURL(cfg), cfg.AccountSID)
	return c.call(ctx, cfg, func(req *resty.Request) (*resty.Response, error) {
		return req.SetFormData(form).Post(url)
	})
}

// GetMessageStatus fetches the current provider-side status of a message.
func (c *Client) GetMessageStatus(ctx context.Context, externalID string, cfg ProviderConfig) (*APIResult, error) {
	if cerr := ValidateConfig(cfg); cerr != nil {
		return &APIResult{Success: false, Error: cerr}, nil
	}
	if externalID == "" {
		return &APIResult{Success: false, Error: configError("external message ID is required")}, nil
	}

	url := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages/%s.json", baseURL(cfg), cfg.AccountSID, externalID)
	return c.call(ctx, cfg, func(req *resty.Request) (*resty.Response, error) {
		return req.Get(url)
	})
}

func (c *Client) call(ctx context.Context, cfg ProviderConfig, do func(*resty.Request) (*resty.Response, error)) (*APIResult, error) {
	timeout := 30 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := c.http.R().
		SetContext(ctx).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken)

	resp, err := do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			cerr := c.classifier.Classify(RawError{Message: "request timed out", Err: err})
			return &APIResult{Success: false, Error: cerr, Retryable: cerr.Retryable}, nil
		}
		cerr := c.classifier.Classify(RawError{Message: err.Error(), Err: err})
		return &APIResult{Success: false, Error: cerr, Retryable: cerr.Retryable}, nil
	}

	var body apiResponse
	if jerr := json.Unmarshal(resp.Body(), &body); jerr != nil && resp.IsSuccess() {
		return nil, fmt.Errorf("decoding provider response: %w", jerr)
	}

	if resp.IsSuccess() {
		log.Debug().
			Str("sid", body.SID).
			Str("status", body.Status).
			Msg("Provider call succeeded")
		return &APIResult{
			Success:     true,
			ExternalID:  body.SID,
			Status:      body.Status,
			RawResponse: json.RawMessage(resp.Body()),
		}, nil
	}

	code := ""
	if body.Code != 0 {
		code = strconv.Itoa(body.Code)
	}
	cerr := c.classifier.Classify(RawError{
		StatusCode: resp.StatusCode(),
		Code:       code,
		Message:    nonEmpty(body.Message, body.ErrorMessage),
		RetryAfter: resp.Header().Get("Retry-After"),
	})
	log.Warn().
		Int("statusCode", resp.StatusCode()).
		Str("code", code).
		Str("type", string(cerr.Type)).
		Bool("retryable", cerr.Retryable).
		Msg("Provider call failed")
	return &APIResult{Success: false, Error: cerr, Retryable: cerr.Retryable}, nil
}

func baseURL(cfg ProviderConfig) string {
	if cfg.BaseURL != "" {
		return cfg.BaseURL
	}
	return defaultBaseURL
}

func configError(msg string) *Error {
	return &Error{Type: ErrConfig, Message: msg, Retryable: false}
}
