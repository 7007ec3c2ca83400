// Package webhook receives Twilio delivery-status callbacks and routes them
// through the shared status updater. Twilio may deliver callbacks more than
// once and out of order; the duplicate check here plus the updater's own
// idempotency check make replays harmless.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"tribsms/internal/models"
	"tribsms/internal/status"
	"tribsms/internal/storage"
)

// SignatureHeader is the header Twilio signs its callbacks with.
const SignatureHeader = "X-Twilio-Signature"

// terminalStatuses are the provider statuses worth recording; anything else
// (queued, sending, accepted...) is acknowledged and discarded.
var terminalStatuses = map[string]bool{
	"sent":        true,
	"delivered":   true,
	"undelivered": true,
	"failed":      true,
	"received":    true,
}

// providerToMessage maps Twilio's callback vocabulary to internal message
// statuses. Inbound "received" lands as DELIVERED.
var providerToMessage = map[string]models.MessageStatus{
	"sent":        models.MessageSent,
	"delivered":   models.MessageDelivered,
	"undelivered": models.MessageUndelivered,
	"failed":      models.MessageFailed,
	"received":    models.MessageDelivered,
}

// ProcessResult is the JSON body returned for every handled callback.
type ProcessResult struct {
	StatusUpdated bool   `json:"statusUpdated"`
	DeliveryID    string `json:"deliveryId,omitempty"`
	NewStatus     string `json:"newStatus,omitempty"`
	Message       string `json:"message,omitempty"`
}

// payload is the subset of Twilio's callback fields the handler needs. The
// status arrives under either MessageStatus or SmsStatus depending on API
// vintage.
type payload struct {
	MessageSid    string `json:"MessageSid"`
	MessageStatus string `json:"MessageStatus"`
	SmsStatus     string `json:"SmsStatus"`
	To            string `json:"To"`
	From          string `json:"From"`
	ErrorCode     string `json:"ErrorCode"`
	ErrorMessage  string `json:"ErrorMessage"`
}

func (p *payload) status() string {
	if p.MessageStatus != "" {
		return strings.ToLower(p.MessageStatus)
	}
	return strings.ToLower(p.SmsStatus)
}

// Handler processes delivery-status callbacks.
type Handler struct {
	store   storage.Store
	updater *status.Updater
	secret  string
	// baseURL prefixes r.URL when reconstructing the signed request URL
	baseURL string
}

// NewHandler builds a webhook handler. secret is the Twilio auth token used
// for signature validation.
func NewHandler(store storage.Store, updater *status.Updater, secret, baseURL string) *Handler {
	return &Handler{
		store:   store,
		updater: updater,
		secret:  secret,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// ServeHTTP validates the signature, maps the callback and applies the
// transition. Signature checks run before any payload parsing.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respond(w, http.StatusInternalServerError, ProcessResult{Message: "failed to read request body"})
		return
	}

	if h.secret == "" {
		log.Error().Msg("Webhook secret is not configured, rejecting callback")
		respond(w, http.StatusForbidden, ProcessResult{Message: "signature validation unavailable"})
		return
	}
	sig := r.Header.Get(SignatureHeader)
	if sig == "" {
		respond(w, http.StatusForbidden, ProcessResult{Message: "missing signature header"})
		return
	}
	if !ValidateSignature(h.secret, h.requestURL(r), body, sig) {
		log.Warn().Str("url", h.requestURL(r)).Msg("Webhook signature validation failed")
		respond(w, http.StatusForbidden, ProcessResult{Message: "invalid signature"})
		return
	}

	p, err := parsePayload(r.Header.Get("Content-Type"), body)
	if err != nil {
		respond(w, http.StatusBadRequest, ProcessResult{Message: err.Error()})
		return
	}

	result, code := h.process(r.Context(), p)
	respond(w, code, result)
}

// process runs steps 5-7 of the callback flow in one transaction so the
// lookup, duplicate check and writes commit or roll back together.
func (h *Handler) process(ctx context.Context, p *payload) (ProcessResult, int) {
	st := p.status()
	if !terminalStatuses[st] {
		log.Debug().
			Str("messageSid", p.MessageSid).
			Str("status", st).
			Msg("Ignoring non-delivery callback")
		return ProcessResult{Message: "Webhook ignored - not a delivery status"}, http.StatusOK
	}

	target := providerToMessage[st]

	var result ProcessResult
	err := h.store.WithinTx(ctx, func(tx storage.Tx) error {
		d, err := tx.GetDeliveryByExternalID(ctx, p.MessageSid)
		if errors.Is(err, storage.ErrNotFound) {
			return errUnknownDelivery
		}
		if err != nil {
			return err
		}

		if d.Status == models.DeliveryStatusFor(target) {
			result = ProcessResult{
				StatusUpdated: false,
				DeliveryID:    d.ID,
				NewStatus:     string(d.Status),
			}
			return nil
		}

		ch := status.Change{Status: target, CallbackStatus: callbackCompleted()}
		if st == "failed" || st == "undelivered" {
			ch.ErrorPath = true
			code := p.ErrorCode
			if code == "" {
				code = "DELIVERY_FAILED"
			}
			msg := p.ErrorMessage
			if msg == "" {
				msg = "provider reported " + st
			}
			ch.ErrorCode = &code
			ch.ErrorMessage = &msg
		}
		if err := h.updater.ApplyTx(ctx, tx, d.MessageID, ch); err != nil {
			return err
		}

		result = ProcessResult{
			StatusUpdated: true,
			DeliveryID:    d.ID,
			NewStatus:     string(models.DeliveryStatusFor(target)),
		}
		return nil
	})

	if errors.Is(err, errUnknownDelivery) {
		return ProcessResult{Message: "unknown message sid: " + p.MessageSid}, http.StatusBadRequest
	}
	if err != nil {
		log.Error().Err(err).Str("messageSid", p.MessageSid).Msg("Webhook processing failed")
		return ProcessResult{Message: "internal error"}, http.StatusInternalServerError
	}
	return result, http.StatusOK
}

var errUnknownDelivery = errors.New("unknown delivery")

func (h *Handler) requestURL(r *http.Request) string {
	if h.baseURL != "" {
		return h.baseURL + r.URL.RequestURI()
	}
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func parsePayload(contentType string, body []byte) (*payload, error) {
	var p payload
	if strings.Contains(contentType, "application/json") {
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, errors.New("malformed JSON payload")
		}
	} else {
		vals, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, errors.New("malformed form payload")
		}
		p = payload{
			MessageSid:    vals.Get("MessageSid"),
			MessageStatus: vals.Get("MessageStatus"),
			SmsStatus:     vals.Get("SmsStatus"),
			To:            vals.Get("To"),
			From:          vals.Get("From"),
			ErrorCode:     vals.Get("ErrorCode"),
			ErrorMessage:  vals.Get("ErrorMessage"),
		}
	}

	switch {
	case p.MessageSid == "":
		return nil, errors.New("MessageSid is required")
	case p.status() == "":
		return nil, errors.New("MessageStatus or SmsStatus is required")
	case p.To == "" || p.From == "":
		return nil, errors.New("To and From are required")
	}
	return &p, nil
}

func callbackCompleted() *models.CallbackStatus {
	s := models.CallbackCompleted
	return &s
}

func respond(w http.ResponseWriter, code int, body ProcessResult) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
