package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"

	"tribsms/internal/consent"
	"tribsms/internal/models"
	"tribsms/internal/queue"
	"tribsms/internal/ratelimit"
	"tribsms/internal/storage"
	"tribsms/internal/twilio"
)

// Enqueuer publishes send jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *queue.SendJob) error
}

// ConsentService guards outbound sends and records opt-in changes.
type ConsentService interface {
	Check(ctx context.Context, phoneNumber string) error
	Record(ctx context.Context, phoneNumber string, newStatus models.ConsentStatus, source string, metadata map[string]string) (*models.Consent, error)
}

// AdmissionGate is the rate limiter surface the API consults per request.
type AdmissionGate interface {
	CheckAndIncrement(ctx context.Context, workspaceID, messageType string) (*ratelimit.Result, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the HTTP surface dependencies.
type Server struct {
	store     storage.Store
	publisher Enqueuer
	consents  ConsentService
	limiter   AdmissionGate
	validate  *validator.Validate

	providerCfg twilio.ProviderConfig
	dbPing      Pinger
	redisPing   Pinger
	rabbitPing  Pinger
}

// NewServer wires the HTTP surface.
func NewServer(store storage.Store, publisher Enqueuer, consents ConsentService, limiter AdmissionGate, providerCfg twilio.ProviderConfig, dbPing, redisPing, rabbitPing Pinger) *Server {
	return &Server{
		store:       store,
		publisher:   publisher,
		consents:    consents,
		limiter:     limiter,
		validate:    validator.New(),
		providerCfg: providerCfg,
		dbPing:      dbPing,
		redisPing:   redisPing,
		rabbitPing:  rabbitPing,
	}
}

// Routes assembles the router with the logging middleware chain applied to
// every endpoint.
func (s *Server) Routes(webhookHandler http.Handler) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/messages", s.SendMessage()).Methods(http.MethodPost)
	r.HandleFunc("/api/messages/{id}", s.GetMessage()).Methods(http.MethodGet)
	r.HandleFunc("/api/deliveries/metrics", s.DeliveryMetrics()).Methods(http.MethodGet)
	r.HandleFunc("/api/consents", s.RecordConsent()).Methods(http.MethodPost)
	r.Handle("/webhooks/twilio/status", webhookHandler).Methods(http.MethodPost)
	r.HandleFunc("/health", s.Health()).Methods(http.MethodGet)

	chain := alice.New(requestLogger)
	return chain.Then(r)
}

// Respond writes a JSON response with the given status code.
func (s *Server) Respond(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

var _ ConsentService = (*consent.Service)(nil)
