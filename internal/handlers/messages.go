package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"tribsms/internal/consent"
	"tribsms/internal/models"
	"tribsms/internal/queue"
	"tribsms/internal/storage"
	"tribsms/internal/twilio"
)

// SendMessageRequest is the inbound DTO for queueing a send.
type SendMessageRequest struct {
	To          string            `json:"to" validate:"required,e164"`
	Content     string            `json:"content" validate:"required,max=1600"`
	WorkspaceID string            `json:"workspaceId" validate:"required"`
	Priority    int               `json:"priority" validate:"min=0,max=9"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// SendMessageResponse reports the queued message.
type SendMessageResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// SendMessage validates the request, checks consent and rate limits,
// persists the message QUEUED and enqueues the send job. An enqueue failure
// after the message is persisted is surfaced as QUEUE_ERROR; the row stays
// QUEUED for manual recovery.
func (s *Server) SendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SendMessageRequest
		if err := decodeJSON(r, &req); err != nil {
			s.Respond(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body", Code: "VALIDATION_ERROR"})
			return
		}
		if err := s.validate.Struct(&req); err != nil {
			s.Respond(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "VALIDATION_ERROR"})
			return
		}

		if err := s.consents.Check(r.Context(), req.To); err != nil {
			if errors.Is(err, consent.ErrNotOptedIn) {
				s.Respond(w, http.StatusForbidden, errorBody{Error: "recipient has not opted in", Code: "CONSENT_ERROR"})
				return
			}
			s.Respond(w, http.StatusInternalServerError, errorBody{Error: "consent check failed"})
			return
		}

		limit, err := s.limiter.CheckAndIncrement(r.Context(), req.WorkspaceID, "sms")
		if err != nil {
			s.Respond(w, http.StatusInternalServerError, errorBody{Error: "rate limit check failed"})
			return
		}
		if !limit.Allowed {
			s.Respond(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded", Code: "RATE_LIMIT"})
			return
		}

		msg := &models.Message{
			ID:          uuid.NewString(),
			Content:     req.Content,
			Channel:     models.ChannelSMS,
			Direction:   models.DirectionOutbound,
			From:        s.providerCfg.FromNumber,
			To:          req.To,
			Status:      models.MessageQueued,
			Priority:    req.Priority,
			WorkspaceID: req.WorkspaceID,
			Metadata:    req.Metadata,
		}
		if err := s.store.CreateMessage(r.Context(), msg); err != nil {
			log.Error().Err(err).Msg("Failed to persist message")
			s.Respond(w, http.StatusInternalServerError, errorBody{Error: "failed to persist message"})
			return
		}

		job := &queue.SendJob{
			MessageID:      msg.ID,
			ProviderConfig: &s.providerCfg,
			MessageData: &twilio.OutboundMessage{
				Body: msg.Content,
				From: msg.From,
				To:   msg.To,
			},
			WorkspaceID: req.WorkspaceID,
			Priority:    req.Priority,
		}
		if err := s.publisher.Enqueue(r.Context(), job); err != nil {
			// message persisted, job never created
			log.Error().Err(err).Str("messageID", msg.ID).Msg("Enqueue failed after message persisted")
			s.Respond(w, http.StatusInternalServerError, errorBody{Error: "message stored but not queued", Code: "QUEUE_ERROR"})
			return
		}

		s.Respond(w, http.StatusAccepted, SendMessageResponse{MessageID: msg.ID, Status: string(msg.Status)})
	}
}

// MessageView pairs a message with its delivery record.
type MessageView struct {
	Message  *models.Message  `json:"message"`
	Delivery *models.Delivery `json:"delivery,omitempty"`
}

// GetMessage returns a message and, when present, its delivery.
func (s *Server) GetMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		msg, err := s.store.GetMessage(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			s.Respond(w, http.StatusNotFound, errorBody{Error: "message not found"})
			return
		}
		if err != nil {
			s.Respond(w, http.StatusInternalServerError, errorBody{Error: "lookup failed"})
			return
		}

		view := MessageView{Message: msg}
		if d, err := s.store.GetDeliveryByMessageID(r.Context(), id); err == nil {
			view.Delivery = d
		}
		s.Respond(w, http.StatusOK, view)
	}
}

// DeliveryMetrics reports aggregate delivery outcomes and the overall
// success rate as an integer percentage.
func (s *Server) DeliveryMetrics() http.HandlerFunc {
	type metrics struct {
		*models.DeliveryStats
		SuccessRate int `json:"successRate"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.store.DeliveryStats(r.Context())
		if err != nil {
			s.Respond(w, http.StatusInternalServerError, errorBody{Error: "stats query failed"})
			return
		}
		s.Respond(w, http.StatusOK, metrics{
			DeliveryStats: stats,
			SuccessRate:   models.SuccessRate(stats.Sent+stats.Delivered, stats.Total),
		})
	}
}
