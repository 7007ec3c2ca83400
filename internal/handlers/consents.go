package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"tribsms/internal/consent"
	"tribsms/internal/models"
)

// RecordConsentRequest is the inbound DTO for consent changes.
type RecordConsentRequest struct {
	PhoneNumber string            `json:"phoneNumber" validate:"required,e164"`
	Status      string            `json:"status" validate:"required,oneof=PENDING OPTED_IN OPTED_OUT"`
	Source      string            `json:"source" validate:"required"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// RecordConsent records an opt-in or opt-out for a phone number.
func (s *Server) RecordConsent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RecordConsentRequest
		if err := decodeJSON(r, &req); err != nil {
			s.Respond(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body", Code: "VALIDATION_ERROR"})
			return
		}
		if err := s.validate.Struct(&req); err != nil {
			s.Respond(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "VALIDATION_ERROR"})
			return
		}

		rec, err := s.consents.Record(r.Context(), req.PhoneNumber, models.ConsentStatus(req.Status), req.Source, req.Metadata)
		if err != nil {
			var inv *consent.ErrInvalidTransition
			if errors.As(err, &inv) {
				s.Respond(w, http.StatusConflict, errorBody{Error: inv.Error(), Code: "VALIDATION_ERROR"})
				return
			}
			s.Respond(w, http.StatusInternalServerError, errorBody{Error: "failed to record consent"})
			return
		}
		s.Respond(w, http.StatusOK, rec)
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
