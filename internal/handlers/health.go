package handlers

import (
	"context"
	"net/http"
	"time"
)

// Health pings the backends and reports per-dependency status. Any failing
// dependency turns the response 503.
func (s *Server) Health() http.HandlerFunc {
	type health struct {
		Status   string            `json:"status"`
		Backends map[string]string `json:"backends"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		h := health{Status: "ok", Backends: map[string]string{}}
		code := http.StatusOK

		check := func(name string, p Pinger) {
			if p == nil {
				h.Backends[name] = "not configured"
				return
			}
			if err := p.Ping(ctx); err != nil {
				h.Backends[name] = "down: " + err.Error()
				h.Status = "degraded"
				code = http.StatusServiceUnavailable
				return
			}
			h.Backends[name] = "up"
		}
		check("database", s.dbPing)
		check("redis", s.redisPing)
		check("rabbitmq", s.rabbitPing)

		s.Respond(w, code, h)
	}
}
