package api

import (
	"io"
	"net/http"

	"github.com/kerna-app/kerna/pkg/billing"
	"github.com/kerna-app/kerna/pkg/httputil"
)

// handleBillingWebhook handles POST /api/billing/webhook. A non-2xx
// response makes the provider redeliver, so only processing failures
// return one; malformed payloads are acknowledged with 400 and dropped.
func (s *Server) handleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, httputil.MaxBodyBytes))
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read payload")
		return
	}

	event, err := billing.ParseEvent(payload)
	if err != nil {
		s.webhookMetric("unknown", "malformed")
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if err := s.deps.Billing.HandleEvent(r.Context(), event); err != nil {
		s.webhookMetric(string(event.Type), "error")
		httputil.WriteInternalError(w, err)
		return
	}

	s.webhookMetric(string(event.Type), "ok")
	httputil.WriteSuccess(w, map[string]bool{"received": true})
}

func (s *Server) webhookMetric(eventType, status string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.WebhookEventsTotal.WithLabelValues(eventType, status).Inc()
	}
}
