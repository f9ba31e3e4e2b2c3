package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kerna-app/kerna/pkg/async"
	"github.com/kerna-app/kerna/pkg/contextkeys"
	"github.com/kerna-app/kerna/pkg/httputil"
	"github.com/kerna-app/kerna/pkg/ledger"
)

// defaultHistoryLimit bounds history listings when the client does not
// specify one
const defaultHistoryLimit = 50

// handleMe handles GET /api/me. Reconciling here means the balance a
// user sees is always the balance a generation would start from.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	state, err := s.deps.Ledger.Reconcile(r.Context(), contextkeys.UserID(r.Context()))
	if errors.Is(err, ledger.ErrUserNotFound) {
		httputil.WriteNotFoundError(w, "user not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, state)
}

// listHistory handles GET /api/history
func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httputil.WriteBadRequest(w, "invalid limit")
			return
		}
		limit = parsed
	}

	summaries, err := s.deps.Ledger.ListGenerations(r.Context(), contextkeys.UserID(r.Context()), limit)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if summaries == nil {
		summaries = []*ledger.GenerationSummary{}
	}
	httputil.WriteSuccess(w, summaries)
}

// deleteHistory handles DELETE /api/history/{id}
func (s *Server) deleteHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	err := s.deps.Ledger.DeleteGeneration(r.Context(), contextkeys.UserID(r.Context()), id)
	if errors.Is(err, ledger.ErrGenerationNotFound) {
		httputil.WriteNotFoundError(w, "generation not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// handleFeedback handles POST /api/feedback. The record is stored
// synchronously; notification fans out in the background so a flaky
// webhook never fails the submission.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		httputil.WriteBadRequest(w, "message is required")
		return
	}
	if req.Type == "" {
		req.Type = "general"
	}

	record := &ledger.FeedbackRecord{
		ID:        uuid.NewString(),
		UserID:    contextkeys.UserID(r.Context()),
		Message:   strings.TrimSpace(req.Message),
		Type:      req.Type,
		Email:     strings.TrimSpace(req.Email),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.deps.Ledger.InsertFeedback(r.Context(), record); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	if s.deps.Notifier != nil {
		async.SafeGo(r.Context(), s.logger, 30*time.Second, "feedback notification", func(ctx context.Context) error {
			return s.deps.Notifier.NotifyFeedback(ctx, *record)
		})
	}

	httputil.WriteCreated(w, record)
}
