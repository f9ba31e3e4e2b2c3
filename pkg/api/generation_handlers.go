package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/kerna-app/kerna/pkg/async"
	"github.com/kerna-app/kerna/pkg/contextkeys"
	"github.com/kerna-app/kerna/pkg/extract"
	"github.com/kerna-app/kerna/pkg/generate"
	"github.com/kerna-app/kerna/pkg/httputil"
	"github.com/kerna-app/kerna/pkg/ledger"
	"github.com/kerna-app/kerna/pkg/plans"
)

// maxUploadBytes caps uploaded document size
const maxUploadBytes = 4 << 20

// handleGenerate handles POST /api/generate. The study guide is streamed
// to the client as plain text chunks; billing settles in the background
// after the stream ends.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	content, err := extract.FromPlainText(req.Title, req.SourceText)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	s.streamGeneration(w, r, generate.Input{
		UserID:     contextkeys.UserID(r.Context()),
		Title:      content.Title,
		SourceText: content.Text,
		Model:      req.Model,
	})
}

// handleUpload handles POST /api/upload: a multipart document upload that
// streams a study guide back and archives the original off the request
// path.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httputil.WriteBadRequest(w, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteBadRequest(w, "missing file")
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	title := r.FormValue("title")
	if title == "" {
		title = header.Filename
	}
	content, err := extract.FromPlainText(title, string(raw))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	userID := contextkeys.UserID(r.Context())
	input := generate.Input{
		UserID:     userID,
		Title:      content.Title,
		SourceText: content.Text,
		Model:      plans.Model(r.FormValue("model")),
	}

	outcome := s.streamGeneration(w, r, input)
	if outcome == nil || s.deps.Archive == nil {
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	recordID := outcome.RecordID
	async.SafeGo(r.Context(), s.logger, 30*time.Second, "document archive", func(ctx context.Context) error {
		_, err := s.deps.Archive.Put(ctx, userID, recordID, raw, contentType)
		return err
	})
}

// handleScrape handles POST /api/scrape: fetch a URL and return the
// extracted readable content for the client to review before generating.
func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.URL == "" {
		httputil.WriteBadRequest(w, "url is required")
		return
	}

	content, err := s.deps.Scraper.Scrape(r.Context(), req.URL)
	switch {
	case errors.Is(err, extract.ErrFetchFailed):
		httputil.WriteError(w, http.StatusBadGateway, err)
	case errors.Is(err, extract.ErrNotEnoughText):
		httputil.WriteError(w, http.StatusUnprocessableEntity, err)
	case err != nil:
		httputil.WriteInternalError(w, err)
	default:
		httputil.WriteSuccess(w, content)
	}
}

// streamGeneration runs one session and streams chunks to the client.
// Returns nil if the session was rejected before any output was written.
func (s *Server) streamGeneration(w http.ResponseWriter, r *http.Request, input generate.Input) *generate.Outcome {
	flusher, _ := w.(http.Flusher)
	wrote := false
	outcome, err := s.deps.Runner.Run(r.Context(), input, func(chunk string) error {
		if !wrote {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("X-Accel-Buffering", "no")
		}
		if _, werr := io.WriteString(w, chunk); werr != nil {
			return werr
		}
		wrote = true
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})

	if err != nil {
		if wrote {
			// Headers and partial output are already sent; the
			// stream just ends
			s.logger.WithError(err).Warn("Generation stream aborted mid-flight")
			return nil
		}
		s.writeGenerationError(w, err)
		return nil
	}

	s.recordGenerationMetrics(outcome)
	return outcome
}

func (s *Server) writeGenerationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, generate.ErrOutOfCredits):
		httputil.WritePaymentRequired(w, "not enough credits for a generation")
	case errors.Is(err, generate.ErrEmptyInput):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ledger.ErrUserNotFound):
		httputil.WriteNotFoundError(w, "user not found")
	case errors.Is(err, generate.ErrUpstreamGeneration):
		httputil.WriteError(w, http.StatusBadGateway, err)
	default:
		httputil.WriteInternalError(w, err)
	}
}

func (s *Server) recordGenerationMetrics(outcome *generate.Outcome) {
	m := s.deps.Metrics
	if m == nil {
		return
	}

	finish := "stop"
	if outcome.Truncated {
		finish = "length"
	}
	m.GenerationsTotal.WithLabelValues(string(outcome.Model), finish).Inc()
	m.GenerationTokens.WithLabelValues(string(outcome.Model)).Observe(float64(outcome.TokensUsed))
	m.CreditsDeductedTotal.WithLabelValues(string(outcome.Model)).Add(float64(outcome.Cost))

	go func() {
		if err := <-outcome.Settled; err != nil {
			m.SettlementErrorsTotal.Inc()
		}
	}()
}

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	catalog := s.deps.Catalogs.Catalog()

	resp := catalogResponse{DefaultModel: plans.DefaultModel}
	for _, p := range catalog.Plans() {
		entry := catalog.Lookup(p)
		resp.Plans = append(resp.Plans, planInfo{
			Plan:         p,
			Credits:      entry.Credits,
			Frequency:    entry.RefillFrequency,
			DurationDays: entry.DurationDays,
		})
	}
	for _, m := range catalog.Models() {
		resp.Models = append(resp.Models, modelInfo{
			Model:          m,
			CostPerKTokens: catalog.CostMultiplier(m),
		})
	}

	httputil.WriteSuccess(w, resp)
}
