// Package generate orchestrates one study-guide generation from balance
// check to settlement. The session holds no credit lock while streaming;
// concurrent sessions for the same user may both pass the pre-check, and
// the ledger's clamp-to-zero deduction absorbs that race.
package generate

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kerna-app/kerna/pkg/async"
	"github.com/kerna-app/kerna/pkg/ledger"
	"github.com/kerna-app/kerna/pkg/plans"
	"github.com/kerna-app/kerna/pkg/spend"
)

// TruncationMarker is appended to output cut short by the token cap so
// the student sees why the guide stops early
const TruncationMarker = "\n\n---\n*This study guide was cut short because your credit balance could not cover a longer response.*"

// settleTimeout bounds the detached settlement task
const settleTimeout = 30 * time.Second

// Input is one generation request from an authenticated user
type Input struct {
	UserID     string
	Title      string
	SourceText string
	Model      plans.Model
}

// Outcome reports a completed generation. Settled receives the detached
// settlement task's result exactly once; a settlement error means the
// content was delivered but not fully billed.
type Outcome struct {
	Model      plans.Model
	TokensUsed int64
	Cost       int64
	Truncated  bool
	Response   string
	RecordID   string
	Settled    <-chan error
}

// Runner executes generation sessions
type Runner struct {
	ledger    ledger.Service
	catalogs  *plans.Provider
	generator Generator
	logger    *logrus.Logger
}

// NewRunner creates a session runner
func NewRunner(svc ledger.Service, catalogs *plans.Provider, generator Generator, logger *logrus.Logger) *Runner {
	return &Runner{
		ledger:    svc,
		catalogs:  catalogs,
		generator: generator,
		logger:    logger,
	}
}

// Run executes one session: reconcile, balance check, capped streaming,
// then detached settlement. Chunks are forwarded to the sink as the model
// produces them. Settlement runs on a background context so a client
// disconnect after streaming cannot cancel the charge for tokens already
// consumed; its failure is logged and surfaced on Outcome.Settled, never
// retried.
func (r *Runner) Run(ctx context.Context, in Input, sink func(chunk string) error) (*Outcome, error) {
	if strings.TrimSpace(in.SourceText) == "" {
		return nil, ErrEmptyInput
	}

	state, err := r.ledger.Reconcile(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if state.Credits < 1 {
		return nil, ErrOutOfCredits
	}

	catalog := r.catalogs.Catalog()
	model := r.chooseModel(catalog, state.Plan, in.Model)
	// Premium models burn credits fast; require a minimum balance before
	// starting. The default model stays available down to the last credit
	// so low balances are never completely locked out.
	if model != plans.DefaultModel && state.Credits < catalog.MinCreditBuffer() {
		return nil, ErrOutOfCredits
	}
	estimator := spend.NewEstimator(catalog)
	tokenCap := estimator.TokenCap(state.Credits, model)

	var buf strings.Builder
	result, err := r.generator.Generate(ctx, Request{
		Model:     model,
		Prompt:    BuildPrompt(in.SourceText),
		MaxTokens: tokenCap,
	}, func(chunk string) error {
		buf.WriteString(chunk)
		return sink(chunk)
	})
	if err != nil {
		return nil, err
	}

	truncated := result.FinishReason == FinishLength
	response := buf.String()
	if truncated {
		response += TruncationMarker
		// Streaming clients should see the marker too; the content is
		// already delivered so a sink error here is ignored
		_ = sink(TruncationMarker)
	}

	cost := estimator.ExactCost(result.TokensUsed, model)
	record := &ledger.GenerationRecord{
		ID:          uuid.NewString(),
		UserID:      in.UserID,
		Title:       in.Title,
		Model:       model,
		CreditsCost: cost,
		AIResponse:  response,
	}

	log := r.logger.WithFields(logrus.Fields{
		"user_id":     in.UserID,
		"model":       model,
		"tokens_used": result.TokensUsed,
		"cost":        cost,
		"truncated":   truncated,
	})

	settled := async.SafeGo(ctx, r.logger, settleTimeout, "generation-settlement", func(bgCtx context.Context) error {
		deduction, err := r.ledger.Deduct(bgCtx, in.UserID, cost, record)
		if err != nil {
			return err
		}
		if deduction.Status == ledger.DeductShortfall {
			log.WithField("deducted", deduction.Deducted).
				Warn("Settlement shortfall from concurrent generations")
		}
		return nil
	})

	log.Info("Generation complete, settlement dispatched")
	return &Outcome{
		Model:      model,
		TokensUsed: result.TokensUsed,
		Cost:       cost,
		Truncated:  truncated,
		Response:   response,
		RecordID:   record.ID,
		Settled:    settled,
	}, nil
}

// chooseModel forces the default low-cost model for free users; paid
// users get their requested model when the catalog prices it.
func (r *Runner) chooseModel(catalog *plans.Catalog, plan plans.Plan, requested plans.Model) plans.Model {
	if plan == plans.PlanFree || requested == "" || !ModelSupported(catalog, requested) {
		return plans.DefaultModel
	}
	return requested
}
