package generate

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kerna-app/kerna/pkg/ledger"
	"github.com/kerna-app/kerna/pkg/plans"
)

// fakeGenerator replays scripted chunks and a scripted result
type fakeGenerator struct {
	chunks []string
	result Result
	err    error

	gotRequest Request
}

func (f *fakeGenerator) Generate(_ context.Context, req Request, sink func(string) error) (*Result, error) {
	f.gotRequest = req
	if f.err != nil {
		return nil, f.err
	}
	result := f.result
	for _, c := range f.chunks {
		if err := sink(c); err != nil {
			// Delivery stops but the usage already happened
			result.FinishReason = FinishError
			break
		}
	}
	return &result, nil
}

// fakeSessionLedger provides scripted reconcile state and records deducts
type fakeSessionLedger struct {
	ledger.Service

	mu        sync.Mutex
	state     *ledger.UserCreditState
	reconcile error
	deductErr error

	deducted int64
	record   *ledger.GenerationRecord
}

func (f *fakeSessionLedger) Reconcile(_ context.Context, userID string) (*ledger.UserCreditState, error) {
	if f.reconcile != nil {
		return nil, f.reconcile
	}
	return f.state, nil
}

func (f *fakeSessionLedger) Deduct(_ context.Context, userID string, amount int64, record *ledger.GenerationRecord) (*ledger.DeductResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deductErr != nil {
		return nil, f.deductErr
	}
	f.deducted = amount
	f.record = record
	balance := f.state.Credits - amount
	status := ledger.DeductOK
	deducted := amount
	if balance < 0 {
		status = ledger.DeductShortfall
		deducted = f.state.Credits
		balance = 0
	}
	return &ledger.DeductResult{Status: status, Requested: amount, Deducted: deducted, Balance: balance}, nil
}

func newTestRunner(fl *fakeSessionLedger, fg *fakeGenerator) *Runner {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewRunner(fl, plans.NewStaticProvider(plans.DefaultCatalog()), fg, logger)
}

func waitSettled(t *testing.T, settled <-chan error) error {
	t.Helper()
	select {
	case err := <-settled:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("settlement did not complete")
		return nil
	}
}

func TestRun(t *testing.T) {
	t.Run("happy path streams, settles and records history", func(t *testing.T) {
		fl := &fakeSessionLedger{state: &ledger.UserCreditState{
			ID: "user-1", Plan: plans.PlanMonthly, Credits: 3000,
		}}
		fg := &fakeGenerator{
			chunks: []string{"## Summary\n", "* key point\n"},
			result: Result{TokensUsed: 1200, FinishReason: FinishStop},
		}
		r := newTestRunner(fl, fg)

		var streamed strings.Builder
		outcome, err := r.Run(context.Background(), Input{
			UserID:     "user-1",
			Title:      "Thermodynamics",
			SourceText: "entropy always increases",
			Model:      plans.ModelGPT4o,
		}, func(chunk string) error {
			streamed.WriteString(chunk)
			return nil
		})
		require.NoError(t, err)
		require.NoError(t, waitSettled(t, outcome.Settled))

		assert.Equal(t, "## Summary\n* key point\n", streamed.String())
		assert.Equal(t, plans.ModelGPT4o, outcome.Model)
		assert.False(t, outcome.Truncated)
		// 1200 tokens at 40 credits per 1k, rounded up
		assert.Equal(t, int64(48), outcome.Cost)
		assert.Equal(t, int64(48), fl.deducted)
		require.NotNil(t, fl.record)
		assert.Equal(t, "Thermodynamics", fl.record.Title)
		assert.Equal(t, outcome.RecordID, fl.record.ID)
		assert.Contains(t, fg.gotRequest.Prompt, "entropy always increases")
	})

	t.Run("free plan forces the default model", func(t *testing.T) {
		fl := &fakeSessionLedger{state: &ledger.UserCreditState{
			ID: "user-1", Plan: plans.PlanFree, Credits: 5,
		}}
		fg := &fakeGenerator{
			chunks: []string{"text"},
			result: Result{TokensUsed: 100, FinishReason: FinishStop},
		}
		r := newTestRunner(fl, fg)

		outcome, err := r.Run(context.Background(), Input{
			UserID:     "user-1",
			SourceText: "some notes",
			Model:      plans.ModelClaudeSonnet,
		}, func(string) error { return nil })
		require.NoError(t, err)
		require.NoError(t, waitSettled(t, outcome.Settled))

		assert.Equal(t, plans.DefaultModel, outcome.Model)
		assert.Equal(t, plans.DefaultModel, fg.gotRequest.Model)
	})

	t.Run("token cap derives from the reconciled balance", func(t *testing.T) {
		fl := &fakeSessionLedger{state: &ledger.UserCreditState{
			ID: "user-1", Plan: plans.PlanMonthly, Credits: 100,
		}}
		fg := &fakeGenerator{
			chunks: []string{"text"},
			result: Result{TokensUsed: 100, FinishReason: FinishStop},
		}
		r := newTestRunner(fl, fg)

		outcome, err := r.Run(context.Background(), Input{
			UserID:     "user-1",
			SourceText: "some notes",
			Model:      plans.ModelGPT4o,
		}, func(string) error { return nil })
		require.NoError(t, err)
		require.NoError(t, waitSettled(t, outcome.Settled))

		// 100 credits at multiplier 40 affords 2500 tokens, minus margin
		assert.Equal(t, int64(2450), fg.gotRequest.MaxTokens)
	})

	t.Run("premium model below the credit buffer rejected", func(t *testing.T) {
		fl := &fakeSessionLedger{state: &ledger.UserCreditState{
			ID: "user-1", Plan: plans.PlanMonthly, Credits: 5,
		}}
		fg := &fakeGenerator{}
		r := newTestRunner(fl, fg)

		_, err := r.Run(context.Background(), Input{
			UserID:     "user-1",
			SourceText: "some notes",
			Model:      plans.ModelGPT4o,
		}, func(string) error { return nil })
		assert.ErrorIs(t, err, ErrOutOfCredits)
		assert.Empty(t, fg.gotRequest.Prompt)
	})

	t.Run("credit buffer does not gate the default model", func(t *testing.T) {
		fl := &fakeSessionLedger{state: &ledger.UserCreditState{
			ID: "user-1", Plan: plans.PlanMonthly, Credits: 5,
		}}
		fg := &fakeGenerator{
			chunks: []string{"text"},
			result: Result{TokensUsed: 100, FinishReason: FinishStop},
		}
		r := newTestRunner(fl, fg)

		outcome, err := r.Run(context.Background(), Input{
			UserID:     "user-1",
			SourceText: "some notes",
			Model:      plans.DefaultModel,
		}, func(string) error { return nil })
		require.NoError(t, err)
		require.NoError(t, waitSettled(t, outcome.Settled))
		assert.Equal(t, plans.DefaultModel, outcome.Model)
	})

	t.Run("out of credits rejects before any generation", func(t *testing.T) {
		fl := &fakeSessionLedger{state: &ledger.UserCreditState{
			ID: "user-1", Plan: plans.PlanFree, Credits: 0,
		}}
		fg := &fakeGenerator{}
		r := newTestRunner(fl, fg)

		_, err := r.Run(context.Background(), Input{
			UserID:     "user-1",
			SourceText: "some notes",
		}, func(string) error { return nil })
		assert.ErrorIs(t, err, ErrOutOfCredits)
		assert.Empty(t, fg.gotRequest.Prompt)
	})

	t.Run("truncation appends the credit-limit marker", func(t *testing.T) {
		fl := &fakeSessionLedger{state: &ledger.UserCreditState{
			ID: "user-1", Plan: plans.PlanCramWeek, Credits: 10,
		}}
		fg := &fakeGenerator{
			chunks: []string{"partial guide"},
			result: Result{TokensUsed: 200, FinishReason: FinishLength},
		}
		r := newTestRunner(fl, fg)

		outcome, err := r.Run(context.Background(), Input{
			UserID:     "user-1",
			SourceText: "some notes",
		}, func(string) error { return nil })
		require.NoError(t, err)
		require.NoError(t, waitSettled(t, outcome.Settled))

		assert.True(t, outcome.Truncated)
		assert.True(t, strings.HasSuffix(outcome.Response, TruncationMarker))
		require.NotNil(t, fl.record)
		assert.True(t, strings.HasSuffix(fl.record.AIResponse, TruncationMarker))
	})

	t.Run("settlement survives caller cancellation", func(t *testing.T) {
		fl := &fakeSessionLedger{state: &ledger.UserCreditState{
			ID: "user-1", Plan: plans.PlanMonthly, Credits: 3000,
		}}
		fg := &fakeGenerator{
			chunks: []string{"guide"},
			result: Result{TokensUsed: 500, FinishReason: FinishStop},
		}
		r := newTestRunner(fl, fg)

		ctx, cancel := context.WithCancel(context.Background())
		outcome, err := r.Run(ctx, Input{
			UserID:     "user-1",
			SourceText: "some notes",
		}, func(string) error { return nil })
		require.NoError(t, err)

		// Disconnect immediately after delivery; the deduction must
		// still land.
		cancel()
		require.NoError(t, waitSettled(t, outcome.Settled))
		assert.Equal(t, outcome.Cost, fl.deducted)
	})

	t.Run("mid-stream delivery failure still settles", func(t *testing.T) {
		fl := &fakeSessionLedger{state: &ledger.UserCreditState{
			ID: "user-1", Plan: plans.PlanMonthly, Credits: 3000,
		}}
		fg := &fakeGenerator{
			chunks: []string{"part one", "part two"},
			result: Result{TokensUsed: 800, FinishReason: FinishStop},
		}
		r := newTestRunner(fl, fg)

		// The client goes away after the first chunk; the tokens were
		// consumed upstream regardless and must be deducted.
		calls := 0
		outcome, err := r.Run(context.Background(), Input{
			UserID:     "user-1",
			SourceText: "some notes",
		}, func(string) error {
			calls++
			if calls > 1 {
				return errors.New("write: broken pipe")
			}
			return nil
		})
		require.NoError(t, err)
		require.NoError(t, waitSettled(t, outcome.Settled))

		assert.Positive(t, outcome.Cost)
		assert.Equal(t, outcome.Cost, fl.deducted)
		require.NotNil(t, fl.record)
		assert.Equal(t, outcome.Cost, fl.record.CreditsCost)
	})

	t.Run("settlement failure is surfaced, not retried", func(t *testing.T) {
		fl := &fakeSessionLedger{
			state:     &ledger.UserCreditState{ID: "user-1", Plan: plans.PlanMonthly, Credits: 3000},
			deductErr: errors.New("connection reset"),
		}
		fg := &fakeGenerator{
			chunks: []string{"guide"},
			result: Result{TokensUsed: 500, FinishReason: FinishStop},
		}
		r := newTestRunner(fl, fg)

		outcome, err := r.Run(context.Background(), Input{
			UserID:     "user-1",
			SourceText: "some notes",
		}, func(string) error { return nil })
		require.NoError(t, err)

		err = waitSettled(t, outcome.Settled)
		assert.Error(t, err)
		// The response was still delivered in full
		assert.Equal(t, "guide", outcome.Response)
	})

	t.Run("upstream failure charges nothing", func(t *testing.T) {
		fl := &fakeSessionLedger{state: &ledger.UserCreditState{
			ID: "user-1", Plan: plans.PlanMonthly, Credits: 3000,
		}}
		fg := &fakeGenerator{err: ErrUpstreamGeneration}
		r := newTestRunner(fl, fg)

		_, err := r.Run(context.Background(), Input{
			UserID:     "user-1",
			SourceText: "some notes",
		}, func(string) error { return nil })
		assert.ErrorIs(t, err, ErrUpstreamGeneration)
		assert.Zero(t, fl.deducted)
	})

	t.Run("empty input rejected without ledger access", func(t *testing.T) {
		fl := &fakeSessionLedger{reconcile: errors.New("should not be called")}
		r := newTestRunner(fl, &fakeGenerator{})

		_, err := r.Run(context.Background(), Input{UserID: "user-1", SourceText: "   "}, func(string) error { return nil })
		assert.ErrorIs(t, err, ErrEmptyInput)
	})

	t.Run("unknown user propagates not found", func(t *testing.T) {
		fl := &fakeSessionLedger{reconcile: ledger.ErrUserNotFound}
		r := newTestRunner(fl, &fakeGenerator{})

		_, err := r.Run(context.Background(), Input{UserID: "ghost", SourceText: "notes"}, func(string) error { return nil })
		assert.ErrorIs(t, err, ledger.ErrUserNotFound)
	})
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("mitochondria are the powerhouse")
	assert.Contains(t, prompt, "mitochondria are the powerhouse")
	assert.Contains(t, prompt, "Quick Summary")
	assert.Contains(t, prompt, "Key Terms")
	assert.Contains(t, prompt, "Practice Quiz")
}
