package ledger

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kerna-app/kerna/pkg/observability"
)

// DefaultSweepLimit bounds how many due users one sweep cycle processes
const DefaultSweepLimit = 10000

// Sweeper reconciles users with pending refills, resets or expiries so
// plan state converges even for users who never come back. Reconcile is
// idempotent, so overlap with request-path reconciliation is harmless.
type Sweeper struct {
	svc     Service
	logger  *logrus.Logger
	metrics *observability.Metrics
	limit   int
}

// NewSweeper creates a sweeper. metrics may be nil.
func NewSweeper(svc Service, logger *logrus.Logger, metrics *observability.Metrics) *Sweeper {
	return &Sweeper{
		svc:     svc,
		logger:  logger,
		metrics: metrics,
		limit:   DefaultSweepLimit,
	}
}

// Sweep runs one maintenance cycle and returns how many users were
// reconciled. A user that fails to reconcile is logged and skipped; one
// bad row must not stall the rest of the batch.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	start := time.Now()

	userIDs, err := s.svc.ListDueUsers(ctx, s.limit)
	if err != nil {
		return 0, err
	}

	reconciled := 0
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.svc.Reconcile(ctx, userID); err != nil {
			s.logger.WithError(err).WithField("user_id", userID).Warn("Sweep reconcile failed")
			continue
		}
		reconciled++
	}

	if s.metrics != nil {
		s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
		s.metrics.SweepUsersSeen.Add(float64(len(userIDs)))
	}

	s.logger.WithFields(logrus.Fields{
		"due":        len(userIDs),
		"reconciled": reconciled,
		"elapsed":    time.Since(start).String(),
	}).Info("Ledger sweep complete")

	return reconciled, ctx.Err()
}
