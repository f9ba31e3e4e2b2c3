package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kerna-app/kerna/pkg/observability"
	"github.com/kerna-app/kerna/pkg/plans"
)

// Service defines the transactional interface over user credit state
type Service interface {
	// Reconcile applies due refills/expiries and returns fresh state.
	// Must be called before any credit-consuming operation.
	Reconcile(ctx context.Context, userID string) (*UserCreditState, error)

	// Deduct atomically decrements the balance, clamping at zero, and
	// inserts the history record (if non-nil) in the same transaction.
	Deduct(ctx context.Context, userID string, amount int64, record *GenerationRecord) (*DeductResult, error)

	// ApplyPlanTransition installs a new plan, balance and schedule
	// atomically, superseding any downgrade state.
	ApplyPlanTransition(ctx context.Context, userID string, transition PlanTransition) error

	// Reads
	GetUser(ctx context.Context, userID string) (*UserCreditState, error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	ListGenerations(ctx context.Context, userID string, limit int) ([]*GenerationSummary, error)
	DeleteGeneration(ctx context.Context, userID, id string) error

	// Feedback
	InsertFeedback(ctx context.Context, record *FeedbackRecord) error

	// ListDueUsers returns users with a pending refill, reset, expiry
	// or clearable downgrade flag, for the maintenance sweep.
	ListDueUsers(ctx context.Context, limit int) ([]string, error)
}

// PostgresLedger implements Service using PostgreSQL. Per-user
// serialization relies on SELECT ... FOR UPDATE row locks; the ledger
// holds no in-process locks.
type PostgresLedger struct {
	db       *sql.DB
	catalogs *plans.Provider
	logger   *logrus.Logger
	metrics  *observability.Metrics

	// loc fixes the reference timezone for "same calendar day"
	// comparisons; now is swappable in tests
	loc *time.Location
	now func() time.Time
}

// NewPostgresLedger creates a ledger over the given database
func NewPostgresLedger(db *sql.DB, catalogs *plans.Provider, logger *logrus.Logger) *PostgresLedger {
	return &PostgresLedger{
		db:       db,
		catalogs: catalogs,
		logger:   logger,
		loc:      time.Local,
		now:      time.Now,
	}
}

// WithMetrics attaches counters for refills and shortfalls
func (l *PostgresLedger) WithMetrics(m *observability.Metrics) *PostgresLedger {
	l.metrics = m
	return l
}

const userStateColumns = `id, plan, credits, is_downgraded, COALESCE(subscription_id, ''), last_daily_refill_at, credit_reset_at, plan_expires_at`

func scanUserState(row *sql.Row) (*UserCreditState, error) {
	state := &UserCreditState{}
	err := row.Scan(
		&state.ID, &state.Plan, &state.Credits, &state.IsDowngraded,
		&state.SubscriptionID, &state.LastDailyRefillAt, &state.CreditResetAt, &state.PlanExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user state: %w", err)
	}
	return state, nil
}

// sameCalendarDay reports whether a and b fall on the same calendar date
// in the ledger's reference timezone
func sameCalendarDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// Reconcile applies the four transition checks in a fixed order inside one
// transaction: daily refill, monthly refill, cram-week expiry, downgrade
// clearing. Each step sees the effects of the prior one.
func (l *PostgresLedger) Reconcile(ctx context.Context, userID string) (*UserCreditState, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin reconcile transaction: %w", err)
	}
	defer tx.Rollback()

	state, err := scanUserState(tx.QueryRowContext(ctx,
		`SELECT `+userStateColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, err
	}

	now := l.now()
	catalog := l.catalogs.Catalog()
	freeAllotment := catalog.Lookup(plans.PlanFree).Credits
	changed := false

	// Step 1: free-tier daily refill. Hard reset, never additive;
	// suppressed while the downgrade flag preserves leftover paid
	// credits.
	if state.Plan == plans.PlanFree && !state.IsDowngraded {
		if state.LastDailyRefillAt == nil || !sameCalendarDay(*state.LastDailyRefillAt, now, l.loc) {
			if _, err := tx.ExecContext(ctx,
				`UPDATE users SET credits = $1, last_daily_refill_at = $2, updated_at = NOW() WHERE id = $3`,
				freeAllotment, now, userID); err != nil {
				return nil, fmt.Errorf("failed to apply daily refill: %w", err)
			}
			state.Credits = freeAllotment
			state.LastDailyRefillAt = &now
			changed = true
			if l.metrics != nil {
				l.metrics.RefillsTotal.WithLabelValues("daily").Inc()
			}
			l.logger.WithField("user_id", userID).Debug("Applied daily credit refill")
		}
	}

	// Step 2: recurring monthly refill. The next reset is anchored to
	// the previous reset time, not to now, so the schedule never
	// drifts; missed periods collapse into one reset.
	if (state.Plan == plans.PlanMonthly || state.Plan == plans.PlanAnnual) &&
		state.CreditResetAt != nil && !state.CreditResetAt.After(now) {
		allotment := catalog.Lookup(state.Plan).Credits
		next := *state.CreditResetAt
		for !next.After(now) {
			next = next.AddDate(0, 1, 0)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET credits = $1, credit_reset_at = $2, last_daily_refill_at = $3, updated_at = NOW() WHERE id = $4`,
			allotment, next, now, userID); err != nil {
			return nil, fmt.Errorf("failed to apply monthly refill: %w", err)
		}
		state.Credits = allotment
		state.CreditResetAt = &next
		state.LastDailyRefillAt = &now
		changed = true
		if l.metrics != nil {
			l.metrics.RefillsTotal.WithLabelValues("monthly").Inc()
		}
		l.logger.WithFields(logrus.Fields{
			"user_id":    userID,
			"plan":       state.Plan,
			"next_reset": next,
		}).Info("Applied monthly credit refill")
	}

	// Step 3: cram-week expiry. The user keeps any leftover credits
	// until they drain below the free cap.
	if state.Plan == plans.PlanCramWeek &&
		state.PlanExpiresAt != nil && state.PlanExpiresAt.Before(now) {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET plan = $1, plan_expires_at = NULL, credit_reset_at = NULL, is_downgraded = TRUE, updated_at = NOW() WHERE id = $2`,
			plans.PlanFree, userID); err != nil {
			return nil, fmt.Errorf("failed to expire cram week: %w", err)
		}
		state.Plan = plans.PlanFree
		state.PlanExpiresAt = nil
		state.CreditResetAt = nil
		state.IsDowngraded = true
		changed = true
		l.logger.WithField("user_id", userID).Info("Cram week expired, downgraded to free")
	}

	// Step 4: clear the downgrade flag once leftovers drain to the
	// free cap; normal daily refills resume on the next cycle.
	if state.IsDowngraded && state.Credits <= freeAllotment {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET is_downgraded = FALSE, updated_at = NOW() WHERE id = $1`,
			userID); err != nil {
			return nil, fmt.Errorf("failed to clear downgrade flag: %w", err)
		}
		state.IsDowngraded = false
		changed = true
	}

	// Re-read after any mutation so the caller observes committed
	// post-transition truth rather than our in-memory mirror.
	if changed {
		state, err = scanUserState(tx.QueryRowContext(ctx,
			`SELECT `+userStateColumns+` FROM users WHERE id = $1`, userID))
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reconcile: %w", err)
	}
	return state, nil
}

// Deduct re-reads the balance under a row lock and decrements it. A
// balance below the requested amount is clamped to zero and reported as a
// shortfall instead of failing: the content was already delivered, and the
// balance must never go negative. The history record insert shares the
// transaction.
func (l *PostgresLedger) Deduct(ctx context.Context, userID string, amount int64, record *GenerationRecord) (*DeductResult, error) {
	if amount < 0 {
		return nil, fmt.Errorf("deduct amount must be non-negative, got %d", amount)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin deduct transaction: %w", err)
	}
	defer tx.Rollback()

	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT credits FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}

	result := &DeductResult{Status: DeductOK, Requested: amount, Deducted: amount}
	if balance < amount {
		result.Status = DeductShortfall
		result.Deducted = balance
	}
	result.Balance = balance - result.Deducted

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET credits = $1, updated_at = NOW() WHERE id = $2`,
		result.Balance, userID); err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	if record != nil {
		if record.ID == "" {
			record.ID = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO generations (id, user_id, title, model_used, credits_cost, ai_response) VALUES ($1, $2, $3, $4, $5, $6)`,
			record.ID, userID, record.Title, record.Model, result.Deducted, record.AIResponse); err != nil {
			return nil, fmt.Errorf("failed to insert generation record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit deduct: %w", err)
	}

	if result.Status == DeductShortfall {
		// Expected rarely, when two concurrent generations both pass
		// the pre-check. Needs operational visibility for billing
		// drift review.
		if l.metrics != nil {
			l.metrics.DeductShortfallsTotal.Inc()
		}
		l.logger.WithFields(logrus.Fields{
			"user_id":   userID,
			"requested": result.Requested,
			"deducted":  result.Deducted,
		}).Warn("Credit deduction shortfall, balance clamped to zero")
	}
	return result, nil
}

// ApplyPlanTransition sets plan, balance and schedule together. A fresh
// paid or time-boxed period always supersedes downgrade state; the
// subscription upsert, if present, shares the transaction.
func (l *PostgresLedger) ApplyPlanTransition(ctx context.Context, userID string, transition PlanTransition) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transition transaction: %w", err)
	}
	defer tx.Rollback()

	if sub := transition.Subscription; sub != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO subscriptions (id, plan, status, current_period_end)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE
			SET plan = EXCLUDED.plan, status = EXCLUDED.status,
			    current_period_end = EXCLUDED.current_period_end,
			    updated_at = NOW()
		`, sub.ID, sub.Plan, sub.Status, sub.CurrentPeriodEnd); err != nil {
			return fmt.Errorf("failed to upsert subscription: %w", err)
		}
	}

	query := `UPDATE users SET plan = $1, plan_expires_at = $2, credit_reset_at = $3, is_downgraded = $4, updated_at = NOW()`
	args := []interface{}{transition.Plan, transition.PlanExpiresAt, transition.CreditResetAt, transition.IsDowngraded}

	if transition.Credits != nil {
		query += fmt.Sprintf(", credits = $%d", len(args)+1)
		args = append(args, *transition.Credits)
	}
	if transition.ClearSubLink {
		query += ", subscription_id = NULL"
	} else if transition.Subscription != nil {
		query += fmt.Sprintf(", subscription_id = $%d", len(args)+1)
		args = append(args, transition.Subscription.ID)
	}
	query += fmt.Sprintf(" WHERE id = $%d", len(args)+1)
	args = append(args, userID)

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to apply plan transition: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrUserNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit plan transition: %w", err)
	}

	l.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"plan":    transition.Plan,
	}).Info("Applied plan transition")
	return nil
}

// GetUser reads the current credit state without reconciling
func (l *PostgresLedger) GetUser(ctx context.Context, userID string) (*UserCreditState, error) {
	return scanUserState(l.db.QueryRowContext(ctx,
		`SELECT `+userStateColumns+` FROM users WHERE id = $1`, userID))
}

// GetSubscription reads a subscription record by provider ID
func (l *PostgresLedger) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	sub := &Subscription{}
	err := l.db.QueryRowContext(ctx, `
		SELECT id, plan, status, current_period_end, created_at, updated_at
		FROM subscriptions WHERE id = $1
	`, id).Scan(&sub.ID, &sub.Plan, &sub.Status, &sub.CurrentPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// ListGenerations returns the user's history, newest first
func (l *PostgresLedger) ListGenerations(ctx context.Context, userID string, limit int) ([]*GenerationSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, title, ai_response, created_at
		FROM generations
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	defer rows.Close()

	var out []*GenerationSummary
	for rows.Next() {
		g := &GenerationSummary{}
		if err := rows.Scan(&g.ID, &g.Title, &g.AIResponse, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// DeleteGeneration removes one history record owned by the user
func (l *PostgresLedger) DeleteGeneration(ctx context.Context, userID, id string) error {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM generations WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete generation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrGenerationNotFound
	}
	return nil
}

// InsertFeedback stores a feedback record
func (l *PostgresLedger) InsertFeedback(ctx context.Context, record *FeedbackRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if _, err := l.db.ExecContext(ctx,
		`INSERT INTO feedback (id, user_id, message, type, email) VALUES ($1, $2, $3, $4, $5)`,
		record.ID, record.UserID, record.Message, record.Type, record.Email); err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}
	return nil
}

// ListDueUsers finds users the maintenance sweep should reconcile: a stale
// daily refill, a due monthly reset, an expired cram week, or a downgrade
// flag that may now be clearable.
func (l *PostgresLedger) ListDueUsers(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	now := l.now()
	y, m, d := now.In(l.loc).Date()
	startOfDay := time.Date(y, m, d, 0, 0, 0, 0, l.loc)

	rows, err := l.db.QueryContext(ctx, `
		SELECT id FROM users
		WHERE (plan = 'free' AND is_downgraded = FALSE AND (last_daily_refill_at IS NULL OR last_daily_refill_at < $1))
		   OR (credit_reset_at IS NOT NULL AND credit_reset_at <= $2)
		   OR (plan_expires_at IS NOT NULL AND plan_expires_at < $2)
		   OR is_downgraded = TRUE
		ORDER BY id
		LIMIT $3
	`, startOfDay, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
