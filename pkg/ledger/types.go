package ledger

import (
	"errors"
	"time"

	"github.com/kerna-app/kerna/pkg/plans"
)

var (
	// ErrUserNotFound is returned when the user record does not exist
	ErrUserNotFound = errors.New("user not found")

	// ErrGenerationNotFound is returned when a history record does not
	// exist or belongs to another user
	ErrGenerationNotFound = errors.New("generation not found")

	// ErrSubscriptionNotFound is returned when a subscription record
	// does not exist
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// UserCreditState is the credit-relevant subset of a user record
type UserCreditState struct {
	ID                string     `json:"id"`
	Plan              plans.Plan `json:"plan"`
	Credits           int64      `json:"credits"`
	IsDowngraded      bool       `json:"is_downgraded"`
	SubscriptionID    string     `json:"subscription_id,omitempty"`
	LastDailyRefillAt *time.Time `json:"last_daily_refill_at,omitempty"`
	CreditResetAt     *time.Time `json:"credit_reset_at,omitempty"`
	PlanExpiresAt     *time.Time `json:"plan_expires_at,omitempty"`
}

// DeductStatus reports how a deduction resolved
type DeductStatus string

const (
	// DeductOK means the full requested amount was deducted
	DeductOK DeductStatus = "ok"
	// DeductShortfall means the balance was lower than the requested
	// amount; only the available balance was deducted and the balance
	// is now zero
	DeductShortfall DeductStatus = "shortfall"
)

// DeductResult reports the outcome of a deduction
type DeductResult struct {
	Status    DeductStatus `json:"status"`
	Requested int64        `json:"requested"`
	Deducted  int64        `json:"deducted"`
	Balance   int64        `json:"balance"`
}

// SubscriptionStatus represents the status of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
)

// Subscription mirrors the billing provider's subscription record.
// Rows are created on activation and updated thereafter, never deleted.
type Subscription struct {
	ID               string             `json:"id"`
	Plan             plans.Plan         `json:"plan"`
	Status           SubscriptionStatus `json:"status"`
	CurrentPeriodEnd time.Time          `json:"current_period_end"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// SubscriptionChange is a subscription upsert applied atomically with a
// plan transition
type SubscriptionChange struct {
	ID               string
	Plan             plans.Plan
	Status           SubscriptionStatus
	CurrentPeriodEnd time.Time
}

// PlanTransition is an atomic plan change: balance, plan, and schedule
// fields all change together. Exactly one of PlanExpiresAt/CreditResetAt
// is set for paid plans; both are nil for free.
type PlanTransition struct {
	Plan          plans.Plan
	Credits       *int64 // nil leaves the balance untouched (cancellation)
	PlanExpiresAt *time.Time
	CreditResetAt *time.Time
	IsDowngraded  bool
	Subscription  *SubscriptionChange // optional, applied in the same tx
	ClearSubLink  bool                // detach users.subscription_id
}

// GenerationRecord is one completed generation's history entry.
// Created exactly once, after the cost is known; never mutated.
type GenerationRecord struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Title       string      `json:"title"`
	Model       plans.Model `json:"model_used"`
	CreditsCost int64       `json:"credits_cost"`
	AIResponse  string      `json:"ai_response"`
	CreatedAt   time.Time   `json:"created_at"`
}

// GenerationSummary is the listing shape for history views; the response
// body is included but the cost/model metadata is elided.
type GenerationSummary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	AIResponse string    `json:"ai_response"`
	CreatedAt  time.Time `json:"created_at"`
}

// FeedbackRecord is a user-submitted feedback entry
type FeedbackRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
