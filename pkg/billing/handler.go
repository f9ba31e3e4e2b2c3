// Package billing maps payment provider webhook events onto credit ledger
// plan transitions. Verification and payload decoding live in webhook.go;
// Handler owns the event-to-transition mapping. Idempotency comes from the
// ledger: re-applying an event installs the same plan, balance and
// schedule, so provider retries are harmless.
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kerna-app/kerna/pkg/ledger"
	"github.com/kerna-app/kerna/pkg/plans"
)

// Handler applies webhook events to the credit ledger
type Handler struct {
	ledger   ledger.Service
	catalogs *plans.Provider
	logger   *logrus.Logger
	now      func() time.Time
}

// NewHandler creates a webhook event handler
func NewHandler(svc ledger.Service, catalogs *plans.Provider, logger *logrus.Logger) *Handler {
	return &Handler{
		ledger:   svc,
		catalogs: catalogs,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleEvent applies one event. Unknown event types are acknowledged and
// ignored so the provider stops retrying them.
func (h *Handler) HandleEvent(ctx context.Context, event *Event) error {
	log := h.logger.WithFields(logrus.Fields{
		"event_type": event.Type,
		"user_id":    event.UserID,
	})

	var err error
	switch event.Type {
	case EventPaymentSucceeded:
		err = h.handlePaymentSucceeded(ctx, event)
	case EventSubscriptionActive:
		err = h.handleSubscriptionActive(ctx, event)
	case EventSubscriptionRenewed:
		err = h.handleSubscriptionRenewed(ctx, event)
	case EventSubscriptionCancelled:
		err = h.handleSubscriptionCancelled(ctx, event)
	default:
		log.Warn("Ignoring unknown webhook event type")
		return nil
	}

	if err != nil {
		log.WithError(err).Error("Failed to apply webhook event")
		return err
	}
	log.Info("Applied webhook event")
	return nil
}

// handlePaymentSucceeded grants the time-boxed cram week pass: full
// allotment now, hard expiry after the pass duration, no recurring reset.
func (h *Handler) handlePaymentSucceeded(ctx context.Context, event *Event) error {
	entry := h.catalogs.Catalog().Lookup(plans.PlanCramWeek)
	credits := entry.Credits
	expires := h.now().AddDate(0, 0, entry.DurationDays)

	return h.ledger.ApplyPlanTransition(ctx, event.UserID, ledger.PlanTransition{
		Plan:          plans.PlanCramWeek,
		Credits:       &credits,
		PlanExpiresAt: &expires,
	})
}

// handleSubscriptionActive starts a recurring plan. The credit reset
// tracks the provider's next billing date; the annual tier is the
// exception, refilling monthly despite its yearly billing interval.
func (h *Handler) handleSubscriptionActive(ctx context.Context, event *Event) error {
	if event.Plan != plans.PlanMonthly && event.Plan != plans.PlanAnnual {
		return fmt.Errorf("unexpected plan %q for subscription activation", event.Plan)
	}
	if event.SubscriptionID == "" {
		return fmt.Errorf("subscription activation missing subscription id")
	}

	now := h.now()
	credits := h.catalogs.Catalog().Lookup(event.Plan).Credits
	reset := h.creditResetAt(event, now, true)

	return h.ledger.ApplyPlanTransition(ctx, event.UserID, ledger.PlanTransition{
		Plan:          event.Plan,
		Credits:       &credits,
		CreditResetAt: &reset,
		Subscription: &ledger.SubscriptionChange{
			ID:               event.SubscriptionID,
			Plan:             event.Plan,
			Status:           ledger.SubscriptionStatusActive,
			CurrentPeriodEnd: h.periodEnd(event, now),
		},
	})
}

// handleSubscriptionRenewed refreshes the allotment and advances both the
// reset schedule and the recorded billing period.
func (h *Handler) handleSubscriptionRenewed(ctx context.Context, event *Event) error {
	plan := event.Plan
	if plan != plans.PlanMonthly && plan != plans.PlanAnnual {
		return fmt.Errorf("unexpected plan %q for subscription renewal", plan)
	}

	now := h.now()
	credits := h.catalogs.Catalog().Lookup(plan).Credits
	reset := h.creditResetAt(event, now, false)

	transition := ledger.PlanTransition{
		Plan:          plan,
		Credits:       &credits,
		CreditResetAt: &reset,
	}
	if event.SubscriptionID != "" {
		transition.Subscription = &ledger.SubscriptionChange{
			ID:               event.SubscriptionID,
			Plan:             plan,
			Status:           ledger.SubscriptionStatusActive,
			CurrentPeriodEnd: h.periodEnd(event, now),
		}
	}
	return h.ledger.ApplyPlanTransition(ctx, event.UserID, transition)
}

// handleSubscriptionCancelled drops the user to free with the downgrade
// flag set. The balance is deliberately untouched: remaining paid credits
// stay spendable until they drain to the free cap.
func (h *Handler) handleSubscriptionCancelled(ctx context.Context, event *Event) error {
	transition := ledger.PlanTransition{
		Plan:         plans.PlanFree,
		IsDowngraded: true,
		ClearSubLink: true,
	}
	if event.SubscriptionID != "" {
		sub, err := h.ledger.GetSubscription(ctx, event.SubscriptionID)
		if err == nil {
			transition.Subscription = &ledger.SubscriptionChange{
				ID:               sub.ID,
				Plan:             sub.Plan,
				Status:           ledger.SubscriptionStatusCancelled,
				CurrentPeriodEnd: sub.CurrentPeriodEnd,
			}
		} else if err != ledger.ErrSubscriptionNotFound {
			return err
		}
	}
	return h.ledger.ApplyPlanTransition(ctx, event.UserID, transition)
}

// creditResetAt tracks the provider's next billing date, with one
// exception: an annual activation refills monthly despite its yearly
// billing interval, so the first reset is a month from activation. A
// missing billing date falls back to one month out.
func (h *Handler) creditResetAt(event *Event, now time.Time, activation bool) time.Time {
	if activation && event.Plan == plans.PlanAnnual {
		return now.AddDate(0, 1, 0)
	}
	if event.NextBillingDate != nil && !event.NextBillingDate.IsZero() {
		return *event.NextBillingDate
	}
	return now.AddDate(0, 1, 0)
}

// periodEnd prefers the provider's next billing date; a missing one falls
// back to the plan's billing interval from now.
func (h *Handler) periodEnd(event *Event, now time.Time) time.Time {
	if event.NextBillingDate != nil && !event.NextBillingDate.IsZero() {
		return *event.NextBillingDate
	}
	if event.Plan == plans.PlanAnnual {
		return now.AddDate(1, 0, 0)
	}
	return now.AddDate(0, 1, 0)
}
