package billing

import (
	"errors"
	"time"

	"github.com/kerna-app/kerna/pkg/plans"
)

// ErrMissingUserID is returned when an event carries no user reference
var ErrMissingUserID = errors.New("webhook event missing user id")

// EventType identifies a payment provider webhook event
type EventType string

const (
	// EventPaymentSucceeded is a completed one-time purchase, used for
	// the time-boxed cram week pass
	EventPaymentSucceeded EventType = "payment.succeeded"
	// EventSubscriptionActive is a newly started recurring subscription
	EventSubscriptionActive EventType = "subscription.active"
	// EventSubscriptionRenewed is a successful recurring charge
	EventSubscriptionRenewed EventType = "subscription.renewed"
	// EventSubscriptionCancelled ends a recurring subscription
	EventSubscriptionCancelled EventType = "subscription.cancelled"
)

// Event is the normalized form of a provider webhook notification
type Event struct {
	Type            EventType  `json:"type"`
	UserID          string     `json:"user_id"`
	Plan            plans.Plan `json:"plan"`
	SubscriptionID  string     `json:"subscription_id,omitempty"`
	NextBillingDate *time.Time `json:"next_billing_date,omitempty"`
}

// webhookEnvelope is the provider's wire shape
type webhookEnvelope struct {
	Type string `json:"type"`
	Data struct {
		UserID          string     `json:"user_id"`
		Plan            string     `json:"plan"`
		SubscriptionID  string     `json:"subscription_id"`
		NextBillingDate *time.Time `json:"next_billing_date"`
	} `json:"data"`
}
