package billing

import (
	"encoding/json"
	"fmt"

	"github.com/kerna-app/kerna/pkg/plans"
)

// ParseEvent decodes a provider webhook payload into a normalized Event.
// The caller is responsible for having authenticated the request; this
// layer trusts the payload.
func ParseEvent(payload []byte) (*Event, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}
	if envelope.Data.UserID == "" {
		return nil, ErrMissingUserID
	}
	return &Event{
		Type:            EventType(envelope.Type),
		UserID:          envelope.Data.UserID,
		Plan:            plans.Plan(envelope.Data.Plan),
		SubscriptionID:  envelope.Data.SubscriptionID,
		NextBillingDate: envelope.Data.NextBillingDate,
	}, nil
}
