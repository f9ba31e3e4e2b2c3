// Package notify fans user feedback out to the team. Delivery is
// fire-and-forget from the request path; failures are logged, never
// surfaced to the submitting user.
package notify

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/kerna-app/kerna/pkg/ledger"
)

// Notifier delivers a feedback submission to an external channel
type Notifier interface {
	NotifyFeedback(ctx context.Context, feedback ledger.FeedbackRecord) error
}

// LogNotifier writes feedback to the application log. It is the default
// when no webhook URL is configured.
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// NotifyFeedback logs the feedback submission
func (n *LogNotifier) NotifyFeedback(_ context.Context, feedback ledger.FeedbackRecord) error {
	n.logger.WithFields(logrus.Fields{
		"feedback_id": feedback.ID,
		"user_id":     feedback.UserID,
		"type":        feedback.Type,
	}).Info("Feedback received")
	return nil
}
