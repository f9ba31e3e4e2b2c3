package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kerna-app/kerna/pkg/ledger"
)

// RetryConfig configures delivery retry behavior
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      500 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

// WebhookNotifier posts feedback as JSON to an internal webhook, e.g. a
// chat channel integration. Failed deliveries are retried with
// exponential backoff inside the caller's context.
type WebhookNotifier struct {
	url    string
	client *http.Client
	retry  RetryConfig
	logger *logrus.Logger
}

// NewWebhookNotifier creates a webhook-backed notifier
func NewWebhookNotifier(url string, retry RetryConfig, logger *logrus.Logger) *WebhookNotifier {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 3
	}
	if retry.InitialDelay <= 0 {
		retry.InitialDelay = 500 * time.Millisecond
	}
	if retry.BackoffMultiplier <= 1.0 {
		retry.BackoffMultiplier = 2.0
	}

	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  retry,
		logger: logger,
	}
}

type feedbackPayload struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NotifyFeedback delivers the feedback, retrying transient failures
func (n *WebhookNotifier) NotifyFeedback(ctx context.Context, feedback ledger.FeedbackRecord) error {
	body, err := json.Marshal(feedbackPayload{
		ID:        feedback.ID,
		UserID:    feedback.UserID,
		Type:      feedback.Type,
		Message:   feedback.Message,
		Email:     feedback.Email,
		CreatedAt: feedback.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal feedback payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= n.retry.MaxAttempts; attempt++ {
		lastErr = n.deliver(ctx, body)
		if lastErr == nil {
			return nil
		}

		n.logger.WithError(lastErr).WithFields(logrus.Fields{
			"feedback_id": feedback.ID,
			"attempt":     attempt,
		}).Warn("Feedback delivery failed")

		if attempt == n.retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.nextDelay(attempt)):
		}
	}

	return fmt.Errorf("feedback delivery failed after %d attempts: %w", n.retry.MaxAttempts, lastErr)
}

func (n *WebhookNotifier) deliver(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *WebhookNotifier) nextDelay(attempt int) time.Duration {
	delay := float64(n.retry.InitialDelay) * math.Pow(n.retry.BackoffMultiplier, float64(attempt-1))
	return time.Duration(delay)
}
