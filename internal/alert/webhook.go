package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/raysh454/siteaudit/internal/interfaces"
	"github.com/raysh454/siteaudit/internal/logging"
	"github.com/raysh454/siteaudit/internal/model"
)

// WebhookPayload is the JSON body posted for each alert.
type WebhookPayload struct {
	Kind        Kind     `json:"kind"`
	Subject     string   `json:"subject"`
	To          string   `json:"to"`
	URL         string   `json:"url"`
	OldScore    int      `json:"old_score"`
	NewScore    int      `json:"new_score"`
	Drop        int      `json:"drop"`
	DiffPercent *float64 `json:"difference_percentage,omitempty"`
}

// Webhook POSTs alerts as JSON with retry and exponential backoff.
type Webhook struct {
	url        string
	client     interfaces.WebClient
	maxRetries int
	backoff    time.Duration
	logger     logging.Logger
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithRetries sets the maximum number of retries. Default: 3.
func WithRetries(n int) WebhookOption {
	return func(w *Webhook) { w.maxRetries = n }
}

// WithBackoff sets the first retry delay; each retry doubles it. Default: 1s.
func WithBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

func WithLogger(l logging.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

func NewWebhook(url string, client interfaces.WebClient, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     client,
		maxRetries: 3,
		backoff:    time.Second,
		logger:     logging.Nop(),
	}
	for _, o := range opts {
		o(w)
	}
	w.logger = w.logger.With(logging.F("component", "alert"), logging.F("channel", "webhook"))
	return w
}

func (w *Webhook) Notify(ctx context.Context, a interfaces.Alert) error {
	body, err := json.Marshal(WebhookPayload{
		Kind:        KindOf(a),
		Subject:     Subject(a),
		To:          a.OwnerEmail,
		URL:         a.URL,
		OldScore:    a.OldScore,
		NewScore:    a.NewScore,
		Drop:        a.OldScore - a.NewScore,
		DiffPercent: a.DiffPercent,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			delay := w.backoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		resp, err := w.client.Do(ctx, &model.Request{
			Method:  http.MethodPost,
			URL:     w.url,
			Headers: http.Header{"Content-Type": []string{"application/json"}},
			Body:    body,
		})
		if err != nil {
			lastErr = err
			w.logger.Warn("webhook request failed", logging.F("attempt", attempt+1), logging.Err(err))
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook: status %d", resp.StatusCode)
		w.logger.Warn("webhook bad status", logging.F("attempt", attempt+1), logging.F("status", resp.StatusCode))
	}
	return fmt.Errorf("webhook: all retries exhausted: %w", lastErr)
}
