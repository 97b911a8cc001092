package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Webhook posts each notice to a URL as a JSON envelope. Network errors
// and 5xx answers are retried with doubling waits; any other non-2xx
// answer is final.
type Webhook struct {
	url     string
	client  *http.Client
	retries int
	backoff time.Duration
	logger  *slog.Logger
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets how many times a failed post is repeated. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.retries = n }
}

// WithWebhookBackoff sets the wait before the first retry. Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// WithWebhookLogger sets the logger for failed attempts.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

// NewWebhook creates a Webhook for url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		retries: 3,
		backoff: time.Second,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// errPermanent marks an answer that retrying will not change.
var errPermanent = errors.New("permanent")

func (w *Webhook) Notify(ctx context.Context, n Notice) error {
	body, err := json.Marshal(envelope{Type: "notice", Data: n})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	wait := w.backoff
	for attempt := 1; ; attempt++ {
		err = w.post(ctx, n.Kind, body)
		if err == nil {
			return nil
		}
		if errors.Is(err, errPermanent) || attempt > w.retries {
			return fmt.Errorf("webhook: %s after %d attempt(s): %w", n.Kind, attempt, err)
		}
		w.logger.Warn("webhook: post failed, retrying", "attempt", attempt, "wait", wait, "error", err)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		wait *= 2
	}
}

func (w *Webhook) post(ctx context.Context, kind Kind, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "pinstay")
	req.Header.Set("X-Pinstay-Kind", string(kind))

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", errPermanent, resp.StatusCode)
	}
}

func (w *Webhook) Close() error { return nil }
