// Package delivery hands assembled content to the chat platform. The
// engine's only contract with it: call Deliver, get a definitive
// success/failure, and mark cooldowns only on success.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/congenial-acorn/goldwatch/internal/dispatch"
)

// Sentinel errors distinguishing the engine's two failure modes.
var (
	// ErrThrottled is transient: the fact stays unmarked and the next
	// cycle retries it.
	ErrThrottled = errors.New("delivery: throttled")
	// ErrGone is permanent: the recipient's endpoint no longer exists.
	// Unsubscribing is the delivery layer's business, not the engine's.
	ErrGone = errors.New("delivery: recipient gone")
)

// WebhookSender posts content to per-recipient webhook URLs. Nil-safe: a
// nil sender confirms nothing and fails every delivery, which keeps facts
// unmarked.
type WebhookSender struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewWebhookSender creates a sender issuing at most perMinute deliveries.
func NewWebhookSender(timeout time.Duration, perMinute int, logger *slog.Logger) *WebhookSender {
	if logger == nil {
		logger = slog.Default()
	}
	if perMinute < 1 {
		perMinute = 1
	}
	return &WebhookSender{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
		logger:     logger,
	}
}

// Deliver posts the content to the recipient's webhook address.
func (s *WebhookSender) Deliver(ctx context.Context, r dispatch.Recipient, content string) error {
	if s == nil {
		return errors.New("delivery: sender not configured")
	}
	if r.Address == "" {
		return fmt.Errorf("%s %s: no delivery address: %w", r.Type, r.ID, ErrGone)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Address, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook for %s %s: %w", r.Type, r.ID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		s.logger.Debug("delivered", "recipient_type", r.Type, "recipient_id", r.ID)
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s %s: %w", r.Type, r.ID, ErrThrottled)
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%s %s: %w", r.Type, r.ID, ErrGone)
	default:
		return fmt.Errorf("%s %s: webhook returned %d", r.Type, r.ID, resp.StatusCode)
	}
}
