package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookClient posts JSON alerts to an operator webhook, retrying transient
// failures.
type WebhookClient struct {
	httpClient *http.Client
	url        string
	maxRetries int
}

// WebhookConfig configures the webhook client.
type WebhookConfig struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
}

// NewWebhookClient creates a webhook client. An empty URL yields a client
// whose Notify is a no-op, so callers can wire it unconditionally.
func NewWebhookClient(cfg WebhookConfig) *WebhookClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}
	return &WebhookClient{
		httpClient: &http.Client{Timeout: timeout},
		url:        cfg.URL,
		maxRetries: maxRetries,
	}
}

// Notify posts a text alert.
func (c *WebhookClient) Notify(ctx context.Context, message string) error {
	if c == nil || c.url == "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create alert request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()

		if resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook returned status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			break
		}
	}
	return fmt.Errorf("alert delivery failed: %w", lastErr)
}
