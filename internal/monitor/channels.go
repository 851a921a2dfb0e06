package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// ConsoleChannel logs alerts with the standard logger.
type ConsoleChannel struct{}

func (ConsoleChannel) SendAlert(_ context.Context, alert Alert) error {
	log.Printf("ALERT [%s] %s: %s (transport=%s, success_rate=%.1f%%, healthy=%v)",
		alert.Level, alert.Rule, alert.Description,
		alert.Transport, alert.Metrics.SuccessRatePercent, alert.Metrics.Healthy)
	return nil
}

// WebhookChannel POSTs alerts as JSON to an external endpoint.
type WebhookChannel struct {
	URL        string
	Headers    map[string]string
	httpClient *http.Client
}

func NewWebhookChannel(url string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		URL:     url,
		Headers: headers,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *WebhookChannel) SendAlert(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for name, value := range c.Headers {
		req.Header.Set(name, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
