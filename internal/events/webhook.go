package events

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rodrigorsdev/r2.blockchain.crud/internal/domain"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	maxErrorBodySize      = 4096
)

// ErrWebhookRejected indicates the receiver answered with a non-2xx status.
var ErrWebhookRejected = errors.New("events: webhook rejected delivery")

// WebhookSink POSTs each event as JSON to a fixed URL.
type WebhookSink struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookSink validates the target and builds a sink.
func NewWebhookSink(url, secret string, client *http.Client) (*WebhookSink, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return nil, errors.New("webhook url required")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultWebhookTimeout
	}
	return &WebhookSink{url: trimmed, secret: strings.TrimSpace(secret), client: client}, nil
}

// Publish implements Sink.
func (s *WebhookSink) Publish(ctx context.Context, event domain.Event) error {
	body, err := Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Registry-Event", event.Type)
	req.Header.Set("X-Registry-Event-ID", event.ID)
	if s.secret != "" {
		req.Header.Set("Authorization", "Bearer "+s.secret)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		summary := strings.TrimSpace(string(buf))
		if summary == "" {
			summary = resp.Status
		}
		return fmt.Errorf("%w: %s", ErrWebhookRejected, summary)
	}
	return nil
}
