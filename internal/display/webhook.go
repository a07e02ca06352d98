package display

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"webpush-agent/pkg/push"
)

// maxErrorBodySize limits how much of an error response gets read back.
const maxErrorBodySize = 1024

// WebhookProvider forwards notifications as JSON to an HTTP endpoint,
// typically a desktop bridge or a chat-ops relay.
type WebhookProvider struct {
	url    string
	token  string // optional bearer token
	client *http.Client
	logger *slog.Logger
}

// NewWebhookProvider creates a webhook provider posting to url.
func NewWebhookProvider(url, token string, logger *slog.Logger) *WebhookProvider {
	return &WebhookProvider{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Name identifies the provider in logs.
func (*WebhookProvider) Name() string { return "webhook" }

type webhookMessage struct {
	Title              string        `json:"title"`
	Body               string        `json:"body"`
	Icon               string        `json:"icon,omitempty"`
	Badge              string        `json:"badge,omitempty"`
	Tag                string        `json:"tag,omitempty"`
	RequireInteraction bool          `json:"require_interaction,omitempty"`
	Actions            []push.Action `json:"actions,omitempty"`
}

// Send posts the notification to the webhook.
func (p *WebhookProvider) Send(ctx context.Context, title string, opts push.Options) error {
	payload, err := json.Marshal(webhookMessage{
		Title:              title,
		Body:               opts.Body,
		Icon:               opts.Icon,
		Badge:              opts.Badge,
		Tag:                opts.Tag,
		RequireInteraction: opts.RequireInteraction,
		Actions:            opts.Actions,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	err = retry.Do(
		func() error {
			req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
			if reqErr != nil {
				return fmt.Errorf("create request: %w", reqErr)
			}
			req.Header.Set("Content-Type", "application/json")
			if p.token != "" {
				req.Header.Set("Authorization", "Bearer "+p.token)
			}

			resp, doErr := p.client.Do(req)
			if doErr != nil {
				return fmt.Errorf("post webhook: %w", doErr)
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					p.logger.Warn("Failed to close webhook response body", "error", closeErr)
				}
			}()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
				err := fmt.Errorf("webhook returned HTTP %d: %s", resp.StatusCode, body)
				// Client errors will not improve on retry.
				if resp.StatusCode >= 400 && resp.StatusCode < 500 {
					return retry.Unrecoverable(err)
				}
				return err
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.MaxJitter(2*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			p.logger.Info("Retrying webhook delivery", "attempt", n, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("webhook after retries: %w", err)
	}
	return nil
}
