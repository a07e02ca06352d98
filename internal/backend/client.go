// Package backend is the REST client for the application server's push
// endpoints: it fetches the VAPID public key and registers, removes, and
// lists subscriptions on behalf of the subscription manager.
package backend

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

const maxResponseSize = 1 << 20

// Client talks to the application server.
type Client struct {
	baseURL   string
	csrfToken string
	client    *http.Client
	logger    *slog.Logger
}

// New creates a backend client. baseURL has no trailing slash; csrfToken
// may be empty when the server does not enforce CSRF on these endpoints.
func New(baseURL, csrfToken string, client *http.Client, logger *slog.Logger) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:   baseURL,
		csrfToken: csrfToken,
		client:    client,
		logger:    logger,
	}
}

// VAPIDPublicKey fetches the application server key subscriptions must be
// created with.
func (c *Client) VAPIDPublicKey(ctx context.Context) (string, error) {
	var resp struct {
		VAPIDPublicKey string `json:"vapidPublicKey"`
	}
	if err := c.do(ctx, http.MethodGet, "/push/vapid_public_key/", nil, &resp); err != nil {
		return "", fmt.Errorf("fetch vapid public key: %w", err)
	}
	if resp.VAPIDPublicKey == "" {
		return "", fmt.Errorf("fetch vapid public key: empty key in response")
	}
	return resp.VAPIDPublicKey, nil
}

// Subscribe registers a subscription with the server.
func (c *Client) Subscribe(ctx context.Context, sub *push.Subscription) error {
	body := subscriptionBody{Subscription: sub}
	if err := c.do(ctx, http.MethodPost, "/push/subscribe/", &body, nil); err != nil {
		return fmt.Errorf("register subscription: %w", err)
	}
	c.logger.Info("Subscription registered with backend", "endpoint", sub.Endpoint)
	return nil
}

// Unsubscribe removes a subscription from the server.
func (c *Client) Unsubscribe(ctx context.Context, sub *push.Subscription) error {
	body := subscriptionBody{Subscription: sub}
	if err := c.do(ctx, http.MethodPost, "/push/unsubscribe/", &body, nil); err != nil {
		return fmt.Errorf("remove subscription: %w", err)
	}
	c.logger.Info("Subscription removed from backend", "endpoint", sub.Endpoint)
	return nil
}

// Subscriptions lists the subscriptions the server currently holds for
// this user.
func (c *Client) Subscriptions(ctx context.Context) ([]push.Subscription, error) {
	var resp struct {
		Subscriptions []push.Subscription `json:"subscriptions"`
	}
	if err := c.do(ctx, http.MethodGet, "/push/subscriptions/", nil, &resp); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return resp.Subscriptions, nil
}

type subscriptionBody struct {
	Subscription *push.Subscription `json:"subscription"`
}

// do runs one request with retries. Client errors are not retried: a 4xx
// means the request itself is wrong and repeating it cannot help.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	return retry.Do(func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.csrfToken != "" && method != http.MethodGet {
			req.Header.Set("X-CSRFToken", c.csrfToken)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				c.logger.Debug("Failed to close response body", "error", err)
			}
		}()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return retry.Unrecoverable(err)
			}
			return err
		}

		if out == nil {
			return nil
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if err := json.Unmarshal(data, out); err != nil {
			return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
		}
		return nil
	},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.MaxJitter(250*time.Millisecond),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("Backend request failed, retrying",
				"method", method,
				"path", path,
				"attempt", n+1,
				"error", err)
		}),
	)
}
