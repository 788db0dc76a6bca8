// Package completion talks to the external completion service.
package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultReply is returned when the service answers without a message field.
const DefaultReply = "No response received!"

// maxResponseSize caps how much of a response body is read (1MB).
const maxResponseSize = 1 << 20

// Completer maps a combined context to a reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Ensure Client implements Completer.
var _ Completer = (*Client)(nil)

// Client issues completion requests as GET <base><escaped prompt>.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Config holds configuration for the completion client.
type Config struct {
	BaseURL string
	Timeout time.Duration // 0 disables the client-side timeout
}

// NewClient creates a completion client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("completion base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse completion base URL: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

// Complete sends prompt and returns the service's message.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	target := c.baseURL + url.QueryEscape(prompt)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", &TransportError{URL: c.baseURL, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("completion request failed", "error", err)
		return "", &TransportError{URL: c.baseURL, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close completion response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("completion service returned error status", "status", resp.StatusCode)
		return "", &TransportError{URL: c.baseURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", &TransportError{URL: c.baseURL, Err: err}
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", &MalformedResponseError{Body: body, Err: err}
	}

	c.logger.Debug("completion received",
		"duration", time.Since(start),
		"prompt_length", len(prompt),
		"body_length", len(body),
	)

	message, ok := decoded["message"].(string)
	if !ok {
		return DefaultReply, nil
	}
	return message, nil
}
