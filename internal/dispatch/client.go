package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fieldsync/internal/config"
)

// Client talks to the field-operations backend REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a backend client from configuration.
func NewClient(cfg *config.Config) *Client {
	timeout := time.Duration(cfg.Backend.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.Backend.BaseURL, "/"),
		token:   cfg.Backend.APIToken,
		http:    &http.Client{Timeout: timeout},
	}
}

// Post sends a JSON body to the given API path. The idempotency key lets the
// backend deduplicate replays of the same mutation.
func (c *Client) Post(ctx context.Context, path, idempotencyKey string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Fieldsync-Go/0.1.0")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("backend returned %d for %s: %s", resp.StatusCode, path, strings.TrimSpace(string(detail)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
