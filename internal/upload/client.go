package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/logging"
)

// ErrAttemptsExhausted indicates every upload attempt failed.
var ErrAttemptsExhausted = errors.New("upload attempts exhausted")

// HTTPDoer is satisfied by *http.Client and by test doubles.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Target is the backend's answer to an upload slot request.
type Target struct {
	UploadURL string `json:"upload_url"`
	Reference string `json:"reference"`
}

// Result summarizes one evidence upload, successful or not.
type Result struct {
	Uploaded  bool
	Reference string
	Attempts  int
}

// Client performs two-phase evidence uploads: request a target slot from the
// backend, then PUT the staged file to the returned URL.
type Client struct {
	baseURL  string
	token    string
	http     HTTPDoer
	attempts int
	backoff  time.Duration
	maxWait  time.Duration
	logger   *slog.Logger
}

// NewClient builds an upload client from configuration.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}

	attempts := cfg.Upload.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := time.Duration(cfg.Upload.BackoffSeconds) * time.Second
	if backoff <= 0 {
		backoff = time.Second
	}
	maxWait := time.Duration(cfg.Upload.MaxBackoff) * time.Second
	if maxWait < backoff {
		maxWait = backoff
	}

	timeout := time.Duration(cfg.Backend.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.Backend.BaseURL, "/"),
		token:    cfg.Backend.APIToken,
		http:     &http.Client{Timeout: timeout},
		attempts: attempts,
		backoff:  backoff,
		maxWait:  maxWait,
		logger:   logging.WithComponent(logger, "upload"),
	}
}

// WithHTTPDoer swaps the transport, primarily for tests.
func (c *Client) WithHTTPDoer(doer HTTPDoer) *Client {
	c.http = doer
	return c
}

// RequestTarget asks the backend for an upload slot for the named file.
func (c *Client) RequestTarget(ctx context.Context, ownerID, filename string) (Target, error) {
	body, err := json.Marshal(map[string]string{
		"mutation_id": ownerID,
		"filename":    filename,
	})
	if err != nil {
		return Target{}, fmt.Errorf("marshal upload request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/evidence/uploads", bytes.NewReader(body))
	if err != nil {
		return Target{}, fmt.Errorf("build upload slot request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return Target{}, fmt.Errorf("request upload slot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Target{}, fmt.Errorf("upload slot request returned %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var target Target
	if err := json.NewDecoder(resp.Body).Decode(&target); err != nil {
		return Target{}, fmt.Errorf("decode upload slot response: %w", err)
	}
	if target.UploadURL == "" || target.Reference == "" {
		return Target{}, errors.New("upload slot response missing url or reference")
	}
	return target, nil
}

// Upload delivers the staged evidence file. Each attempt requests a fresh
// target before the PUT so expired slot URLs never poison a retry. The result
// carries the attempt count even on failure.
func (c *Client) Upload(ctx context.Context, ownerID, localPath string) (Result, error) {
	result := Result{}

	info, err := os.Stat(localPath)
	if err != nil {
		return result, fmt.Errorf("stat evidence file: %w", err)
	}
	filename := filepath.Base(localPath)

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		result.Attempts = attempt

		if attempt > 1 {
			if err := c.sleep(ctx, attempt-1); err != nil {
				return result, err
			}
		}

		target, err := c.RequestTarget(ctx, ownerID, filename)
		if err != nil {
			lastErr = err
			c.logger.Warn("upload slot request failed",
				logging.String(logging.FieldMutationID, ownerID),
				logging.Int("attempt", attempt),
				logging.Error(err),
			)
			continue
		}

		if err := c.put(ctx, target.UploadURL, localPath, info.Size()); err != nil {
			lastErr = err
			c.logger.Warn("evidence upload failed",
				logging.String(logging.FieldMutationID, ownerID),
				logging.Int("attempt", attempt),
				logging.Error(err),
			)
			continue
		}

		result.Uploaded = true
		result.Reference = target.Reference
		return result, nil
	}

	return result, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, result.Attempts, lastErr)
}

func (c *Client) put(ctx context.Context, uploadURL, localPath string, size int64) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open evidence file: %w", err)
	}
	defer file.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, file)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "image/jpeg")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("put evidence: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("evidence upload returned %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("User-Agent", "Fieldsync-Go/0.1.0")
}

// sleep waits out the exponential backoff for the given completed attempt
// count, honoring context cancellation.
func (c *Client) sleep(ctx context.Context, completed int) error {
	wait := c.backoff << (completed - 1)
	if wait > c.maxWait || wait <= 0 {
		wait = c.maxWait
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func readErrorBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 2048))
	return strings.TrimSpace(string(body))
}
