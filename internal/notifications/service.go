package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fieldsync/internal/config"
)

const userAgent = "Fieldsync-Go/0.1.0"

// Service defines the notification surface exposed to the sync engine.
type Service interface {
	NotifyRetriesExhausted(ctx context.Context, mutationID, kind, lastError string) error
	NotifyDrainCompleted(ctx context.Context, processed, failed int, duration time.Duration) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:       topic,
		client:         &http.Client{Timeout: timeout},
		notifyExhaust:  cfg.Notifications.Exhausted,
		notifyDrainRun: cfg.Notifications.Drain,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint       string
	client         *http.Client
	notifyExhaust  bool
	notifyDrainRun bool
}

func (n *ntfyService) NotifyRetriesExhausted(ctx context.Context, mutationID, kind, lastError string) error {
	if !n.notifyExhaust {
		return nil
	}
	lastError = strings.TrimSpace(lastError)
	if lastError == "" {
		lastError = "unknown error"
	}
	data := payload{
		title:    "Fieldsync - Sync Stuck",
		message:  fmt.Sprintf("Mutation %s (%s) exhausted retries: %s\nManual retry required", mutationID, kind, lastError),
		tags:     []string{"fieldsync", "sync", "exhausted"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDrainCompleted(ctx context.Context, processed, failed int, duration time.Duration) error {
	if failed == 0 && !n.notifyDrainRun {
		return nil
	}

	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	durationText := duration.String()
	if duration == 0 {
		durationText = "0s"
	}

	var title string
	var message string
	if failed == 0 {
		title = "Fieldsync - Drain Complete"
		message = fmt.Sprintf("Drain complete: %d mutations delivered in %s", processed, durationText)
	} else {
		title = "Fieldsync - Drain Complete (with errors)"
		message = fmt.Sprintf("Drain complete: %d delivered, %d failed in %s", processed, failed, durationText)
	}

	data := payload{
		title:   title,
		message: message,
		tags:    []string{"fieldsync", "drain", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Fieldsync - Test",
		message:  "Notification system test",
		tags:     []string{"fieldsync", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyRetriesExhausted(context.Context, string, string, string) error { return nil }
func (noopService) NotifyDrainCompleted(context.Context, int, int, time.Duration) error  { return nil }
func (noopService) TestNotification(context.Context) error                               { return nil }
