package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyRetriesExhausted(context.Background(), "mut-1", "check_in", "backend 500"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNotifyRetriesExhaustedFormat(t *testing.T) {
	var captured struct {
		title    string
		tags     string
		priority string
		body     string
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		captured.title = r.Header.Get("Title")
		captured.tags = r.Header.Get("Tags")
		captured.priority = r.Header.Get("Priority")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		captured.body = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.RequestTimeout = 5

	svc := notifications.NewService(&cfg)
	if err := svc.NotifyRetriesExhausted(context.Background(), "mut-7", "check_out", "backend 502"); err != nil {
		t.Fatalf("notification returned error: %v", err)
	}

	if captured.title != "Fieldsync - Sync Stuck" {
		t.Fatalf("title = %q", captured.title)
	}
	if captured.priority != "high" {
		t.Fatalf("priority = %q", captured.priority)
	}
	if captured.tags != "fieldsync,sync,exhausted" {
		t.Fatalf("tags = %q", captured.tags)
	}
	want := "Mutation mut-7 (check_out) exhausted retries: backend 502\nManual retry required"
	if captured.body != want {
		t.Fatalf("body = %q, want %q", captured.body, want)
	}
}

func TestNotifyDrainCompletedSuppressedWhenClean(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call for suppressed event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Drain = false

	svc := notifications.NewService(&cfg)
	if err := svc.NotifyDrainCompleted(context.Background(), 4, 0, 2*time.Second); err != nil {
		t.Fatalf("expected suppressed clean drain, got %v", err)
	}
}

func TestNotifyDrainCompletedReportsFailures(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Drain = false

	svc := notifications.NewService(&cfg)
	if err := svc.NotifyDrainCompleted(context.Background(), 3, 2, 90*time.Second); err != nil {
		t.Fatalf("NotifyDrainCompleted: %v", err)
	}
	want := "Drain complete: 3 delivered, 2 failed in 1m30s"
	if body != want {
		t.Fatalf("body = %q, want %q", body, want)
	}
}

func TestNtfyErrorStatusSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic rejected", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	svc := notifications.NewService(&cfg)
	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
