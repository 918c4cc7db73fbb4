package ipc

import (
	"time"

	"fieldsync/internal/queue"
)

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon and queue status information.
type StatusResponse struct {
	Running      bool   `json:"running"`
	PID          int    `json:"pid"`
	Connectivity string `json:"connectivity"`
	QueueTotal   int    `json:"queue_total"`
	Pending      int    `json:"pending"`
	Processing   int    `json:"processing"`
	Failed       int    `json:"failed"`
	Exhausted    int    `json:"exhausted"`
	QueueDBPath  string `json:"queue_db_path"`
	LockPath     string `json:"lock_path"`
}

// MutationItem is the wire form of a queued mutation for IPC callers.
type MutationItem struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Status       string `json:"status"`
	RetryCount   int    `json:"retry_count"`
	MaxRetries   int    `json:"max_retries"`
	ErrorMessage string `json:"error_message,omitempty"`
	HasEvidence  bool   `json:"has_evidence"`
	ObservedAt   string `json:"observed_at"`
	QueuedAt     string `json:"queued_at"`
}

// NewMutationItem converts a stored mutation into its wire form.
func NewMutationItem(m *queue.Mutation) MutationItem {
	return MutationItem{
		ID:           m.ID,
		Kind:         string(m.Kind),
		Status:       string(m.Status),
		RetryCount:   m.RetryCount,
		MaxRetries:   m.MaxRetries,
		ErrorMessage: m.ErrorMessage,
		HasEvidence:  m.EvidencePath != "",
		ObservedAt:   m.ObservedAt.UTC().Format(time.RFC3339),
		QueuedAt:     m.QueuedAt.UTC().Format(time.RFC3339),
	}
}

// QueueListRequest filters queue listing by status.
type QueueListRequest struct {
	Statuses []string `json:"statuses"`
}

// QueueListResponse contains queued mutations.
type QueueListResponse struct {
	Items []MutationItem `json:"items"`
}

// QueueRetryRequest resets failed mutations. Empty IDs means all failed.
type QueueRetryRequest struct {
	IDs []string `json:"ids"`
}

// QueueRetryResponse reports number of reset mutations.
type QueueRetryResponse struct {
	Updated int64 `json:"updated"`
}

// QueueClearFailedRequest removes exhausted mutations.
type QueueClearFailedRequest struct{}

// QueueClearFailedResponse reports number of removed mutations.
type QueueClearFailedResponse struct {
	Removed int64 `json:"removed"`
}

// DrainRequest triggers a manual drain pass.
type DrainRequest struct{}

// DrainResponse summarizes the drain, or explains why it did not run.
type DrainResponse struct {
	Ran       bool   `json:"ran"`
	Attempted int    `json:"attempted"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Message   string `json:"message,omitempty"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports whether a test notification was sent.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
