package queue

import (
	"strings"
	"time"
)

// Kind identifies the domain operation a queued mutation performs.
type Kind string

const (
	KindCheckIn        Kind = "check_in"
	KindCheckOut       Kind = "check_out"
	KindStatusUpdate   Kind = "status_update"
	KindRecordEvidence Kind = "record_evidence"
	KindLocationUpdate Kind = "location_update"
)

var allKinds = []Kind{
	KindCheckIn,
	KindCheckOut,
	KindStatusUpdate,
	KindRecordEvidence,
	KindLocationUpdate,
}

var kindSet = func() map[Kind]struct{} {
	set := make(map[Kind]struct{}, len(allKinds))
	for _, kind := range allKinds {
		set[kind] = struct{}{}
	}
	return set
}()

// Status represents the lifecycle of a queued mutation.
//
// completed is transient: a completed mutation is deleted from the store,
// never retained.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
	StatusCompleted  Status = "completed"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusFailed,
	StatusCompleted,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// Payload carries the operation-specific fields captured at the moment of the
// driver action (stop id, load id, coordinates, notes).
type Payload map[string]string

// Mutation represents one pending field operation persisted in SQLite.
type Mutation struct {
	ID           string
	Kind         Kind
	Payload      Payload
	ObservedAt   time.Time
	EvidencePath string
	Status       Status
	RetryCount   int
	MaxRetries   int
	ErrorMessage string
	QueuedAt     time.Time
	UpdatedAt    time.Time

	// seq is the enqueue sequence number backing FIFO ordering. Assigned by
	// the store on insert, never exposed to callers.
	seq int64
}

// AllKinds returns the ordered list of known mutation kinds.
func AllKinds() []Kind {
	cp := make([]Kind, len(allKinds))
	copy(cp, allKinds)
	return cp
}

// ParseKind converts a string into a known Kind.
func ParseKind(value string) (Kind, bool) {
	normalized := Kind(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := kindSet[normalized]
	return normalized, ok
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Exhausted reports whether the mutation has used up its retry budget and is
// excluded from automatic drains.
func (m Mutation) Exhausted() bool {
	return m.RetryCount >= m.MaxRetries
}

// Eligible reports whether a drain pass should attempt this mutation.
func (m Mutation) Eligible() bool {
	switch m.Status {
	case StatusPending:
		return true
	case StatusFailed:
		return !m.Exhausted()
	default:
		return false
	}
}

// SetFailed records a handler failure and its message.
func (m *Mutation) SetFailed(message string) {
	m.Status = StatusFailed
	m.RetryCount++
	m.ErrorMessage = message
}

// HealthSummary describes aggregated queue counts per lifecycle state.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Exhausted  int
}
