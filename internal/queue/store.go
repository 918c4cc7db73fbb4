package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"fieldsync/internal/config"
)

// ErrNotFound indicates the requested mutation does not exist in the store.
var ErrNotFound = errors.New("mutation not found")

// Store manages queue persistence backed by SQLite. Each mutation is a row
// keyed by its identifier; updates touch single rows, never the whole queue.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the queue database and verifies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.QueueDatabasePath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the location of the queue database file.
func (s *Store) Path() string {
	return s.path
}

// Insert persists a new mutation. QueuedAt and UpdatedAt are stamped here;
// the caller provides everything else.
func (s *Store) Insert(ctx context.Context, m *Mutation) error {
	if m == nil {
		return errors.New("mutation is nil")
	}
	if m.ID == "" {
		return errors.New("mutation id is empty")
	}

	payloadJSON, err := json.Marshal(m.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	now := time.Now().UTC()
	m.QueuedAt = now
	m.UpdatedAt = now

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO mutations (
            id, kind, payload_json, observed_at, evidence_path, status,
            retry_count, max_retries, error_message, queued_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID,
		m.Kind,
		string(payloadJSON),
		m.ObservedAt.UTC().Format(time.RFC3339Nano),
		nullableString(m.EvidencePath),
		m.Status,
		m.RetryCount,
		m.MaxRetries,
		nullableString(m.ErrorMessage),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert mutation: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	m.seq = seq
	return nil
}

// GetByID fetches a mutation by identifier. Returns nil when absent.
func (s *Store) GetByID(ctx context.Context, id string) (*Mutation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mutationColumns+` FROM mutations WHERE id = ?`, id)
	m, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mutation: %w", err)
	}
	return m, nil
}

// Update persists changes to an existing mutation row.
func (s *Store) Update(ctx context.Context, m *Mutation) error {
	if m == nil {
		return errors.New("mutation is nil")
	}

	payloadJSON, err := json.Marshal(m.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE mutations
         SET kind = ?, payload_json = ?, observed_at = ?, evidence_path = ?,
             status = ?, retry_count = ?, max_retries = ?, error_message = ?,
             updated_at = ?
         WHERE id = ?`,
		m.Kind,
		string(payloadJSON),
		m.ObservedAt.UTC().Format(time.RFC3339Nano),
		nullableString(m.EvidencePath),
		m.Status,
		m.RetryCount,
		m.MaxRetries,
		nullableString(m.ErrorMessage),
		m.UpdatedAt.Format(time.RFC3339Nano),
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("update mutation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update mutation %s: %w", m.ID, ErrNotFound)
	}
	return nil
}

// Remove deletes a mutation by identifier.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mutations WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete mutation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Eligible returns the drain snapshot: pending mutations plus failed ones
// still under their retry budget, strictly in enqueue order.
func (s *Store) Eligible(ctx context.Context) ([]*Mutation, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+mutationColumns+` FROM mutations
         WHERE status = ? OR (status = ? AND retry_count < max_retries)
         ORDER BY seq`,
		StatusPending,
		StatusFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("query eligible mutations: %w", err)
	}
	defer rows.Close()
	return collectMutations(rows)
}

// List returns mutations filtered by status set (or all mutations when no
// status is provided), in enqueue order.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Mutation, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + mutationColumns + ` FROM mutations`
	orderClause := ` ORDER BY seq`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list mutations: %w", err)
	}
	defer rows.Close()
	return collectMutations(rows)
}

// PendingCount returns the number of mutations still awaiting delivery
// (pending or currently processing).
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM mutations WHERE status IN (?, ?)`,
		StatusPending,
		StatusProcessing,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending mutations: %w", err)
	}
	return count, nil
}

// ResetProcessing returns mutations stuck in processing back to pending.
// Called on startup: a processing row means the previous run died mid-handler,
// and delivery is at-least-once, so the safe recovery is to retry.
func (s *Store) ResetProcessing(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE mutations SET status = ?, updated_at = ? WHERE status = ?`,
		StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset processing mutations: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed moves failed mutations back to pending with a fresh retry
// budget. With no ids, all failed mutations are reset.
func (s *Store) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	if len(ids) == 0 {
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE mutations
            SET status = ?, retry_count = 0, error_message = NULL, updated_at = ?
            WHERE status = ?`,
			StatusPending,
			timestamp,
			StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed mutations: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+3)
	args = append(args, StatusPending, timestamp, StatusFailed)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE mutations
        SET status = ?, retry_count = 0, error_message = NULL, updated_at = ?
        WHERE status = ? AND id IN (` + placeholders + `)`
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected mutations: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes failed mutations that have exhausted their retries.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM mutations WHERE status = ? AND retry_count >= max_retries`,
		StatusFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}

// EvidencePaths returns the staged evidence path for every mutation that has
// one. Used by the startup sweep to distinguish owned files from orphans.
func (s *Store) EvidencePaths(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT evidence_path FROM mutations WHERE evidence_path IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("query evidence paths: %w", err)
	}
	defer rows.Close()

	paths := make(map[string]struct{})
	for rows.Next() {
		var path sql.NullString
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		if path.Valid && path.String != "" {
			paths[path.String] = struct{}{}
		}
	}
	return paths, rows.Err()
}

// Stats returns a count of mutations grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM mutations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT status, retry_count >= max_retries, COUNT(1)
         FROM mutations GROUP BY status, retry_count >= max_retries`,
	)
	if err != nil {
		return HealthSummary{}, fmt.Errorf("queue health: %w", err)
	}
	defer rows.Close()

	health := HealthSummary{}
	for rows.Next() {
		var status Status
		var exhausted int
		var count int
		if err := rows.Scan(&status, &exhausted, &count); err != nil {
			return HealthSummary{}, err
		}
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusProcessing:
			health.Processing += count
		case StatusFailed:
			health.Failed += count
			if exhausted != 0 {
				health.Exhausted += count
			}
		}
	}
	return health, rows.Err()
}

const mutationColumns = "seq, id, kind, payload_json, observed_at, evidence_path, status, retry_count, max_retries, error_message, queued_at, updated_at"

func scanMutation(scanner interface{ Scan(dest ...any) error }) (*Mutation, error) {
	var (
		seq          int64
		id           string
		kindStr      string
		payloadJSON  string
		observedRaw  string
		evidencePath sql.NullString
		statusStr    string
		retryCount   int
		maxRetries   int
		errorMessage sql.NullString
		queuedRaw    string
		updatedRaw   string
	)

	if err := scanner.Scan(
		&seq,
		&id,
		&kindStr,
		&payloadJSON,
		&observedRaw,
		&evidencePath,
		&statusStr,
		&retryCount,
		&maxRetries,
		&errorMessage,
		&queuedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	m := &Mutation{
		ID:           id,
		Kind:         Kind(kindStr),
		Status:       Status(statusStr),
		RetryCount:   retryCount,
		MaxRetries:   maxRetries,
		EvidencePath: evidencePath.String,
		ErrorMessage: errorMessage.String,
		seq:          seq,
	}

	if payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &m.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload for %s: %w", id, err)
		}
	}

	if observed, err := parseTimeString(observedRaw); err == nil {
		m.ObservedAt = observed
	}
	if queued, err := parseTimeString(queuedRaw); err == nil {
		m.QueuedAt = queued
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		m.UpdatedAt = updated
	}
	return m, nil
}

func collectMutations(rows *sql.Rows) ([]*Mutation, error) {
	var mutations []*Mutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		mutations = append(mutations, m)
	}
	return mutations, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
