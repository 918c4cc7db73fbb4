package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fieldsync/internal/engine"
	"fieldsync/internal/logging"
	"fieldsync/internal/queue"
	"fieldsync/internal/upload"
)

// Uploader delivers staged evidence files. Satisfied by *upload.Client.
type Uploader interface {
	Upload(ctx context.Context, ownerID, localPath string) (upload.Result, error)
}

// Handlers builds the default delivery table: one handler per mutation kind,
// all posting through the backend client. Evidence-bearing kinds upload the
// staged photo first, then post the record with the upload reference.
func Handlers(client *Client, uploader Uploader, logger *slog.Logger) map[queue.Kind]engine.HandlerFunc {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.WithComponent(logger, "dispatch")

	return map[queue.Kind]engine.HandlerFunc{
		queue.KindCheckIn: func(ctx context.Context, m *queue.Mutation) error {
			return client.Post(ctx, "/v1/checkins", m.ID, recordBody(m, ""))
		},
		queue.KindCheckOut:       checkOutHandler(client, uploader, logger),
		queue.KindStatusUpdate:   simpleHandler(client, "/v1/status-updates"),
		queue.KindLocationUpdate: simpleHandler(client, "/v1/locations"),
		queue.KindRecordEvidence: recordEvidenceHandler(client, uploader),
	}
}

func simpleHandler(client *Client, path string) engine.HandlerFunc {
	return func(ctx context.Context, m *queue.Mutation) error {
		return client.Post(ctx, path, m.ID, recordBody(m, ""))
	}
}

// checkOutHandler uploads check-out evidence when present. A check-out is
// more valuable than its photo: when the upload budget runs out, the
// check-out posts anyway without the evidence reference rather than blocking
// the queue behind a photo that will not transfer.
func checkOutHandler(client *Client, uploader Uploader, logger *slog.Logger) engine.HandlerFunc {
	return func(ctx context.Context, m *queue.Mutation) error {
		reference := ""
		if m.EvidencePath != "" && uploader != nil {
			result, err := uploader.Upload(ctx, m.ID, m.EvidencePath)
			switch {
			case err == nil:
				reference = result.Reference
			case errors.Is(err, upload.ErrAttemptsExhausted):
				logger.Warn("check-out evidence upload exhausted; posting without photo",
					logging.String(logging.FieldMutationID, m.ID),
					logging.Int("attempts", result.Attempts),
					logging.Error(err),
				)
			default:
				return fmt.Errorf("upload check-out evidence: %w", err)
			}
		}
		return client.Post(ctx, "/v1/checkouts", m.ID, recordBody(m, reference))
	}
}

// recordEvidenceHandler exists only to deliver a photo, so an upload failure
// fails the mutation; there is nothing meaningful to post without it.
func recordEvidenceHandler(client *Client, uploader Uploader) engine.HandlerFunc {
	return func(ctx context.Context, m *queue.Mutation) error {
		if m.EvidencePath == "" {
			return errors.New("record_evidence mutation has no staged photo")
		}
		if uploader == nil {
			return errors.New("evidence uploader not configured")
		}
		result, err := uploader.Upload(ctx, m.ID, m.EvidencePath)
		if err != nil {
			return fmt.Errorf("upload evidence: %w", err)
		}
		return client.Post(ctx, "/v1/evidence", m.ID, recordBody(m, result.Reference))
	}
}

func recordBody(m *queue.Mutation, evidenceReference string) map[string]any {
	body := map[string]any{
		"mutation_id": m.ID,
		"kind":        string(m.Kind),
		"observed_at": m.ObservedAt.UTC().Format(time.RFC3339),
	}
	for key, value := range m.Payload {
		body[key] = value
	}
	if evidenceReference != "" {
		body["evidence_reference"] = evidenceReference
	}
	return body
}
