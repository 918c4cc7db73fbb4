package evidence

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/logging"
)

// Stager copies captured evidence photos into app-controlled staging storage
// so a queued mutation never depends on the camera roll surviving until sync.
type Stager struct {
	dir    string
	maxAge time.Duration
	logger *slog.Logger
}

// NewStager builds a stager rooted at the configured staging directory.
func NewStager(cfg *config.Config, logger *slog.Logger) *Stager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stager{
		dir:    cfg.Paths.StagingDir,
		maxAge: time.Duration(cfg.Sync.EvidenceMaxAgeHours) * time.Hour,
		logger: logging.WithComponent(logger, "evidence"),
	}
}

// Dir returns the staging directory root.
func (s *Stager) Dir() string {
	return s.dir
}

// Stage copies the source photo into the staging directory and returns the
// staged path. The copy lands under a temp name first and is renamed into
// place, so a partial copy never looks like staged evidence.
func (s *Stager) Stage(sourcePath, mutationID string, capturedAt time.Time) (string, error) {
	if sourcePath == "" {
		return "", errors.New("evidence source path is empty")
	}
	if mutationID == "" {
		return "", errors.New("mutation id is empty")
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return "", fmt.Errorf("open evidence source: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure staging dir: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(sourcePath))
	if ext == "" {
		ext = ".jpg"
	}
	finalName := fmt.Sprintf("%s_%d%s", mutationID, capturedAt.UTC().UnixMilli(), ext)
	finalPath := filepath.Join(s.dir, finalName)

	tmp, err := os.CreateTemp(s.dir, ".staging-*")
	if err != nil {
		return "", fmt.Errorf("create staging temp: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("copy evidence: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("sync staged evidence: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close staged evidence: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("finalize staged evidence: %w", err)
	}

	s.logger.Debug("staged evidence",
		logging.String("source", sourcePath),
		logging.String("staged", finalPath),
	)
	return finalPath, nil
}

// Discard removes a staged file. A missing file is not an error; the record
// may have been cleaned up already.
func (s *Stager) Discard(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("discard staged evidence: %w", err)
	}
	return nil
}

// Sweep deletes staged files no mutation owns, plus anything older than the
// retention window. Called at daemon startup after the queue is loaded.
func (s *Stager) Sweep(owned map[string]struct{}) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read staging dir: %w", err)
	}

	removed := 0
	cutoff := time.Now().Add(-s.maxAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())

		// Leftover temp files from interrupted copies are always swept.
		orphan := strings.HasPrefix(entry.Name(), ".staging-")
		if !orphan {
			_, isOwned := owned[path]
			orphan = !isOwned
		}
		if !orphan && s.maxAge > 0 {
			info, infoErr := entry.Info()
			if infoErr == nil && info.ModTime().Before(cutoff) {
				orphan = true
			}
		}
		if !orphan {
			continue
		}

		if err := os.Remove(path); err != nil {
			s.logger.Warn("failed to sweep staged file",
				logging.String("path", path),
				logging.Error(err),
			)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("swept orphaned evidence", logging.Int("removed", removed))
	}
	return removed, nil
}
