package evidence_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fieldsync/internal/evidence"
	"fieldsync/internal/testsupport"
)

func TestStageCopiesIntoStagingDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stager := evidence.NewStager(cfg, nil)

	source := filepath.Join(t.TempDir(), "photo.JPG")
	testsupport.WriteFile(t, source, 2048)

	capturedAt := time.Date(2026, 8, 27, 9, 30, 0, 0, time.UTC)
	staged, err := stager.Stage(source, "mut-1", capturedAt)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	if filepath.Dir(staged) != cfg.Paths.StagingDir {
		t.Fatalf("staged outside staging dir: %s", staged)
	}
	name := filepath.Base(staged)
	if !strings.HasPrefix(name, "mut-1_") || !strings.HasSuffix(name, ".jpg") {
		t.Fatalf("unexpected staged name: %s", name)
	}

	info, err := os.Stat(staged)
	if err != nil {
		t.Fatalf("stat staged file: %v", err)
	}
	if info.Size() != 2048 {
		t.Fatalf("staged size = %d, want 2048", info.Size())
	}

	// The source remains untouched; staging copies, never moves.
	if _, err := os.Stat(source); err != nil {
		t.Fatalf("source missing after stage: %v", err)
	}
}

func TestStageMissingSource(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stager := evidence.NewStager(cfg, nil)

	if _, err := stager.Stage(filepath.Join(t.TempDir(), "gone.jpg"), "mut-2", time.Now()); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestDiscardToleratesMissingFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stager := evidence.NewStager(cfg, nil)

	if err := stager.Discard(filepath.Join(cfg.Paths.StagingDir, "absent.jpg")); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if err := stager.Discard(""); err != nil {
		t.Fatalf("Discard empty path: %v", err)
	}
}

func TestSweepRemovesOrphansKeepsOwned(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stager := evidence.NewStager(cfg, nil)

	owned := filepath.Join(cfg.Paths.StagingDir, "mut-3_1700000000000.jpg")
	orphanFile := filepath.Join(cfg.Paths.StagingDir, "mut-gone_1700000000001.jpg")
	tempLeftover := filepath.Join(cfg.Paths.StagingDir, ".staging-abc123")
	testsupport.WriteFile(t, owned, 16)
	testsupport.WriteFile(t, orphanFile, 16)
	testsupport.WriteFile(t, tempLeftover, 16)

	removed, err := stager.Sweep(map[string]struct{}{owned: {}})
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}

	if _, err := os.Stat(owned); err != nil {
		t.Fatalf("owned file swept: %v", err)
	}
	if _, err := os.Stat(orphanFile); !os.IsNotExist(err) {
		t.Fatal("orphan file survived sweep")
	}
	if _, err := os.Stat(tempLeftover); !os.IsNotExist(err) {
		t.Fatal("temp leftover survived sweep")
	}
}

func TestSweepMissingDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stager := evidence.NewStager(cfg, nil)

	removed, err := stager.Sweep(nil)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}
}
