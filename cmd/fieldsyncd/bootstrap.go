package main

import (
	"log/slog"

	"fieldsync/internal/config"
	"fieldsync/internal/connectivity"
	"fieldsync/internal/daemon"
	"fieldsync/internal/dispatch"
	"fieldsync/internal/engine"
	"fieldsync/internal/evidence"
	"fieldsync/internal/notifications"
	"fieldsync/internal/queue"
	"fieldsync/internal/scheduler"
	"fieldsync/internal/upload"
)

// buildDaemon wires the full sync stack: backend handlers behind the engine,
// connectivity monitoring, and the periodic drain scheduler.
func buildDaemon(cfg *config.Config, store *queue.Store, logger *slog.Logger) (*daemon.Daemon, error) {
	stager := evidence.NewStager(cfg, logger)
	monitor := connectivity.NewMonitor(cfg, connectivity.NewHTTPProber(cfg), logger)
	notifier := notifications.NewService(cfg)

	uploader := upload.NewClient(cfg, logger)
	handlers := dispatch.Handlers(dispatch.NewClient(cfg), uploader, logger)

	eng, err := engine.New(cfg, store, stager, monitor, handlers, notifier, logger)
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(cfg, eng.Drain, logger)
	return daemon.New(cfg, store, eng, monitor, sched, logger)
}
