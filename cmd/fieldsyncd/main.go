package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"fieldsync/internal/config"
	"fieldsync/internal/ipc"
	"fieldsync/internal/logging"
	"fieldsync/internal/queue"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return
	}

	d, err := buildDaemon(cfg, store, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		_ = store.Close()
		return
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		logger.Error("start IPC server", logging.Error(err))
		return
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("fieldsyncd shutting down")
}
