package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"fieldsync/internal/daemon"
	"fieldsync/internal/engine"
	"fieldsync/internal/logging"
	"fieldsync/internal/queue"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logging.WithComponent(logger, "ipc"), ctx: ctx}
	if err := rpcServer.RegisterName("Fieldsync", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed", logging.Error(err))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
		)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.Connectivity = string(status.Connectivity)
	resp.QueueTotal = status.Queue.Total
	resp.Pending = status.Queue.Pending
	resp.Processing = status.Queue.Processing
	resp.Failed = status.Queue.Failed
	resp.Exhausted = status.Queue.Exhausted
	resp.QueueDBPath = status.QueueDBPath
	resp.LockPath = status.LockFilePath
	return nil
}

func (s *service) QueueList(req QueueListRequest, resp *QueueListResponse) error {
	statuses := make([]queue.Status, 0, len(req.Statuses))
	for _, raw := range req.Statuses {
		parsed, ok := queue.ParseStatus(raw)
		if !ok {
			continue
		}
		statuses = append(statuses, parsed)
	}
	mutations, err := s.daemon.ListQueue(s.ctx, statuses)
	if err != nil {
		return err
	}
	resp.Items = make([]MutationItem, 0, len(mutations))
	for _, m := range mutations {
		if m == nil {
			continue
		}
		resp.Items = append(resp.Items, NewMutationItem(m))
	}
	return nil
}

func (s *service) QueueRetry(req QueueRetryRequest, resp *QueueRetryResponse) error {
	s.logger.Debug("queue retry requested", logging.Int("item_count", len(req.IDs)))
	updated, err := s.daemon.RetryFailed(s.ctx, req.IDs)
	if err != nil {
		return err
	}
	resp.Updated = updated
	s.logger.Info("failed mutations reset for retry", logging.Int64("updated_count", updated))
	return nil
}

func (s *service) QueueClearFailed(_ QueueClearFailedRequest, resp *QueueClearFailedResponse) error {
	s.logger.Debug("queue clear failed requested")
	removed, err := s.daemon.ClearFailed(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.logger.Info("exhausted mutations cleared", logging.Int64("removed_count", removed))
	return nil
}

func (s *service) Drain(_ DrainRequest, resp *DrainResponse) error {
	stats, err := s.daemon.Drain(s.ctx)
	switch {
	case err == nil:
		resp.Ran = true
		resp.Attempted = stats.Attempted
		resp.Processed = stats.Processed
		resp.Failed = stats.Failed
	case errors.Is(err, engine.ErrDrainInProgress), errors.Is(err, engine.ErrBackendUnreachable):
		resp.Ran = false
		resp.Message = err.Error()
	default:
		return err
	}
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
