package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"fieldsync/internal/config"
	"fieldsync/internal/ipc"
	"fieldsync/internal/queue"
	"fieldsync/internal/queueaccess"
)

type commandContext struct {
	socketFlag *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(socketFlag, configFlag *string) *commandContext {
	return &commandContext{
		socketFlag: socketFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) socketPath() string {
	if c.socketFlag != nil && strings.TrimSpace(*c.socketFlag) != "" {
		return *c.socketFlag
	}
	if cfg, err := c.ensureConfig(); err == nil && cfg != nil {
		return cfg.Paths.SocketPath
	}
	return defaultSocketPath()
}

// withQueue runs fn against the daemon when one is listening, otherwise
// against the queue database directly. Queue inspection and maintenance keep
// working while the daemon is down.
func (c *commandContext) withQueue(fn func(qa queueaccess.Access) error) error {
	session, err := queueaccess.OpenWithFallback(
		func() (*ipc.Client, error) { return ipc.Dial(c.socketPath()) },
		c.openQueueStore,
	)
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(session.Access)
}

func (c *commandContext) openQueueStore() (*queue.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return queue.Open(cfg)
}

func (c *commandContext) withClient(fn func(*ipc.Client) error) error {
	socket := c.socketPath()
	client, err := ipc.Dial(socket)
	if err != nil {
		return wrapDialError(err, socket)
	}
	defer client.Close()
	return fn(client)
}

func wrapDialError(err error, socket string) error {
	switch {
	case errors.Is(err, syscall.ENOENT) || os.IsNotExist(err):
		return fmt.Errorf("connect to daemon: socket %s not found; start fieldsyncd first", socket)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to daemon: socket %s refused the connection; verify fieldsyncd is running", socket)
	default:
		return fmt.Errorf("connect to daemon: %w", err)
	}
}

func defaultSocketPath() string {
	expanded, err := config.ExpandPath("~/.local/share/fieldsync/fieldsyncd.sock")
	if err != nil {
		return filepath.Join(os.TempDir(), "fieldsyncd.sock")
	}
	return expanded
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
