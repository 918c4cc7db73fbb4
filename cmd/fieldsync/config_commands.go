package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"fieldsync/internal/config"
)

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigShowCommand())

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			dir := filepath.Dir(target)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create config directory %q: %w", dir, err)
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Edit the file to set backend.base_url and backend.api_token before starting fieldsyncd.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load("")
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", path)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}

			rows := [][]string{
				{"backend.base_url", cfg.Backend.BaseURL},
				{"backend.health_path", cfg.Backend.HealthPath},
				{"paths.data_dir", cfg.Paths.DataDir},
				{"paths.staging_dir", cfg.Paths.StagingDir},
				{"paths.log_dir", cfg.Paths.LogDir},
				{"paths.socket_path", cfg.Paths.SocketPath},
				{"sync.max_retries", fmt.Sprintf("%d", cfg.Sync.MaxRetries)},
				{"sync.drain_interval", fmt.Sprintf("%ds", cfg.Sync.DrainInterval)},
				{"sync.connectivity_poll", fmt.Sprintf("%ds", cfg.Sync.ConnectivityPoll)},
				{"upload.attempts", fmt.Sprintf("%d", cfg.Upload.Attempts)},
				{"notifications.ntfy_topic", cfg.Notifications.NtfyTopic},
				{"logging.format", cfg.Logging.Format},
				{"logging.level", cfg.Logging.Level},
			}
			fmt.Fprintln(out, renderTable(
				[]column{{Title: "Setting"}, {Title: "Value"}},
				rows,
			))
			return nil
		},
	}
}
