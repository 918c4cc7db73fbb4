package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"fieldsync/internal/queue"
	"fieldsync/internal/queueaccess"
)

var kindTitler = cases.Title(language.English)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the mutation queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearFailedCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counts by lifecycle state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(qa queueaccess.Access) error {
				health, err := qa.Health(cmd.Context())
				if err != nil {
					return err
				}

				rows := [][]string{
					{"Pending", strconv.Itoa(health.Pending)},
					{"Processing", strconv.Itoa(health.Processing)},
					{"Failed", strconv.Itoa(health.Failed)},
					{"Exhausted", strconv.Itoa(health.Exhausted)},
					{"Total", strconv.Itoa(health.Total)},
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderTable(
					[]column{{Title: "State"}, {Title: "Count", Right: true}},
					rows,
				))
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued mutations",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, raw := range statusFilter {
				if _, ok := queue.ParseStatus(raw); !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
			}
			return ctx.withQueue(func(qa queueaccess.Access) error {
				items, err := qa.List(cmd.Context(), statusFilter)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}

				rows := make([][]string, 0, len(items))
				for _, item := range items {
					rows = append(rows, []string{
						shortID(item.ID),
						formatKind(item.Kind),
						item.Status,
						fmt.Sprintf("%d/%d", item.RetryCount, item.MaxRetries),
						yesNo(item.HasEvidence),
						item.ObservedAt,
						truncate(item.ErrorMessage, 48),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]column{
						{Title: "ID"},
						{Title: "Kind"},
						{Title: "Status"},
						{Title: "Retries", Right: true},
						{Title: "Photo"},
						{Title: "Observed"},
						{Title: "Last Error"},
					},
					rows,
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&statusFilter, "status", nil, "Filter by status (pending, processing, failed)")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Reset failed mutations for another delivery attempt",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]string, 0, len(args))
			for _, arg := range args {
				trimmed := strings.TrimSpace(arg)
				if trimmed == "" {
					return fmt.Errorf("invalid mutation id %q", arg)
				}
				ids = append(ids, trimmed)
			}
			return ctx.withQueue(func(qa queueaccess.Access) error {
				updated, err := qa.Retry(cmd.Context(), ids)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d mutation(s) for retry\n", updated)
				return nil
			})
		},
	}
}

func newQueueClearFailedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-failed",
		Short: "Remove mutations that exhausted their retries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(qa queueaccess.Access) error {
				removed, err := qa.ClearFailed(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d exhausted mutation(s)\n", removed)
				return nil
			})
		},
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func formatKind(kind string) string {
	return kindTitler.String(strings.ReplaceAll(kind, "_", " "))
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	if max <= 3 {
		return value[:max]
	}
	return value[:max-3] + "..."
}
