package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"fieldsync/internal/ipc"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				renderStatus(cmd.OutOrStdout(), status)
				return nil
			})
		},
	}
}

func renderStatus(out io.Writer, status *ipc.StatusResponse) {
	colorize := shouldColorize(out)

	fmt.Fprintf(out, "Daemon:       %s (pid %d)\n", runLabel(status.Running, colorize), status.PID)
	fmt.Fprintf(out, "Connectivity: %s\n", connectivityLabel(status.Connectivity, colorize))
	fmt.Fprintf(out, "Queue DB:     %s\n", status.QueueDBPath)
	fmt.Fprintf(out, "Lock file:    %s\n", status.LockPath)

	rows := [][]string{
		{"Pending", strconv.Itoa(status.Pending)},
		{"Processing", strconv.Itoa(status.Processing)},
		{"Failed", strconv.Itoa(status.Failed)},
		{"Exhausted", strconv.Itoa(status.Exhausted)},
	}
	fmt.Fprintln(out, renderTable(
		[]column{{Title: "Queue"}, {Title: "Count", Right: true}},
		rows,
	))
}

func runLabel(running, colorize bool) string {
	if running {
		return colorText("running", ansiGreen, colorize)
	}
	return colorText("stopped", ansiRed, colorize)
}

func connectivityLabel(state string, colorize bool) string {
	switch state {
	case "reachable":
		return colorText(state, ansiGreen, colorize)
	case "unreachable":
		return colorText(state, ansiRed, colorize)
	default:
		return colorText(state, ansiYellow, colorize)
	}
}

func colorText(value, color string, colorize bool) string {
	if !colorize {
		return value
	}
	return color + value + ansiReset
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
