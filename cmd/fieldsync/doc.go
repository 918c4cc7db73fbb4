// Package main hosts the fieldsync CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into IPC calls
// against the daemon: queue inspection and maintenance, manual drains, status
// reporting, and configuration scaffolding. It centralizes configuration
// resolution and socket discovery so subcommands can focus on presentation.
package main
