// Package ipc carries control-plane traffic between the operator CLI and the
// daemon over JSON-RPC on a Unix domain socket.
package ipc
