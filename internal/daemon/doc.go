// Package daemon ties the queue store, sync engine, connectivity monitor, and
// drain scheduler into a single lifecycle with flock-based locking to prevent
// multiple instances syncing the same queue.
package daemon
