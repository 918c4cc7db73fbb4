// Package engine drives the mutation lifecycle: durable enqueue with evidence
// staging, connectivity-gated single-flight drains, bounded retries, and crash
// recovery.
package engine
