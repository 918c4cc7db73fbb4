// Package queue persists field mutations in SQLite and exposes the keyed
// record operations the sync engine drains from. Rows are ordered by an
// autoincrement sequence so delivery always follows enqueue order.
package queue
