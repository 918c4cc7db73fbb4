// Package evidence manages staged copies of photo evidence referenced by
// queued mutations.
package evidence
