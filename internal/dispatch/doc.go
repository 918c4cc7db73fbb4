// Package dispatch maps mutation kinds to backend API calls.
package dispatch
