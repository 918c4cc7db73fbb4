// Package upload delivers staged evidence photos to the backend using its
// two-phase slot protocol.
package upload
