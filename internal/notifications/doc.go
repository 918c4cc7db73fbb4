// Package notifications sends operator push notifications through ntfy.
package notifications
