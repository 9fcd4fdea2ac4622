// Package notification delivers best-effort operator alerts. Delivery
// failures are logged and swallowed: an unreachable alert channel must never
// take the indexing pipeline down with it.
package notification

import "context"

// Notifier sends a fire-and-forget operator notification
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// NopNotifier discards every notification. Used when alerts are disabled
// and as the default in tests.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, message string) {}
