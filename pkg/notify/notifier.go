// Package notify delivers rendered nudge messages to users. The decision of
// whether and what to send is pkg/nudge's; this package only carries text to
// a transport.
package notify

import (
	"context"
	"errors"
)

// ErrDelivery wraps transport failures.
var ErrDelivery = errors.New("notification delivery failed")

// Notifier delivers one message to one user.
type Notifier interface {
	Deliver(ctx context.Context, userID, message string) error

	// Close releases transport resources.
	Close() error
}
