// Package relay defines the interface for outbound mail delivery backends.
package relay

import (
	"context"

	"github.com/shineum/mail-bridge/internal/email"
)

// Relay is the interface that outbound delivery backends must implement.
// The SMTP engine hands each accepted message to a Relay at the end of a
// successful DATA transaction.
type Relay interface {
	// Send delivers a composed message through this backend.
	// It returns an error if the delivery fails.
	Send(ctx context.Context, msg *email.Email) error

	// Name returns the human-readable name of this backend.
	Name() string
}
