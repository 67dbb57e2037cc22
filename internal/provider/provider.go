// Package provider abstracts the push provider boundary: issuing the device
// token that identifies this installation, delivering payloads to the
// delivery paths, and accepting token deletion requests.
package provider

import (
	"context"

	"github.com/expensems/emspush/internal/push"
)

// DeliverFunc receives a decoded payload from the provider
type DeliverFunc func(payload *push.Payload)

// Provider defines the operations the pipeline needs from a push provider.
type Provider interface {
	// Token returns the current device token, issuing one if none exists.
	// Repeated calls return the same token until it is deleted or rotated.
	Token(ctx context.Context) (string, error)

	// DeleteToken invalidates the current token with the provider. A later
	// Token call issues a fresh value.
	DeleteToken(ctx context.Context) error

	// Subscribe starts payload delivery for the given token. The deliver
	// function is invoked for every payload until ctx is cancelled or the
	// provider is closed.
	Subscribe(ctx context.Context, token string, deliver DeliverFunc) error

	// Close releases the provider connection.
	Close()
}
