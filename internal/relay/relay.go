// Package relay defines the transport abstraction used to move content onto
// the hosting messaging platform.
package relay

import (
	"context"

	"github.com/telehole/telehole/internal/models"
)

// SendOptions carries the optional parts of a send: threading, and at most
// one actionable inline control.
type SendOptions struct {
	// ReplyTargetID threads the sent message under an existing message in the
	// destination chat. 0 means no threading.
	ReplyTargetID int64
	// AffordanceLabel is the visible label of the attached control. Ignored
	// unless Affordance is set.
	AffordanceLabel string
	// Affordance is an encoded callback token to attach as the message's
	// single actionable control. Empty means no control.
	Affordance string
}

// ContentRelay delivers content to a destination chat. Implementations
// translate the closed content-kind set into platform calls; the router never
// touches platform types directly.
type ContentRelay interface {
	// Send relays content to the destination chat and returns the id of the
	// message as created there.
	Send(ctx context.Context, destination int64, content models.Content, opts SendOptions) (int64, error)

	// EditAffordance replaces the single control attached to an already sent
	// message. Used to rebind a message's control once its own id is known.
	EditAffordance(ctx context.Context, destination, messageID int64, label, encodedToken string) error
}
