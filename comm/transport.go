package comm

import (
	"github.com/pkg/errors"
)

// Variables

// ErrPeerUnreachable is returned when a payload cannot be handed to the
// addressed peer. The condition is transient; the anti-entropy scheduler
// retries on its next tick.
var ErrPeerUnreachable = errors.New("peer unreachable")

// Structs

// Handler consumes one received payload together with the name of the
// peer that sent it.
type Handler func(peer string, payload []byte)

// Transport carries opaque payloads between named peers, grouped by
// topic. Implementations do not interpret payload bytes; those are the
// serialized envelopes produced by package wire.
type Transport interface {
	// Broadcast hands the payload to every known peer. Unreachable
	// peers are skipped, broadcast is best-effort by design.
	Broadcast(topic string, payload []byte) error
	// SendTo hands the payload to one named peer.
	SendTo(peer string, topic string, payload []byte) error
	// OnReceive registers a handler for all payloads of a topic.
	OnReceive(topic string, handler Handler)
	// Close releases held resources.
	Close() error
}
