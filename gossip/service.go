package gossip

import (
	"context"

	"github.com/pkg/errors"

	"github.com/go-concord/concord/crdt"
	"github.com/go-concord/concord/wire"
)

// Variables

var (
	// ErrSyncTimeout is returned when a round does not complete within
	// its context deadline. The condition is transient; the scheduler
	// retries on its next tick, possibly against a different peer.
	ErrSyncTimeout = errors.New("synchronization round timed out")

	// ErrRoundInFlight is returned when a round is requested while
	// another one has not finished yet. A synchronizer runs at most
	// one round at a time.
	ErrRoundInFlight = errors.New("synchronization round already in flight")
)

// Structs

// RoundState names the stations of one synchronization round.
type RoundState int

const (
	StateIdle RoundState = iota
	StateDigestSent
	StateDeltaReceived
	StateMerged
	StateConverged
)

// Replica is the engine surface the synchronizer drives. Package node
// provides the implementation; the indirection keeps this package free
// of state-management concerns and testable against fakes.
type Replica interface {
	// ID returns the local replica identifier.
	ID() crdt.ReplicaID
	// SnapshotVClock returns a copy of the current vector clock.
	SnapshotVClock() crdt.VClock
	// DeltaSince builds the envelope that carries everything a peer
	// at the supplied clock is missing. An envelope without
	// operations and state signals that the peer is caught up.
	DeltaSince(vc crdt.VClock) (*wire.Envelope, error)
	// ApplyDelta merges a received delta or state envelope into
	// local state as one atomic batch.
	ApplyDelta(env *wire.Envelope) error
}

// Service is the surface one synchronization round is requested
// through. It exists so that logging and metrics middleware can wrap
// the synchronizer the same way the other services of this code base
// are wrapped.
type Service interface {
	// Sync performs one round against the named peer as initiator.
	Sync(ctx context.Context, peer string) error
}

// String returns the human-readable name of a round state.
func (s RoundState) String() string {

	switch s {
	case StateIdle:
		return "idle"
	case StateDigestSent:
		return "digest-sent"
	case StateDeltaReceived:
		return "delta-received"
	case StateMerged:
		return "merged"
	case StateConverged:
		return "converged"
	default:
		return "unknown"
	}
}
