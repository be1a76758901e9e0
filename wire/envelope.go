package wire

import (
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/go-concord/concord/crdt"
)

// Structs

// MsgType tags the payload shape of an envelope.
type MsgType uint8

const (
	// MsgDigest carries only the sender's vector clock summary and
	// opens a synchronization round.
	MsgDigest MsgType = iota + 1
	// MsgDelta carries the operations the receiver has not observed
	// yet. An empty operation list signals convergence.
	MsgDelta
	// MsgState carries a full state snapshot, the always-valid
	// fallback when a delta cannot cover the gap.
	MsgState
	// MsgOp carries a single freshly committed operation broadcast
	// outside of scheduled rounds.
	MsgOp
)

// Variables

// ErrMalformedPayload is returned when a received payload is truncated,
// of an unknown message type or otherwise fails to decode.
var ErrMalformedPayload = errors.New("malformed wire payload")

// Envelope is the unit of exchange between replicas. Every envelope
// names its payload shape, the emitting replica and that replica's
// vector clock snapshot at emission time.
type Envelope struct {
	Type    MsgType          `msgpack:"type"`
	Replica crdt.ReplicaID   `msgpack:"replica"`
	VClock  crdt.VClock      `msgpack:"vclock"`
	Ops     []crdt.Operation `msgpack:"ops,omitempty"`
	State   *crdt.State      `msgpack:"state,omitempty"`
}

// Functions

// Marshal encodes an envelope for transmission or persistence.
func Marshal(env *Envelope) ([]byte, error) {

	data, err := msgpack.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal envelope")
	}

	return data, nil
}

// Unmarshal decodes a received payload back into an envelope. Anything
// that fails to decode or does not carry a known message type is
// rejected with ErrMalformedPayload.
func Unmarshal(data []byte) (*Envelope, error) {

	env := &Envelope{}

	if err := msgpack.Unmarshal(data, env); err != nil {
		return nil, errors.Wrapf(ErrMalformedPayload, "failed to unmarshal envelope: %v", err)
	}

	if (env.Type < MsgDigest) || (env.Type > MsgOp) {
		return nil, errors.Wrapf(ErrMalformedPayload, "unknown message type %d", env.Type)
	}

	if env.Replica == "" {
		return nil, errors.Wrap(ErrMalformedPayload, "envelope without replica")
	}

	return env, nil
}
