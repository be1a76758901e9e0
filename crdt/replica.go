package crdt

import (
	uuid "github.com/satori/go.uuid"
)

// Structs

// ReplicaID is the opaque, globally unique identifier of one participating
// node. It is assigned once per node for its lifetime and attributes every
// operation to its origin.
type ReplicaID string

// Kind enumerates the closed set of CRDT shapes this package supports.
// The composite map stores its values behind this tag and rejects merges
// across mismatched kinds instead of attempting type coercion.
type Kind uint8

const (
	KindGCounter Kind = iota + 1
	KindPNCounter
	KindORSet
	KindLWWRegister
	KindORMap
)

// Functions

// NewReplicaID mints a fresh random replica identifier. Deployments that
// assign stable names via configuration pass those through ReplicaID(name)
// instead.
func NewReplicaID() ReplicaID {
	return ReplicaID(uuid.NewV4().String())
}

// Known reports whether the kind is one of the supported shapes.
// Anything else on the wire marks a broken or newer peer.
func (k Kind) Known() bool {
	return (k >= KindGCounter) && (k <= KindORMap)
}

// String returns the human-readable name of a CRDT kind, used in log
// output and error messages.
func (k Kind) String() string {

	switch k {
	case KindGCounter:
		return "g-counter"
	case KindPNCounter:
		return "pn-counter"
	case KindORSet:
		return "or-set"
	case KindLWWRegister:
		return "lww-register"
	case KindORMap:
		return "or-map"
	default:
		return "unknown"
	}
}
