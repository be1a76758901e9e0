package crdt

import (
	"github.com/pkg/errors"
)

// Structs

// CRDT is the interface every replicated type of this package implements.
// Snapshot and Merge exchange full state, Apply folds in one operation
// from a delta, Value reads the resolved current value.
type CRDT interface {
	// Kind returns the shape tag of this instance.
	Kind() Kind
	// Value returns the resolved current value.
	Value() interface{}
	// Snapshot returns a deep copy of the full state, safe to hand to
	// the codec while local mutations continue.
	Snapshot() *State
	// Merge folds a remote state snapshot into this instance.
	Merge(st *State) error
	// Apply folds a single operation into this instance with merge
	// semantics, tolerating duplication and reordering.
	Apply(op Operation) error
}

// State is the self-describing full-state representation of any CRDT of
// this package. Exactly the fields matching Kind are populated; all others
// stay at their zero value and are omitted on the wire.
type State struct {
	Kind Kind `msgpack:"kind"`

	// Grow-only counter entries, also the increment half
	// of a PN-Counter.
	Entries map[ReplicaID]uint64 `msgpack:"entries,omitempty"`

	// Decrement half of a PN-Counter.
	Neg map[ReplicaID]uint64 `msgpack:"neg,omitempty"`

	// Observed-removed element tags and tombstones, also used for
	// the key presence tracking of the composite map.
	Adds       map[string][]Tag `msgpack:"adds,omitempty"`
	Tombstones []Tag            `msgpack:"tombstones,omitempty"`

	// Last-writer-wins register content.
	Value  interface{} `msgpack:"value,omitempty"`
	Time   uint64      `msgpack:"time,omitempty"`
	Writer ReplicaID   `msgpack:"writer,omitempty"`

	// Child states of a composite map, keyed like the map itself.
	Children map[string]*State `msgpack:"children,omitempty"`
}

// Functions

// FromState constructs a fresh instance bound to the supplied replica and
// initializes it with the supplied state snapshot. It is the counterpart
// of Snapshot used when remote state introduces a value the local node
// has not materialized yet.
func FromState(replica ReplicaID, st *State) (CRDT, error) {

	var c CRDT

	switch st.Kind {
	case KindGCounter:
		c = NewGCounter(replica)
	case KindPNCounter:
		c = NewPNCounter(replica)
	case KindORSet:
		c = NewORSet(replica)
	case KindLWWRegister:
		c = NewLWWRegister(replica)
	case KindORMap:
		c = NewORMap(replica)
	default:
		return nil, errors.Wrapf(ErrInvalidMerge, "unknown CRDT kind %d in state", st.Kind)
	}

	if err := c.Merge(st); err != nil {
		return nil, err
	}

	return c, nil
}

// mergeEntries folds remote counter entries into local ones by pointwise
// maximum and reports whether any local entry changed.
func mergeEntries(local map[ReplicaID]uint64, remote map[ReplicaID]uint64) {

	for replica, entry := range remote {

		if entry > local[replica] {
			local[replica] = entry
		}
	}
}

// copyEntries returns a deep copy of a counter entry map.
func copyEntries(entries map[ReplicaID]uint64) map[ReplicaID]uint64 {

	copied := make(map[ReplicaID]uint64, len(entries))
	for replica, entry := range entries {
		copied[replica] = entry
	}

	return copied
}
