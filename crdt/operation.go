package crdt

// Structs

// Tag uniquely identifies one add (or key-put) event. Uniqueness follows
// from the pair of originating replica and that replica's strictly
// increasing local tag counter, which is what lets concurrent add and
// remove of the same element resolve without destructive collision.
type Tag struct {
	Replica ReplicaID `msgpack:"replica"`
	Clock   uint64    `msgpack:"clock"`
}

// Operation is the unit of change every local mutation emits. It is
// appended to the operation log for audit and replay and shipped to peers
// inside delta envelopes. Applying an operation has merge semantics:
// re-application and reordering are harmless because each field is folded
// in with the same pointwise-max or set-union rule a full-state merge uses.
type Operation struct {
	// Kind of the primitive this operation targets.
	Kind Kind `msgpack:"kind"`

	// Replica that generated the operation.
	Replica ReplicaID `msgpack:"replica"`

	// Clock is the origin replica's vector clock entry after the
	// operation was generated. It is filled in by the node at commit
	// time and drives the delta filter during gossip.
	Clock uint64 `msgpack:"clock"`

	// Key is the path from the root map to the targeted instance,
	// empty for a standalone primitive.
	Key []string `msgpack:"key,omitempty"`

	// Entry carries the resulting per-replica counter entry of an
	// increment or decrement, folded in via pointwise max.
	Entry uint64 `msgpack:"entry,omitempty"`

	// Negative marks Entry as targeting the decrement half
	// of a PN-Counter.
	Negative bool `msgpack:"negative,omitempty"`

	// Element and Add describe set membership changes. An add mints
	// exactly one fresh tag in Tags, a remove lists every observed
	// tag to tombstone.
	Element string `msgpack:"element,omitempty"`
	Add     bool   `msgpack:"add,omitempty"`
	Tags    []Tag  `msgpack:"tags,omitempty"`

	// Value, Time and the origin replica describe a register
	// assignment resolved by the (Time, Replica) pair.
	Value interface{} `msgpack:"value,omitempty"`
	Time  uint64      `msgpack:"time,omitempty"`

	// Child names the kind to instantiate when a map put creates
	// the value under a fresh key.
	Child Kind `msgpack:"child,omitempty"`
}

// Functions

// WithPrefix returns a copy of the operation whose key path is extended
// at the front, used when a nested instance's operation bubbles up
// through its enclosing maps.
func (op Operation) WithPrefix(key string) Operation {

	path := make([]string, 0, (len(op.Key) + 1))
	path = append(path, key)
	path = append(path, op.Key...)
	op.Key = path

	return op
}
