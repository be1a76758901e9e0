package crdt

import (
	"math"
)

// Structs

// Ordering is the result of comparing two vector clocks.
type Ordering int

const (
	// OrderBefore means the receiver is strictly dominated by the argument.
	OrderBefore Ordering = iota
	// OrderAfter means the receiver strictly dominates the argument.
	OrderAfter
	// OrderConcurrent means neither clock dominates the other.
	OrderConcurrent
	// OrderEqual means all entries match.
	OrderEqual
)

// VClock is a vector clock mapping replica identifiers to monotonically
// increasing counters. An absent entry counts as zero. A replica only ever
// increments its own entry; entries never decrease.
type VClock map[ReplicaID]uint64

// Functions

// NewVClock returns an empty initialized vector clock.
func NewVClock() VClock {
	return make(VClock)
}

// Increment raises the entry of the supplied replica by one. An entry at
// the maximum representable value is rejected with ErrClockOverflow since
// wraparound would break the monotonicity every consumer relies on.
func (vc VClock) Increment(replica ReplicaID) error {

	if vc[replica] == math.MaxUint64 {
		return ErrClockOverflow
	}

	vc[replica]++

	return nil
}

// Entry returns the counter value recorded for the supplied replica,
// zero if the replica has no entry yet.
func (vc VClock) Entry(replica ReplicaID) uint64 {
	return vc[replica]
}

// Merge folds the entries of the supplied clock into the receiver by
// taking the pointwise maximum across the union of keys.
func (vc VClock) Merge(other VClock) {

	for replica, entry := range other {

		if entry > vc[replica] {
			vc[replica] = entry
		}
	}
}

// Compare relates the receiver to the supplied clock. Before and After
// require strict pointwise domination in one direction, Concurrent holds
// when neither side dominates, Equal when all entries match.
func (vc VClock) Compare(other VClock) Ordering {

	// Track whether either side holds at least
	// one entry greater than the other side's.
	vcGreater := false
	otherGreater := false

	for replica, entry := range vc {

		if entry > other[replica] {
			vcGreater = true
		} else if entry < other[replica] {
			otherGreater = true
		}
	}

	// Entries absent in the receiver but present in the
	// other clock count as zero on the receiving side.
	for replica, entry := range other {

		if _, found := vc[replica]; !found && entry > 0 {
			otherGreater = true
		}
	}

	switch {
	case vcGreater && otherGreater:
		return OrderConcurrent
	case vcGreater:
		return OrderAfter
	case otherGreater:
		return OrderBefore
	default:
		return OrderEqual
	}
}

// Copy returns a deep copy of the vector clock so that snapshots handed
// to the synchronizer stay untouched by later local increments.
func (vc VClock) Copy() VClock {

	copied := make(VClock, len(vc))
	for replica, entry := range vc {
		copied[replica] = entry
	}

	return copied
}
