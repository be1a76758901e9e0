package crdt

import (
	"math"
	"sync"

	"github.com/pkg/errors"
)

// Structs

// PNCounter is an increment/decrement counter for net-balance accounting.
// Decrements are modeled as increments to a separate grow-only half, so
// that merging stays a simple pointwise maximum on both halves.
type PNCounter struct {
	lock    sync.RWMutex
	replica ReplicaID
	pos     map[ReplicaID]uint64
	neg     map[ReplicaID]uint64
}

// Functions

// NewPNCounter returns an empty initialized PN-Counter bound to the
// supplied local replica.
func NewPNCounter(replica ReplicaID) *PNCounter {

	return &PNCounter{
		replica: replica,
		pos:     make(map[ReplicaID]uint64),
		neg:     make(map[ReplicaID]uint64),
	}
}

// Kind returns KindPNCounter.
func (c *PNCounter) Kind() Kind { return KindPNCounter }

// Increment raises the local replica's increment entry by the supplied
// amount and returns the emitted operation.
func (c *PNCounter) Increment(amount int64) (Operation, error) {
	return c.grow(amount, false)
}

// Decrement raises the local replica's decrement entry by the supplied
// amount and returns the emitted operation. The amount is passed as the
// positive quantity to subtract.
func (c *PNCounter) Decrement(amount int64) (Operation, error) {
	return c.grow(amount, true)
}

// grow advances one half of the counter. Negative amounts are rejected
// with ErrNegativeAmount, entry overflow with ErrClockOverflow; a
// rejected call leaves prior state untouched.
func (c *PNCounter) grow(amount int64, negative bool) (Operation, error) {

	if amount < 0 {
		return Operation{}, errors.Wrapf(ErrNegativeAmount, "cannot grow pn-counter by %d", amount)
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	half := c.pos
	if negative {
		half = c.neg
	}

	entry := half[c.replica]
	if uint64(amount) > (math.MaxUint64 - entry) {
		return Operation{}, errors.Wrap(ErrClockOverflow, "pn-counter entry")
	}

	entry += uint64(amount)
	half[c.replica] = entry

	return Operation{
		Kind:     KindPNCounter,
		Replica:  c.replica,
		Entry:    entry,
		Negative: negative,
	}, nil
}

// Value returns the sum of all increment entries minus the sum of all
// decrement entries.
func (c *PNCounter) Value() interface{} {

	c.lock.RLock()
	defer c.lock.RUnlock()

	var total int64
	for _, entry := range c.pos {
		total += int64(entry)
	}
	for _, entry := range c.neg {
		total -= int64(entry)
	}

	return total
}

// Snapshot returns a deep copy of both halves of the counter.
func (c *PNCounter) Snapshot() *State {

	c.lock.RLock()
	defer c.lock.RUnlock()

	return &State{
		Kind:    KindPNCounter,
		Entries: copyEntries(c.pos),
		Neg:     copyEntries(c.neg),
	}
}

// Merge folds a remote PN-Counter state into this one by pointwise
// maximum on both halves.
func (c *PNCounter) Merge(st *State) error {

	if st.Kind != KindPNCounter {
		return errors.Wrapf(ErrInvalidMerge, "cannot merge %v into pn-counter", st.Kind)
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	mergeEntries(c.pos, st.Entries)
	mergeEntries(c.neg, st.Neg)

	return nil
}

// Apply folds a single increment or decrement operation into the
// targeted half via pointwise max.
func (c *PNCounter) Apply(op Operation) error {

	if op.Kind != KindPNCounter {
		return errors.Wrapf(ErrInvalidMerge, "cannot apply %v operation to pn-counter", op.Kind)
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	half := c.pos
	if op.Negative {
		half = c.neg
	}

	if op.Entry > half[op.Replica] {
		half[op.Replica] = op.Entry
	}

	return nil
}
