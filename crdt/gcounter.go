package crdt

import (
	"math"
	"sync"

	"github.com/pkg/errors"
)

// Structs

// GCounter is a grow-only counter. It tracks one non-decreasing entry per
// replica; the counter value is the sum over all entries and merging takes
// the pointwise maximum per entry. Suited for monotonic accounting such as
// cumulative resource generation.
type GCounter struct {
	lock    sync.RWMutex
	replica ReplicaID
	entries map[ReplicaID]uint64
}

// Functions

// NewGCounter returns an empty initialized grow-only counter bound to the
// supplied local replica.
func NewGCounter(replica ReplicaID) *GCounter {

	return &GCounter{
		replica: replica,
		entries: make(map[ReplicaID]uint64),
	}
}

// Kind returns KindGCounter.
func (c *GCounter) Kind() Kind { return KindGCounter }

// Increment raises the local replica's entry by the supplied amount and
// returns the emitted operation. Negative amounts are rejected with
// ErrNegativeAmount, amounts that would overflow the entry with
// ErrClockOverflow. A rejected increment leaves prior state untouched.
func (c *GCounter) Increment(amount int64) (Operation, error) {

	if amount < 0 {
		return Operation{}, errors.Wrapf(ErrNegativeAmount, "cannot grow g-counter by %d", amount)
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	entry := c.entries[c.replica]
	if uint64(amount) > (math.MaxUint64 - entry) {
		return Operation{}, errors.Wrap(ErrClockOverflow, "g-counter entry")
	}

	entry += uint64(amount)
	c.entries[c.replica] = entry

	return Operation{
		Kind:    KindGCounter,
		Replica: c.replica,
		Entry:   entry,
	}, nil
}

// Value returns the sum over all replica entries.
func (c *GCounter) Value() interface{} {

	c.lock.RLock()
	defer c.lock.RUnlock()

	var total uint64
	for _, entry := range c.entries {
		total += entry
	}

	return total
}

// Snapshot returns a deep copy of the counter's full state.
func (c *GCounter) Snapshot() *State {

	c.lock.RLock()
	defer c.lock.RUnlock()

	return &State{
		Kind:    KindGCounter,
		Entries: copyEntries(c.entries),
	}
}

// Merge folds a remote counter state into this one by taking the
// pointwise maximum per replica entry.
func (c *GCounter) Merge(st *State) error {

	if st.Kind != KindGCounter {
		return errors.Wrapf(ErrInvalidMerge, "cannot merge %v into g-counter", st.Kind)
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	mergeEntries(c.entries, st.Entries)

	return nil
}

// Apply folds a single increment operation into the counter. The
// operation carries the origin's resulting entry, so application via
// pointwise max is idempotent and tolerates reordering.
func (c *GCounter) Apply(op Operation) error {

	if op.Kind != KindGCounter {
		return errors.Wrapf(ErrInvalidMerge, "cannot apply %v operation to g-counter", op.Kind)
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if op.Entry > c.entries[op.Replica] {
		c.entries[op.Replica] = op.Entry
	}

	return nil
}
