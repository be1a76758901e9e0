package crdt

import (
	"sync"

	"github.com/pkg/errors"
)

// Structs

// LWWRegister is a last-writer-wins register. Merging keeps the side with
// the lexicographically greater (timestamp, writer) pair; the writer
// identifier is an arbitrary but fixed deterministic tiebreaker for equal
// timestamps, not a measure of trust or precedence.
//
// Timestamps are logical by default: package node derives them from the
// local vector clock entry, Lamport style. Feeding NTP-synced wall clock
// values works as well but degrades "last write" to "write with the
// highest observed timestamp" under clock skew.
type LWWRegister struct {
	lock    sync.RWMutex
	replica ReplicaID
	val     interface{}
	time    uint64
	writer  ReplicaID
}

// Functions

// NewLWWRegister returns an empty initialized register bound to the
// supplied local replica.
func NewLWWRegister(replica ReplicaID) *LWWRegister {

	return &LWWRegister{
		replica: replica,
	}
}

// Kind returns KindLWWRegister.
func (r *LWWRegister) Kind() Kind { return KindLWWRegister }

// Assign replaces the register content unconditionally with the supplied
// value at the supplied logical timestamp and returns the emitted
// operation. The later-wins comparison happens at merge time, not here.
func (r *LWWRegister) Assign(value interface{}, time uint64) Operation {

	r.lock.Lock()
	defer r.lock.Unlock()

	r.val = value
	r.time = time
	r.writer = r.replica

	return Operation{
		Kind:    KindLWWRegister,
		Replica: r.replica,
		Value:   value,
		Time:    time,
	}
}

// Value returns the currently winning value, nil while unassigned.
func (r *LWWRegister) Value() interface{} {

	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.val
}

// Time returns the timestamp of the currently winning value.
func (r *LWWRegister) Time() uint64 {

	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.time
}

// Snapshot returns a copy of the register's full state.
func (r *LWWRegister) Snapshot() *State {

	r.lock.RLock()
	defer r.lock.RUnlock()

	return &State{
		Kind:   KindLWWRegister,
		Value:  r.val,
		Time:   r.time,
		Writer: r.writer,
	}
}

// Merge keeps whichever of local and remote state carries the greater
// (timestamp, writer) pair.
func (r *LWWRegister) Merge(st *State) error {

	if st.Kind != KindLWWRegister {
		return errors.Wrapf(ErrInvalidMerge, "cannot merge %v into lww-register", st.Kind)
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	r.fold(st.Value, st.Time, st.Writer)

	return nil
}

// Apply folds a single assignment operation into the register.
func (r *LWWRegister) Apply(op Operation) error {

	if op.Kind != KindLWWRegister {
		return errors.Wrapf(ErrInvalidMerge, "cannot apply %v operation to lww-register", op.Kind)
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	r.fold(op.Value, op.Time, op.Replica)

	return nil
}

// fold applies the deterministic last-writer-wins rule. A zero writer
// marks the unassigned state and always loses. Caller has to hold the
// lock.
func (r *LWWRegister) fold(value interface{}, time uint64, writer ReplicaID) {

	if writer == "" {
		return
	}

	if (time > r.time) || ((time == r.time) && (writer > r.writer)) {
		r.val = value
		r.time = time
		r.writer = writer
	}
}
