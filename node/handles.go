package node

import (
	"math"

	"github.com/pkg/errors"

	"github.com/go-concord/concord/crdt"
)

// Structs

// Map is the consumer handle onto a composite map, the root one or any
// nested one. Handles are cheap, stateless views: they carry the key
// path down from the root so that every committed operation can be
// routed on a remote replica.
type Map struct {
	node *Node
	path []string
	m    *crdt.ORMap
}

// Counter is the consumer handle onto a grow-only counter.
type Counter struct {
	node *Node
	path []string
	c    *crdt.GCounter
}

// PNCounter is the consumer handle onto an increment/decrement counter.
type PNCounter struct {
	node *Node
	path []string
	c    *crdt.PNCounter
}

// Set is the consumer handle onto an observed-removed set.
type Set struct {
	node *Node
	path []string
	s    *crdt.ORSet
}

// Register is the consumer handle onto a last-writer-wins register.
type Register struct {
	node *Node
	path []string
	r    *crdt.LWWRegister
}

// Functions

// childPath returns a fresh path slice extended by the supplied key, so
// that sibling handles never alias each other's backing arrays.
func childPath(path []string, key string) []string {

	extended := make([]string, 0, (len(path) + 1))
	extended = append(extended, path...)
	extended = append(extended, key)

	return extended
}

// GCounter returns the grow-only counter stored under the supplied key,
// creating and committing an empty one if the key holds none yet. A key
// populated with another kind is rejected with ErrInvalidMerge.
func (h *Map) GCounter(key string) (*Counter, error) {

	child, err := h.put(key, crdt.KindGCounter)
	if err != nil {
		return nil, err
	}

	return &Counter{
		node: h.node,
		path: childPath(h.path, key),
		c:    child.(*crdt.GCounter),
	}, nil
}

// PNCounter returns the increment/decrement counter stored under the
// supplied key, creating and committing an empty one if the key holds
// none yet.
func (h *Map) PNCounter(key string) (*PNCounter, error) {

	child, err := h.put(key, crdt.KindPNCounter)
	if err != nil {
		return nil, err
	}

	return &PNCounter{
		node: h.node,
		path: childPath(h.path, key),
		c:    child.(*crdt.PNCounter),
	}, nil
}

// Set returns the observed-removed set stored under the supplied key,
// creating and committing an empty one if the key holds none yet.
func (h *Map) Set(key string) (*Set, error) {

	child, err := h.put(key, crdt.KindORSet)
	if err != nil {
		return nil, err
	}

	return &Set{
		node: h.node,
		path: childPath(h.path, key),
		s:    child.(*crdt.ORSet),
	}, nil
}

// Register returns the last-writer-wins register stored under the
// supplied key, creating and committing an empty one if the key holds
// none yet.
func (h *Map) Register(key string) (*Register, error) {

	child, err := h.put(key, crdt.KindLWWRegister)
	if err != nil {
		return nil, err
	}

	return &Register{
		node: h.node,
		path: childPath(h.path, key),
		r:    child.(*crdt.LWWRegister),
	}, nil
}

// Map returns the nested composite map stored under the supplied key,
// creating and committing an empty one if the key holds none yet.
func (h *Map) Map(key string) (*Map, error) {

	child, err := h.put(key, crdt.KindORMap)
	if err != nil {
		return nil, err
	}

	return &Map{
		node: h.node,
		path: childPath(h.path, key),
		m:    child.(*crdt.ORMap),
	}, nil
}

// put runs the presence update on the backing map and commits the
// emitted operation.
func (h *Map) put(key string, kind crdt.Kind) (crdt.CRDT, error) {

	h.node.stateLock.RLock()
	defer h.node.stateLock.RUnlock()

	if err := h.node.precommit(); err != nil {
		return nil, err
	}

	child, op, err := h.m.Put(key, kind)
	if err != nil {
		return nil, err
	}

	if err := h.node.commit(h.path, op); err != nil {
		return nil, err
	}

	return child, nil
}

// Remove tombstones the supplied key's observed presence and commits
// the emitted operation. Removing an absent key is a no-op signalled by
// a false first return value.
func (h *Map) Remove(key string) (bool, error) {

	h.node.stateLock.RLock()
	defer h.node.stateLock.RUnlock()

	if err := h.node.precommit(); err != nil {
		return false, err
	}

	op, removed := h.m.Remove(key)
	if !removed {
		return false, nil
	}

	if err := h.node.commit(h.path, op); err != nil {
		return true, err
	}

	return true, nil
}

// Keys returns all currently present keys in lexicographic order.
func (h *Map) Keys() []string {

	h.node.stateLock.RLock()
	defer h.node.stateLock.RUnlock()

	return h.m.Keys()
}

// Value resolves the map and all nested instances to plain Go values.
func (h *Map) Value() map[string]interface{} {

	h.node.stateLock.RLock()
	defer h.node.stateLock.RUnlock()

	return h.m.Value().(map[string]interface{})
}

// Increment raises the counter by the supplied amount and commits the
// emitted operation.
func (h *Counter) Increment(amount int64) error {

	h.node.stateLock.RLock()
	defer h.node.stateLock.RUnlock()

	if err := h.node.precommit(); err != nil {
		return err
	}

	op, err := h.c.Increment(amount)
	if err != nil {
		return err
	}

	return h.node.commit(h.path, op)
}

// Value returns the counter total.
func (h *Counter) Value() uint64 {

	h.node.stateLock.RLock()
	defer h.node.stateLock.RUnlock()

	return h.c.Value().(uint64)
}

// Increment raises the counter by the supplied amount and commits the
// emitted operation.
func (h *PNCounter) Increment(amount int64) error {
	return h.grow(amount, false)
}

// Decrement lowers the counter by the supplied positive amount and
// commits the emitted operation.
func (h *PNCounter) Decrement(amount int64) error {
	return h.grow(amount, true)
}

func (h *PNCounter) grow(amount int64, negative bool) error {

	h.node.stateLock.RLock()
	defer h.node.stateLock.RUnlock()

	if err := h.node.precommit(); err != nil {
		return err
	}

	var op crdt.Operation
	var err error

	if negative {
		op, err = h.c.Decrement(amount)
	} else {
		op, err = h.c.Increment(amount)
	}
	if err != nil {
		return err
	}

	return h.node.commit(h.path, op)
}

// Value returns the counter's net balance.
func (h *PNCounter) Value() int64 {

	h.node.stateLock.RLock()
	defer h.node.stateLock.RUnlock()

	return h.c.Value().(int64)
}

// Add inserts the supplied element and commits the emitted operation.
func (h *Set) Add(element string) error {

	h.node.stateLock.RLock()
	defer h.node.stateLock.RUnlock()

	if err := h.node.precommit(); err != nil {
		return err
	}

	return h.node.commit(h.path, h.s.Add(element))
}

// Remove tombstones the supplied element's observed tags and commits
// the emitted operation. Removing an absent element is a no-op
// signalled by a false first return value.
func (h *Set) Remove(element string) (bool, error) {

	h.node.stateLock.RLock()
	defer h.node.stateLock.RUnlock()

	if err := h.node.precommit(); err != nil {
		return false, err
	}

	op, removed := h.s.Remove(element)
	if !removed {
		return false, nil
	}

	if err := h.node.commit(h.path, op); err != nil {
		return true, err
	}

	return true, nil
}

// Contains reports whether the supplied element is currently in the set.
func (h *Set) Contains(element string) bool {

	h.node.stateLock.RLock()
	defer h.node.stateLock.RUnlock()

	return h.s.Contains(element)
}

// Elements returns all contained elements in lexicographic order.
func (h *Set) Elements() []string {

	h.node.stateLock.RLock()
	defer h.node.stateLock.RUnlock()

	return h.s.Elements()
}

// Assign replaces the register content with the supplied value and
// commits the emitted operation. The logical timestamp advances past
// the currently winning one, Lamport style, so a local write always
// supersedes every write this replica has observed.
func (h *Register) Assign(value interface{}) error {

	h.node.stateLock.RLock()
	defer h.node.stateLock.RUnlock()

	if err := h.node.precommit(); err != nil {
		return err
	}

	time := h.r.Time()
	if time == math.MaxUint64 {
		return errors.Wrap(crdt.ErrClockOverflow, "register timestamp")
	}

	op := h.r.Assign(value, (time + 1))

	return h.node.commit(h.path, op)
}

// Value returns the currently winning value, nil while unassigned.
func (h *Register) Value() interface{} {

	h.node.stateLock.RLock()
	defer h.node.stateLock.RUnlock()

	return h.r.Value()
}
