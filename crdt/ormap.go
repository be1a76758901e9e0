package crdt

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Structs

// ORMap is a composite map from string keys to nested CRDT values of a
// closed set of kinds, including further maps. Key presence is tracked
// with observed-removed tags exactly like ORSet membership, so removing
// a key tombstones its presence tags instead of deleting the value and
// cannot race a concurrent write into resurrection or loss. Value
// mutation delegates to the contained instance's own operations.
type ORMap struct {
	lock       sync.RWMutex
	replica    ReplicaID
	clock      uint64
	presence   map[string]map[Tag]struct{}
	tombstones map[Tag]struct{}
	children   map[string]CRDT
}

// Functions

// NewORMap returns an empty initialized composite map bound to the
// supplied local replica.
func NewORMap(replica ReplicaID) *ORMap {

	return &ORMap{
		replica:    replica,
		presence:   make(map[string]map[Tag]struct{}),
		tombstones: make(map[Tag]struct{}),
		children:   make(map[string]CRDT),
	}
}

// newOfKind constructs an empty instance of the supplied kind bound to
// the supplied replica.
func newOfKind(replica ReplicaID, kind Kind) (CRDT, error) {

	switch kind {
	case KindGCounter:
		return NewGCounter(replica), nil
	case KindPNCounter:
		return NewPNCounter(replica), nil
	case KindORSet:
		return NewORSet(replica), nil
	case KindLWWRegister:
		return NewLWWRegister(replica), nil
	case KindORMap:
		return NewORMap(replica), nil
	default:
		return nil, errors.Wrapf(ErrInvalidMerge, "unknown CRDT kind %d", kind)
	}
}

// Kind returns KindORMap.
func (m *ORMap) Kind() Kind { return KindORMap }

// Put makes the supplied key present under a freshly minted tag, creating
// an empty value of the supplied kind if the key holds none yet, and
// returns the contained instance together with the emitted operation.
// A key already populated with a different kind is a modeling error and
// rejected with ErrInvalidMerge.
func (m *ORMap) Put(key string, kind Kind) (CRDT, Operation, error) {

	m.lock.Lock()
	defer m.lock.Unlock()

	child, found := m.children[key]
	if found && (child.Kind() != kind) {
		return nil, Operation{}, errors.Wrapf(ErrInvalidMerge, "key %q holds %v, not %v", key, child.Kind(), kind)
	}

	if !found {

		created, err := newOfKind(m.replica, kind)
		if err != nil {
			return nil, Operation{}, err
		}

		child = created
		m.children[key] = child
	}

	// Mint a fresh presence tag for the key.
	m.clock++
	tag := Tag{Replica: m.replica, Clock: m.clock}

	if m.presence[key] == nil {
		m.presence[key] = make(map[Tag]struct{})
	}
	m.presence[key][tag] = struct{}{}

	op := Operation{
		Kind:    KindORMap,
		Replica: m.replica,
		Key:     []string{key},
		Add:     true,
		Tags:    []Tag{tag},
		Child:   kind,
	}

	return child, op, nil
}

// Get returns the value stored under the supplied key if the key is
// currently present.
func (m *ORMap) Get(key string) (CRDT, bool) {

	m.lock.RLock()
	defer m.lock.RUnlock()

	if len(m.visibleTags(key)) == 0 {
		return nil, false
	}

	child, found := m.children[key]

	return child, found
}

// Remove tombstones every observed presence tag of the supplied key and
// returns the emitted operation. The contained value is retained so that
// a concurrent or later re-put resurrects the key conflict-free.
// Removing an absent key is a no-op signalled by a false second return
// value.
func (m *ORMap) Remove(key string) (Operation, bool) {

	m.lock.Lock()
	defer m.lock.Unlock()

	observed := m.visibleTags(key)
	if len(observed) == 0 {
		return Operation{}, false
	}

	for _, tag := range observed {
		m.tombstones[tag] = struct{}{}
	}

	op := Operation{
		Kind:    KindORMap,
		Replica: m.replica,
		Key:     []string{key},
		Tags:    observed,
	}

	return op, true
}

// Keys returns all currently present keys in lexicographic order.
func (m *ORMap) Keys() []string {

	m.lock.RLock()
	defer m.lock.RUnlock()

	keys := make([]string, 0, len(m.presence))
	for key := range m.presence {

		if len(m.visibleTags(key)) > 0 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	return keys
}

// Len returns the number of currently present keys.
func (m *ORMap) Len() int {
	return len(m.Keys())
}

// Value resolves the map to plain Go values, recursing into nested
// instances for every present key.
func (m *ORMap) Value() interface{} {

	resolved := make(map[string]interface{})

	for _, key := range m.Keys() {

		if child, found := m.Get(key); found {
			resolved[key] = child.Value()
		}
	}

	return resolved
}

// Snapshot returns a deep copy of presence tags, tombstones and all
// child states, present or tombstoned. Tombstoned children travel with
// the snapshot because their state may still win a merge elsewhere.
func (m *ORMap) Snapshot() *State {

	m.lock.RLock()
	defer m.lock.RUnlock()

	adds := make(map[string][]Tag, len(m.presence))
	for key, tags := range m.presence {

		copied := make([]Tag, 0, len(tags))
		for tag := range tags {
			copied = append(copied, tag)
		}
		adds[key] = copied
	}

	tombstones := make([]Tag, 0, len(m.tombstones))
	for tag := range m.tombstones {
		tombstones = append(tombstones, tag)
	}

	children := make(map[string]*State, len(m.children))
	for key, child := range m.children {
		children[key] = child.Snapshot()
	}

	return &State{
		Kind:       KindORMap,
		Adds:       adds,
		Tombstones: tombstones,
		Children:   children,
	}
}

// Merge folds a remote map state into this one: union of presence tags
// and tombstones decides key survival, then values merge per key,
// recursively. A kind mismatch on any key aborts with ErrInvalidMerge.
func (m *ORMap) Merge(st *State) error {

	if st.Kind != KindORMap {
		return errors.Wrapf(ErrInvalidMerge, "cannot merge %v into or-map", st.Kind)
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	// Validate child kinds up front, down the whole nesting, so that
	// a rejected merge leaves prior state untouched at every level.
	if err := m.validateMerge(st); err != nil {
		return err
	}

	for key, tags := range st.Adds {

		if m.presence[key] == nil {
			m.presence[key] = make(map[Tag]struct{})
		}

		for _, tag := range tags {
			m.presence[key][tag] = struct{}{}
			m.observeTag(tag)
		}
	}

	for _, tag := range st.Tombstones {
		m.tombstones[tag] = struct{}{}
		m.observeTag(tag)
	}

	for key, childState := range st.Children {

		child, found := m.children[key]
		if !found {

			created, err := FromState(m.replica, childState)
			if err != nil {
				return err
			}

			m.children[key] = created
			continue
		}

		if err := child.Merge(childState); err != nil {
			return err
		}
	}

	return nil
}

// Apply folds a single operation into the map. Operations carrying a key
// path of length one and map kind change key presence; anything longer
// or of another kind routes to the contained instance, materializing it
// first if the remote got ahead of us.
func (m *ORMap) Apply(op Operation) error {

	if len(op.Key) == 0 {
		return errors.Wrap(ErrInvalidMerge, "map operation without key path")
	}

	key := op.Key[0]

	// Presence change on a key of this map.
	if (len(op.Key) == 1) && (op.Kind == KindORMap) {
		return m.applyPresence(key, op)
	}

	// Determine which kind the routed-to child has to be.
	expected := op.Kind
	if len(op.Key) > 1 {
		expected = KindORMap
	}

	child, err := m.childForApply(key, expected)
	if err != nil {
		return err
	}

	op.Key = op.Key[1:]

	return child.Apply(op)
}

// applyPresence folds a remote key-put or key-remove into the presence
// tracking of this map.
func (m *ORMap) applyPresence(key string, op Operation) error {

	m.lock.Lock()
	defer m.lock.Unlock()

	if !op.Add {

		for _, tag := range op.Tags {
			m.tombstones[tag] = struct{}{}
			m.observeTag(tag)
		}

		return nil
	}

	if child, found := m.children[key]; found && (op.Child != 0) && (child.Kind() != op.Child) {
		return errors.Wrapf(ErrInvalidMerge, "key %q holds %v, remote put %v", key, child.Kind(), op.Child)
	}

	if _, found := m.children[key]; !found && (op.Child != 0) {

		created, err := newOfKind(m.replica, op.Child)
		if err != nil {
			return err
		}

		m.children[key] = created
	}

	if m.presence[key] == nil {
		m.presence[key] = make(map[Tag]struct{})
	}

	for _, tag := range op.Tags {
		m.presence[key][tag] = struct{}{}
		m.observeTag(tag)
	}

	return nil
}

// childForApply returns the child stored under key, materializing an
// empty instance of the expected kind when a remote operation arrives
// ahead of the presence update that created the key. Structure lookups
// only briefly hold the map lock so that operations on different keys
// do not serialize against one another.
func (m *ORMap) childForApply(key string, expected Kind) (CRDT, error) {

	m.lock.RLock()
	child, found := m.children[key]
	m.lock.RUnlock()

	if found {

		if child.Kind() != expected {
			return nil, errors.Wrapf(ErrInvalidMerge, "key %q holds %v, operation targets %v", key, child.Kind(), expected)
		}

		return child, nil
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	// Re-check under the write lock.
	if child, found = m.children[key]; found {

		if child.Kind() != expected {
			return nil, errors.Wrapf(ErrInvalidMerge, "key %q holds %v, operation targets %v", key, child.Kind(), expected)
		}

		return child, nil
	}

	created, err := newOfKind(m.replica, expected)
	if err != nil {
		return nil, err
	}

	m.children[key] = created

	return created, nil
}

// validateMerge checks a remote map state against local children for
// kind mismatches, descending into nested maps, before any state is
// touched. Caller has to hold the lock.
func (m *ORMap) validateMerge(st *State) error {

	for key, childState := range st.Children {

		child, found := m.children[key]
		if !found {

			// Nothing materialized locally, but the remote subtree
			// still has to carry only known kinds so that building
			// it cannot fail midway.
			if err := validateStateKinds(childState); err != nil {
				return err
			}

			continue
		}

		if child.Kind() != childState.Kind {
			return errors.Wrapf(ErrInvalidMerge, "key %q holds %v, remote sent %v", key, child.Kind(), childState.Kind)
		}

		if nested, ok := child.(*ORMap); ok {

			nested.lock.RLock()
			err := nested.validateMerge(childState)
			nested.lock.RUnlock()

			if err != nil {
				return err
			}
		}
	}

	return nil
}

// validateStateKinds walks a state subtree and rejects unknown kinds.
func validateStateKinds(st *State) error {

	if !st.Kind.Known() {
		return errors.Wrapf(ErrInvalidMerge, "unknown CRDT kind %d in state", st.Kind)
	}

	for _, childState := range st.Children {

		if err := validateStateKinds(childState); err != nil {
			return err
		}
	}

	return nil
}

// KindAt returns the kind of the instance materialized under the
// supplied key path, descending through nested maps, and false if the
// path reaches no instance.
func (m *ORMap) KindAt(path []string) (Kind, bool) {

	if len(path) == 0 {
		return KindORMap, true
	}

	m.lock.RLock()
	child, found := m.children[path[0]]
	m.lock.RUnlock()

	if !found {
		return 0, false
	}

	if len(path) == 1 {
		return child.Kind(), true
	}

	nested, ok := child.(*ORMap)
	if !ok {
		return 0, false
	}

	return nested.KindAt(path[1:])
}

// visibleTags collects the presence tags of a key that are not
// tombstoned. Caller has to hold the lock.
func (m *ORMap) visibleTags(key string) []Tag {

	tags, found := m.presence[key]
	if !found {
		return nil
	}

	visible := make([]Tag, 0, len(tags))
	for tag := range tags {

		if _, removed := m.tombstones[tag]; !removed {
			visible = append(visible, tag)
		}
	}

	return visible
}

// observeTag advances the local tag counter past any own tag seen in
// merged or replayed input. Caller has to hold the lock.
func (m *ORMap) observeTag(tag Tag) {

	if (tag.Replica == m.replica) && (tag.Clock > m.clock) {
		m.clock = tag.Clock
	}
}
