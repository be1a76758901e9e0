package crdt

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Structs

// ORSet is an observed-removed set over string elements. Every add mints a
// unique tag of the local replica and its strictly increasing tag counter;
// a remove tombstones exactly the tags it has observed. An element is
// contained while at least one of its tags is not tombstoned, which makes
// adds win over concurrent removes that did not observe them.
type ORSet struct {
	lock       sync.RWMutex
	replica    ReplicaID
	clock      uint64
	adds       map[string]map[Tag]struct{}
	tombstones map[Tag]struct{}
}

// Functions

// NewORSet returns an empty initialized observed-removed set bound to the
// supplied local replica.
func NewORSet(replica ReplicaID) *ORSet {

	return &ORSet{
		replica:    replica,
		adds:       make(map[string]map[Tag]struct{}),
		tombstones: make(map[Tag]struct{}),
	}
}

// Kind returns KindORSet.
func (s *ORSet) Kind() Kind { return KindORSet }

// Add inserts the supplied element under a freshly minted unique tag and
// returns the emitted operation. A re-add after a remove produces a fresh
// tag and therefore makes the element reappear.
func (s *ORSet) Add(element string) Operation {

	s.lock.Lock()
	defer s.lock.Unlock()

	// Mint a new unique tag.
	s.clock++
	tag := Tag{Replica: s.replica, Clock: s.clock}

	if s.adds[element] == nil {
		s.adds[element] = make(map[Tag]struct{})
	}
	s.adds[element][tag] = struct{}{}

	return Operation{
		Kind:    KindORSet,
		Replica: s.replica,
		Element: element,
		Add:     true,
		Tags:    []Tag{tag},
	}
}

// Remove tombstones every currently visible tag of the supplied element
// and returns the emitted operation. Removing an absent element is a
// no-op signalled by a false second return value, not an error.
func (s *ORSet) Remove(element string) (Operation, bool) {

	s.lock.Lock()
	defer s.lock.Unlock()

	observed := s.visibleTags(element)
	if len(observed) == 0 {
		return Operation{}, false
	}

	for _, tag := range observed {
		s.tombstones[tag] = struct{}{}
	}

	return Operation{
		Kind:    KindORSet,
		Replica: s.replica,
		Element: element,
		Tags:    observed,
	}, true
}

// Contains reports whether the supplied element has at least one tag
// that is not tombstoned.
func (s *ORSet) Contains(element string) bool {

	s.lock.RLock()
	defer s.lock.RUnlock()

	return len(s.visibleTags(element)) > 0
}

// Elements returns all currently contained elements in lexicographic
// order.
func (s *ORSet) Elements() []string {

	s.lock.RLock()
	defer s.lock.RUnlock()

	elements := make([]string, 0, len(s.adds))
	for element := range s.adds {

		if len(s.visibleTags(element)) > 0 {
			elements = append(elements, element)
		}
	}
	sort.Strings(elements)

	return elements
}

// Value returns the contained elements, see Elements.
func (s *ORSet) Value() interface{} {
	return s.Elements()
}

// Snapshot returns a deep copy of the set's full state including
// tombstones. Add tags are never dropped locally so that the merged
// union always retains enough information to recompute visibility.
func (s *ORSet) Snapshot() *State {

	s.lock.RLock()
	defer s.lock.RUnlock()

	adds := make(map[string][]Tag, len(s.adds))
	for element, tags := range s.adds {

		copied := make([]Tag, 0, len(tags))
		for tag := range tags {
			copied = append(copied, tag)
		}
		adds[element] = copied
	}

	tombstones := make([]Tag, 0, len(s.tombstones))
	for tag := range s.tombstones {
		tombstones = append(tombstones, tag)
	}

	return &State{
		Kind:       KindORSet,
		Adds:       adds,
		Tombstones: tombstones,
	}
}

// Merge folds a remote set state into this one by taking the union of
// add tags and the union of tombstones; visibility is recomputed from
// the merged sets on read.
func (s *ORSet) Merge(st *State) error {

	if st.Kind != KindORSet {
		return errors.Wrapf(ErrInvalidMerge, "cannot merge %v into or-set", st.Kind)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	for element, tags := range st.Adds {

		if s.adds[element] == nil {
			s.adds[element] = make(map[Tag]struct{})
		}

		for _, tag := range tags {
			s.adds[element][tag] = struct{}{}
			s.observeTag(tag)
		}
	}

	for _, tag := range st.Tombstones {
		s.tombstones[tag] = struct{}{}
		s.observeTag(tag)
	}

	return nil
}

// Apply folds a single add or remove operation into the set. Both are
// unions and therefore idempotent under duplicated delivery.
func (s *ORSet) Apply(op Operation) error {

	if op.Kind != KindORSet {
		return errors.Wrapf(ErrInvalidMerge, "cannot apply %v operation to or-set", op.Kind)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if op.Add {

		if s.adds[op.Element] == nil {
			s.adds[op.Element] = make(map[Tag]struct{})
		}

		for _, tag := range op.Tags {
			s.adds[op.Element][tag] = struct{}{}
			s.observeTag(tag)
		}

		return nil
	}

	// A remove only tombstones the tags the remover observed. Tags
	// added concurrently elsewhere survive by design of the set.
	for _, tag := range op.Tags {
		s.tombstones[tag] = struct{}{}
		s.observeTag(tag)
	}

	return nil
}

// visibleTags collects the tags of an element that are not tombstoned.
// Caller has to hold the lock.
func (s *ORSet) visibleTags(element string) []Tag {

	tags, found := s.adds[element]
	if !found {
		return nil
	}

	visible := make([]Tag, 0, len(tags))
	for tag := range tags {

		if _, removed := s.tombstones[tag]; !removed {
			visible = append(visible, tag)
		}
	}

	return visible
}

// observeTag advances the local tag counter past any tag of this
// replica seen in merged or replayed input, so that freshly minted
// tags stay globally unique after a restart. Caller has to hold the
// lock.
func (s *ORSet) observeTag(tag Tag) {

	if (tag.Replica == s.replica) && (tag.Clock > s.clock) {
		s.clock = tag.Clock
	}
}
