package crdt

import (
	"reflect"
	"testing"

	"github.com/pkg/errors"
)

// Functions

// TestORMapPutGetRemove executes a white-box unit test on implemented
// Put(), Get(), Remove() and Keys() functions.
func TestORMapPutGetRemove(t *testing.T) {

	m := NewORMap("A")

	child, op, err := m.Put("generated", KindGCounter)
	if err != nil {
		t.Fatalf("[crdt.TestORMapPutGetRemove] Expected put to succeed but got: %v\n", err)
	}

	if (op.Kind != KindORMap) || !op.Add || (op.Child != KindGCounter) || !reflect.DeepEqual(op.Key, []string{"generated"}) {
		t.Fatalf("[crdt.TestORMapPutGetRemove] Expected presence operation for key 'generated' but got %v\n", op)
	}

	if _, err := child.(*GCounter).Increment(9); err != nil {
		t.Fatalf("[crdt.TestORMapPutGetRemove] Expected increment on contained counter to succeed but got: %v\n", err)
	}

	got, found := m.Get("generated")
	if !found {
		t.Fatalf("[crdt.TestORMapPutGetRemove] Expected key 'generated' to be present\n")
	}

	if got.Value().(uint64) != 9 {
		t.Fatalf("[crdt.TestORMapPutGetRemove] Expected contained counter to read 9 but got %v\n", got.Value())
	}

	// Populating a key with a different kind is a modeling error.
	if _, _, err := m.Put("generated", KindORSet); errors.Cause(err) != ErrInvalidMerge {
		t.Fatalf("[crdt.TestORMapPutGetRemove] Expected ErrInvalidMerge for kind change but got: %v\n", err)
	}

	rmv, found := m.Remove("generated")
	if !found {
		t.Fatalf("[crdt.TestORMapPutGetRemove] Expected remove of present key to succeed\n")
	}

	if rmv.Add || (len(rmv.Tags) != 1) {
		t.Fatalf("[crdt.TestORMapPutGetRemove] Expected remove operation carrying the observed tag but got %v\n", rmv)
	}

	if _, found := m.Get("generated"); found {
		t.Fatalf("[crdt.TestORMapPutGetRemove] Expected key 'generated' to be absent after remove\n")
	}

	// Removing an absent key is a no-op, not an error.
	if _, found := m.Remove("missing"); found {
		t.Fatalf("[crdt.TestORMapPutGetRemove] Expected remove of absent key to be a no-op\n")
	}

	// A re-put mints a fresh presence tag, the key reappears and the
	// retained counter state is visible again.
	if _, _, err := m.Put("generated", KindGCounter); err != nil {
		t.Fatalf("[crdt.TestORMapPutGetRemove] Expected re-put to succeed but got: %v\n", err)
	}

	got, found = m.Get("generated")
	if !found || (got.Value().(uint64) != 9) {
		t.Fatalf("[crdt.TestORMapPutGetRemove] Expected resurrected key with retained state 9 but got %v\n", got)
	}
}

// TestORMapNested executes a white-box unit test on nested maps and the
// recursive Value() resolution.
func TestORMapNested(t *testing.T) {

	m := NewORMap("A")

	inner, _, err := m.Put("members", KindORMap)
	if err != nil {
		t.Fatalf("[crdt.TestORMapNested] Expected put of nested map to succeed but got: %v\n", err)
	}

	reg, _, err := inner.(*ORMap).Put("alice", KindLWWRegister)
	if err != nil {
		t.Fatalf("[crdt.TestORMapNested] Expected put inside nested map to succeed but got: %v\n", err)
	}
	reg.(*LWWRegister).Assign("active", 1)

	resolved := m.Value().(map[string]interface{})
	members := resolved["members"].(map[string]interface{})

	if members["alice"] != "active" {
		t.Fatalf("[crdt.TestORMapNested] Expected nested value 'active' but got %v\n", members["alice"])
	}
}

// TestORMapApplyRouting executes a white-box unit test on routing
// operations along key paths, including auto-materialization when a
// child operation arrives ahead of its presence update.
func TestORMapApplyRouting(t *testing.T) {

	a := NewORMap("A")
	b := NewORMap("B")

	// Build a nested structure on A and capture every operation with
	// its full path, the way node handles prefix them.
	inner, putOuter, err := a.Put("votes", KindORMap)
	if err != nil {
		t.Fatalf("[crdt.TestORMapApplyRouting] Expected put to succeed but got: %v\n", err)
	}

	counter, putInner, err := inner.(*ORMap).Put("proposal-1", KindPNCounter)
	if err != nil {
		t.Fatalf("[crdt.TestORMapApplyRouting] Expected nested put to succeed but got: %v\n", err)
	}

	inc, err := counter.(*PNCounter).Increment(3)
	if err != nil {
		t.Fatalf("[crdt.TestORMapApplyRouting] Expected increment to succeed but got: %v\n", err)
	}

	ops := []Operation{
		putOuter,
		putInner.WithPrefix("votes"),
		inc.WithPrefix("proposal-1").WithPrefix("votes"),
	}

	// Deliver in reverse order: the increment arrives before the
	// presence updates and has to materialize the path.
	for i := len(ops) - 1; i >= 0; i-- {
		if err := b.Apply(ops[i]); err != nil {
			t.Fatalf("[crdt.TestORMapApplyRouting] Expected apply to succeed but got: %v\n", err)
		}
	}

	resolved := b.Value().(map[string]interface{})
	votes := resolved["votes"].(map[string]interface{})

	if votes["proposal-1"].(int64) != 3 {
		t.Fatalf("[crdt.TestORMapApplyRouting] Expected routed increment to yield 3 but got %v\n", votes["proposal-1"])
	}

	// A routed operation of the wrong kind is rejected.
	bad := Operation{Kind: KindORSet, Replica: "A", Key: []string{"votes", "proposal-1"}, Element: "x", Add: true, Tags: []Tag{{Replica: "A", Clock: 99}}}
	if err := b.Apply(bad); errors.Cause(err) != ErrInvalidMerge {
		t.Fatalf("[crdt.TestORMapApplyRouting] Expected ErrInvalidMerge for mistyped operation but got: %v\n", err)
	}
}

// TestORMapMerge executes a white-box unit test on recursive state
// merge, key survival and the kind mismatch failure mode.
func TestORMapMerge(t *testing.T) {

	a := NewORMap("A")
	b := NewORMap("B")

	ca, _, _ := a.Put("balance", KindPNCounter)
	if _, err := ca.(*PNCounter).Increment(10); err != nil {
		t.Fatalf("[crdt.TestORMapMerge] Expected increment to succeed but got: %v\n", err)
	}

	cb, _, _ := b.Put("balance", KindPNCounter)
	if _, err := cb.(*PNCounter).Decrement(4); err != nil {
		t.Fatalf("[crdt.TestORMapMerge] Expected decrement to succeed but got: %v\n", err)
	}

	sb, _, _ := b.Put("roster", KindORSet)
	sb.(*ORSet).Add("alice")

	// Merge both ways, the resolved values have to agree.
	if err := a.Merge(b.Snapshot()); err != nil {
		t.Fatalf("[crdt.TestORMapMerge] Expected merge to succeed but got: %v\n", err)
	}
	if err := b.Merge(a.Snapshot()); err != nil {
		t.Fatalf("[crdt.TestORMapMerge] Expected merge to succeed but got: %v\n", err)
	}

	if !reflect.DeepEqual(a.Value(), b.Value()) {
		t.Fatalf("[crdt.TestORMapMerge] Expected both replicas to converge but got %v and %v\n", a.Value(), b.Value())
	}

	resolved := a.Value().(map[string]interface{})
	if resolved["balance"].(int64) != 6 {
		t.Fatalf("[crdt.TestORMapMerge] Expected merged balance 6 but got %v\n", resolved["balance"])
	}

	// A key populated with structurally different kinds on two
	// replicas is rejected, leaving prior state untouched.
	c := NewORMap("C")
	if _, _, err := c.Put("balance", KindORSet); err != nil {
		t.Fatalf("[crdt.TestORMapMerge] Expected put to succeed but got: %v\n", err)
	}

	if err := a.Merge(c.Snapshot()); errors.Cause(err) != ErrInvalidMerge {
		t.Fatalf("[crdt.TestORMapMerge] Expected ErrInvalidMerge for mismatched kinds but got: %v\n", err)
	}

	if a.Value().(map[string]interface{})["balance"].(int64) != 6 {
		t.Fatalf("[crdt.TestORMapMerge] Expected rejected merge to leave balance at 6 but got %v\n", a.Value())
	}
}

// TestORMapMergeNestedKindMismatch executes a white-box unit test on
// the kind prevalidation inside nested maps: a mismatch at any depth
// rejects the whole merge without touching the parent's tags, siblings
// or the nested map itself.
func TestORMapMergeNestedKindMismatch(t *testing.T) {

	a := NewORMap("A")

	innerA, _, err := a.Put("m", KindORMap)
	if err != nil {
		t.Fatalf("[crdt.TestORMapMergeNestedKindMismatch] Expected put to succeed but got: %v\n", err)
	}
	if _, _, err := innerA.(*ORMap).Put("x", KindGCounter); err != nil {
		t.Fatalf("[crdt.TestORMapMergeNestedKindMismatch] Expected nested put to succeed but got: %v\n", err)
	}

	// Remote holds the same nested key with a different kind, plus a
	// sibling top-level key the rejected merge must not leak in.
	b := NewORMap("B")

	innerB, _, err := b.Put("m", KindORMap)
	if err != nil {
		t.Fatalf("[crdt.TestORMapMergeNestedKindMismatch] Expected put to succeed but got: %v\n", err)
	}
	if _, _, err := innerB.(*ORMap).Put("x", KindORSet); err != nil {
		t.Fatalf("[crdt.TestORMapMergeNestedKindMismatch] Expected nested put to succeed but got: %v\n", err)
	}
	if _, _, err := b.Put("other", KindGCounter); err != nil {
		t.Fatalf("[crdt.TestORMapMergeNestedKindMismatch] Expected put to succeed but got: %v\n", err)
	}

	if err := a.Merge(b.Snapshot()); errors.Cause(err) != ErrInvalidMerge {
		t.Fatalf("[crdt.TestORMapMergeNestedKindMismatch] Expected ErrInvalidMerge for nested mismatch but got: %v\n", err)
	}

	if keys := a.Keys(); !reflect.DeepEqual(keys, []string{"m"}) {
		t.Fatalf("[crdt.TestORMapMergeNestedKindMismatch] Expected rejected merge to leave keys [m] but got %v\n", keys)
	}

	if kind, found := a.KindAt([]string{"m", "x"}); !found || (kind != KindGCounter) {
		t.Fatalf("[crdt.TestORMapMergeNestedKindMismatch] Expected nested key 'x' to stay a g-counter but got %v\n", kind)
	}
}
