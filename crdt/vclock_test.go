package crdt

import (
	"math"
	"testing"
)

// Functions

// TestVClockIncrement executes a white-box unit test
// on implemented Increment() function.
func TestVClockIncrement(t *testing.T) {

	vc := NewVClock()

	if err := vc.Increment("A"); err != nil {
		t.Fatalf("[crdt.TestVClockIncrement] Expected increment to succeed but got: %v\n", err)
	}

	if vc.Entry("A") != 1 {
		t.Fatalf("[crdt.TestVClockIncrement] Expected entry 1 for replica A but got %d\n", vc.Entry("A"))
	}

	if vc.Entry("B") != 0 {
		t.Fatalf("[crdt.TestVClockIncrement] Expected absent entry to count as 0 but got %d\n", vc.Entry("B"))
	}

	// An entry at the representable maximum has to be
	// rejected, never wrapped.
	vc["A"] = math.MaxUint64

	if err := vc.Increment("A"); err != ErrClockOverflow {
		t.Fatalf("[crdt.TestVClockIncrement] Expected ErrClockOverflow but got: %v\n", err)
	}

	if vc.Entry("A") != math.MaxUint64 {
		t.Fatalf("[crdt.TestVClockIncrement] Expected rejected increment to leave entry untouched but got %d\n", vc.Entry("A"))
	}
}

// TestVClockCompare executes a white-box unit test
// on implemented Compare() function.
func TestVClockCompare(t *testing.T) {

	a := VClock{"A": 2, "B": 1}
	b := VClock{"A": 2, "B": 1}

	if a.Compare(b) != OrderEqual {
		t.Fatalf("[crdt.TestVClockCompare] Expected OrderEqual for identical clocks but got %v\n", a.Compare(b))
	}

	b = VClock{"A": 3, "B": 1}

	if a.Compare(b) != OrderBefore {
		t.Fatalf("[crdt.TestVClockCompare] Expected OrderBefore for dominated clock but got %v\n", a.Compare(b))
	}

	if b.Compare(a) != OrderAfter {
		t.Fatalf("[crdt.TestVClockCompare] Expected OrderAfter for dominating clock but got %v\n", b.Compare(a))
	}

	// Each side ahead in one entry means concurrent.
	a = VClock{"A": 5, "B": 1}
	b = VClock{"A": 2, "B": 4}

	if a.Compare(b) != OrderConcurrent {
		t.Fatalf("[crdt.TestVClockCompare] Expected OrderConcurrent but got %v\n", a.Compare(b))
	}

	// An entry present only on one side dominates a zero entry.
	a = VClock{"A": 1}
	b = VClock{"A": 1, "B": 2}

	if a.Compare(b) != OrderBefore {
		t.Fatalf("[crdt.TestVClockCompare] Expected OrderBefore against clock with extra entry but got %v\n", a.Compare(b))
	}
}

// TestVClockMerge executes a white-box unit test
// on implemented Merge() and Copy() functions.
func TestVClockMerge(t *testing.T) {

	a := VClock{"A": 2, "B": 1}
	b := VClock{"A": 1, "B": 3, "C": 7}

	a.Merge(b)

	if (a["A"] != 2) || (a["B"] != 3) || (a["C"] != 7) {
		t.Fatalf("[crdt.TestVClockMerge] Expected pointwise maximum {A:2 B:3 C:7} but got %v\n", a)
	}

	// A copy has to be independent of the original.
	copied := a.Copy()
	copied["A"] = 99

	if a["A"] != 2 {
		t.Fatalf("[crdt.TestVClockMerge] Expected copy to be independent but original changed to %d\n", a["A"])
	}
}
