package crdt

import (
	"errors"
)

// Variables

var (
	// ErrClockOverflow is returned when an increment would exceed the
	// representable range of a clock or counter entry. The operation is
	// rejected in full, it never wraps around silently.
	ErrClockOverflow = errors.New("clock entry would overflow")

	// ErrInvalidMerge is returned when local and remote state for the
	// same key carry structurally different CRDT kinds. No coercion
	// between kinds is attempted.
	ErrInvalidMerge = errors.New("mismatched CRDT kinds in merge input")

	// ErrNegativeAmount is returned when a counter operation receives
	// a negative amount.
	ErrNegativeAmount = errors.New("negative amount")
)
