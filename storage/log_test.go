package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-concord/concord/crdt"
	"github.com/go-concord/concord/storage"
)

// Functions

// TestLogReadSince executes a black-box unit test on Append() and
// ReadSince() for both Log implementations.
func TestLogReadSince(t *testing.T) {

	badgerLog, err := storage.NewBadgerLog("")
	assert.Nil(t, err, "expected in-memory badger log to open")
	defer badgerLog.Close()

	logs := map[string]storage.Log{
		"memory": storage.NewMemoryLog(),
		"badger": badgerLog,
	}

	for name, log := range logs {

		counter := crdt.NewGCounter("replica-a")
		vc := crdt.NewVClock()

		// Commit three increments the way a node does: advance the
		// clock, stamp the operation, append.
		for _, amount := range []int64{1, 2, 3} {

			op, err := counter.Increment(amount)
			assert.Nil(t, err, "[%s] expected increment to succeed", name)

			assert.Nil(t, vc.Increment("replica-a"), "[%s] expected clock increment to succeed", name)
			op.Clock = vc.Entry("replica-a")

			ref, err := log.Append(op, vc)
			assert.Nil(t, err, "[%s] expected append to succeed", name)
			assert.NotEmpty(t, ref.Key, "[%s] expected a log reference", name)
		}

		// The zero clock reads the full history.
		ops, err := log.ReadSince(crdt.NewVClock())
		assert.Nil(t, err, "[%s] expected read to succeed", name)
		assert.Equal(t, 3, len(ops), "[%s] expected full history from zero clock", name)

		// A clock that has seen the first two entries reads one.
		ops, err = log.ReadSince(crdt.VClock{"replica-a": 2})
		assert.Nil(t, err, "[%s] expected read to succeed", name)
		assert.Equal(t, 1, len(ops), "[%s] expected one unseen operation", name)
		assert.Equal(t, uint64(3), ops[0].Clock, "[%s] expected the third commit", name)

		// A fully caught-up clock reads nothing.
		ops, err = log.ReadSince(crdt.VClock{"replica-a": 3})
		assert.Nil(t, err, "[%s] expected read to succeed", name)
		assert.Equal(t, 0, len(ops), "[%s] expected no operations for caught-up clock", name)
	}
}

// TestLogReplay executes a black-box unit test verifying that a fresh
// instance replaying the log reconstructs the counter state.
func TestLogReplay(t *testing.T) {

	log, err := storage.NewBadgerLog("")
	assert.Nil(t, err, "expected in-memory badger log to open")
	defer log.Close()

	counter := crdt.NewGCounter("replica-a")
	vc := crdt.NewVClock()

	for _, amount := range []int64{3, 4} {

		op, err := counter.Increment(amount)
		assert.Nil(t, err)

		assert.Nil(t, vc.Increment("replica-a"))
		op.Clock = vc.Entry("replica-a")

		_, err = log.Append(op, vc)
		assert.Nil(t, err)
	}

	ops, err := log.ReadSince(crdt.NewVClock())
	assert.Nil(t, err)

	restored := crdt.NewGCounter("replica-a")
	for _, op := range ops {
		assert.Nil(t, restored.Apply(op), "expected replay to succeed")
	}

	assert.Equal(t, uint64(7), restored.Value(), "expected replayed counter to read 7")
}
