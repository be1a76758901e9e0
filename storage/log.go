package storage

import (
	"sync"

	"github.com/go-concord/concord/crdt"
)

// Structs

// LogRef identifies one appended log entry.
type LogRef struct {
	Key []byte
}

// Entry is one audited operation together with the vector clock that
// resulted from committing it.
type Entry struct {
	Op     crdt.Operation `msgpack:"op"`
	VClock crdt.VClock    `msgpack:"vclock"`
}

// Log is the persistence interface the engine consumes. Append records
// one locally committed operation, ReadSince returns all recorded
// operations not yet covered by the supplied vector clock, in append
// order.
type Log interface {
	Append(op crdt.Operation, vc crdt.VClock) (LogRef, error)
	ReadSince(vc crdt.VClock) ([]crdt.Operation, error)
	Close() error
}

// MemoryLog is a volatile Log used in tests and by nodes that rely on
// anti-entropy alone to recover state after a restart.
type MemoryLog struct {
	lock    sync.RWMutex
	entries []Entry
}

// Functions

// NewMemoryLog returns an empty initialized in-memory operation log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append records the supplied operation and clock snapshot.
func (l *MemoryLog) Append(op crdt.Operation, vc crdt.VClock) (LogRef, error) {

	l.lock.Lock()
	defer l.lock.Unlock()

	l.entries = append(l.entries, Entry{Op: op, VClock: vc.Copy()})

	return LogRef{Key: opKey(op)}, nil
}

// ReadSince returns all operations whose origin clock lies beyond the
// supplied vector clock, in append order.
func (l *MemoryLog) ReadSince(vc crdt.VClock) ([]crdt.Operation, error) {

	l.lock.RLock()
	defer l.lock.RUnlock()

	var ops []crdt.Operation
	for _, entry := range l.entries {

		if entry.Op.Clock > vc.Entry(entry.Op.Replica) {
			ops = append(ops, entry.Op)
		}
	}

	return ops, nil
}

// Close is a no-op for the in-memory log.
func (l *MemoryLog) Close() error {
	return nil
}
