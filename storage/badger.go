package storage

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/go-concord/concord/crdt"
)

// Variables

// opPrefix groups all log entries under one key space, leaving room
// for other record types in the same database.
var opPrefix = []byte("ops/")

// Structs

// BadgerLog is the durable Log implementation backed by a Badger
// key-value store. Entries are keyed ops/<replica>/<clock>, zero-padded
// so that lexicographic key order preserves per-replica append order.
type BadgerLog struct {
	db *badger.DB
}

// Functions

// NewBadgerLog opens or creates the operation log under the supplied
// directory. An empty directory path opens a volatile in-memory store,
// useful in tests.
func NewBadgerLog(dir string) (*BadgerLog, error) {

	opts := badger.DefaultOptions(dir)
	opts = opts.WithLogger(nil)

	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open operation log at %q", dir)
	}

	return &BadgerLog{db: db}, nil
}

// opKey builds the log key of an operation from its origin replica and
// that replica's clock entry at commit time.
func opKey(op crdt.Operation) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", opPrefix, op.Replica, op.Clock))
}

// Append records one locally committed operation together with the
// resulting vector clock.
func (l *BadgerLog) Append(op crdt.Operation, vc crdt.VClock) (LogRef, error) {

	data, err := msgpack.Marshal(Entry{Op: op, VClock: vc})
	if err != nil {
		return LogRef{}, errors.Wrap(err, "failed to marshal log entry")
	}

	key := opKey(op)

	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return LogRef{}, errors.Wrap(err, "failed to append to operation log")
	}

	return LogRef{Key: key}, nil
}

// ReadSince scans the full log and returns every operation whose origin
// clock lies beyond the supplied vector clock. Per-replica order is
// preserved by the zero-padded key layout.
func (l *BadgerLog) ReadSince(vc crdt.VClock) ([]crdt.Operation, error) {

	var ops []crdt.Operation

	err := l.db.View(func(txn *badger.Txn) error {

		iopts := badger.DefaultIteratorOptions
		iopts.Prefix = opPrefix

		it := txn.NewIterator(iopts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {

			err := it.Item().Value(func(data []byte) error {

				entry := Entry{}
				if err := msgpack.Unmarshal(data, &entry); err != nil {
					return errors.Wrap(err, "failed to unmarshal log entry")
				}

				if entry.Op.Clock > vc.Entry(entry.Op.Replica) {
					ops = append(ops, entry.Op)
				}

				return nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to read operation log")
	}

	return ops, nil
}

// Close releases the underlying store.
func (l *BadgerLog) Close() error {
	return l.db.Close()
}
