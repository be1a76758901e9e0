package node

import (
	"math"
	"strings"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/go-concord/concord/comm"
	"github.com/go-concord/concord/crdt"
	"github.com/go-concord/concord/storage"
	"github.com/go-concord/concord/wire"
)

// Structs

// Node is the synchronization context of one federation member. It is
// constructed at process start, handed by reference to the scheduler
// and to consumers, and torn down with the owning process.
type Node struct {
	logger log.Logger

	replica crdt.ReplicaID

	// stateLock separates local operations (read side) from the
	// atomic application of whole delta batches (write side), so
	// that no reader observes a partially merged batch. Individual
	// instances serialize single operations with their own locks.
	stateLock sync.RWMutex

	// clockLock guards the vector clock against concurrent commits.
	clockLock sync.Mutex
	vclock    crdt.VClock

	root *crdt.ORMap

	oplog storage.Log

	transport comm.Transport
	topic     string
}

// Functions

// New returns a node bound to the supplied replica identity, persisting
// its operations to the supplied log.
func New(logger log.Logger, replica crdt.ReplicaID, oplog storage.Log) *Node {

	return &Node{
		logger:  logger,
		replica: replica,
		vclock:  crdt.NewVClock(),
		root:    crdt.NewORMap(replica),
		oplog:   oplog,
	}
}

// AttachTransport makes the node offer every committed operation to the
// supplied transport on the supplied topic, in addition to scheduled
// anti-entropy rounds.
func (n *Node) AttachTransport(transport comm.Transport, topic string) {
	n.transport = transport
	n.topic = topic
}

// ID returns the local replica identifier.
func (n *Node) ID() crdt.ReplicaID {
	return n.replica
}

// Root returns the consumer handle onto the root composite map.
func (n *Node) Root() *Map {

	return &Map{
		node: n,
		m:    n.root,
	}
}

// SnapshotVClock returns a copy of the current vector clock, the
// digest the synchronizer opens rounds with.
func (n *Node) SnapshotVClock() crdt.VClock {

	n.clockLock.Lock()
	defer n.clockLock.Unlock()

	return n.vclock.Copy()
}

// Replay reads the full operation log and re-applies every recorded
// local operation, restoring state and the local clock entry after a
// restart. Remote state is recovered through anti-entropy instead.
func (n *Node) Replay() error {

	ops, err := n.oplog.ReadSince(crdt.NewVClock())
	if err != nil {
		return errors.Wrap(err, "failed to read operation log for replay")
	}

	for _, op := range ops {

		if err := n.root.Apply(op); err != nil {
			return errors.Wrapf(err, "failed to replay operation at clock %d", op.Clock)
		}

		n.clockLock.Lock()
		if op.Clock > n.vclock[op.Replica] {
			n.vclock[op.Replica] = op.Clock
		}
		n.clockLock.Unlock()
	}

	level.Debug(n.logger).Log(
		"msg", "replayed operation log",
		"ops", len(ops),
	)

	return nil
}

// DeltaSince builds the envelope carrying everything a peer at the
// supplied clock is missing. Gaps covered by our own log travel as
// operations; gaps involving third replicas, whose operations we never
// log on their behalf, fall back to a full-state snapshot, which merge
// idempotence makes an always-valid substitute.
func (n *Node) DeltaSince(vc crdt.VClock) (*wire.Envelope, error) {

	n.stateLock.RLock()
	defer n.stateLock.RUnlock()

	local := n.SnapshotVClock()

	// Collect the replicas the peer is behind on.
	ownGapOnly := true
	hasGap := false
	for replica, entry := range local {

		if entry > vc.Entry(replica) {

			hasGap = true
			if replica != n.replica {
				ownGapOnly = false
			}
		}
	}

	env := &wire.Envelope{
		Type:    wire.MsgDelta,
		Replica: n.replica,
		VClock:  local,
	}

	if !hasGap {
		return env, nil
	}

	if ownGapOnly {

		ops, err := n.oplog.ReadSince(vc)
		if err != nil {
			return nil, errors.Wrap(err, "failed to compute delta from operation log")
		}

		// Own clock entries advance one step per commit, so the gap
		// is covered exactly when one logged operation exists per
		// step. A shortfall means an append was lost; announcing the
		// full clock next to an incomplete op list would make the
		// peer adopt entries it never received, so ship the snapshot
		// instead.
		gap := local.Entry(n.replica) - vc.Entry(n.replica)
		if uint64(len(ops)) == gap {

			env.Ops = ops

			return env, nil
		}
	}

	env.Type = wire.MsgState
	env.State = n.root.Snapshot()

	return env, nil
}

// ApplyDelta merges a received delta or state envelope into local
// state as one atomic batch: local readers and writers are held off
// until every carried operation and snapshot is folded in and the
// vector clock reflects the sender's announced knowledge.
func (n *Node) ApplyDelta(env *wire.Envelope) error {

	n.stateLock.Lock()
	defer n.stateLock.Unlock()

	if env.State != nil {

		if err := n.root.Merge(env.State); err != nil {
			return errors.Wrapf(err, "failed to merge state from %s", env.Replica)
		}
	}

	// Dry-run the batch first: a delta applies whole or not at all, so
	// no reader ever observes a partially applied batch as the final
	// state.
	if err := n.validateDelta(env.Ops); err != nil {
		return errors.Wrapf(err, "failed to validate delta from %s", env.Replica)
	}

	for _, op := range env.Ops {

		if err := n.root.Apply(op); err != nil {
			return errors.Wrapf(err, "failed to apply operation from %s", op.Replica)
		}
	}

	// A single broadcast operation proves nothing about the sender's
	// earlier operations, so its announced clock must not be adopted:
	// doing so would silence the anti-entropy repair of any broadcast
	// lost before it. Round deltas and snapshots carry everything up
	// to the announced clock and advance it safely.
	if env.Type == wire.MsgOp {
		return nil
	}

	n.clockLock.Lock()
	n.vclock.Merge(env.VClock)
	n.clockLock.Unlock()

	return nil
}

// validateDelta dry-runs the kind and path checks of a whole delta
// batch against the root map, including kinds that earlier operations
// of the same batch would establish at fresh keys. A batch failing any
// check is rejected before a single operation is applied.
func (n *Node) validateDelta(ops []crdt.Operation) error {

	established := make(map[string]crdt.Kind)

	for _, op := range ops {

		if len(op.Key) == 0 {
			return errors.Wrap(crdt.ErrInvalidMerge, "operation without key path")
		}

		for i := 1; i <= len(op.Key); i++ {

			// Inner path segments have to be maps; the leaf has to
			// carry the operation's kind, or the put kind for a
			// presence change. A presence removal constrains nothing
			// at the leaf.
			want := crdt.KindORMap
			if i == len(op.Key) {

				want = op.Kind
				if op.Kind == crdt.KindORMap {

					if !op.Add || (op.Child == 0) {
						continue
					}
					want = op.Child
				}
			}

			if !want.Known() {
				return errors.Wrapf(crdt.ErrInvalidMerge, "unknown CRDT kind %d in operation", want)
			}

			path := strings.Join(op.Key[:i], "\x1f")

			if have, found := established[path]; found && (have != want) {
				return errors.Wrapf(crdt.ErrInvalidMerge, "batch establishes both %v and %v at %q", have, want, strings.Join(op.Key[:i], "/"))
			}

			if have, found := n.root.KindAt(op.Key[:i]); found && (have != want) {
				return errors.Wrapf(crdt.ErrInvalidMerge, "key %q holds %v, operation targets %v", strings.Join(op.Key[:i], "/"), have, want)
			}

			established[path] = want
		}
	}

	return nil
}

// precommit verifies that another local operation can be committed
// before any state is touched, so that a rejected operation leaves
// prior state fully intact.
func (n *Node) precommit() error {

	n.clockLock.Lock()
	defer n.clockLock.Unlock()

	if n.vclock[n.replica] == math.MaxUint64 {
		return crdt.ErrClockOverflow
	}

	return nil
}

// commit stamps a locally generated operation with the advanced vector
// clock entry, appends it to the operation log and offers it to the
// transport. The supplied path prefixes the operation's key path down
// from the root map. No lock is held during log or network I/O except
// the read side of the batch barrier.
func (n *Node) commit(path []string, op crdt.Operation) error {

	for i := (len(path) - 1); i >= 0; i-- {
		op = op.WithPrefix(path[i])
	}

	n.clockLock.Lock()

	if err := n.vclock.Increment(n.replica); err != nil {
		n.clockLock.Unlock()
		return err
	}

	op.Clock = n.vclock.Entry(n.replica)
	snapshot := n.vclock.Copy()

	n.clockLock.Unlock()

	if _, err := n.oplog.Append(op, snapshot); err != nil {
		return errors.Wrap(err, "failed to append committed operation to log")
	}

	n.broadcast(op, snapshot)

	return nil
}

// broadcast offers one committed operation to the transport,
// best-effort: peers missed here converge through anti-entropy.
func (n *Node) broadcast(op crdt.Operation, vc crdt.VClock) {

	if n.transport == nil {
		return
	}

	data, err := wire.Marshal(&wire.Envelope{
		Type:    wire.MsgOp,
		Replica: n.replica,
		VClock:  vc,
		Ops:     []crdt.Operation{op},
	})
	if err != nil {
		level.Warn(n.logger).Log(
			"msg", "failed to marshal operation for broadcast",
			"err", err,
		)
		return
	}

	if err := n.transport.Broadcast(n.topic, data); err != nil {
		level.Debug(n.logger).Log(
			"msg", "failed to broadcast operation",
			"err", err,
		)
	}
}
