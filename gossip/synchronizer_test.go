package gossip_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics/generic"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-concord/concord/comm"
	"github.com/go-concord/concord/crdt"
	"github.com/go-concord/concord/gossip"
	"github.com/go-concord/concord/wire"
)

// Structs

// fakeReplica records applied envelopes and answers digests with a
// canned delta.
type fakeReplica struct {
	lock    sync.Mutex
	id      crdt.ReplicaID
	vc      crdt.VClock
	delta   *wire.Envelope
	applied []*wire.Envelope
}

// Functions

func newFakeReplica(id crdt.ReplicaID) *fakeReplica {

	return &fakeReplica{
		id: id,
		vc: crdt.NewVClock(),
	}
}

func (r *fakeReplica) ID() crdt.ReplicaID { return r.id }

func (r *fakeReplica) SnapshotVClock() crdt.VClock {

	r.lock.Lock()
	defer r.lock.Unlock()

	return r.vc.Copy()
}

func (r *fakeReplica) DeltaSince(vc crdt.VClock) (*wire.Envelope, error) {

	r.lock.Lock()
	defer r.lock.Unlock()

	if r.delta != nil {
		return r.delta, nil
	}

	return &wire.Envelope{
		Type:    wire.MsgDelta,
		Replica: r.id,
		VClock:  r.vc.Copy(),
	}, nil
}

func (r *fakeReplica) ApplyDelta(env *wire.Envelope) error {

	r.lock.Lock()
	defer r.lock.Unlock()

	r.applied = append(r.applied, env)

	return nil
}

func (r *fakeReplica) appliedCount() int {

	r.lock.Lock()
	defer r.lock.Unlock()

	return len(r.applied)
}

// TestSynchronizerConverged expects a round against a peer with nothing
// new to finish without applying anything.
func TestSynchronizerConverged(t *testing.T) {

	network := comm.NewLocalNetwork()
	logger := log.NewNopLogger()

	alpha := newFakeReplica("alpha")
	beta := newFakeReplica("beta")

	syncA := gossip.NewSynchronizer(logger, alpha, network.Join("alpha"), "gossip")
	gossip.NewSynchronizer(logger, beta, network.Join("beta"), "gossip")

	ctx, cancel := context.WithTimeout(context.Background(), (2 * time.Second))
	defer cancel()

	require.NoError(t, syncA.Sync(ctx, "beta"))

	assert.Equal(t, 0, alpha.appliedCount())
	assert.Equal(t, gossip.StateIdle, syncA.State())
}

// TestSynchronizerMergesDelta expects a round against a peer with new
// operations to apply exactly the answered delta.
func TestSynchronizerMergesDelta(t *testing.T) {

	network := comm.NewLocalNetwork()
	logger := log.NewNopLogger()

	alpha := newFakeReplica("alpha")
	beta := newFakeReplica("beta")
	beta.delta = &wire.Envelope{
		Type:    wire.MsgDelta,
		Replica: "beta",
		VClock:  crdt.VClock{"beta": 1},
		Ops: []crdt.Operation{
			{Kind: crdt.KindGCounter, Replica: "beta", Clock: 1, Entry: 5},
		},
	}

	syncA := gossip.NewSynchronizer(logger, alpha, network.Join("alpha"), "gossip")
	gossip.NewSynchronizer(logger, beta, network.Join("beta"), "gossip")

	ctx, cancel := context.WithTimeout(context.Background(), (2 * time.Second))
	defer cancel()

	require.NoError(t, syncA.Sync(ctx, "beta"))

	require.Equal(t, 1, alpha.appliedCount())
	assert.Equal(t, uint64(5), alpha.applied[0].Ops[0].Entry)
}

// TestSynchronizerTimeout expects a round whose peer never answers to
// fail with ErrSyncTimeout once the deadline passes.
func TestSynchronizerTimeout(t *testing.T) {

	network := comm.NewLocalNetwork()

	alpha := newFakeReplica("alpha")
	syncA := gossip.NewSynchronizer(log.NewNopLogger(), alpha, network.Join("alpha"), "gossip")

	// Beta is reachable but runs no synchronizer, so the digest is
	// swallowed.
	network.Join("beta")

	ctx, cancel := context.WithTimeout(context.Background(), (50 * time.Millisecond))
	defer cancel()

	err := syncA.Sync(ctx, "beta")
	if errors.Cause(err) != gossip.ErrSyncTimeout {
		t.Fatalf("[gossip.TestSynchronizerTimeout] Expected ErrSyncTimeout but received: '%v'", err)
	}

	assert.Equal(t, gossip.StateIdle, syncA.State())
}

// TestSynchronizerUnsolicitedDelta expects a delta outside any round to
// be folded in passively.
func TestSynchronizerUnsolicitedDelta(t *testing.T) {

	network := comm.NewLocalNetwork()

	alpha := newFakeReplica("alpha")
	gossip.NewSynchronizer(log.NewNopLogger(), alpha, network.Join("alpha"), "gossip")

	sender := network.Join("beta")

	data, err := wire.Marshal(&wire.Envelope{
		Type:    wire.MsgOp,
		Replica: "beta",
		VClock:  crdt.VClock{"beta": 1},
		Ops: []crdt.Operation{
			{Kind: crdt.KindGCounter, Replica: "beta", Clock: 1, Entry: 2},
		},
	})
	require.NoError(t, err)
	require.NoError(t, sender.SendTo("alpha", "gossip", data))

	// Delivery is asynchronous on the loopback fabric.
	deadline := time.Now().Add(2 * time.Second)
	for (alpha.appliedCount() == 0) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	require.Equal(t, 1, alpha.appliedCount())
}

// TestMetricsService expects the middleware to count every round and
// every failed round.
func TestMetricsService(t *testing.T) {

	network := comm.NewLocalNetwork()

	alpha := newFakeReplica("alpha")
	beta := newFakeReplica("beta")

	logger := log.NewNopLogger()
	var service gossip.Service
	service = gossip.NewSynchronizer(logger, alpha, network.Join("alpha"), "gossip")
	service = gossip.NewLoggingService(service, logger)

	rounds := generic.NewCounter("rounds")
	failed := generic.NewCounter("failed")
	service = gossip.NewMetricsService(service, rounds, failed)

	gossip.NewSynchronizer(logger, beta, network.Join("beta"), "gossip")

	ctx, cancel := context.WithTimeout(context.Background(), (2 * time.Second))
	defer cancel()

	require.NoError(t, service.Sync(ctx, "beta"))

	shortCtx, shortCancel := context.WithTimeout(context.Background(), (50 * time.Millisecond))
	defer shortCancel()

	// Unknown peer: unreachable, counted as failed.
	require.Error(t, service.Sync(shortCtx, "gamma"))

	assert.Equal(t, float64(2), rounds.Value())
	assert.Equal(t, float64(1), failed.Value())
}

// TestSchedulerPoke expects a poked scheduler to run a round long
// before its periodic interval.
func TestSchedulerPoke(t *testing.T) {

	synced := make(chan string, 4)

	service := syncFunc(func(ctx context.Context, peer string) error {
		synced <- peer
		return nil
	})

	scheduler := gossip.NewScheduler(
		log.NewNopLogger(),
		service,
		[]string{"beta"},
		time.Hour,
		time.Second,
		1,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go scheduler.Run(ctx)
	scheduler.Poke()

	select {
	case peer := <-synced:
		assert.Equal(t, "beta", peer)
	case <-time.After(2 * time.Second):
		t.Fatal("[gossip.TestSchedulerPoke] Expected poked round but none ran.")
	}
}

// syncFunc adapts a function to the Service interface.
type syncFunc func(ctx context.Context, peer string) error

func (f syncFunc) Sync(ctx context.Context, peer string) error {
	return f(ctx, peer)
}
