package gossip

import (
	"context"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/go-concord/concord/comm"
	"github.com/go-concord/concord/wire"
)

// Structs

// Synchronizer performs digest and delta exchanges with peers. As
// initiator it walks one round through the state machine
// Idle -> DigestSent -> DeltaReceived -> Merged -> Idle, short-cutting
// to Converged when the peer has nothing new. As responder it answers
// digests with deltas and folds in unsolicited deltas, which is how the
// second half of a two-way exchange arrives.
type Synchronizer struct {
	lock      sync.Mutex
	logger    log.Logger
	replica   Replica
	transport comm.Transport
	topic     string
	state     RoundState
	roundPeer string
	inFlight  bool
	pending   chan *wire.Envelope
}

// Functions

// NewSynchronizer wires a synchronizer to the supplied replica and
// transport and registers its receive handler on the supplied topic.
func NewSynchronizer(logger log.Logger, replica Replica, transport comm.Transport, topic string) *Synchronizer {

	s := &Synchronizer{
		logger:    logger,
		replica:   replica,
		transport: transport,
		topic:     topic,
		state:     StateIdle,
		pending:   make(chan *wire.Envelope, 1),
	}

	transport.OnReceive(topic, s.handle)

	return s
}

// State returns the current round state, mainly for observability.
func (s *Synchronizer) State() RoundState {

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.state
}

// Sync performs one synchronization round against the named peer. The
// digest is computed and sent without holding any engine state access;
// only the final merge step re-acquires it, as one atomic batch inside
// ApplyDelta. A round that times out or whose peer is unreachable
// returns to Idle without retaining partial state; the scheduler
// retries on its next tick.
func (s *Synchronizer) Sync(ctx context.Context, peer string) error {

	s.lock.Lock()
	if s.inFlight {
		s.lock.Unlock()
		return errors.Wrapf(ErrRoundInFlight, "while asked to sync with %s", peer)
	}
	s.inFlight = true
	s.roundPeer = peer
	s.state = StateDigestSent

	// Drain any stale response of an aborted earlier round.
	select {
	case <-s.pending:
	default:
	}
	s.lock.Unlock()

	defer func() {
		s.lock.Lock()
		s.inFlight = false
		s.roundPeer = ""
		s.state = StateIdle
		s.lock.Unlock()
	}()

	// Send our vector clock summary to the peer.
	digest := &wire.Envelope{
		Type:    wire.MsgDigest,
		Replica: s.replica.ID(),
		VClock:  s.replica.SnapshotVClock(),
	}

	data, err := wire.Marshal(digest)
	if err != nil {
		return errors.Wrap(err, "failed to marshal digest")
	}

	if err := s.transport.SendTo(peer, s.topic, data); err != nil {
		return errors.Wrapf(err, "failed to send digest to %s", peer)
	}

	// Await the peer's delta or the round deadline.
	select {

	case env := <-s.pending:

		if (len(env.Ops) == 0) && (env.State == nil) {

			// Peer had nothing new for us.
			s.setState(StateConverged)
		} else {

			s.setState(StateDeltaReceived)

			if err := s.replica.ApplyDelta(env); err != nil {
				return errors.Wrapf(err, "failed to merge delta from %s", peer)
			}

			s.setState(StateMerged)
		}

		// Second half of the two-way exchange: offer the peer
		// everything its announced clock is missing.
		s.offerDelta(peer, env)

		return nil

	case <-ctx.Done():
		return errors.Wrapf(ErrSyncTimeout, "no delta from %s", peer)
	}
}

// setState moves the round state machine.
func (s *Synchronizer) setState(state RoundState) {

	s.lock.Lock()
	defer s.lock.Unlock()

	s.state = state
}

// offerDelta sends the peer everything its envelope's clock is missing,
// best-effort: a lost offer is repaired by the peer's own rounds.
func (s *Synchronizer) offerDelta(peer string, env *wire.Envelope) {

	reply, err := s.replica.DeltaSince(env.VClock)
	if err != nil {
		level.Warn(s.logger).Log(
			"msg", "failed to compute return delta",
			"peer", peer,
			"err", err,
		)
		return
	}

	if (len(reply.Ops) == 0) && (reply.State == nil) {
		return
	}

	data, err := wire.Marshal(reply)
	if err != nil {
		level.Warn(s.logger).Log(
			"msg", "failed to marshal return delta",
			"peer", peer,
			"err", err,
		)
		return
	}

	if err := s.transport.SendTo(peer, s.topic, data); err != nil {
		level.Debug(s.logger).Log(
			"msg", "failed to send return delta",
			"peer", peer,
			"err", err,
		)
	}
}

// handle is the transport receive handler for the gossip topic.
func (s *Synchronizer) handle(peer string, payload []byte) {

	env, err := wire.Unmarshal(payload)
	if err != nil {
		level.Warn(s.logger).Log(
			"msg", "dropping malformed gossip payload",
			"peer", peer,
			"err", err,
		)
		return
	}

	switch env.Type {

	case wire.MsgDigest:
		s.handleDigest(peer, env)

	case wire.MsgDelta, wire.MsgState:

		// A delta belongs to the in-flight round when it comes from
		// the peer the round was opened against; everything else is
		// an unsolicited (two-way or duplicated) delta and folds in
		// passively. Merge idempotence makes the distinction purely
		// one of round bookkeeping.
		s.lock.Lock()
		forRound := s.inFlight && (peer == s.roundPeer)
		s.lock.Unlock()

		if forRound {

			select {
			case s.pending <- env:
				return
			default:
				// Round moved on in the meantime, fall through.
			}
		}

		s.applyPassive(peer, env)

	case wire.MsgOp:
		s.applyPassive(peer, env)
	}
}

// handleDigest answers a peer's digest with the delta of operations it
// has not observed. An empty delta is sent as well so that the
// initiator can conclude its round as Converged.
func (s *Synchronizer) handleDigest(peer string, env *wire.Envelope) {

	reply, err := s.replica.DeltaSince(env.VClock)
	if err != nil {
		level.Warn(s.logger).Log(
			"msg", "failed to compute delta for digest",
			"peer", peer,
			"err", err,
		)
		return
	}

	data, err := wire.Marshal(reply)
	if err != nil {
		level.Warn(s.logger).Log(
			"msg", "failed to marshal delta",
			"peer", peer,
			"err", err,
		)
		return
	}

	if err := s.transport.SendTo(peer, s.topic, data); err != nil {
		level.Debug(s.logger).Log(
			"msg", "failed to answer digest",
			"peer", peer,
			"err", err,
		)
	}
}

// applyPassive folds a received envelope into local state outside of
// any round bookkeeping.
func (s *Synchronizer) applyPassive(peer string, env *wire.Envelope) {

	if (len(env.Ops) == 0) && (env.State == nil) {
		return
	}

	if err := s.replica.ApplyDelta(env); err != nil {
		level.Warn(s.logger).Log(
			"msg", "failed to merge received delta",
			"peer", peer,
			"err", err,
		)
	}
}
