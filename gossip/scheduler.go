package gossip

import (
	"context"
	"math/rand"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// Structs

// Scheduler triggers synchronization rounds on a periodic tick or on
// demand via Poke, selecting a random subset of peers per tick. It
// bounds convergence latency probabilistically: with fanout f and n
// peers, expected dissemination takes O(log n) ticks. All transient
// round errors are handled here, logged and left to the next tick.
type Scheduler struct {
	logger   log.Logger
	service  Service
	peers    []string
	interval time.Duration
	timeout  time.Duration
	fanout   int
	poke     chan struct{}
}

// Functions

// NewScheduler returns a scheduler driving the supplied service against
// the supplied peer set. A fanout below one is raised to one.
func NewScheduler(logger log.Logger, service Service, peers []string, interval time.Duration, timeout time.Duration, fanout int) *Scheduler {

	if fanout < 1 {
		fanout = 1
	}

	if interval <= 0 {
		interval = time.Second
	}

	return &Scheduler{
		logger:   logger,
		service:  service,
		peers:    peers,
		interval: interval,
		timeout:  timeout,
		fanout:   fanout,
		poke:     make(chan struct{}, 1),
	}
}

// Poke requests an immediate synchronization round outside the periodic
// schedule, used after bursts of local mutations. Multiple pokes before
// the round runs coalesce into one.
func (s *Scheduler) Poke() {

	select {
	case s.poke <- struct{}{}:
	default:
	}
}

// Run drives rounds until the supplied context is cancelled. It is
// meant to run as a background goroutine owned by the node.
func (s *Scheduler) Run(ctx context.Context) {

	timer := time.NewTimer(s.jitter())
	defer timer.Stop()

	for {

		select {

		case <-ctx.Done():
			return

		case <-timer.C:
			s.tick(ctx)
			timer.Reset(s.jitter())

		case <-s.poke:
			s.tick(ctx)
		}
	}
}

// jitter spreads the wait until the next tick uniformly across
// [interval/2, interval*3/2) so that the rounds of a whole federation
// do not lock onto the same phase and arrive in bursts.
func (s *Scheduler) jitter() time.Duration {
	return (s.interval / 2) + time.Duration(rand.Int63n(int64(s.interval)))
}

// tick runs one scheduled batch of rounds against randomly selected
// peers. Errors are transient by definition here: they are logged and
// the peers are retried on a later tick.
func (s *Scheduler) tick(ctx context.Context) {

	for _, peer := range s.selectPeers() {

		roundCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.service.Sync(roundCtx, peer)
		cancel()

		if err != nil {
			level.Warn(s.logger).Log(
				"msg", "synchronization round failed, retrying on next tick",
				"peer", peer,
				"err", err,
			)
		}
	}
}

// selectPeers picks up to fanout random peers for one tick.
func (s *Scheduler) selectPeers() []string {

	if len(s.peers) == 0 {
		return nil
	}

	shuffled := make([]string, len(s.peers))
	copy(shuffled, s.peers)

	rand.Shuffle(len(shuffled), func(i int, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	if len(shuffled) > s.fanout {
		shuffled = shuffled[:s.fanout]
	}

	return shuffled
}
