package comm

import (
	"sync"

	"github.com/pkg/errors"
)

// Structs

// LocalNetwork is an in-process transport fabric connecting any number
// of loopback transports by name. Links between pairs of peers can be
// cut and healed, which is how the partition scenarios in the gossip
// tests are driven.
type LocalNetwork struct {
	lock  sync.RWMutex
	nodes map[string]*LocalTransport
	cut   map[string]map[string]bool
}

// LocalTransport is one endpoint of a LocalNetwork.
type LocalTransport struct {
	lock     sync.RWMutex
	name     string
	network  *LocalNetwork
	handlers map[string][]Handler
}

// Functions

// NewLocalNetwork returns an empty initialized loopback fabric.
func NewLocalNetwork() *LocalNetwork {

	return &LocalNetwork{
		nodes: make(map[string]*LocalTransport),
		cut:   make(map[string]map[string]bool),
	}
}

// Join registers a named endpoint on the fabric and returns its
// transport.
func (n *LocalNetwork) Join(name string) *LocalTransport {

	n.lock.Lock()
	defer n.lock.Unlock()

	t := &LocalTransport{
		name:     name,
		network:  n,
		handlers: make(map[string][]Handler),
	}
	n.nodes[name] = t

	return t
}

// Partition cuts the link between two named peers in both directions.
func (n *LocalNetwork) Partition(a string, b string) {

	n.lock.Lock()
	defer n.lock.Unlock()

	for _, pair := range [][2]string{{a, b}, {b, a}} {

		if n.cut[pair[0]] == nil {
			n.cut[pair[0]] = make(map[string]bool)
		}
		n.cut[pair[0]][pair[1]] = true
	}
}

// Heal restores the link between two named peers in both directions.
func (n *LocalNetwork) Heal(a string, b string) {

	n.lock.Lock()
	defer n.lock.Unlock()

	delete(n.cut[a], b)
	delete(n.cut[b], a)
}

// deliver hands a payload to the named peer unless the link is cut.
func (n *LocalNetwork) deliver(from string, to string, topic string, payload []byte) error {

	n.lock.RLock()
	target, found := n.nodes[to]
	severed := n.cut[from][to]
	n.lock.RUnlock()

	if !found || severed {
		return errors.Wrapf(ErrPeerUnreachable, "no link from %s to %s", from, to)
	}

	target.dispatch(from, topic, payload)

	return nil
}

// Broadcast hands the payload to every joined peer except the sender,
// skipping cut links.
func (t *LocalTransport) Broadcast(topic string, payload []byte) error {

	t.network.lock.RLock()
	peers := make([]string, 0, len(t.network.nodes))
	for name := range t.network.nodes {

		if name != t.name {
			peers = append(peers, name)
		}
	}
	t.network.lock.RUnlock()

	for _, peer := range peers {
		// Best-effort: unreachable peers catch up via anti-entropy.
		_ = t.network.deliver(t.name, peer, topic, payload)
	}

	return nil
}

// SendTo hands the payload to one named peer.
func (t *LocalTransport) SendTo(peer string, topic string, payload []byte) error {
	return t.network.deliver(t.name, peer, topic, payload)
}

// OnReceive registers a handler for all payloads of a topic.
func (t *LocalTransport) OnReceive(topic string, handler Handler) {

	t.lock.Lock()
	defer t.lock.Unlock()

	t.handlers[topic] = append(t.handlers[topic], handler)
}

// Close removes the endpoint from the fabric.
func (t *LocalTransport) Close() error {

	t.network.lock.Lock()
	defer t.network.lock.Unlock()

	delete(t.network.nodes, t.name)

	return nil
}

// dispatch runs all handlers registered for a topic. Handlers run on a
// fresh goroutine so that a handler replying over the same fabric never
// deadlocks against the delivering caller.
func (t *LocalTransport) dispatch(from string, topic string, payload []byte) {

	t.lock.RLock()
	handlers := make([]Handler, len(t.handlers[topic]))
	copy(handlers, t.handlers[topic])
	t.lock.RUnlock()

	for _, handler := range handlers {

		go func(handler Handler) {
			handler(from, payload)
		}(handler)
	}
}
