package comm_test

import (
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/go-concord/concord/comm"
)

// Structs

// received captures one delivered payload for assertions.
type received struct {
	peer    string
	payload []byte
}

// Functions

// collect registers a handler on the supplied transport that forwards
// deliveries into a channel.
func collect(t comm.Transport, topic string) chan received {

	out := make(chan received, 16)

	t.OnReceive(topic, func(peer string, payload []byte) {
		out <- received{peer: peer, payload: payload}
	})

	return out
}

// TestLocalNetworkDelivery executes a black-box unit test on SendTo(),
// Broadcast() and link cutting of the loopback fabric.
func TestLocalNetworkDelivery(t *testing.T) {

	network := comm.NewLocalNetwork()

	a := network.Join("node-a")
	b := network.Join("node-b")
	c := network.Join("node-c")

	inB := collect(b, "sync")
	inC := collect(c, "sync")

	// Direct delivery.
	assert.Nil(t, a.SendTo("node-b", "sync", []byte("hello")), "expected send to joined peer to succeed")

	got := <-inB
	assert.Equal(t, "node-a", got.peer, "expected sender attribution")
	assert.Equal(t, []byte("hello"), got.payload, "expected payload to arrive unchanged")

	// Unknown peers are unreachable.
	err := a.SendTo("node-x", "sync", []byte("hello"))
	assert.Equal(t, comm.ErrPeerUnreachable, errors.Cause(err), "expected unknown peer to be unreachable")

	// Broadcast reaches every other peer.
	assert.Nil(t, a.Broadcast("sync", []byte("all")), "expected broadcast to succeed")
	assert.Equal(t, []byte("all"), (<-inB).payload)
	assert.Equal(t, []byte("all"), (<-inC).payload)

	// A cut link drops direct sends until healed.
	network.Partition("node-a", "node-b")

	err = a.SendTo("node-b", "sync", []byte("lost"))
	assert.Equal(t, comm.ErrPeerUnreachable, errors.Cause(err), "expected cut link to be unreachable")

	network.Heal("node-a", "node-b")

	assert.Nil(t, a.SendTo("node-b", "sync", []byte("back")), "expected healed link to deliver")
	assert.Equal(t, []byte("back"), (<-inB).payload)
}

// TestTCPTransportDelivery executes a black-box unit test on frame
// exchange between two TCP transports on the loopback interface.
func TestTCPTransportDelivery(t *testing.T) {

	logger := log.NewNopLogger()

	a, err := comm.NewTCPTransport(logger, "node-a", "127.0.0.1:0", nil)
	assert.Nil(t, err, "expected transport to listen")
	defer a.Close()

	// Note: peer addresses become known only after both listeners
	// are bound, so build b's peer map from a's bound address.
	b, err := comm.NewTCPTransport(logger, "node-b", "127.0.0.1:0", map[string]string{
		"node-a": a.Addr(),
	})
	assert.Nil(t, err, "expected transport to listen")
	defer b.Close()

	inA := collect(a, "sync")

	assert.Nil(t, b.SendTo("node-a", "sync", []byte("over tcp")), "expected send over tcp to succeed")

	select {
	case got := <-inA:
		assert.Equal(t, "node-b", got.peer, "expected sender attribution")
		assert.Equal(t, []byte("over tcp"), got.payload, "expected payload to arrive unchanged")
	case <-time.After(2 * time.Second):
		t.Fatalf("[comm.TestTCPTransportDelivery] Expected frame to arrive but timed out\n")
	}

	// Sending to a peer that is not listening is unreachable.
	c, err := comm.NewTCPTransport(logger, "node-c", "127.0.0.1:0", map[string]string{
		"node-a": "127.0.0.1:1",
	})
	assert.Nil(t, err)
	defer c.Close()

	err = c.SendTo("node-a", "sync", []byte("nope"))
	assert.Equal(t, comm.ErrPeerUnreachable, errors.Cause(err), "expected closed port to be unreachable")
}
