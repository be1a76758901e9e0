package comm

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Variables

// maxFrameSize bounds one received frame to 64 MiB. Digests and deltas
// stay far below this; a larger announced frame marks a broken or
// hostile peer.
const maxFrameSize = 64 * 1024 * 1024

// dialTimeout bounds one connection attempt to a peer.
const dialTimeout = 5 * time.Second

// Structs

// frame is the unit written onto a TCP connection, length-prefixed with
// a big-endian uint32.
type frame struct {
	Sender  string `msgpack:"sender"`
	Topic   string `msgpack:"topic"`
	Payload []byte `msgpack:"payload"`
}

// TCPTransport implements Transport over plain TCP connections to a
// static peer set taken from the node configuration. Every send dials
// the addressed peer, writes one frame and closes the connection, which
// keeps the failure surface per payload small and retries cheap.
type TCPTransport struct {
	lock     sync.RWMutex
	logger   log.Logger
	name     string
	peers    map[string]string
	listener net.Listener
	handlers map[string][]Handler
}

// Functions

// NewTCPTransport opens a listening socket on the supplied address and
// returns a transport delivering to the supplied name-to-address peer
// map.
func NewTCPTransport(logger log.Logger, name string, listenAddr string, peers map[string]string) (*TCPTransport, error) {

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %q", listenAddr)
	}

	t := &TCPTransport{
		logger:   logger,
		name:     name,
		peers:    peers,
		listener: listener,
		handlers: make(map[string][]Handler),
	}

	// Accept and serve connections in background.
	go t.acceptLoop()

	return t, nil
}

// Addr returns the bound listen address, useful when listening on an
// ephemeral port.
func (t *TCPTransport) Addr() string {
	return t.listener.Addr().String()
}

// Broadcast hands the payload to every configured peer. Unreachable
// peers are logged and skipped; they catch up via anti-entropy.
func (t *TCPTransport) Broadcast(topic string, payload []byte) error {

	for peer := range t.peers {

		if err := t.SendTo(peer, topic, payload); err != nil {
			level.Debug(t.logger).Log(
				"msg", "skipping unreachable peer during broadcast",
				"peer", peer,
				"err", err,
			)
		}
	}

	return nil
}

// SendTo dials the addressed peer and writes one frame.
func (t *TCPTransport) SendTo(peer string, topic string, payload []byte) error {

	addr, found := t.peers[peer]
	if !found {
		return errors.Wrapf(ErrPeerUnreachable, "unknown peer %q", peer)
	}

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return errors.Wrapf(ErrPeerUnreachable, "failed to dial %s: %v", addr, err)
	}
	defer conn.Close()

	data, err := msgpack.Marshal(frame{
		Sender:  t.name,
		Topic:   topic,
		Payload: payload,
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal frame")
	}

	// Write length prefix followed by the frame.
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(data)))

	if _, err := conn.Write(prefix); err != nil {
		return errors.Wrapf(ErrPeerUnreachable, "failed to write to %s: %v", addr, err)
	}

	if _, err := conn.Write(data); err != nil {
		return errors.Wrapf(ErrPeerUnreachable, "failed to write to %s: %v", addr, err)
	}

	return nil
}

// OnReceive registers a handler for all payloads of a topic.
func (t *TCPTransport) OnReceive(topic string, handler Handler) {

	t.lock.Lock()
	defer t.lock.Unlock()

	t.handlers[topic] = append(t.handlers[topic], handler)
}

// Close shuts down the listening socket.
func (t *TCPTransport) Close() error {
	return t.listener.Close()
}

// acceptLoop serves inbound connections until the listener closes.
func (t *TCPTransport) acceptLoop() {

	for {

		conn, err := t.listener.Accept()
		if err != nil {
			// Listener closed, transport is done.
			return
		}

		go t.serveConn(conn)
	}
}

// serveConn reads frames off one connection until EOF and dispatches
// them to the registered handlers.
func (t *TCPTransport) serveConn(conn net.Conn) {

	defer conn.Close()

	for {

		prefix := make([]byte, 4)
		if _, err := io.ReadFull(conn, prefix); err != nil {
			return
		}

		size := binary.BigEndian.Uint32(prefix)
		if size > maxFrameSize {
			level.Warn(t.logger).Log(
				"msg", "dropping oversized frame",
				"size", size,
			)
			return
		}

		data := make([]byte, size)
		if _, err := io.ReadFull(conn, data); err != nil {
			return
		}

		f := frame{}
		if err := msgpack.Unmarshal(data, &f); err != nil {
			level.Warn(t.logger).Log(
				"msg", "dropping malformed frame",
				"err", err,
			)
			return
		}

		t.dispatch(f)
	}
}

// dispatch runs all handlers registered for the frame's topic.
func (t *TCPTransport) dispatch(f frame) {

	t.lock.RLock()
	handlers := make([]Handler, len(t.handlers[f.Topic]))
	copy(handlers, t.handlers[f.Topic])
	t.lock.RUnlock()

	for _, handler := range handlers {
		handler(f.Sender, f.Payload)
	}
}
