package core

// Transport is the raw-TCP peer mesh: one listener goroutine accepting
// connections, one handler goroutine per accepted connection reading framed
// messages until EOF or an explicit end, and a mutex-guarded table of
// persistent outbound connections.
//
// A peer is identified by the address it listens on, not the ephemeral
// socket it dialed from, so Transport tracks two things: outbound persistent
// connections keyed by that listen address, and a map from each inbound
// connection's remote socket address to the listen address it claimed in its
// connect message.

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Handler processes one decoded RPC message from a peer. from is the peer's
// listen address once known (the connect verb populates it), or the raw
// remote socket address before that.
type Handler func(from string, body []byte)

// Transport owns the listener and the outbound peer table.
type Transport struct {
	listenAddr string
	listener   net.Listener

	mu      sync.Mutex
	peers   map[string]net.Conn // listen address -> persistent outbound conn
	inbound map[string]string   // remote socket address -> claimed listen address
	conns   map[net.Conn]struct{}

	handlers map[Verb]Handler

	log *logrus.Entry

	closing bool
	wg      sync.WaitGroup
}

// NewTransport constructs a Transport bound to listenAddr (not yet
// listening — call Listen to start accepting).
func NewTransport(listenAddr string, log *logrus.Logger) *Transport {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Transport{
		listenAddr: listenAddr,
		peers:      make(map[string]net.Conn),
		inbound:    make(map[string]string),
		conns:      make(map[net.Conn]struct{}),
		handlers:   make(map[Verb]Handler),
		log:        log.WithField("component", "transport"),
	}
}

// OnVerb registers the handler invoked for every decoded message of the
// given verb. Must be called before Listen.
func (t *Transport) OnVerb(v Verb, h Handler) {
	t.handlers[v] = h
}

// Listen starts the accept loop in a background goroutine. The listening
// socket has SO_REUSEADDR (and SO_REUSEPORT where the platform supports it)
// set before bind so tests and orchestrators can recycle ports without
// waiting out TIME_WAIT.
func (t *Transport) Listen() error {
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(context.Background(), "tcp", t.listenAddr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", t.listenAddr, err)
	}
	t.listener = ln
	t.wg.Add(1)
	go t.acceptLoop()
	return nil
}

func (t *Transport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			t.mu.Lock()
			closing := t.closing
			t.mu.Unlock()
			if closing {
				return
			}
			t.log.WithError(err).Error("accept failed")
			return
		}
		t.track(conn)
		t.wg.Add(1)
		go t.handleConn(conn, conn.RemoteAddr().String())
	}
}

// HasPeer reports whether a persistent outbound connection to addr already
// exists. Connect handlers use it to avoid redialing a peer they are already
// linked to, which would otherwise ping-pong connect messages forever.
func (t *Transport) HasPeer(addr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.peers[addr]
	return ok
}

// Dial opens a persistent outbound connection to addr and sends a connect
// message advertising our own listen address and known peers. The
// connection is kept open and registered in the peer table under addr. A
// second Dial to an address that already has a live connection is a no-op;
// all outbound traffic for a peer goes through its one dedicated socket.
func (t *Transport) Dial(addr, selfAddr string, knownPeers []string) error {
	t.mu.Lock()
	if _, exists := t.peers[addr]; exists {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	t.mu.Lock()
	t.peers[addr] = conn
	t.conns[conn] = struct{}{}
	t.mu.Unlock()

	t.wg.Add(1)
	go t.handleConn(conn, addr)

	frame, err := encodeMessage(VerbConnect, ConnectPayload{
		ServerAddress: selfAddr,
		Peers:         knownPeers,
	})
	if err != nil {
		return err
	}
	_, err = conn.Write(frame)
	return err
}

func (t *Transport) track(conn net.Conn) {
	t.mu.Lock()
	t.conns[conn] = struct{}{}
	t.mu.Unlock()
}

func (t *Transport) handleConn(conn net.Conn, identity string) {
	defer t.wg.Done()
	// identity can be reassigned once a connect message names the peer's
	// listen address, so the cleanup must read it at exit, not at entry.
	defer func() { t.forget(conn, identity) }()
	correlation := uuid.NewString()
	log := t.log.WithFields(logrus.Fields{"peer": identity, "conn": correlation})
	log.Info("peer connection established")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	scanner.Split(frameSplitter)

	for scanner.Scan() {
		msg, err := decodeMessage(scanner.Bytes())
		if err != nil {
			log.WithError(err).Warn("dropping malformed frame")
			continue
		}
		if msg.Verb == VerbEnd {
			_ = conn.Close()
			log.Info("peer sent end, closing")
			return
		}
		if msg.Verb == VerbConnect {
			var cp ConnectPayload
			if err := json.Unmarshal(msg.Body, &cp); err == nil && cp.ServerAddress != "" {
				t.mu.Lock()
				t.inbound[conn.RemoteAddr().String()] = cp.ServerAddress
				t.mu.Unlock()
				identity = cp.ServerAddress
			}
		}
		if h, ok := t.handlers[msg.Verb]; ok {
			h(identity, msg.Body)
		}
	}
}

func (t *Transport) forget(conn net.Conn, identity string) {
	t.mu.Lock()
	delete(t.conns, conn)
	delete(t.inbound, conn.RemoteAddr().String())
	if existing, ok := t.peers[identity]; ok && existing == conn {
		delete(t.peers, identity)
	}
	t.mu.Unlock()
}

// Unicast sends verb/body to exactly one peer, identified by its listen
// address, returning an error if no connection to it exists.
func (t *Transport) Unicast(peerAddr string, verb Verb, body any) error {
	t.mu.Lock()
	conn, ok := t.peers[peerAddr]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: no connection to %s", peerAddr)
	}
	frame, err := encodeMessage(verb, body)
	if err != nil {
		return err
	}
	_, err = conn.Write(frame)
	return err
}

// Broadcast sends verb/body to every connected peer, iterating a snapshot
// of the peer table so a concurrent connect or disconnect cannot mutate the
// map mid-iteration.
func (t *Transport) Broadcast(verb Verb, body any) {
	t.mu.Lock()
	snapshot := make([]net.Conn, 0, len(t.peers))
	for _, c := range t.peers {
		snapshot = append(snapshot, c)
	}
	t.mu.Unlock()

	frame, err := encodeMessage(verb, body)
	if err != nil {
		t.log.WithError(err).Error("broadcast encode failed")
		return
	}
	for _, conn := range snapshot {
		if _, err := conn.Write(frame); err != nil {
			t.log.WithError(err).Warn("broadcast write failed")
		}
	}
}

// PeerCount reports the number of currently connected peers.
func (t *Transport) PeerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

// PeerAddresses returns a snapshot of known peer listen addresses.
func (t *Transport) PeerAddresses() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.peers))
	for addr := range t.peers {
		out = append(out, addr)
	}
	return out
}

// Shutdown broadcasts end to every peer, closes the listener and every
// remaining connection (inbound included), then waits for in-flight handler
// goroutines to drain.
func (t *Transport) Shutdown() error {
	t.mu.Lock()
	t.closing = true
	t.mu.Unlock()

	t.Broadcast(VerbEnd, EndPayload{ServerAddress: t.listenAddr})

	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	t.mu.Lock()
	for conn := range t.conns {
		_ = conn.Close()
	}
	t.peers = make(map[string]net.Conn)
	t.mu.Unlock()
	t.wg.Wait()
	return err
}
