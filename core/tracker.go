package core

import (
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// Tracker admits nodes, assigns identities, distributes a snapshot of its
// chain, and introduces peers to one another (spec.md §4.5). Grounded on teacher's
// core/network.go (listen/accept/registry-under-lock shape) and
// original_source/src/tracker.py's admission sequence.
type Tracker struct {
	keys *KeyPair
	cfg  Config

	listener net.Listener
	chain    *Blockchain

	mu         sync.Mutex
	registry   *PeerTable
	links      map[int]*Link
	identCount int
}

// NewTracker builds a tracker with a fresh keypair and a genesis chain.
func NewTracker(cfg Config) (*Tracker, error) {
	keys, err := GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("tracker: generate keypair: %w", err)
	}
	return &Tracker{
		keys:       keys,
		cfg:        cfg,
		chain:      NewBlockchain(cfg.GenesisAmount),
		registry:   newPeerTable(),
		links:      make(map[int]*Link),
		identCount: 1, // 0 is reserved (GenesisIdent)
	}, nil
}

// Listen binds the tracker's listening socket without accepting
// connections yet.
func (t *Tracker) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("tracker: listen %s: %w", addr, err)
	}
	t.listener = ln
	logrus.Infof("tracker: listening on %s", ln.Addr())
	return nil
}

// Addr reports the bound listener address; empty before Listen succeeds.
func (t *Tracker) Addr() string {
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// Serve accepts connections and admits each on its own goroutine until the
// listener is closed.
func (t *Tracker) Serve() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			logrus.Warnf("tracker: accept loop stopped: %v", err)
			return
		}
		go t.admit(conn)
	}
}

// ListenAndServe binds addr and serves until the listener closes.
func (t *Tracker) ListenAndServe(addr string) error {
	if err := t.Listen(addr); err != nil {
		return err
	}
	t.Serve()
	return nil
}

// admit runs the full admission sequence for one inbound connection
// (spec.md §4.5, steps 1-11). Any deviation closes this link only; it
// never affects already-admitted nodes.
func (t *Tracker) admit(conn net.Conn) {
	link := newLink(conn, t.keys)

	// 1. NODE_KEYS, plaintext.
	msg, err := link.Recv()
	if err != nil || msg.Kind != KindNodeKeys {
		logrus.Warnf("tracker: rejecting admission: expected NODE_KEYS: %v", err)
		conn.Close()
		return
	}
	pubKeyStr, verifyKeyStr := msg.PublicKey, msg.VerifyKey
	peerPub, err := DecodePublicKey(pubKeyStr)
	if err != nil {
		logrus.Warnf("tracker: rejecting admission: bad public key: %v", err)
		conn.Close()
		return
	}
	peerVerify, err := DecodeVerifyKey(verifyKeyStr)
	if err != nil {
		logrus.Warnf("tracker: rejecting admission: bad verify key: %v", err)
		conn.Close()
		return
	}

	// 2. assign ident, send TRACKER_IDENT, plaintext. Assignment and the
	// increment happen under the same lock acquisition so two admissions
	// racing in their own goroutines can never be handed the same ident
	// (original_source/src/tracker.py holds its lock across the whole
	// accept() body for the same reason); a later step failing still
	// leaves this ident permanently consumed, which spec.md §3 allows.
	t.mu.Lock()
	ident := t.identCount
	t.identCount++
	t.mu.Unlock()
	if err := link.Send(NewTrackerIdent(ident, t.keys.PublicKey(), t.keys.VerifyKey())); err != nil {
		logrus.Warnf("tracker: send TRACKER_IDENT to %d: %v", ident, err)
		conn.Close()
		return
	}

	// Both sides now know each other's keys.
	link.Upgrade(peerPub, peerVerify)

	// 3. NODE_IDENT ack, encrypted.
	if msg, err = link.Recv(); err != nil || msg.Kind != KindNodeIdent {
		logrus.Warnf("tracker: admission %d: expected NODE_IDENT: %v", ident, err)
		conn.Close()
		return
	}

	// 4. TRACKER_CHAIN.
	if err := link.Send(NewTrackerChain(t.chain.Snapshot())); err != nil {
		logrus.Warnf("tracker: admission %d: send TRACKER_CHAIN: %v", ident, err)
		conn.Close()
		return
	}

	// 5. NODE_PORT.
	if msg, err = link.Recv(); err != nil || msg.Kind != KindNodePort {
		logrus.Warnf("tracker: admission %d: expected NODE_PORT: %v", ident, err)
		conn.Close()
		return
	}
	port := msg.Port

	// 6. NODE_LISTEN go-ahead/ack.
	if err := link.Send(NewNodeListen()); err != nil {
		logrus.Warnf("tracker: admission %d: send NODE_LISTEN: %v", ident, err)
		conn.Close()
		return
	}
	if msg, err = link.Recv(); err != nil || msg.Kind != KindNodeListen {
		logrus.Warnf("tracker: admission %d: expected NODE_LISTEN ack: %v", ident, err)
		conn.Close()
		return
	}

	// 7. TRACKER_PEERS: the currently-registered directory, before this
	// node is added to it.
	t.mu.Lock()
	existingPeers := t.registry.All()
	t.mu.Unlock()
	if err := link.Send(NewTrackerPeers(existingPeers)); err != nil {
		logrus.Warnf("tracker: admission %d: send TRACKER_PEERS: %v", ident, err)
		conn.Close()
		return
	}

	// 8. NODE_PEERS ack.
	if msg, err = link.Recv(); err != nil || msg.Kind != KindNodePeers {
		logrus.Warnf("tracker: admission %d: expected NODE_PEERS: %v", ident, err)
		conn.Close()
		return
	}

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}
	descriptor := PeerDescriptor{Ident: ident, Host: host, Port: port, PublicKey: pubKeyStr, VerifyKey: verifyKeyStr}

	// 9. Tell every already-registered node about the new peer before
	// accepting the new node itself (spec.md §5 ordering guarantee).
	t.mu.Lock()
	for otherIdent, l := range t.links {
		if err := l.Send(NewTrackerNewPeer(descriptor)); err != nil {
			logrus.Warnf("tracker: notify %d of new peer %d: %v", otherIdent, ident, err)
		}
	}
	t.mu.Unlock()

	// 10. Accept the new node.
	if err := link.Send(NewTrackerAccept()); err != nil {
		logrus.Warnf("tracker: admission %d: send TRACKER_ACCEPT: %v", ident, err)
		conn.Close()
		return
	}

	// 11. Commit under the registry lock. identCount was already advanced
	// at step 2.
	t.mu.Lock()
	t.registry.Put(descriptor)
	t.links[ident] = link
	t.mu.Unlock()

	logrus.Infof("tracker: admitted node %d at %s:%d", ident, host, port)
	t.monitor(ident, link)
}

// monitor reads from an admitted node's link until it disconnects or the
// link dies outright.
func (t *Tracker) monitor(ident int, link *Link) {
	for {
		msg, err := link.Recv()
		if err != nil {
			logrus.Warnf("tracker: lost node %d: %v", ident, err)
			t.removeNode(ident)
			return
		}
		switch msg.Kind {
		case KindNodeDisconnect:
			logrus.Infof("tracker: node %d disconnecting", ident)
			t.removeNode(ident)
			return
		case KindPeerBlock:
			// Informational mirror only: no nonce validation, no
			// rebroadcast (spec.md §9 Open Question 4).
			if msg.Block != nil {
				t.chain.AddBlock(*msg.Block)
			}
		default:
			logrus.Warnf("tracker: node %d sent unexpected kind %s; closing", ident, msg.Kind)
			t.removeNode(ident)
			return
		}
	}
}

func (t *Tracker) removeNode(ident int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.links[ident]; ok {
		l.Close()
		delete(t.links, ident)
	}
	t.registry.Remove(ident)
}

// Nodes returns every currently-registered peer descriptor (for the
// `nodes` shell command, spec.md §6).
func (t *Tracker) Nodes() []PeerDescriptor {
	return t.registry.All()
}

// ChainSnapshot returns the tracker's view of the chain (for the `chain`
// shell command, spec.md §6).
func (t *Tracker) ChainSnapshot() ChainSnapshot {
	return t.chain.Snapshot()
}

// Shutdown closes the listener and every admitted node's link.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		t.listener.Close()
	}
	for ident, l := range t.links {
		l.Close()
		delete(t.links, ident)
	}
	t.registry = newPeerTable()
}
