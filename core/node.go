package core

import (
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// Node is the client side of the admission protocol and the hub of all
// peer-to-peer traffic once admitted (spec.md §4.6-§4.8). Grounded on
// teacher's core/node.go (thin-adapter shape, now filled in) and
// original_source/src/node.py's connect/accept/__recv_peer methods.
type Node struct {
	cfg  Config
	keys *KeyPair

	host string
	port int

	mu          sync.Mutex
	ident       int
	connected   bool
	trackerLink *Link
	peerLinks   map[int]*Link
	rejected    []int

	listener net.Listener

	peers *PeerTable

	chain      *Blockchain
	blockQueue chan *Block
}

// NewNode creates a node with a fresh keypair, ready to Connect.
func NewNode(cfg Config, host string, port int) (*Node, error) {
	keys, err := GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("node: generate keypair: %w", err)
	}
	return &Node{
		cfg:        cfg,
		keys:       keys,
		host:       host,
		port:       port,
		peers:      newPeerTable(),
		peerLinks:  make(map[int]*Link),
		blockQueue: make(chan *Block, 1),
	}, nil
}

// Ident returns the identity assigned by the tracker (0 until Connect
// receives TRACKER_IDENT).
func (n *Node) Ident() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ident
}

// Connect performs the full admission handshake against the tracker at
// addr, binds this node's own listener, dials every peer the tracker
// hands it, and starts the background readers (spec.md §4.6).
func (n *Node) Connect(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("node: dial tracker %s: %w", addr, err)
	}
	link := newLink(conn, n.keys)

	// 1. NODE_KEYS, plaintext.
	if err := link.Send(NewNodeKeys(n.keys.PublicKey(), n.keys.VerifyKey())); err != nil {
		conn.Close()
		return fmt.Errorf("node: send NODE_KEYS: %w", err)
	}

	// 2. TRACKER_IDENT, plaintext.
	msg, err := link.Recv()
	if err != nil || msg.Kind != KindTrackerIdent {
		conn.Close()
		return fmt.Errorf("node: expected TRACKER_IDENT: %w", err)
	}
	trackerPub, err := DecodePublicKey(msg.PublicKey)
	if err != nil {
		conn.Close()
		return fmt.Errorf("node: bad tracker public key: %w", err)
	}
	trackerVerify, err := DecodeVerifyKey(msg.VerifyKey)
	if err != nil {
		conn.Close()
		return fmt.Errorf("node: bad tracker verify key: %w", err)
	}
	n.mu.Lock()
	n.ident = msg.Ident
	n.mu.Unlock()
	logrus.Infof("node: assigned ident %d", msg.Ident)

	link.Upgrade(trackerPub, trackerVerify)

	// 3. NODE_IDENT, encrypted.
	if err := link.Send(NewNodeIdent()); err != nil {
		conn.Close()
		return fmt.Errorf("node %d: send NODE_IDENT: %w", n.Ident(), err)
	}

	// 4. TRACKER_CHAIN.
	msg, err = link.Recv()
	if err != nil || msg.Kind != KindTrackerChain || msg.Blockchain == nil {
		conn.Close()
		return fmt.Errorf("node %d: expected TRACKER_CHAIN: %w", n.Ident(), err)
	}
	n.chain = FromSnapshot(*msg.Blockchain)

	// 5. NODE_PORT.
	if err := link.Send(NewNodePort(n.port)); err != nil {
		conn.Close()
		return fmt.Errorf("node %d: send NODE_PORT: %w", n.Ident(), err)
	}

	// 6. NODE_LISTEN go-ahead, then bind, then ack.
	msg, err = link.Recv()
	if err != nil || msg.Kind != KindNodeListen {
		conn.Close()
		return fmt.Errorf("node %d: expected NODE_LISTEN: %w", n.Ident(), err)
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", n.host, n.port))
	if err != nil {
		conn.Close()
		return fmt.Errorf("node %d: listen %s:%d: %w", n.Ident(), n.host, n.port, err)
	}
	n.listener = ln
	if err := link.Send(NewNodeListen()); err != nil {
		conn.Close()
		return fmt.Errorf("node %d: ack NODE_LISTEN: %w", n.Ident(), err)
	}

	// 7. TRACKER_PEERS.
	msg, err = link.Recv()
	if err != nil || msg.Kind != KindTrackerPeers {
		conn.Close()
		return fmt.Errorf("node %d: expected TRACKER_PEERS: %w", n.Ident(), err)
	}
	for _, p := range msg.Peers {
		n.peers.Put(p)
	}

	// 8. NODE_PEERS ack.
	if err := link.Send(NewNodePeers()); err != nil {
		conn.Close()
		return fmt.Errorf("node %d: send NODE_PEERS: %w", n.Ident(), err)
	}

	// 9. TRACKER_ACCEPT.
	msg, err = link.Recv()
	if err != nil || msg.Kind != KindTrackerAccept {
		conn.Close()
		return fmt.Errorf("node %d: expected TRACKER_ACCEPT: %w", n.Ident(), err)
	}

	n.mu.Lock()
	n.trackerLink = link
	n.connected = true
	n.mu.Unlock()

	// 10. Dial every known peer.
	n.dialAllPeers()

	// 11. Spawn background readers.
	go n.recvTrackerLoop()
	go n.acceptLoop()

	logrus.Infof("node %d: admission complete", n.Ident())
	return nil
}

func (n *Node) dialAllPeers() {
	for _, p := range n.peers.All() {
		if err := n.dialPeer(p); err != nil {
			logrus.Warnf("node %d: peer %d rejected: %v", n.Ident(), p.Ident, err)
			n.mu.Lock()
			n.rejected = append(n.rejected, p.Ident)
			n.mu.Unlock()
			n.peers.Remove(p.Ident)
		}
	}
}

// dialPeer performs the initiator side of the peer handshake (spec.md
// §4.7): PEER_IDENT travels in the clear, then the link is upgraded using
// keys already known from the tracker's directory so PEER_VERIFY (which
// the responder encrypts) can be read.
func (n *Node) dialPeer(p PeerDescriptor) error {
	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", p.Host, p.Port))
	if err != nil {
		return fmt.Errorf("dial %s:%d: %w", p.Host, p.Port, err)
	}
	link := newLink(conn, n.keys)

	peerPub, err := DecodePublicKey(p.PublicKey)
	if err != nil {
		conn.Close()
		return err
	}
	peerVerify, err := DecodeVerifyKey(p.VerifyKey)
	if err != nil {
		conn.Close()
		return err
	}

	if err := link.Send(NewPeerIdent(n.Ident())); err != nil {
		conn.Close()
		return fmt.Errorf("send PEER_IDENT: %w", err)
	}

	link.Upgrade(peerPub, peerVerify)

	msg, err := link.Recv()
	if err != nil || msg.Kind != KindPeerVerify {
		conn.Close()
		return fmt.Errorf("expected PEER_VERIFY: %w", err)
	}
	if err := link.Send(NewPeerVerify()); err != nil {
		conn.Close()
		return fmt.Errorf("send PEER_VERIFY: %w", err)
	}
	msg, err = link.Recv()
	if err != nil || msg.Kind != KindPeerAccept {
		conn.Close()
		return fmt.Errorf("expected PEER_ACCEPT: %w", err)
	}

	n.mu.Lock()
	n.peerLinks[p.Ident] = link
	n.mu.Unlock()
	go n.recvPeerLoop(p.Ident, link)
	logrus.Infof("node %d: connected to peer %d", n.Ident(), p.Ident)
	return nil
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			logrus.Warnf("node %d: accept loop stopped: %v", n.Ident(), err)
			return
		}
		go n.acceptPeer(conn)
	}
}

// acceptPeer performs the responder side of the peer handshake: the
// claimed ident must already be in this node's directory (learned from the
// tracker), and the reply is encrypted under THAT ident's real keys — an
// impostor claiming someone else's ident cannot produce a PEER_VERIFY that
// verifies, since it lacks the real peer's private key (spec.md §4.7,
// "Testable Properties" S6).
func (n *Node) acceptPeer(conn net.Conn) {
	link := newLink(conn, n.keys)

	msg, err := link.Recv()
	if err != nil || msg.Kind != KindPeerIdent {
		logrus.Warnf("node %d: rejecting inbound connection: expected PEER_IDENT: %v", n.Ident(), err)
		conn.Close()
		return
	}
	claimed := msg.Ident
	descriptor, ok := n.peers.Get(claimed)
	if !ok {
		logrus.Warnf("node %d: rejecting unknown peer claim %d", n.Ident(), claimed)
		conn.Close()
		return
	}
	peerPub, err := DecodePublicKey(descriptor.PublicKey)
	if err != nil {
		conn.Close()
		return
	}
	peerVerify, err := DecodeVerifyKey(descriptor.VerifyKey)
	if err != nil {
		conn.Close()
		return
	}
	link.Upgrade(peerPub, peerVerify)

	if err := link.Send(NewPeerVerify()); err != nil {
		conn.Close()
		return
	}
	if msg, err = link.Recv(); err != nil || msg.Kind != KindPeerVerify {
		logrus.Warnf("node %d: peer %d failed verification: %v", n.Ident(), claimed, err)
		conn.Close()
		return
	}
	if err := link.Send(NewPeerAccept()); err != nil {
		conn.Close()
		return
	}

	n.mu.Lock()
	n.peerLinks[claimed] = link
	n.mu.Unlock()
	go n.recvPeerLoop(claimed, link)
	logrus.Infof("node %d: accepted peer %d", n.Ident(), claimed)
}

func (n *Node) recvPeerLoop(ident int, link *Link) {
	for {
		msg, err := link.Recv()
		if err != nil {
			logrus.Warnf("node %d: lost peer %d: %v", n.Ident(), ident, err)
			n.removePeer(ident)
			return
		}
		switch msg.Kind {
		case KindNodeDisconnect:
			logrus.Infof("node %d: peer %d disconnecting", n.Ident(), ident)
			n.removePeer(ident)
			return
		case KindPeerTransaction:
			if msg.Transaction != nil {
				n.recvTransaction(*msg.Transaction)
			}
		case KindPeerBlock:
			if msg.Block != nil {
				n.recvBlock(*msg.Block)
			}
		default:
			logrus.Warnf("node %d: peer %d sent unexpected kind %s; closing", n.Ident(), ident, msg.Kind)
			n.removePeer(ident)
			return
		}
	}
}

func (n *Node) removePeer(ident int) {
	n.mu.Lock()
	if l, ok := n.peerLinks[ident]; ok {
		l.Close()
		delete(n.peerLinks, ident)
	}
	n.mu.Unlock()
	n.peers.Remove(ident)
}

func (n *Node) recvTrackerLoop() {
	for {
		msg, err := n.trackerLink.Recv()
		if err != nil {
			logrus.Warnf("node %d: lost tracker connection: %v", n.Ident(), err)
			return
		}
		if msg.Kind == KindTrackerNewPeer && msg.Peer != nil {
			n.peers.Put(*msg.Peer)
			logrus.Infof("node %d: learned of new peer %d", n.Ident(), msg.Peer.Ident)
			continue
		}
		logrus.Warnf("node %d: tracker sent unexpected kind %s", n.Ident(), msg.Kind)
	}
}

// Send originates a transaction: broadcasts it to every connected peer and
// hands it to this node's own pool exactly as a received one would be
// (spec.md §4.8).
func (n *Node) Send(receiver, amount int) {
	tx := Transaction{Sender: n.Ident(), Receiver: receiver, Amount: amount}
	n.broadcast(NewPeerTransaction(tx))
	n.recvTransaction(tx)
}

func (n *Node) broadcast(m *Message) {
	n.mu.Lock()
	links := make(map[int]*Link, len(n.peerLinks))
	for id, l := range n.peerLinks {
		links[id] = l
	}
	n.mu.Unlock()

	var dead []int
	for id, l := range links {
		if err := l.Send(m); err != nil {
			logrus.Warnf("node %d: broadcast to peer %d failed: %v", n.Ident(), id, err)
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		n.removePeer(id)
	}
}

// recvTransaction validates and pools tx; when the pool reaches the mining
// threshold it starts a proof-of-work race (spec.md §4.8, §9 Open
// Question 2: exact equality, not >=).
func (n *Node) recvTransaction(tx Transaction) {
	ok, size := n.chain.AddUnconfirmed(tx)
	if !ok {
		logrus.Debugf("node %d: rejected invalid transaction %+v", n.Ident(), tx)
		return
	}
	if size == n.cfg.MiningThreshold {
		go n.mine()
	}
}

// mine runs one mining round: start a worker, wait for either its solved
// block or a STOP pushed by a concurrently-appended peer block, and
// broadcast whatever this node produced.
func (n *Node) mine() {
	// Drain any stale sentinel left by a block that arrived before this
	// round started (spec.md §9 Open Question 3).
	select {
	case <-n.blockQueue:
	default:
	}

	pow := NewProofOfWork(n.chain, n.blockQueue, n.cfg.Difficulty)
	go pow.Run()

	b := <-n.blockQueue
	if b == nil {
		pow.Stop()
		return
	}
	n.sendBlock(*b)
}

// recvBlock wakes any in-flight mining round, then appends the block.
// blockQueue is allocated once at construction, so this push is always
// valid even with no mining in flight (spec.md §9 Open Question 3).
func (n *Node) recvBlock(b Block) {
	select {
	case n.blockQueue <- nil:
	default:
	}
	n.chain.AddBlock(b)
}

// sendBlock appends b locally, broadcasts it to every peer, and mirrors it
// to the tracker for introspection (spec.md §4.8).
func (n *Node) sendBlock(b Block) {
	n.chain.AddBlock(b)
	n.broadcast(NewPeerBlock(b))

	n.mu.Lock()
	trackerLink := n.trackerLink
	n.mu.Unlock()
	if trackerLink != nil {
		if err := trackerLink.Send(NewPeerBlock(b)); err != nil {
			logrus.Warnf("node %d: failed to mirror block to tracker: %v", n.Ident(), err)
		}
	}
}

// Disconnect tells the tracker and every peer we're leaving, then tears
// down all sockets. Idempotent.
func (n *Node) Disconnect() {
	n.mu.Lock()
	if !n.connected {
		n.mu.Unlock()
		return
	}
	n.connected = false
	trackerLink := n.trackerLink
	links := make([]*Link, 0, len(n.peerLinks))
	for _, l := range n.peerLinks {
		links = append(links, l)
	}
	n.peerLinks = make(map[int]*Link)
	n.mu.Unlock()

	msg := NewNodeDisconnect()
	if trackerLink != nil {
		if err := trackerLink.Send(msg); err != nil {
			logrus.Debugf("node %d: disconnect notice to tracker failed: %v", n.Ident(), err)
		}
		trackerLink.Close()
	}
	for _, l := range links {
		if err := l.Send(msg); err != nil {
			logrus.Debugf("node %d: disconnect notice to peer failed: %v", n.Ident(), err)
		}
		l.Close()
	}
	if n.listener != nil {
		n.listener.Close()
	}
	n.peers = newPeerTable()
	logrus.Infof("node %d: disconnected", n.Ident())
}

// Peers returns every currently-known peer descriptor.
func (n *Node) Peers() []PeerDescriptor { return n.peers.All() }

// Balance reports this node's own confirmed balance.
func (n *Node) Balance() int { return n.chain.Balance(n.Ident()) }

// ChainSnapshot returns this node's view of the chain.
func (n *Node) ChainSnapshot() ChainSnapshot { return n.chain.Snapshot() }

// Rejected returns the idents of peers this node failed to connect to
// during admission (spec.md §4.7 "rejected" bookkeeping).
func (n *Node) Rejected() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int(nil), n.rejected...)
}
