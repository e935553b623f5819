package core

import (
	"net"
	"strconv"
	"testing"
	"time"
)

func freeTCPPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func testConfig() Config {
	return Config{Difficulty: 2, MiningThreshold: 3, GenesisAmount: 10}
}

func startTestTracker(t *testing.T) (*Tracker, int) {
	t.Helper()
	tr, err := NewTracker(testConfig())
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	port := freeTCPPort(t)
	if err := tr.Listen(addrFor(port)); err != nil {
		t.Fatalf("tracker listen: %v", err)
	}
	go tr.Serve()
	t.Cleanup(tr.Shutdown)
	return tr, port
}

func addrFor(port int) string {
	return "127.0.0.1:" + strconv.Itoa(port)
}

func connectTestNode(t *testing.T, trackerPort int) *Node {
	t.Helper()
	n, err := NewNode(testConfig(), "127.0.0.1", freeTCPPort(t))
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	if err := n.Connect(addrFor(trackerPort)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(n.Disconnect)
	return n
}

func waitForPeerLink(t *testing.T, n *Node, ident int, timeout time.Duration) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		n.mu.Lock()
		_, ok := n.peerLinks[ident]
		n.mu.Unlock()
		if ok {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func waitForChainHeight(t *testing.T, n *Node, height int, timeout time.Duration) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(n.ChainSnapshot().Blocks) >= height {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// S1: a single node's admission assigns ident 1, hands it an empty peer
// list, credits the genesis amount, and leaves the chain at height 1.
func TestSingleNodeAdmission(t *testing.T) {
	_, trackerPort := startTestTracker(t)
	n := connectTestNode(t, trackerPort)

	if n.Ident() != 1 {
		t.Fatalf("ident = %d, want 1", n.Ident())
	}
	if len(n.Peers()) != 0 {
		t.Fatalf("expected empty peer list on first admission, got %v", n.Peers())
	}
	if got := n.Balance(); got != 10 {
		t.Fatalf("genesis balance = %d, want 10", got)
	}
	if len(n.ChainSnapshot().Blocks) != 1 {
		t.Fatalf("chain height = %d, want 1", len(n.ChainSnapshot().Blocks))
	}
}

// S2: a second node learns of the first via TRACKER_PEERS/TRACKER_NEW_PEER
// and both ends converge on a live peer-to-peer link.
func TestTwoNodeIntroduction(t *testing.T) {
	_, trackerPort := startTestTracker(t)
	n1 := connectTestNode(t, trackerPort)
	n2 := connectTestNode(t, trackerPort)

	if n1.Ident() != 1 || n2.Ident() != 2 {
		t.Fatalf("idents = %d, %d; want 1, 2", n1.Ident(), n2.Ident())
	}
	if !waitForPeerLink(t, n1, 2, 2*time.Second) {
		t.Fatalf("node 1 never established a link to node 2")
	}
	if !waitForPeerLink(t, n2, 1, 2*time.Second) {
		t.Fatalf("node 2 never established a link to node 1")
	}
}

// S3: a transaction exceeding the sender's balance is rejected everywhere.
func TestInvalidTransactionRejectedOnAllPools(t *testing.T) {
	_, trackerPort := startTestTracker(t)
	n1 := connectTestNode(t, trackerPort)
	n2 := connectTestNode(t, trackerPort)
	waitForPeerLink(t, n1, 2, 2*time.Second)
	waitForPeerLink(t, n2, 1, 2*time.Second)

	n1.Send(2, 999999)
	time.Sleep(100 * time.Millisecond)

	if len(n1.ChainSnapshot().Unconfirmed) != 0 {
		t.Fatalf("sender pool should remain empty after invalid transaction")
	}
	if len(n2.ChainSnapshot().Unconfirmed) != 0 {
		t.Fatalf("receiver pool should remain empty after invalid transaction")
	}
}

// S4: a three-node mining race converges to chain height 2 with every pool
// drained, at a lowered test difficulty.
func TestThreeNodeMiningRaceConverges(t *testing.T) {
	_, trackerPort := startTestTracker(t)
	n1 := connectTestNode(t, trackerPort)
	n2 := connectTestNode(t, trackerPort)
	n3 := connectTestNode(t, trackerPort)

	waitForPeerLink(t, n1, 2, 2*time.Second)
	waitForPeerLink(t, n1, 3, 2*time.Second)
	waitForPeerLink(t, n2, 1, 2*time.Second)
	waitForPeerLink(t, n2, 3, 2*time.Second)
	waitForPeerLink(t, n3, 1, 2*time.Second)
	waitForPeerLink(t, n3, 2, 2*time.Second)

	n1.Send(2, 1)
	n2.Send(1, 1)
	n3.Send(1, 1)

	for _, n := range []*Node{n1, n2, n3} {
		if !waitForChainHeight(t, n, 2, 10*time.Second) {
			t.Fatalf("node %d never reached chain height 2", n.Ident())
		}
	}
	for _, n := range []*Node{n1, n2, n3} {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) && len(n.ChainSnapshot().Unconfirmed) != 0 {
			time.Sleep(10 * time.Millisecond)
		}
		if len(n.ChainSnapshot().Unconfirmed) != 0 {
			t.Fatalf("node %d pool not drained after mining", n.Ident())
		}
	}
}

// S5: a graceful disconnect removes the departing node from both the
// remaining peer's live links and the tracker's registry.
func TestGracefulDisconnectRemovesNode(t *testing.T) {
	tr, trackerPort := startTestTracker(t)
	n1 := connectTestNode(t, trackerPort)
	n2, err := NewNode(testConfig(), "127.0.0.1", freeTCPPort(t))
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	if err := n2.Connect(addrFor(trackerPort)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForPeerLink(t, n1, 2, 2*time.Second)

	n2.Disconnect()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n1.mu.Lock()
		_, ok := n1.peerLinks[2]
		n1.mu.Unlock()
		if !ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	n1.mu.Lock()
	_, stillLinked := n1.peerLinks[2]
	n1.mu.Unlock()
	if stillLinked {
		t.Fatalf("expected node 1 to drop its link to node 2 after disconnect")
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		found := false
		for _, p := range tr.Nodes() {
			if p.Ident == 2 {
				found = true
			}
		}
		if !found {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected tracker registry to drop node 2 after disconnect")
}

// S6: an impostor claiming someone else's ident cannot open the
// PEER_VERIFY the responder seals for that ident's real keys, and the
// genuine peer link is undisturbed.
func TestImpostorCannotDisplaceGenuinePeerLink(t *testing.T) {
	_, trackerPort := startTestTracker(t)
	n1 := connectTestNode(t, trackerPort)
	n2 := connectTestNode(t, trackerPort)
	if !waitForPeerLink(t, n1, 2, 2*time.Second) {
		t.Fatalf("genuine link to node 2 never established")
	}

	n1.mu.Lock()
	genuineLink := n1.peerLinks[2]
	n1.mu.Unlock()

	impostorKeys, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate impostor keypair: %v", err)
	}
	conn, err := net.Dial("tcp", addrFor(n1.port))
	if err != nil {
		t.Fatalf("impostor dial: %v", err)
	}
	defer conn.Close()
	link := newLink(conn, impostorKeys)

	// Claims to be ident 2, but will upgrade with its own (wrong) keys,
	// since it does not possess node 2's private keys.
	if err := link.Send(NewPeerIdent(2)); err != nil {
		t.Fatalf("impostor send PEER_IDENT: %v", err)
	}
	link.Upgrade(impostorKeys.boxPub, impostorKeys.signPub)

	// n1 upgrades using the REAL node 2 keys from its directory and
	// seals its PEER_VERIFY for them, so the impostor, holding neither
	// n1's verify key on this link nor node 2's private key, fails to
	// verify/decrypt it.
	_, err = link.Recv()
	if err == nil {
		t.Fatalf("expected impostor handshake to fail")
	}

	time.Sleep(100 * time.Millisecond)
	n1.mu.Lock()
	current := n1.peerLinks[2]
	n1.mu.Unlock()
	if current != genuineLink {
		t.Fatalf("expected genuine peer link to node 2 to remain undisturbed")
	}
}
