package core

import "sync"

// PeerDescriptor identifies a peer on the network: its tracker-assigned
// identity, dial address, and public keys (spec.md §3). Immutable once
// constructed; grounded on original_source/src/peer.py's Peer class.
type PeerDescriptor struct {
	Ident     int    `json:"ident"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	PublicKey string `json:"public_key"`
	VerifyKey string `json:"verify_key"`
}

// PeerTable is an ident -> PeerDescriptor directory, guarded by a
// sync.RWMutex the way teacher's core/peer_management.go wraps its
// subscription/connection maps. Kept separate from live-socket state so a
// peer can be known (from the tracker) before, or after, a live connection
// exists.
type PeerTable struct {
	mu    sync.RWMutex
	peers map[int]PeerDescriptor
}

func newPeerTable() *PeerTable {
	return &PeerTable{peers: make(map[int]PeerDescriptor)}
}

// Put records or replaces p under p.Ident.
func (t *PeerTable) Put(p PeerDescriptor) {
	t.mu.Lock()
	t.peers[p.Ident] = p
	t.mu.Unlock()
}

// Get looks up a descriptor by ident.
func (t *PeerTable) Get(ident int) (PeerDescriptor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[ident]
	return p, ok
}

// Remove drops ident from the table.
func (t *PeerTable) Remove(ident int) {
	t.mu.Lock()
	delete(t.peers, ident)
	t.mu.Unlock()
}

// All returns a snapshot of every descriptor currently known.
func (t *PeerTable) All() []PeerDescriptor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PeerDescriptor, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	return out
}
