package core

import "testing"

func sampleMessages() map[Kind]*Message {
	peer := PeerDescriptor{Ident: 2, Host: "localhost", Port: 9001, PublicKey: "pub", VerifyKey: "verify"}
	snap := ChainSnapshot{Blocks: []Block{GenesisBlock(10)}}
	tx := Transaction{Sender: 1, Receiver: 2, Amount: 3}
	block := GenesisBlock(10)

	return map[Kind]*Message{
		KindNodeKeys:        NewNodeKeys("pub", "verify"),
		KindTrackerIdent:    NewTrackerIdent(1, "pub", "verify"),
		KindNodeIdent:       NewNodeIdent(),
		KindNodePort:        NewNodePort(9000),
		KindNodeListen:      NewNodeListen(),
		KindTrackerPeers:    NewTrackerPeers([]PeerDescriptor{peer}),
		KindPeerIdent:       NewPeerIdent(2),
		KindPeerVerify:      NewPeerVerify(),
		KindPeerAccept:      NewPeerAccept(),
		KindTrackerAccept:   NewTrackerAccept(),
		KindTrackerNewPeer:  NewTrackerNewPeer(peer),
		KindNodePeers:       NewNodePeers(),
		KindNodeDisconnect:  NewNodeDisconnect(),
		KindTrackerChain:    NewTrackerChain(snap),
		KindPeerTransaction: NewPeerTransaction(tx),
		KindPeerBlock:       NewPeerBlock(block),
	}
}

func TestMessageRoundTripPerKind(t *testing.T) {
	for kind, m := range sampleMessages() {
		s, err := ToString(m)
		if err != nil {
			t.Fatalf("%s: encode: %v", kind, err)
		}
		got, err := FromString(s)
		if err != nil {
			t.Fatalf("%s: decode: %v", kind, err)
		}
		if got.Kind != kind {
			t.Fatalf("%s: kind mismatch after round trip: got %s", kind, got.Kind)
		}
	}
}

func TestFromStringRejectsUnknownKind(t *testing.T) {
	if _, err := FromString(`{"kind":999}`); err != ErrUnknownKind {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestFromStringRejectsMissingRequiredField(t *testing.T) {
	// KindNodeKeys == 1, but PublicKey/VerifyKey are absent.
	if _, err := FromString(`{"kind":1}`); err == nil {
		t.Fatalf("expected error for NODE_KEYS missing public_key/verify_key")
	}

	// KindTrackerNewPeer requires Peer.
	if _, err := FromString(`{"kind":11}`); err == nil {
		t.Fatalf("expected error for TRACKER_NEW_PEER missing peer")
	}
}

func TestFromStringRejectsMalformedJSON(t *testing.T) {
	if _, err := FromString(`not json`); err == nil {
		t.Fatalf("expected decode error for malformed JSON")
	}
}
