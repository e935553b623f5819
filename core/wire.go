package core

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind tags every message on the wire (spec.md §4.2).
type Kind int

const (
	KindNodeKeys Kind = iota + 1
	KindTrackerIdent
	KindNodeIdent
	KindNodePort
	KindNodeListen
	KindTrackerPeers
	KindPeerIdent
	KindPeerVerify
	KindPeerAccept
	KindTrackerAccept
	KindTrackerNewPeer
	KindNodePeers
	KindNodeDisconnect
	KindTrackerChain
	KindPeerTransaction
	KindPeerBlock
)

var kindNames = map[Kind]string{
	KindNodeKeys:        "NODE_KEYS",
	KindTrackerIdent:    "TRACKER_IDENT",
	KindNodeIdent:       "NODE_IDENT",
	KindNodePort:        "NODE_PORT",
	KindNodeListen:      "NODE_LISTEN",
	KindTrackerPeers:    "TRACKER_PEERS",
	KindPeerIdent:       "PEER_IDENT",
	KindPeerVerify:      "PEER_VERIFY",
	KindPeerAccept:      "PEER_ACCEPT",
	KindTrackerAccept:   "TRACKER_ACCEPT",
	KindTrackerNewPeer:  "TRACKER_NEW_PEER",
	KindNodePeers:       "NODE_PEERS",
	KindNodeDisconnect:  "NODE_DISCONNECT",
	KindTrackerChain:    "TRACKER_CHAIN",
	KindPeerTransaction: "PEER_TRANSACTION",
	KindPeerBlock:       "PEER_BLOCK",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

var (
	ErrUnknownKind  = errors.New("core: unknown message kind")
	ErrMissingField = errors.New("core: message missing a required field for its kind")
)

// Message is the closed tagged variant carried by every frame: one struct,
// one JSON shape, with only the fields relevant to Kind populated
// (spec.md §4.2). This mirrors the table-driven parser of
// original_source/src/message.py's per-Kind subclasses without needing a
// Go interface per variant.
type Message struct {
	Kind        Kind             `json:"kind"`
	Ident       int              `json:"ident,omitempty"`
	PublicKey   string           `json:"public_key,omitempty"`
	VerifyKey   string           `json:"verify_key,omitempty"`
	Port        int              `json:"port,omitempty"`
	Peers       []PeerDescriptor `json:"peers,omitempty"`
	Peer        *PeerDescriptor  `json:"peer,omitempty"`
	Blockchain  *ChainSnapshot   `json:"blockchain,omitempty"`
	Transaction *Transaction     `json:"transaction,omitempty"`
	Block       *Block           `json:"block,omitempty"`
}

func NewNodeKeys(publicKey, verifyKey string) *Message {
	return &Message{Kind: KindNodeKeys, PublicKey: publicKey, VerifyKey: verifyKey}
}

func NewTrackerIdent(ident int, publicKey, verifyKey string) *Message {
	return &Message{Kind: KindTrackerIdent, Ident: ident, PublicKey: publicKey, VerifyKey: verifyKey}
}

func NewNodeIdent() *Message { return &Message{Kind: KindNodeIdent} }

func NewNodePort(port int) *Message { return &Message{Kind: KindNodePort, Port: port} }

func NewNodeListen() *Message { return &Message{Kind: KindNodeListen} }

func NewTrackerPeers(peers []PeerDescriptor) *Message {
	return &Message{Kind: KindTrackerPeers, Peers: peers}
}

func NewPeerIdent(ident int) *Message { return &Message{Kind: KindPeerIdent, Ident: ident} }

func NewPeerVerify() *Message { return &Message{Kind: KindPeerVerify} }

func NewPeerAccept() *Message { return &Message{Kind: KindPeerAccept} }

func NewTrackerAccept() *Message { return &Message{Kind: KindTrackerAccept} }

func NewTrackerNewPeer(p PeerDescriptor) *Message {
	return &Message{Kind: KindTrackerNewPeer, Peer: &p}
}

func NewNodePeers() *Message { return &Message{Kind: KindNodePeers} }

func NewNodeDisconnect() *Message { return &Message{Kind: KindNodeDisconnect} }

func NewTrackerChain(snap ChainSnapshot) *Message {
	return &Message{Kind: KindTrackerChain, Blockchain: &snap}
}

func NewPeerTransaction(tx Transaction) *Message {
	return &Message{Kind: KindPeerTransaction, Transaction: &tx}
}

func NewPeerBlock(b Block) *Message { return &Message{Kind: KindPeerBlock, Block: &b} }

// validators checks the fields a given Kind requires are actually present,
// the Go equivalent of message.py's per-Kind parser functions.
var validators = map[Kind]func(*Message) error{
	KindNodeKeys: func(m *Message) error {
		if m.PublicKey == "" || m.VerifyKey == "" {
			return ErrMissingField
		}
		return nil
	},
	KindTrackerIdent: func(m *Message) error {
		if m.Ident == 0 || m.PublicKey == "" || m.VerifyKey == "" {
			return ErrMissingField
		}
		return nil
	},
	KindNodeIdent: func(m *Message) error { return nil },
	KindNodePort: func(m *Message) error {
		if m.Port == 0 {
			return ErrMissingField
		}
		return nil
	},
	KindNodeListen: func(m *Message) error { return nil },
	KindTrackerPeers: func(m *Message) error {
		return nil
	},
	KindPeerIdent: func(m *Message) error {
		if m.Ident == 0 {
			return ErrMissingField
		}
		return nil
	},
	KindPeerVerify: func(m *Message) error { return nil },
	KindPeerAccept: func(m *Message) error { return nil },
	KindTrackerAccept: func(m *Message) error { return nil },
	KindTrackerNewPeer: func(m *Message) error {
		if m.Peer == nil {
			return ErrMissingField
		}
		return nil
	},
	KindNodePeers:      func(m *Message) error { return nil },
	KindNodeDisconnect: func(m *Message) error { return nil },
	KindTrackerChain: func(m *Message) error {
		if m.Blockchain == nil {
			return ErrMissingField
		}
		return nil
	},
	KindPeerTransaction: func(m *Message) error {
		if m.Transaction == nil {
			return ErrMissingField
		}
		return nil
	},
	KindPeerBlock: func(m *Message) error {
		if m.Block == nil {
			return ErrMissingField
		}
		return nil
	},
}

// ToString renders m to its wire JSON form.
func ToString(m *Message) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("core: encode message: %w", err)
	}
	return string(b), nil
}

// FromString parses and validates a wire JSON message, the equivalent of
// message.py's of_string dispatch table.
func FromString(s string) (*Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("core: decode message: %w", err)
	}
	validate, ok := validators[m.Kind]
	if !ok {
		return nil, ErrUnknownKind
	}
	if err := validate(&m); err != nil {
		return nil, fmt.Errorf("%w: %s", err, m.Kind)
	}
	return &m, nil
}
