package core

import (
	"crypto/ed25519"
	"fmt"
	"net"
	"sync"
)

// linkKeys holds a peer's box/verify keys once known. A nil linkKeys marks
// a link still in its plaintext phase (spec.md §4.1: the first exchange of
// every handshake travels in the clear, before either side knows who it is
// talking to).
type linkKeys struct {
	peerPub    *[boxKeySize]byte
	peerVerify ed25519.PublicKey
}

// Link wraps a net.Conn with length-prefixed framing and, once upgraded,
// the encrypt-then-sign / verify-then-decrypt envelope (spec.md §4.1–§4.2).
// One Link exists per tracker↔node or node↔node socket.
type Link struct {
	conn net.Conn
	self *KeyPair

	mu   sync.Mutex
	keys *linkKeys
}

func newLink(conn net.Conn, self *KeyPair) *Link {
	return &Link{conn: conn, self: self}
}

// Upgrade records the peer's keys; every Send/Recv after this point is
// encrypted and signed.
func (l *Link) Upgrade(peerPub *[boxKeySize]byte, peerVerify ed25519.PublicKey) {
	l.mu.Lock()
	l.keys = &linkKeys{peerPub: peerPub, peerVerify: peerVerify}
	l.mu.Unlock()
}

// Send encodes m, sealing it if the link has been upgraded, and writes it
// as one length-prefixed frame.
func (l *Link) Send(m *Message) error {
	s, err := ToString(m)
	if err != nil {
		return err
	}

	l.mu.Lock()
	keys := l.keys
	l.mu.Unlock()

	payload := []byte(s)
	if keys != nil {
		sealed, err := l.self.SealEnvelope(payload, keys.peerPub)
		if err != nil {
			return fmt.Errorf("core: seal message: %w", err)
		}
		payload = sealed
	}
	return writeFrame(l.conn, payload)
}

// Recv reads one frame, opening its envelope if the link has been
// upgraded, and decodes the result.
func (l *Link) Recv() (*Message, error) {
	payload, err := readFrame(l.conn)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	keys := l.keys
	l.mu.Unlock()

	if keys != nil {
		opened, err := OpenEnvelope(payload, keys.peerVerify, l.self, keys.peerPub)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
		}
		payload = opened
	}
	return FromString(string(payload))
}

// Close releases the underlying connection.
func (l *Link) Close() error { return l.conn.Close() }
