package core

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

const (
	boxKeySize   = 32
	boxNonceSize = 24
)

// ErrDecryptFailed and ErrVerifyFailed are the two crypto failure modes a
// link can hit; both are treated identically by callers (spec.md §4.1,
// §7: "a verify or decrypt failure is reported as a framing error").
var (
	ErrDecryptFailed = errors.New("core: box decryption failed")
	ErrVerifyFailed  = errors.New("core: signature verification failed")
)

// KeyPair holds one participant's ephemeral X25519 box key (for
// authenticated encryption) and Ed25519 signing key. Generated once at
// process start and never persisted (spec.md §3 "KeyPair").
type KeyPair struct {
	boxPub   *[boxKeySize]byte
	boxPriv  *[boxKeySize]byte
	signPub  ed25519.PublicKey
	signPriv ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh X25519/Ed25519 keypair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("core: generate box key: %w", err)
	}
	vk, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("core: generate signing key: %w", err)
	}
	return &KeyPair{boxPub: pub, boxPriv: priv, signPub: vk, signPriv: sk}, nil
}

// PublicKey returns the base64-encoded X25519 public key, the wire form
// carried in NODE_KEYS/TRACKER_IDENT and PeerDescriptor (spec.md §4.2).
func (k *KeyPair) PublicKey() string { return base64.StdEncoding.EncodeToString(k.boxPub[:]) }

// VerifyKey returns the base64-encoded Ed25519 verify key.
func (k *KeyPair) VerifyKey() string { return base64.StdEncoding.EncodeToString(k.signPub) }

// Encrypt seals msg for peerPub using a Curve25519 box, prepending a fresh
// random nonce to the ciphertext (spec.md §4.1).
func (k *KeyPair) Encrypt(msg []byte, peerPub *[boxKeySize]byte) ([]byte, error) {
	var nonce [boxNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("core: generate nonce: %w", err)
	}
	return box.Seal(nonce[:], msg, &nonce, peerPub, k.boxPriv), nil
}

// Decrypt opens a nonce-prefixed box ciphertext produced by Encrypt.
func (k *KeyPair) Decrypt(ciphertext []byte, peerPub *[boxKeySize]byte) ([]byte, error) {
	if len(ciphertext) < boxNonceSize {
		return nil, ErrDecryptFailed
	}
	var nonce [boxNonceSize]byte
	copy(nonce[:], ciphertext[:boxNonceSize])
	out, ok := box.Open(nil, ciphertext[boxNonceSize:], &nonce, peerPub, k.boxPriv)
	if !ok {
		return nil, ErrDecryptFailed
	}
	return out, nil
}

// Sign signs msg with the Ed25519 signing key.
func (k *KeyPair) Sign(msg []byte) []byte { return ed25519.Sign(k.signPriv, msg) }

// Verify checks sig over msg against verifyKey.
func Verify(msg, sig []byte, verifyKey ed25519.PublicKey) bool {
	if len(verifyKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(verifyKey, msg, sig)
}

// SealEnvelope implements the encrypt-then-sign sequence used for every
// message once peer keys are known (spec.md §4.1): encrypt the plaintext
// for peerPub, then sign the resulting ciphertext (including its nonce).
func (k *KeyPair) SealEnvelope(plaintext []byte, peerPub *[boxKeySize]byte) ([]byte, error) {
	encrypted, err := k.Encrypt(plaintext, peerPub)
	if err != nil {
		return nil, err
	}
	sig := k.Sign(encrypted)
	return append(sig, encrypted...), nil
}

// OpenEnvelope implements verify-then-decrypt: recover the ciphertext by
// verifying it against verifyKey, then decrypt it against peerPub using
// priv's private key.
func OpenEnvelope(blob []byte, verifyKey ed25519.PublicKey, priv *KeyPair, peerPub *[boxKeySize]byte) ([]byte, error) {
	if len(blob) < ed25519.SignatureSize {
		return nil, ErrVerifyFailed
	}
	sig := blob[:ed25519.SignatureSize]
	body := blob[ed25519.SignatureSize:]
	if !Verify(body, sig, verifyKey) {
		return nil, ErrVerifyFailed
	}
	return priv.Decrypt(body, peerPub)
}

// DecodePublicKey parses a base64-encoded X25519 public key.
func DecodePublicKey(s string) (*[boxKeySize]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(b) != boxKeySize {
		return nil, fmt.Errorf("core: invalid public key")
	}
	var out [boxKeySize]byte
	copy(out[:], b)
	return &out, nil
}

// DecodeVerifyKey parses a base64-encoded Ed25519 verify key.
func DecodeVerifyKey(s string) (ed25519.PublicKey, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("core: invalid verify key")
	}
	return ed25519.PublicKey(b), nil
}
