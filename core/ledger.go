package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// GenesisIdent is the reserved sender/receiver identity used by the
// genesis transaction; receiving to it credits every observer
// (spec.md §4.3, §9 Open Question 1).
const GenesisIdent = 0

// DefaultGenesisAmount is the amount minted by the genesis block when no
// override is configured.
const DefaultGenesisAmount = 10

// Transaction is a plaintext, unsigned transfer record (spec.md §3).
type Transaction struct {
	Sender   int `json:"sender"`
	Receiver int `json:"receiver"`
	Amount   int `json:"amount"`
}

// Hash is a hex-encoded SHA-256 digest.
type Hash string

// Block is one confirmed batch of transactions (spec.md §3, §4.3).
type Block struct {
	Transactions      []Transaction `json:"transactions"`
	PreviousBlockHash Hash          `json:"previous_block_hash"`
	Timestamp         string        `json:"timestamp"`
	Nonce             int           `json:"nonce"`
}

// Hash computes the block's content hash over its own fields, canonically
// ordered by struct field declaration order the way encoding/json already
// marshals them (spec.md §4.3: "SHA-256 over the canonical JSON encoding of
// every field except the hash itself").
func (b *Block) Hash() Hash {
	data, _ := json.Marshal(b)
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// newTimestamp formats "now" the way spec.md §4.3 requires:
// "YYYY-MM-DD HH:MM:SS.ffffff" with microsecond precision.
func newTimestamp() string {
	return time.Now().Format("2006-01-02 15:04:05.000000")
}

// GenesisBlock builds the single seed block every chain starts from: one
// transaction crediting GenesisIdent amount to GenesisIdent, previous hash
// "0" (spec.md §4.3).
func GenesisBlock(amount int) Block {
	return Block{
		Transactions:      []Transaction{{Sender: GenesisIdent, Receiver: GenesisIdent, Amount: amount}},
		PreviousBlockHash: "0",
		Timestamp:         newTimestamp(),
		Nonce:             0,
	}
}

// ChainSnapshot is the wire form of a Blockchain, carried by TRACKER_CHAIN
// (spec.md §4.2).
type ChainSnapshot struct {
	Blocks      []Block       `json:"blocks"`
	Unconfirmed []Transaction `json:"unconfirmed"`
}

// Blockchain is a node's or tracker's view of the ledger: a confirmed block
// list plus an unconfirmed transaction pool (spec.md §3, §4.3).
type Blockchain struct {
	mu          sync.RWMutex
	Blocks      []Block
	Unconfirmed []Transaction
}

// NewBlockchain seeds a fresh chain with a genesis block crediting
// genesisAmount.
func NewBlockchain(genesisAmount int) *Blockchain {
	return &Blockchain{Blocks: []Block{GenesisBlock(genesisAmount)}}
}

// FromSnapshot rebuilds a Blockchain from a wire snapshot, used by a node
// adopting the chain a tracker hands it at admission (spec.md §4.6 step 4).
func FromSnapshot(s ChainSnapshot) *Blockchain {
	return &Blockchain{
		Blocks:      append([]Block(nil), s.Blocks...),
		Unconfirmed: append([]Transaction(nil), s.Unconfirmed...),
	}
}

// Snapshot copies the chain out into its wire form.
func (bc *Blockchain) Snapshot() ChainSnapshot {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return ChainSnapshot{
		Blocks:      append([]Block(nil), bc.Blocks...),
		Unconfirmed: append([]Transaction(nil), bc.Unconfirmed...),
	}
}

// Tip returns the most recently appended block.
func (bc *Blockchain) Tip() Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.Blocks[len(bc.Blocks)-1]
}

// balanceLocked sums ident's credits and debits across every confirmed
// block. Receiving to GenesisIdent credits every observer in addition to
// the named receiver (spec.md §4.3, §9 Open Question 1) — callers must
// already hold bc.mu.
func (bc *Blockchain) balanceLocked(ident int) int {
	bal := 0
	for _, blk := range bc.Blocks {
		for _, tx := range blk.Transactions {
			if tx.Receiver == ident {
				bal += tx.Amount
			}
			if tx.Receiver == GenesisIdent {
				bal += tx.Amount
			}
			if tx.Sender == ident {
				bal -= tx.Amount
			}
		}
	}
	return bal
}

// Balance reports ident's confirmed balance.
func (bc *Blockchain) Balance(ident int) int {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.balanceLocked(ident)
}

// CheckValidity reports whether tx.Sender's confirmed balance covers
// tx.Amount.
func (bc *Blockchain) CheckValidity(tx Transaction) bool {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.balanceLocked(tx.Sender) >= tx.Amount
}

// AddUnconfirmed validates and pools tx, returning whether it was accepted
// and the pool size immediately after (spec.md §4.3, §4.8). Rejected
// transactions are silently dropped, never pooled.
func (bc *Blockchain) AddUnconfirmed(tx Transaction) (bool, int) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.balanceLocked(tx.Sender) < tx.Amount {
		return false, len(bc.Unconfirmed)
	}
	bc.Unconfirmed = append(bc.Unconfirmed, tx)
	return true, len(bc.Unconfirmed)
}

// AddBlock appends b if it correctly chains from the current tip, clearing
// the unconfirmed pool, and silently discards it otherwise (spec.md §5:
// "a later-produced block with a mismatched previous_block_hash is
// discarded at the next add_block" — the mining race's tiebreak). Reports
// whether b was appended.
func (bc *Blockchain) AddBlock(b Block) bool {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	tip := bc.Blocks[len(bc.Blocks)-1]
	if b.PreviousBlockHash != tip.Hash() {
		logrus.Debugf("ledger: discarding block with stale previous hash %s", b.PreviousBlockHash)
		return false
	}
	bc.Blocks = append(bc.Blocks, b)
	bc.Unconfirmed = nil
	logrus.Debugf("ledger: appended block at height %d", len(bc.Blocks)-1)
	return true
}
