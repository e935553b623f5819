package core

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// DefaultDifficulty is the number of leading hex zero nibbles a block hash
// must have to be accepted, absent configuration (spec.md §4.4).
const DefaultDifficulty = 5

// DefaultMiningThreshold is the unconfirmed pool size that triggers a
// mining round, absent configuration (spec.md §4.8, §9 Open Question 2).
const DefaultMiningThreshold = 3

// ProofOfWork searches for a nonce producing a block hash with the
// required number of leading zero hex nibbles, polling a cancellation flag
// every iteration so a concurrently-arrived block can pre-empt it
// (spec.md §4.4, design note "cooperative mining cancellation"; grounded on
// original_source/src/proof_of_work.py's Event-guarded nonce loop).
type ProofOfWork struct {
	chain      *Blockchain
	result     chan *Block
	difficulty int
	cancelled  atomic.Bool
}

// NewProofOfWork builds a worker that will push its solved block to
// result, or nothing at all if Stop is called first.
func NewProofOfWork(chain *Blockchain, result chan *Block, difficulty int) *ProofOfWork {
	if difficulty <= 0 {
		difficulty = DefaultDifficulty
	}
	return &ProofOfWork{chain: chain, result: result, difficulty: difficulty}
}

// Stop requests cancellation; the worker notices on its next iteration.
func (p *ProofOfWork) Stop() { p.cancelled.Store(true) }

// Stopped reports whether Stop has been called.
func (p *ProofOfWork) Stopped() bool { return p.cancelled.Load() }

// Run executes the nonce search in the calling goroutine; callers spawn it
// with `go pow.Run()`.
func (p *ProofOfWork) Run() {
	snap := p.chain.Snapshot()
	tip := snap.Blocks[len(snap.Blocks)-1]
	candidate := Block{
		Transactions:      append([]Transaction(nil), snap.Unconfirmed...),
		PreviousBlockHash: tip.Hash(),
		Timestamp:         newTimestamp(),
		Nonce:             0,
	}

	rounds := 0
	for {
		if p.Stopped() {
			logrus.Debugf("pow: cancelled after %d rounds", rounds)
			return
		}
		if leadingZeroNibbles(candidate.Hash(), p.difficulty) {
			logrus.Debugf("pow: solved after %d rounds at difficulty %d", rounds, p.difficulty)
			p.result <- &candidate
			return
		}
		candidate.Nonce++
		rounds++
	}
}

// leadingZeroNibbles reports whether the first n hex characters of h are
// all '0' (spec.md §4.4: "the first difficulty hex nibbles ... all zero").
func leadingZeroNibbles(h Hash, n int) bool {
	s := string(h)
	if len(s) < n {
		return false
	}
	for _, c := range s[:n] {
		if c != '0' {
			return false
		}
	}
	return true
}
