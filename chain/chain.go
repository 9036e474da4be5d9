// Package chain implements the ordered, append-only block store with its
// proof-of-work acceptance gate.
package chain

import (
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/powmesh/node/chainmodel"
	"github.com/powmesh/node/ledger"
	"github.com/powmesh/node/powhash"
)

// ErrBadPreviousHash is returned when a candidate block's previous-hash
// does not match the chain's current head (or, for a genesis block, is
// non-empty).
var ErrBadPreviousHash = errors.New("chain: previous hash does not match")

// ErrBadProof is returned when a candidate proof fails the difficulty
// prefix check or does not equal the block's own computed hash.
var ErrBadProof = errors.New("chain: proof does not satisfy difficulty and hash check")

// Chain is an ordered, append-only sequence of packages, gated by
// proof-of-work. It owns a Ledger that is updated from every newly
// accepted block.
type Chain struct {
	mu         sync.RWMutex
	difficulty int
	packages   []chainmodel.Package
	ledger     *ledger.Ledger
	txCount    int
}

// New returns an empty chain enforcing the given difficulty.
func New(difficulty int) *Chain {
	return &Chain{
		difficulty: difficulty,
		ledger:     ledger.New(),
	}
}

// Len returns the number of accepted blocks.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.packages)
}

// TransactionCount returns the total number of transactions saved to the
// chain across all blocks.
func (c *Chain) TransactionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.txCount
}

// Last returns the most recently accepted package and true, or the zero
// value and false if the chain is empty.
func (c *Chain) Last() (chainmodel.Package, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.packages) == 0 {
		return chainmodel.Package{}, false
	}
	return c.packages[len(c.packages)-1], true
}

// At returns the package at index i. ok is false if i is out of range,
// an explicit bounds check rather than a caught fault.
func (c *Chain) At(i int) (chainmodel.Package, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.packages) {
		return chainmodel.Package{}, false
	}
	return c.packages[i], true
}

// Packages returns a copy of the full chain.
func (c *Chain) Packages() []chainmodel.Package {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]chainmodel.Package, len(c.packages))
	copy(out, c.packages)
	return out
}

// Hashlist returns the ordered list of block hashes in the chain.
func (c *Chain) Hashlist() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.packages))
	for i, pkg := range c.packages {
		out[i] = pkg.Data.BlockHash
	}
	return out
}

// Ledger returns the chain's ledger. Callers must not mutate balances
// outside of AddBlock; use Ledger.Snapshot/Balance for reads.
func (c *Chain) Ledger() *ledger.Ledger {
	return c.ledger
}

// AddBlock validates and appends block under proof:
//
//  1. block.PreviousHash must match the current head's hash (or, for the
//     first block, be empty with index 0).
//  2. proof must both start with `difficulty` zeros AND equal the block's
//     own computed hash.
//
// Both conjuncts in (2) are required: a proof that merely equals the
// block's computed hash but does not meet the difficulty prefix must be
// rejected, not silently accepted.
func (c *Chain) AddBlock(block *chainmodel.Block, proof string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.packages) > 0 {
		last := c.packages[len(c.packages)-1]
		if block.PreviousHash != last.Data.BlockHash {
			return ErrBadPreviousHash
		}
	} else if block.PreviousHash != "" || block.Index != 0 {
		return ErrBadPreviousHash
	}

	if !powhash.HasDifficulty(proof, c.difficulty) || proof != block.ComputeHash() {
		return ErrBadProof
	}

	pkg := chainmodel.Pack(block, proof)
	c.packages = append(c.packages, pkg)
	c.txCount += len(pkg.Transactions)
	c.ledger.Apply(pkg.Transactions)
	return nil
}

// Reset clears the chain back to empty (used by consensus reconciliation
// when no matching prefix can be found with a peer).
func (c *Chain) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packages = nil
	c.txCount = 0
	c.ledger = ledger.New()
}

// TruncateAfter drops every block whose index exceeds matchIndex,
// rebuilding the ledger from the surviving prefix. Used by consensus
// reconciliation to pop blocks that diverge from the consensus chain.
func (c *Chain) TruncateAfter(matchIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if matchIndex < 0 {
		c.packages = nil
		c.txCount = 0
		c.ledger = ledger.New()
		return
	}
	if matchIndex+1 >= len(c.packages) {
		return
	}
	kept := c.packages[:matchIndex+1]
	c.packages = append([]chainmodel.Package(nil), kept...)

	rebuilt := ledger.New()
	txCount := 0
	for _, pkg := range c.packages {
		rebuilt.Apply(pkg.Transactions)
		txCount += len(pkg.Transactions)
	}
	c.ledger = rebuilt
	c.txCount = txCount
}

// DifficultyPrefix returns the required hex-zero prefix for this chain.
func (c *Chain) DifficultyPrefix() string {
	return strings.Repeat("0", c.difficulty)
}
