// Package pool implements the receipt pools used for both the free and
// firm transaction lists: an ordered, deduplicated sequence of receipts.
// The node runtime owns two independent instances, one per role.
package pool

import (
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/powmesh/node/chainmodel"
)

// Pool is an ordered, deduplicated list of receipts, sorted by timestamp.
// Receipt equality (chainmodel.Receipt.DedupKey) is the sole
// de-duplication key.
type Pool struct {
	mu       sync.Mutex
	receipts []chainmodel.Receipt
	seen     mapset.Set[string]
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{seen: mapset.NewThreadUnsafeSet[string]()}
}

// Add inserts receipt if it is not already present (by DedupKey), then
// re-sorts the pool by timestamp. Submitting the same receipt twice is a
// no-op after the first insertion.
func (p *Pool) Add(receipt chainmodel.Receipt) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := receipt.DedupKey()
	if p.seen.Contains(key) {
		return
	}
	p.seen.Add(key)
	p.receipts = append(p.receipts, receipt)
	sort.SliceStable(p.receipts, func(i, j int) bool {
		return p.receipts[i].Timestamp < p.receipts[j].Timestamp
	})
}

// Prepend inserts receipt at the head of the pool unconditionally, used
// for the coinbase receipt at the start of a mining cycle — the mining
// reward is always claimed, never deduplicated away.
func (p *Pool) Prepend(receipt chainmodel.Receipt) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receipts = append([]chainmodel.Receipt{receipt}, p.receipts...)
	p.seen.Add(receipt.DedupKey())
}

// Contains reports whether receipt is present in the pool.
func (p *Pool) Contains(receipt chainmodel.Receipt) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen.Contains(receipt.DedupKey())
}

// Snapshot returns a copy of the pool's contents in order.
func (p *Pool) Snapshot() []chainmodel.Receipt {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]chainmodel.Receipt, len(p.receipts))
	copy(out, p.receipts)
	return out
}

// Clear empties the pool.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receipts = nil
	p.seen = mapset.NewThreadUnsafeSet[string]()
}

// Replace atomically swaps the pool's contents for receipts, rebuilding
// the de-duplication set.
func (p *Pool) Replace(receipts []chainmodel.Receipt) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receipts = append([]chainmodel.Receipt(nil), receipts...)
	p.seen = mapset.NewThreadUnsafeSet[string]()
	for _, r := range p.receipts {
		p.seen.Add(r.DedupKey())
	}
}

// Sieve removes every receipt in filter from the pool, by DedupKey. Used
// to drop newly confirmed transactions from the free/firm pools once a
// block containing them is accepted: both pools are cleared of any
// receipt that appears in a newly accepted block.
func (p *Pool) Sieve(filter []chainmodel.Receipt) {
	p.mu.Lock()
	defer p.mu.Unlock()

	drop := make(map[string]struct{}, len(filter))
	for _, r := range filter {
		drop[r.DedupKey()] = struct{}{}
	}

	kept := p.receipts[:0:0]
	for _, r := range p.receipts {
		if _, ok := drop[r.DedupKey()]; ok {
			p.seen.Remove(r.DedupKey())
			continue
		}
		kept = append(kept, r)
	}
	p.receipts = kept
}

// Len returns the number of receipts currently in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.receipts)
}
