// Package ledger maintains the address-to-balance mapping and validates
// transaction batches against it. The source keeps this state in a pandas
// DataFrame; a plain map suffices here and makes the "consolidate" step in
// the original a no-op, since a map has at most one entry per address by
// construction.
package ledger

import "github.com/powmesh/node/chainmodel"

// Ledger maps an address to a signed balance. The zero value is not ready
// for use; construct one with New.
type Ledger struct {
	balances map[chainmodel.Address]int64
}

// New returns a ledger seeded with the MINE address at an effectively
// infinite balance.
func New() *Ledger {
	return &Ledger{
		balances: map[chainmodel.Address]int64{
			chainmodel.MineAddress: infiniteBalance,
		},
	}
}

// infiniteBalance stands in for the source's np.Inf: large enough that no
// realistic chain of transfers ever depletes it.
const infiniteBalance = int64(1) << 62

// Balance returns the current balance of addr (0 if unknown).
func (l *Ledger) Balance(addr chainmodel.Address) int64 {
	return l.balances[addr]
}

// Snapshot returns a copy of the balance map, safe for a caller to mutate.
func (l *Ledger) Snapshot() map[chainmodel.Address]int64 {
	out := make(map[chainmodel.Address]int64, len(l.balances))
	for addr, bal := range l.balances {
		out[addr] = bal
	}
	return out
}

// Apply credits/debits the ledger for every receipt in order: the receiver
// is credited, and the sender is debited unless the sender is MINE.
func (l *Ledger) Apply(receipts []chainmodel.Receipt) {
	for _, r := range receipts {
		l.balances[r.Receiver] += r.Amount
		if r.Sender != chainmodel.MineAddress {
			l.balances[r.Sender] -= r.Amount
		}
	}
}

// ValidateBatch walks receipts in order against a snapshot of the current
// ledger and returns the firm subset: a receipt from MINE is always firm;
// any other receipt is firm only if its sender can afford it after the
// effect of prior firm receipts in the same batch. Receipts that fail this
// test are dropped.
func ValidateBatch(snapshot map[chainmodel.Address]int64, receipts []chainmodel.Receipt) []chainmodel.Receipt {
	working := make(map[chainmodel.Address]int64, len(snapshot))
	for addr, bal := range snapshot {
		working[addr] = bal
	}

	firm := make([]chainmodel.Receipt, 0, len(receipts))
	for _, r := range receipts {
		if r.Sender == chainmodel.MineAddress {
			working[r.Receiver] += r.Amount
			firm = append(firm, r)
			continue
		}
		if working[r.Sender] >= r.Amount {
			working[r.Sender] -= r.Amount
			working[r.Receiver] += r.Amount
			firm = append(firm, r)
		}
	}
	return firm
}
