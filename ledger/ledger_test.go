package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/powmesh/node/chainmodel"
	"github.com/powmesh/node/ledger"
)

func receipt(sender, receiver chainmodel.Address, amount int64) chainmodel.Receipt {
	return chainmodel.Receipt{Sender: sender, Receiver: receiver, Amount: amount, Timestamp: "t", Signature: "s"}
}

func TestNewSeedsMineBalance(t *testing.T) {
	l := ledger.New()
	assert.Greater(t, l.Balance(chainmodel.MineAddress), int64(0))
	assert.Equal(t, int64(0), l.Balance("unknown"))
}

func TestApplyCreditsAndDebits(t *testing.T) {
	l := ledger.New()
	l.Apply([]chainmodel.Receipt{receipt(chainmodel.MineAddress, "alice", 10)})
	assert.Equal(t, int64(10), l.Balance("alice"))

	l.Apply([]chainmodel.Receipt{receipt("alice", "bob", 4)})
	assert.Equal(t, int64(6), l.Balance("alice"))
	assert.Equal(t, int64(4), l.Balance("bob"))
}

func TestApplyNeverDebitsMine(t *testing.T) {
	l := ledger.New()
	before := l.Balance(chainmodel.MineAddress)
	l.Apply([]chainmodel.Receipt{receipt(chainmodel.MineAddress, "alice", 1000)})
	assert.Equal(t, before, l.Balance(chainmodel.MineAddress))
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	l := ledger.New()
	snap := l.Snapshot()
	snap[chainmodel.MineAddress] = 0
	assert.NotEqual(t, int64(0), l.Balance(chainmodel.MineAddress))
}

func TestValidateBatchDropsInsufficientFunds(t *testing.T) {
	snapshot := map[chainmodel.Address]int64{"alice": 5}
	receipts := []chainmodel.Receipt{
		receipt("alice", "bob", 3),
		receipt("alice", "carol", 10),
	}

	firm := ledger.ValidateBatch(snapshot, receipts)
	assert.Len(t, firm, 1)
	assert.Equal(t, chainmodel.Address("bob"), firm[0].Receiver)
}

func TestValidateBatchSequencesWithinBatch(t *testing.T) {
	snapshot := map[chainmodel.Address]int64{"alice": 5}
	receipts := []chainmodel.Receipt{
		receipt(chainmodel.MineAddress, "alice", 10),
		receipt("alice", "bob", 12),
	}

	firm := ledger.ValidateBatch(snapshot, receipts)
	assert.Len(t, firm, 2)
}

func TestValidateBatchAlwaysKeepsMineSender(t *testing.T) {
	snapshot := map[chainmodel.Address]int64{}
	receipts := []chainmodel.Receipt{receipt(chainmodel.MineAddress, "alice", 1000000)}
	firm := ledger.ValidateBatch(snapshot, receipts)
	assert.Len(t, firm, 1)
}
