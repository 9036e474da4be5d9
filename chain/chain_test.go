package chain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powmesh/node/chain"
	"github.com/powmesh/node/chainmodel"
)

func mineBlock(t *testing.T, index int64, previousHash string, txs []chainmodel.Receipt, difficulty int) (*chainmodel.Block, string) {
	t.Helper()
	block := chainmodel.NewBlock(index, previousHash, txs, chainmodel.PeerAddr{Host: "h", Port: 1})
	proof := block.ComputeHash()
	for i := 0; i < 200000; i++ {
		ok := true
		for j := 0; j < difficulty; j++ {
			if len(proof) <= j || proof[j] != '0' {
				ok = false
				break
			}
		}
		if ok {
			return block, proof
		}
		block.Nonce++
		proof = block.ComputeHash()
	}
	require.Fail(t, "failed to mine block within bound")
	return nil, ""
}

func coinbase(amount int64) chainmodel.Receipt {
	tx := chainmodel.NewTransaction(chainmodel.MineAddress, "alice", amount)
	return tx.Receipt(tx.Sign(""))
}

func TestAddBlockGenesis(t *testing.T) {
	c := chain.New(1)
	block, proof := mineBlock(t, 0, "", []chainmodel.Receipt{coinbase(10)}, 1)

	require.NoError(t, c.AddBlock(block, proof))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(10), c.Ledger().Balance("alice"))
}

func TestAddBlockRejectsBadPreviousHash(t *testing.T) {
	c := chain.New(1)
	block, proof := mineBlock(t, 0, "bogus", nil, 1)
	assert.ErrorIs(t, c.AddBlock(block, proof), chain.ErrBadPreviousHash)
}

func TestAddBlockRejectsWrongIndexAtGenesis(t *testing.T) {
	c := chain.New(1)
	block, proof := mineBlock(t, 3, "", nil, 1)
	assert.ErrorIs(t, c.AddBlock(block, proof), chain.ErrBadPreviousHash)
}

func TestAddBlockRejectsProofNotMatchingDifficulty(t *testing.T) {
	c := chain.New(4)
	block := chainmodel.NewBlock(0, "", nil, chainmodel.PeerAddr{Host: "h", Port: 1})
	proof := block.ComputeHash()
	assert.ErrorIs(t, c.AddBlock(block, proof), chain.ErrBadProof)
}

func TestAddBlockRejectsProofNotMatchingHash(t *testing.T) {
	c := chain.New(0)
	block := chainmodel.NewBlock(0, "", nil, chainmodel.PeerAddr{Host: "h", Port: 1})
	assert.ErrorIs(t, c.AddBlock(block, "not-the-real-hash"), chain.ErrBadProof)
}

func TestAddBlockChainsPreviousHash(t *testing.T) {
	c := chain.New(1)
	b1, p1 := mineBlock(t, 0, "", nil, 1)
	require.NoError(t, c.AddBlock(b1, p1))

	b2, p2 := mineBlock(t, 1, p1, nil, 1)
	require.NoError(t, c.AddBlock(b2, p2))
	assert.Equal(t, 2, c.Len())

	last, ok := c.Last()
	require.True(t, ok)
	assert.Equal(t, p2, last.Data.BlockHash)
}

func TestAtBoundsChecked(t *testing.T) {
	c := chain.New(0)
	_, ok := c.At(0)
	assert.False(t, ok)

	b, p := mineBlock(t, 0, "", nil, 0)
	require.NoError(t, c.AddBlock(b, p))

	pkg, ok := c.At(0)
	assert.True(t, ok)
	assert.Equal(t, p, pkg.Data.BlockHash)

	_, ok = c.At(-1)
	assert.False(t, ok)
	_, ok = c.At(1)
	assert.False(t, ok)
}

func TestTruncateAfterRebuildsLedger(t *testing.T) {
	c := chain.New(0)
	b1, p1 := mineBlock(t, 0, "", []chainmodel.Receipt{coinbase(5)}, 0)
	require.NoError(t, c.AddBlock(b1, p1))
	b2, p2 := mineBlock(t, 1, p1, []chainmodel.Receipt{coinbase(7)}, 0)
	require.NoError(t, c.AddBlock(b2, p2))

	c.TruncateAfter(0)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(5), c.Ledger().Balance("alice"))
}

func TestTruncateAfterNegativeResetsChain(t *testing.T) {
	c := chain.New(0)
	b1, p1 := mineBlock(t, 0, "", []chainmodel.Receipt{coinbase(5)}, 0)
	require.NoError(t, c.AddBlock(b1, p1))

	c.TruncateAfter(-1)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.Ledger().Balance("alice"))
}

func TestResetClearsChainAndLedger(t *testing.T) {
	c := chain.New(0)
	b1, p1 := mineBlock(t, 0, "", []chainmodel.Receipt{coinbase(5)}, 0)
	require.NoError(t, c.AddBlock(b1, p1))

	c.Reset()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.TransactionCount())
	assert.Equal(t, int64(0), c.Ledger().Balance("alice"))
}

func TestHashlistOrder(t *testing.T) {
	c := chain.New(0)
	b1, p1 := mineBlock(t, 0, "", nil, 0)
	require.NoError(t, c.AddBlock(b1, p1))
	b2, p2 := mineBlock(t, 1, p1, nil, 0)
	require.NoError(t, c.AddBlock(b2, p2))

	assert.Equal(t, []string{p1, p2}, c.Hashlist())
}
