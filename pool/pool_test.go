package pool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/powmesh/node/chainmodel"
	"github.com/powmesh/node/pool"
)

func receiptAt(timestamp string) chainmodel.Receipt {
	return chainmodel.Receipt{Sender: "a", Receiver: "b", Amount: 1, Timestamp: timestamp, Signature: timestamp}
}

func TestAddDeduplicates(t *testing.T) {
	p := pool.New()
	r := receiptAt("2020-01-01T00:00:00Z")
	p.Add(r)
	p.Add(r)
	assert.Equal(t, 1, p.Len())
}

func TestAddSortsByTimestamp(t *testing.T) {
	p := pool.New()
	p.Add(receiptAt("2020-01-03T00:00:00Z"))
	p.Add(receiptAt("2020-01-01T00:00:00Z"))
	p.Add(receiptAt("2020-01-02T00:00:00Z"))

	snap := p.Snapshot()
	assert.Equal(t, "2020-01-01T00:00:00Z", snap[0].Timestamp)
	assert.Equal(t, "2020-01-02T00:00:00Z", snap[1].Timestamp)
	assert.Equal(t, "2020-01-03T00:00:00Z", snap[2].Timestamp)
}

func TestPrependAlwaysInsertsAtHead(t *testing.T) {
	p := pool.New()
	p.Add(receiptAt("2020-01-01T00:00:00Z"))
	coinbase := receiptAt("2099-01-01T00:00:00Z")
	p.Prepend(coinbase)

	snap := p.Snapshot()
	assert.Equal(t, coinbase, snap[0])
}

func TestContains(t *testing.T) {
	p := pool.New()
	r := receiptAt("2020-01-01T00:00:00Z")
	assert.False(t, p.Contains(r))
	p.Add(r)
	assert.True(t, p.Contains(r))
}

func TestClearEmptiesPool(t *testing.T) {
	p := pool.New()
	p.Add(receiptAt("2020-01-01T00:00:00Z"))
	p.Clear()
	assert.Equal(t, 0, p.Len())
}

func TestReplaceSwapsContents(t *testing.T) {
	p := pool.New()
	p.Add(receiptAt("2020-01-01T00:00:00Z"))

	replacement := receiptAt("2020-02-01T00:00:00Z")
	p.Replace([]chainmodel.Receipt{replacement})

	assert.Equal(t, 1, p.Len())
	assert.True(t, p.Contains(replacement))
}

func TestSieveRemovesMatchingReceipts(t *testing.T) {
	p := pool.New()
	keep := receiptAt("2020-01-01T00:00:00Z")
	drop := receiptAt("2020-01-02T00:00:00Z")
	p.Add(keep)
	p.Add(drop)

	p.Sieve([]chainmodel.Receipt{drop})

	assert.Equal(t, 1, p.Len())
	assert.True(t, p.Contains(keep))
	assert.False(t, p.Contains(drop))
}
