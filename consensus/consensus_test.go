package consensus_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/powmesh/node/chainmodel"
	"github.com/powmesh/node/consensus"
	"github.com/powmesh/node/dispatcher"
)

func TestGatherConsensusPicksHighestIndexMajority(t *testing.T) {
	statuses := consensus.StatusMap{
		{Host: "a"}: {Index: 3, Hash: "h1", Time: "2020-01-01T00:00:00Z"},
		{Host: "b"}: {Index: 3, Hash: "h1", Time: "2020-01-01T00:00:00Z"},
		{Host: "c"}: {Index: 3, Hash: "h2", Time: "2020-01-02T00:00:00Z"},
		{Host: "d"}: {Index: 1, Hash: "stale", Time: "2019-01-01T00:00:00Z"},
	}

	triple := consensus.GatherConsensus(statuses)
	assert.Equal(t, int64(3), triple.Index)
	assert.Equal(t, "h1", triple.Hash)
}

func TestGatherConsensusTiesBreakOnEarliestTime(t *testing.T) {
	statuses := consensus.StatusMap{
		{Host: "a"}: {Index: 1, Hash: "h1", Time: "2020-01-02T00:00:00Z"},
		{Host: "b"}: {Index: 1, Hash: "h2", Time: "2020-01-01T00:00:00Z"},
	}

	triple := consensus.GatherConsensus(statuses)
	assert.Equal(t, "h2", triple.Hash)
	assert.Equal(t, "2020-01-01T00:00:00Z", triple.Time)
}

func TestConsensusNodesMatchesExactTriple(t *testing.T) {
	triple := consensus.Triple{Index: 2, Hash: "h", Time: "t"}
	statuses := consensus.StatusMap{
		{Host: "a"}: {Index: 2, Hash: "h", Time: "t"},
		{Host: "b"}: {Index: 2, Hash: "h", Time: "t"},
		{Host: "c"}: {Index: 2, Hash: "other", Time: "t"},
	}

	nodes := consensus.ConsensusNodes(statuses, triple)
	assert.True(t, nodes.Contains(chainmodel.PeerAddr{Host: "a"}))
	assert.True(t, nodes.Contains(chainmodel.PeerAddr{Host: "b"}))
	assert.False(t, nodes.Contains(chainmodel.PeerAddr{Host: "c"}))
	assert.Equal(t, 2, nodes.Cardinality())
}

func TestHashMatch(t *testing.T) {
	assert.Equal(t, 1, consensus.HashMatch([]string{"a", "b", "c"}, []string{"a", "b"}))
	assert.Equal(t, -1, consensus.HashMatch([]string{"a"}, []string{"z"}))
	assert.Equal(t, 0, consensus.HashMatch([]string{"a"}, []string{"a", "b"}))
}

// fakeChain is a minimal in-memory implementation of consensus.Chain for
// testing reconciliation without a real proof-of-work gate.
type fakeChain struct {
	mu       sync.Mutex
	hashlist []string
}

func (f *fakeChain) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hashlist)
}

func (f *fakeChain) Hashlist() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.hashlist))
	copy(out, f.hashlist)
	return out
}

func (f *fakeChain) TruncateAfter(matchIndex int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if matchIndex < 0 {
		f.hashlist = nil
		return
	}
	if matchIndex+1 < len(f.hashlist) {
		f.hashlist = f.hashlist[:matchIndex+1]
	}
}

func (f *fakeChain) AddBlock(block *chainmodel.Block, proof string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashlist = append(f.hashlist, proof)
	return nil
}

func (f *fakeChain) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashlist = nil
}

func startFakePeer(t *testing.T, handlers dispatcher.Handlers) chainmodel.PeerAddr {
	t.Helper()
	ln, err := dispatcher.Bind("127.0.0.1", 0, handlers)
	require.NoError(t, err)

	group, _ := errgroup.WithContext(context.Background())
	done := make(chan struct{})
	go ln.Serve(group, done)

	t.Cleanup(func() {
		close(done)
		ln.Close()
		group.Wait()
	})

	return chainmodel.PeerAddr{Host: "127.0.0.1", Port: ln.Port()}
}

func TestMatchToConsensusChainTruncatesOnFirstAnswer(t *testing.T) {
	peer := startFakePeer(t, dispatcher.Handlers{
		HashMatch: func(hashlist []string) (int, error) { return 0, nil },
	})

	c := &fakeChain{hashlist: []string{"h0", "h1", "h2"}}
	require.NoError(t, consensus.MatchToConsensusChain(c, []chainmodel.PeerAddr{peer}))
	assert.Equal(t, []string{"h0"}, c.Hashlist())
}

func TestMatchToConsensusChainResetsWhenNoPeerAnswers(t *testing.T) {
	unreachable := chainmodel.PeerAddr{Host: "127.0.0.1", Port: 1}

	c := &fakeChain{hashlist: []string{"h0"}}
	err := consensus.MatchToConsensusChain(c, []chainmodel.PeerAddr{unreachable})
	assert.ErrorIs(t, err, consensus.ErrCatchUpFailed)
	assert.Equal(t, 0, c.Len())
}

func TestGetMissingBlocksFillsToTarget(t *testing.T) {
	var served []chainmodel.Package
	served = append(served,
		chainmodel.Package{Data: chainmodel.PackageData{Index: 0, BlockHash: "h0"}},
		chainmodel.Package{Data: chainmodel.PackageData{Index: 1, BlockHash: "h1"}},
	)
	peer := startFakePeer(t, dispatcher.Handlers{
		IndexedBlock: func(index int64) (chainmodel.Package, bool) {
			if int(index) >= len(served) {
				return chainmodel.Package{}, false
			}
			return served[index], true
		},
	})

	c := &fakeChain{}
	err := consensus.GetMissingBlocks(context.Background(), c, []chainmodel.PeerAddr{peer}, consensus.Triple{Index: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"h0", "h1"}, c.Hashlist())
}

func TestGetMissingBlocksFailsWithNoCandidates(t *testing.T) {
	c := &fakeChain{}
	err := consensus.GetMissingBlocks(context.Background(), c, nil, consensus.Triple{Index: 0})
	assert.ErrorIs(t, err, consensus.ErrCatchUpFailed)
}
