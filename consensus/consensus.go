// Package consensus implements the status-gossip reconciliation protocol:
// a pure function over the peer status map picks the network's consensus
// chain, and a reconciliation routine pulls the local chain up to it.
package consensus

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"

	"github.com/powmesh/node/chainmodel"
	"github.com/powmesh/node/internal/logging"
	"github.com/powmesh/node/rpc"
)

var log = logging.New("consensus")

// Status is a node's self-reported chain position.
type Status = rpc.PeerStatus

// StatusMap tracks every known peer's last reported status, including the
// local node's own entry.
type StatusMap map[chainmodel.PeerAddr]Status

// Triple is the outcome of GatherConsensus: the chain position the
// network majority has converged on.
type Triple struct {
	Index int64
	Hash  string
	Time  string
}

// GatherConsensus computes the consensus triple over statuses:
//  1. consensus_index = max INDEX across all entries.
//  2. Restrict to entries at that index, group by (HASH, TIME), and pick
//     the most frequent group, breaking ties by the lexicographically
//     (= chronologically, ISO-8601) smallest TIME.
func GatherConsensus(statuses StatusMap) Triple {
	var consensusIndex int64 = -1
	for _, s := range statuses {
		if s.Index > consensusIndex {
			consensusIndex = s.Index
		}
	}

	type key struct{ hash, time string }
	counts := map[key]int{}
	for _, s := range statuses {
		if s.Index != consensusIndex {
			continue
		}
		counts[key{s.Hash, s.Time}]++
	}

	var best key
	bestCount := -1
	for k, count := range counts {
		if count > bestCount || (count == bestCount && k.time < best.time) {
			best = k
			bestCount = count
		}
	}

	return Triple{Index: consensusIndex, Hash: best.hash, Time: best.time}
}

// ConsensusNodes returns the subset of peers whose status exactly matches
// triple, backed by a golang-set for membership tests against the node's
// own peer list.
func ConsensusNodes(statuses StatusMap, triple Triple) mapset.Set[chainmodel.PeerAddr] {
	nodes := mapset.NewThreadUnsafeSet[chainmodel.PeerAddr]()
	for peer, s := range statuses {
		if s.Index == triple.Index && s.Hash == triple.Hash && s.Time == triple.Time {
			nodes.Add(peer)
		}
	}
	return nodes
}

// HashMatch returns the largest i such that the first i+1 entries of
// local and remote agree, or -1 if even index 0 differs. This backs the
// inbound "hashmatch" handler.
func HashMatch(local, remote []string) int {
	match := -1
	for i := 0; i < len(local) && i < len(remote); i++ {
		if local[i] != remote[i] {
			break
		}
		match = i
	}
	return match
}

// ErrCatchUpFailed is returned by GetMissingBlocks when no reachable
// consensus peer could serve the next index after one full, bounded
// round over every candidate.
var ErrCatchUpFailed = errors.New("consensus: could not reach consensus chain")

// Chain is the subset of chain.Chain that reconciliation needs, kept
// narrow so this package does not import chain directly; node wires a
// *chain.Chain in, and tests can substitute an in-memory fake.
type Chain interface {
	Len() int
	Hashlist() []string
	TruncateAfter(matchIndex int)
	AddBlock(block *chainmodel.Block, proof string) error
	Reset()
}

// MatchToConsensusChain asks one reachable consensus peer for the
// longest common hashlist prefix and truncates the local chain to it.
// It tries candidates in order until one answers.
func MatchToConsensusChain(c Chain, candidates []chainmodel.PeerAddr) error {
	localHashlist := c.Hashlist()
	for _, peer := range candidates {
		matchIndex, err := rpc.NewClient(peer).HashMatch(localHashlist)
		if err != nil {
			log.Warn("hashmatch unreachable", "peer", peer, "err", err)
			continue
		}
		c.TruncateAfter(matchIndex)
		return nil
	}
	c.Reset()
	return ErrCatchUpFailed
}

// GetMissingBlocks requests, in round-robin order across candidates, the
// package at the next missing index until the local chain reaches
// target.Index. It gives up and returns ErrCatchUpFailed after one full
// round over candidates with no progress, rather than spinning forever.
func GetMissingBlocks(ctx context.Context, c Chain, candidates []chainmodel.PeerAddr, target Triple) error {
	if len(candidates) == 0 {
		return ErrCatchUpFailed
	}

	cursor := 0
	for int64(c.Len()) <= target.Index {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		progressedThisRound := false
		for i := 0; i < len(candidates) && int64(c.Len()) <= target.Index; i++ {
			peer := candidates[cursor%len(candidates)]
			cursor++

			pkg, err := rpc.NewClient(peer).RequestIndexedBlock(int64(c.Len()))
			if err != nil {
				log.Warn("indexed block unreachable", "peer", peer, "err", err)
				continue
			}

			block := chainmodel.Unpack(pkg)
			if err := c.AddBlock(block, pkg.Data.BlockHash); err != nil {
				log.Warn("rejected block during catch-up", "index", pkg.Data.Index, "err", err)
				continue
			}
			progressedThisRound = true
		}
		if !progressedThisRound {
			return ErrCatchUpFailed
		}
	}
	return nil
}
