// Package miner implements the cooperative proof-of-work search. Earlier
// implementations poll a boolean is_mining flag set from another thread;
// here the same cooperative-stop shape is expressed with context.Context,
// the idiomatic Go replacement for a polled cancellation flag.
package miner

import (
	"context"
	"time"

	"github.com/powmesh/node/chainmodel"
	"github.com/powmesh/node/internal/logging"
	"github.com/powmesh/node/powhash"
)

var log = logging.New("miner")

// Result is the outcome of a mining attempt. Proof is empty if ctx was
// cancelled before a satisfying nonce was found.
type Result struct {
	Block *chainmodel.Block
	Proof string
}

// Mine searches for a nonce satisfying difficulty zero-prefix proof of
// work for block, incrementing block.Nonce on every attempt. It returns as
// soon as a satisfying proof is found, or immediately once ctx is done,
// whichever happens first.
func Mine(ctx context.Context, block *chainmodel.Block, difficulty int) Result {
	start := time.Now().UTC()
	log.Info("mining started", "index", block.Index+1, "start", start.Format(time.RFC3339Nano))

	proof := block.ComputeHash()
	for !powhash.HasDifficulty(proof, difficulty) {
		select {
		case <-ctx.Done():
			log.Info("mining interrupted", "index", block.Index+1)
			return Result{Block: block, Proof: ""}
		default:
		}
		block.Nonce++
		proof = block.ComputeHash()
	}

	log.Info("mining finished", "index", block.Index+1, "finish", time.Now().UTC().Format(time.RFC3339Nano))
	return Result{Block: block, Proof: proof}
}
