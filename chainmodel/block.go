package chainmodel

import (
	"encoding/json"
	"time"

	"github.com/powmesh/node/powhash"
)

// Block is instantiated with everything except its own hash: the block
// never stores its hash, which is instead carried alongside it in a
// Package once mining succeeds.
type Block struct {
	Index        int64
	PreviousHash string
	Transactions []Receipt
	Timestamp    string
	Nonce        int64
	Node         PeerAddr
}

// NewBlock builds a candidate block ready for mining.
func NewBlock(index int64, previousHash string, transactions []Receipt, node PeerAddr) *Block {
	return &Block{
		Index:        index,
		PreviousHash: previousHash,
		Transactions: transactions,
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		Nonce:        0,
		Node:         node,
	}
}

// canonicalMap mirrors the block's direct attribute map, the way the
// source serializes Block.__dict__ with sorted keys.
func (b *Block) canonicalMap() map[string]interface{} {
	return map[string]interface{}{
		"Index":        b.Index,
		"PreviousHash": b.PreviousHash,
		"Transactions": b.Transactions,
		"Timestamp":    b.Timestamp,
		"Nonce":        b.Nonce,
		"Node":         b.Node,
	}
}

// ComputeHash returns the hash of the block's canonical encoding at its
// current nonce.
func (b *Block) ComputeHash() string {
	return powhash.Sum(CanonicalJSON(b.canonicalMap()))
}

// Package is the wire and storage form of a block: a DATA header carrying
// the block's hash, plus the transaction list.
type Package struct {
	Data         PackageData `json:"DATA"`
	Transactions []Receipt   `json:"TRANSACTIONS"`
}

// PackageData is the DATA header of a Package.
type PackageData struct {
	Index           int64    `json:"Index"`
	BlockHash       string   `json:"Block Hash"`
	Nonce           int64    `json:"Nonce"`
	PreviousHash    string   `json:"Previous Hash"`
	NumTransactions int      `json:"Number of transactions"`
	NodeAddress     PeerAddr `json:"Node Address"`
	Timestamp       string   `json:"Timestamp"`
}

// Pack wraps a mined block and its accepted proof into a Package.
func Pack(block *Block, proof string) Package {
	return Package{
		Data: PackageData{
			Index:           block.Index,
			BlockHash:       proof,
			Nonce:           block.Nonce,
			PreviousHash:    block.PreviousHash,
			NumTransactions: len(block.Transactions),
			NodeAddress:     block.Node,
			Timestamp:       block.Timestamp,
		},
		Transactions: block.Transactions,
	}
}

// Unpack recovers the Block described by a Package (without its hash,
// which only ever exists alongside the block as the package's proof).
func Unpack(pkg Package) *Block {
	return &Block{
		Index:        pkg.Data.Index,
		PreviousHash: pkg.Data.PreviousHash,
		Transactions: pkg.Transactions,
		Timestamp:    pkg.Data.Timestamp,
		Nonce:        pkg.Data.Nonce,
		Node:         pkg.Data.NodeAddress,
	}
}

// CanonicalJSON marshals v with Go's default map-key sorting, giving a
// stable encoding with default separators suitable for hashing. Only map
// keys are sorted: struct values nested in v (such as a block's receipts)
// are encoded in field-declaration order.
func CanonicalJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// v is always a plain map/struct built internally; a marshal
		// failure here means a programmer error, not a runtime condition.
		panic(err)
	}
	return b
}
