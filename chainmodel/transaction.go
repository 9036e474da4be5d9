package chainmodel

import (
	"strconv"
	"time"

	"github.com/powmesh/node/powhash"
)

// Transaction is the unsigned, in-memory form of a transfer: constructed by
// a wallet, signed, then converted into a Receipt before leaving the
// process. It is never itself sent over the wire.
type Transaction struct {
	Sender    Address
	Receiver  Address
	Amount    int64
	Timestamp string
}

// NewTransaction constructs an unsigned transaction stamped with the
// current UTC time in ISO-8601 form.
func NewTransaction(sender, receiver Address, amount int64) *Transaction {
	return &Transaction{
		Sender:    sender,
		Receiver:  receiver,
		Amount:    amount,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// signingMap returns the canonical attribute map used both to sign and to
// verify a transaction, optionally extended with the sender's private
// secret.
func (t *Transaction) signingMap(privateSecret string) map[string]interface{} {
	m := map[string]interface{}{
		"Sender":    string(t.Sender),
		"Receiver":  string(t.Receiver),
		"Amount":    t.Amount,
		"Timestamp": t.Timestamp,
	}
	if privateSecret != "" {
		m["PrivateSecret"] = privateSecret
	}
	return m
}

// Sign computes the transaction's signature: the hash of its canonical
// encoding extended with the sender's private secret.
func (t *Transaction) Sign(privateSecret string) string {
	return powhash.Sum(CanonicalJSON(t.signingMap(privateSecret)))
}

// Verify recomputes the signature hash and compares it against signature.
func (t *Transaction) Verify(privateSecret, signature string) bool {
	return t.Sign(privateSecret) == signature
}

// Receipt returns the wire form of the transaction: its public fields plus
// the signature produced by Sign. Receipt equality (all fields, including
// Signature) is the sole de-duplication key used by the pools.
func (t *Transaction) Receipt(signature string) Receipt {
	return Receipt{
		Sender:    t.Sender,
		Receiver:  t.Receiver,
		Amount:    t.Amount,
		Timestamp: t.Timestamp,
		Signature: signature,
	}
}

// Receipt is the wire/storage form of a transaction.
type Receipt struct {
	Sender    Address `json:"Sender"`
	Receiver  Address `json:"Receiver"`
	Amount    int64   `json:"Amount"`
	Timestamp string  `json:"Timestamp"`
	Signature string  `json:"Signature"`
}

// DedupKey returns a string uniquely identifying the receipt by all of its
// fields, for use as a set/map key in the pool's de-duplication logic.
func (r Receipt) DedupKey() string {
	return string(r.Sender) + "|" + string(r.Receiver) + "|" +
		strconv.FormatInt(r.Amount, 10) + "|" + r.Timestamp + "|" + r.Signature
}
