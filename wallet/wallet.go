// Package wallet implements the key/address generator external to the
// node: a wallet holds a keypair and derives the address it signs
// transactions as, independent of any particular node process.
package wallet

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/ripemd160"

	"github.com/powmesh/node/chainmodel"
)

// Wallet holds a secp256k1 keypair and the address derived from it. The
// source derives a wallet's keypair from freshly generated RSA-style
// primes and its address as sha1(sha256(shared secret)); here the keypair
// is a real secp256k1 key and the address is the ripemd160 digest of the
// compressed public key, matching the "hash of the public key" pattern
// used throughout the rest of the pack's wallet-adjacent code.
type Wallet struct {
	private *btcec.PrivateKey
	address chainmodel.Address
}

// New generates a fresh keypair and derives its address.
func New() (*Wallet, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return fromPrivateKey(priv), nil
}

// FromSecret reconstructs a wallet from a hex-encoded private secret
// previously produced by Wallet.Secret, for restoring a wallet across
// process restarts.
func FromSecret(secretHex string) (*Wallet, error) {
	raw, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, err
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return fromPrivateKey(priv), nil
}

func fromPrivateKey(priv *btcec.PrivateKey) *Wallet {
	digest := addressDigest(priv.PubKey().SerializeCompressed())
	return &Wallet{
		private: priv,
		address: chainmodel.Address(hex.EncodeToString(digest)),
	}
}

// addressDigest hashes a compressed public key down to a ripemd160
// digest, the address-length reduction idiom the pack uses wherever a
// full public key is too long to serve directly as an address.
func addressDigest(pubKey []byte) []byte {
	h := ripemd160.New()
	h.Write(pubKey)
	return h.Sum(nil)
}

// Address returns the wallet's public address.
func (w *Wallet) Address() chainmodel.Address {
	return w.address
}

// Secret returns the wallet's private key, hex-encoded, for use as the
// privateSecret argument to Transaction.Sign/Verify and for persistence
// via FromSecret.
func (w *Wallet) Secret() string {
	return hex.EncodeToString(w.private.Serialize())
}

// Send builds and signs a transaction from this wallet to receiver,
// returning the receipt ready to submit to the node.
func (w *Wallet) Send(receiver chainmodel.Address, amount int64) chainmodel.Receipt {
	tx := chainmodel.NewTransaction(w.address, receiver, amount)
	signature := tx.Sign(w.Secret())
	return tx.Receipt(signature)
}
