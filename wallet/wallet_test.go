package wallet_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powmesh/node/wallet"
)

func TestNewProducesDistinctWallets(t *testing.T) {
	a, err := wallet.New()
	require.NoError(t, err)
	b, err := wallet.New()
	require.NoError(t, err)

	assert.NotEqual(t, a.Address(), b.Address())
	assert.NotEqual(t, a.Secret(), b.Secret())
}

func TestFromSecretRecoversSameAddress(t *testing.T) {
	w, err := wallet.New()
	require.NoError(t, err)

	restored, err := wallet.FromSecret(w.Secret())
	require.NoError(t, err)
	assert.Equal(t, w.Address(), restored.Address())
}

func TestSendProducesVerifiableReceipt(t *testing.T) {
	w, err := wallet.New()
	require.NoError(t, err)

	receipt := w.Send("bob", 42)
	assert.Equal(t, w.Address(), receipt.Sender)
	assert.Equal(t, int64(42), receipt.Amount)
	assert.NotEmpty(t, receipt.Signature)
}
