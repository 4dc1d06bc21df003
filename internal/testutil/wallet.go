package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/dair/core"
)

// Wallet is an in-memory Solana style keypair for tests.
type Wallet struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

func NewWallet(t testing.TB) *Wallet {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return &Wallet{Private: priv, Public: pub}
}

// Address is the base58 public key.
func (w *Wallet) Address() string {
	return base58.Encode(w.Public)
}

func (w *Wallet) Identity() core.Identity {
	return core.Identity(w.Address())
}

func (w *Wallet) Sign(message []byte) []byte {
	return ed25519.Sign(w.Private, message)
}
