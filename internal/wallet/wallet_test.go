package wallet

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/nspcc-dev/neo-go/pkg/crypto/hash"
	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/audit_layer/internal/app/domain/airdrop"
)

func TestNormalizeAddress(t *testing.T) {
	priv, err := keys.NewPrivateKey()
	require.NoError(t, err)
	addr := priv.Address()

	got, err := NormalizeAddress("  " + addr + " ")
	require.NoError(t, err)
	require.Equal(t, addr, got)

	hexForm := "0x" + priv.GetScriptHash().StringLE()
	got, err = NormalizeAddress(hexForm)
	require.NoError(t, err)
	require.Equal(t, addr, got)

	for _, bad := range []string{"", "not-an-address", "0xzz"} {
		_, err := NormalizeAddress(bad)
		require.ErrorIs(t, err, ErrInvalidAddress, bad)
	}
}

func signedProof(t *testing.T, priv *keys.PrivateKey, nonce string) airdrop.Proof {
	t.Helper()
	msg := "claim airdrop nonce=" + nonce
	digest := hash.Sha256([]byte(msg))
	sig := priv.SignHash(digest)
	return airdrop.Proof{
		PublicKey: hex.EncodeToString(priv.PublicKey().Bytes()),
		Signature: hex.EncodeToString(sig),
		Message:   msg,
		Nonce:     nonce,
	}
}

func TestNeoVerifier(t *testing.T) {
	priv, err := keys.NewPrivateKey()
	require.NoError(t, err)
	other, err := keys.NewPrivateKey()
	require.NoError(t, err)

	v := NeoVerifier{}
	ctx := context.Background()

	require.NoError(t, v.Verify(ctx, priv.Address(), signedProof(t, priv, "n-1")))

	// signed by a different key
	require.ErrorIs(t, v.Verify(ctx, priv.Address(), signedProof(t, other, "n-1")), ErrInvalidProof)

	// nonce not embedded in message
	proof := signedProof(t, priv, "n-2")
	proof.Nonce = "n-3"
	require.ErrorIs(t, v.Verify(ctx, priv.Address(), proof), ErrInvalidProof)

	// tampered message
	proof = signedProof(t, priv, "n-4")
	proof.Message += "!"
	require.ErrorIs(t, v.Verify(ctx, priv.Address(), proof), ErrInvalidProof)
}

func TestVerifierFor(t *testing.T) {
	require.IsType(t, MockVerifier{}, VerifierFor("mock"))
	require.IsType(t, NeoVerifier{}, VerifierFor(""))
	require.Error(t, MockVerifier{}.Verify(context.Background(), "bad", airdrop.Proof{Nonce: "x"}))
}
