// Package wallet validates Neo N3 wallet addresses and signed ownership proofs.
package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/crypto/hash"
	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/audit_layer/internal/app/domain/airdrop"
)

var (
	ErrInvalidAddress = errors.New("invalid wallet address")
	ErrInvalidProof   = errors.New("invalid wallet proof")
)

// NormalizeAddress accepts a base58 N3 address or a 0x-prefixed script hash
// and returns the canonical base58 form.
func NormalizeAddress(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrInvalidAddress
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		u, err := util.Uint160DecodeStringLE(s[2:])
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		return address.Uint160ToString(u), nil
	}
	u, err := address.StringToUint160(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return address.Uint160ToString(u), nil
}

// ValidAddress reports whether raw parses as a wallet address.
func ValidAddress(raw string) bool {
	_, err := NormalizeAddress(raw)
	return err == nil
}

// Verifier checks that the caller controls a wallet.
type Verifier interface {
	Verify(ctx context.Context, walletAddress string, proof airdrop.Proof) error
}

// NeoVerifier checks secp256r1 signatures over the SHA-256 of the proof
// message. The message must embed the nonce.
type NeoVerifier struct{}

func (NeoVerifier) Verify(_ context.Context, walletAddress string, proof airdrop.Proof) error {
	want, err := NormalizeAddress(walletAddress)
	if err != nil {
		return err
	}
	if proof.Nonce == "" || !strings.Contains(proof.Message, proof.Nonce) {
		return fmt.Errorf("%w: message is not bound to nonce", ErrInvalidProof)
	}
	pub, err := keys.NewPublicKeyFromString(strings.TrimPrefix(proof.PublicKey, "0x"))
	if err != nil {
		return fmt.Errorf("%w: public key: %v", ErrInvalidProof, err)
	}
	if pub.Address() != want {
		return fmt.Errorf("%w: public key does not belong to %s", ErrInvalidProof, want)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(proof.Signature, "0x"))
	if err != nil {
		return fmt.Errorf("%w: signature encoding: %v", ErrInvalidProof, err)
	}
	digest := hash.Sha256([]byte(proof.Message))
	if !pub.Verify(sig, digest.BytesBE()) {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidProof)
	}
	return nil
}

// MockVerifier accepts any proof carrying a nonce. Development only.
type MockVerifier struct{}

func (MockVerifier) Verify(_ context.Context, walletAddress string, proof airdrop.Proof) error {
	if _, err := NormalizeAddress(walletAddress); err != nil {
		return err
	}
	if strings.TrimSpace(proof.Nonce) == "" {
		return fmt.Errorf("%w: nonce required", ErrInvalidProof)
	}
	return nil
}

// VerifierFor selects a verifier by mode name.
func VerifierFor(mode string) Verifier {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "mock", "disabled", "off":
		return MockVerifier{}
	default:
		return NeoVerifier{}
	}
}
