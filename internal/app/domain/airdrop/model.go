package airdrop

import "time"

// Allocation is the credit amount reserved for one wallet.
type Allocation struct {
	WalletAddress string     `json:"wallet_address" db:"wallet_address" yaml:"wallet"`
	Amount        int64      `json:"amount" db:"amount" yaml:"amount"`
	ClaimedBy     *string    `json:"claimed_by,omitempty" db:"claimed_by" yaml:"-"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty" db:"claimed_at" yaml:"-"`
}

// Claimed reports whether any user already collected the allocation.
func (a Allocation) Claimed() bool {
	return a.ClaimedBy != nil && *a.ClaimedBy != ""
}

// Eligibility answers check_airdrop_eligibility.
type Eligibility struct {
	IsEligible bool   `json:"is_eligible"`
	Amount     int64  `json:"amount"`
	Reason     string `json:"reason"`
}

// Proof is the signed challenge a wallet presents when claiming.
type Proof struct {
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
	Message   string `json:"message"`
	Nonce     string `json:"nonce"`
}

// ClaimResult answers claim_airdrop_credits.
type ClaimResult struct {
	Success bool   `json:"success"`
	Amount  int64  `json:"amount"`
	Balance int64  `json:"balance,omitempty"`
	Message string `json:"message"`
}

// Challenge is a server-issued claim nonce bound to one user and wallet.
// Message is the exact text the wallet must sign.
type Challenge struct {
	Nonce         string    `json:"nonce"`
	WalletAddress string    `json:"wallet_address"`
	UserID        string    `json:"user_id"`
	Message       string    `json:"message"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Expired reports whether the challenge is past its deadline at now.
func (c Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
