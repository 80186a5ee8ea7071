package credit

import (
	"fmt"
	"strings"
	"time"
)

// OwnerKind distinguishes user-scoped from wallet-scoped balances.
type OwnerKind string

const (
	OwnerUser   OwnerKind = "user"
	OwnerWallet OwnerKind = "wallet"
)

// Valid reports whether the kind is known.
func (k OwnerKind) Valid() bool {
	return k == OwnerUser || k == OwnerWallet
}

// TxType labels a ledger row.
type TxType string

const (
	TxDeduct      TxType = "deduct"
	TxViewReport  TxType = "view_report"
	TxTransferOut TxType = "transfer_out"
	TxTransferIn  TxType = "transrecv"
	TxGrant       TxType = "grant"
)

// IsDebit reports whether the type may be written by a plain debit.
func (t TxType) IsDebit() bool {
	return t == TxDeduct || t == TxViewReport
}

// Owner identifies the holder of a balance.
type Owner struct {
	Kind OwnerKind `json:"owner_kind"`
	ID   string    `json:"owner_id"`
}

// User is shorthand for a user-scoped owner.
func User(id string) Owner { return Owner{Kind: OwnerUser, ID: id} }

// Wallet is shorthand for a wallet-scoped owner.
func Wallet(address string) Owner { return Owner{Kind: OwnerWallet, ID: address} }

func (o Owner) String() string { return string(o.Kind) + ":" + o.ID }

// Validate checks the owner is addressable.
func (o Owner) Validate() error {
	if !o.Kind.Valid() {
		return fmt.Errorf("unknown owner kind %q", o.Kind)
	}
	if strings.TrimSpace(o.ID) == "" {
		return fmt.Errorf("%s id is required", o.Kind)
	}
	return nil
}

// Account is a durable balance. Balance is never negative.
type Account struct {
	ID        string    `json:"id"`
	Owner     Owner     `json:"owner"`
	Balance   int64     `json:"balance"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is an immutable ledger row. Amount is signed.
type Transaction struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"account_id"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Description  string    `json:"description"`
	Type         TxType    `json:"type"`
	ReferenceID  string    `json:"reference_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// DebitRequest removes credits from one account.
type DebitRequest struct {
	Owner       Owner
	Amount      int64
	Description string
	Type        TxType
	ReferenceID string
}

// TransferRequest moves credits between two accounts.
type TransferRequest struct {
	Source      Owner
	Target      Owner
	Amount      int64
	Description string
}

// GrantRequest credits an account once per ReferenceID.
type GrantRequest struct {
	Owner       Owner
	Amount      int64
	Description string
	ReferenceID string
}

// TransferResult reports balances after a committed transfer.
type TransferResult struct {
	RemainingAtSource int64 `json:"remaining_at_source"`
	TargetBalance     int64 `json:"target_balance"`
}

// GrantResult reports whether the grant was applied or already present.
type GrantResult struct {
	Balance int64 `json:"balance"`
	Applied bool  `json:"applied"`
}

// PointsResult is the structured outcome of an RPC-style ledger call.
// Failures are reported with Success=false rather than as errors.
type PointsResult struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	Code            string `json:"code,omitempty"`
	RemainingPoints int64  `json:"remaining_points"`
	TargetPoints    *int64 `json:"target_points,omitempty"`
	Required        int64  `json:"required,omitempty"`
}
