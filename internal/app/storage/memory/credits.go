package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/audit_layer/internal/app/domain/credit"
	apperrors "github.com/R3E-Network/audit_layer/internal/errors"
)

func (s *Store) EnsureAccount(_ context.Context, owner credit.Owner) (credit.Account, error) {
	if err := owner.Validate(); err != nil {
		return credit.Account{}, apperrors.InvalidInput(err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureAccountLocked(owner), nil
}

func (s *Store) ensureAccountLocked(owner credit.Owner) credit.Account {
	if acct, ok := s.accounts[owner.String()]; ok {
		return acct
	}
	now := time.Now().UTC()
	acct := credit.Account{
		ID:        uuid.NewString(),
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.accounts[owner.String()] = acct
	return acct
}

// applyLocked changes the balance and appends the matching ledger row.
func (s *Store) applyLocked(acct credit.Account, amount int64, txType credit.TxType, description, reference string) credit.Account {
	now := time.Now().UTC()
	acct.Balance += amount
	acct.Version++
	acct.UpdatedAt = now
	s.accounts[acct.Owner.String()] = acct
	s.transactions[acct.ID] = append(s.transactions[acct.ID], credit.Transaction{
		ID:           uuid.NewString(),
		AccountID:    acct.ID,
		Amount:       amount,
		BalanceAfter: acct.Balance,
		Description:  description,
		Type:         txType,
		ReferenceID:  reference,
		CreatedAt:    now,
	})
	return acct
}

func (s *Store) Debit(_ context.Context, req credit.DebitRequest) (credit.Account, error) {
	if err := req.Owner.Validate(); err != nil {
		return credit.Account{}, apperrors.InvalidInput(err.Error())
	}
	if req.Amount <= 0 {
		return credit.Account{}, apperrors.InvalidAmount(req.Amount)
	}
	if !req.Type.IsDebit() {
		return credit.Account{}, apperrors.InvalidInput("unsupported debit type " + string(req.Type))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.ensureAccountLocked(req.Owner)
	if acct.Balance < req.Amount {
		return acct, apperrors.InsufficientFunds(acct.Balance, req.Amount)
	}
	return s.applyLocked(acct, -req.Amount, req.Type, req.Description, req.ReferenceID), nil
}

func (s *Store) Transfer(_ context.Context, req credit.TransferRequest) (credit.TransferResult, error) {
	if err := req.Source.Validate(); err != nil {
		return credit.TransferResult{}, apperrors.InvalidInput(err.Error())
	}
	if err := req.Target.Validate(); err != nil {
		return credit.TransferResult{}, apperrors.InvalidInput(err.Error())
	}
	if req.Amount <= 0 {
		return credit.TransferResult{}, apperrors.InvalidAmount(req.Amount)
	}
	if req.Source == req.Target {
		return credit.TransferResult{}, apperrors.SelfTransfer()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.ensureAccountLocked(req.Source)
	dst := s.ensureAccountLocked(req.Target)
	if src.Balance < req.Amount {
		return credit.TransferResult{RemainingAtSource: src.Balance, TargetBalance: dst.Balance},
			apperrors.InsufficientFunds(src.Balance, req.Amount)
	}
	src = s.applyLocked(src, -req.Amount, credit.TxTransferOut, req.Description, dst.ID)
	dst = s.applyLocked(dst, req.Amount, credit.TxTransferIn, req.Description, src.ID)
	return credit.TransferResult{RemainingAtSource: src.Balance, TargetBalance: dst.Balance}, nil
}

func (s *Store) Grant(_ context.Context, req credit.GrantRequest) (credit.GrantResult, error) {
	if err := req.Owner.Validate(); err != nil {
		return credit.GrantResult{}, apperrors.InvalidInput(err.Error())
	}
	if req.Amount <= 0 {
		return credit.GrantResult{}, apperrors.InvalidAmount(req.Amount)
	}
	if req.ReferenceID == "" {
		return credit.GrantResult{}, apperrors.InvalidInput("grant reference id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.ensureAccountLocked(req.Owner)
	key := acct.ID + "|" + req.ReferenceID
	if _, seen := s.grantRefs[key]; seen {
		return credit.GrantResult{Balance: acct.Balance, Applied: false}, nil
	}
	s.grantRefs[key] = struct{}{}
	acct = s.applyLocked(acct, req.Amount, credit.TxGrant, req.Description, req.ReferenceID)
	return credit.GrantResult{Balance: acct.Balance, Applied: true}, nil
}

func (s *Store) ListTransactions(_ context.Context, owner credit.Owner, limit int) ([]credit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[owner.String()]
	if !ok {
		return []credit.Transaction{}, nil
	}
	rows := s.transactions[acct.ID]
	out := make([]credit.Transaction, len(rows))
	copy(out, rows)
	// rows are appended in order; reverse for newest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
