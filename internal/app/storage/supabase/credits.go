package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/audit_layer/internal/app/domain/credit"
	apperrors "github.com/R3E-Network/audit_layer/internal/errors"
)

// Stored procedures per owner kind.
var (
	balanceRPC = map[credit.OwnerKind]string{credit.OwnerUser: "get_user_points", credit.OwnerWallet: "get_wallet_points"}
	debitRPC   = map[credit.OwnerKind]string{credit.OwnerUser: "deduct_user_points", credit.OwnerWallet: "deduct_wallet_points"}
)

func ownerParams(owner credit.Owner) map[string]any {
	if owner.Kind == credit.OwnerWallet {
		return map[string]any{"p_wallet": owner.ID}
	}
	return map[string]any{"p_user_id": owner.ID}
}

// failure maps an unsuccessful ledger result onto the error taxonomy.
func failure(result gjson.Result, amount int64) error {
	remaining := result.Get("remaining_points").Int()
	if result.Get("code").String() == string(apperrors.CodeInsufficientFunds) || (result.Get("remaining_points").Exists() && remaining < amount) {
		return apperrors.InsufficientFunds(remaining, amount)
	}
	msg := result.Get("message").String()
	if msg == "" {
		msg = "ledger operation rejected"
	}
	return apperrors.InvalidInput(msg)
}

func (s *Store) EnsureAccount(ctx context.Context, owner credit.Owner) (credit.Account, error) {
	if err := owner.Validate(); err != nil {
		return credit.Account{}, apperrors.InvalidInput(err.Error())
	}
	resp, err := s.rpc(ctx, balanceRPC[owner.Kind], ownerParams(owner))
	if err != nil {
		return credit.Account{}, err
	}
	return credit.Account{ID: owner.String(), Owner: owner, Balance: resp.Result().Int()}, nil
}

func (s *Store) Debit(ctx context.Context, req credit.DebitRequest) (credit.Account, error) {
	if err := req.Owner.Validate(); err != nil {
		return credit.Account{}, apperrors.InvalidInput(err.Error())
	}
	if req.Amount <= 0 {
		return credit.Account{}, apperrors.InvalidAmount(req.Amount)
	}
	if !req.Type.IsDebit() {
		return credit.Account{}, apperrors.InvalidInput("unsupported debit type " + string(req.Type))
	}
	params := ownerParams(req.Owner)
	params["p_amount"] = req.Amount
	params["p_description"] = req.Description
	params["p_type"] = string(req.Type)
	if req.ReferenceID != "" {
		params["p_reference_id"] = req.ReferenceID
	}
	resp, err := s.rpc(ctx, debitRPC[req.Owner.Kind], params)
	if err != nil {
		return credit.Account{}, err
	}
	result := resp.Result()
	acct := credit.Account{ID: req.Owner.String(), Owner: req.Owner, Balance: result.Get("remaining_points").Int()}
	if !result.Get("success").Bool() {
		return acct, failure(result, req.Amount)
	}
	return acct, nil
}

func (s *Store) Transfer(ctx context.Context, req credit.TransferRequest) (credit.TransferResult, error) {
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
	if req.Source.Kind != req.Target.Kind {
		return credit.TransferResult{}, apperrors.InvalidInput("transfers between user and wallet balances are not supported")
	}

	fn := "transfer_user_points"
	params := map[string]any{
		"p_source_user_id": req.Source.ID,
		"p_target_user_id": req.Target.ID,
		"p_amount":         req.Amount,
		"p_description":    req.Description,
	}
	if req.Source.Kind == credit.OwnerWallet {
		fn = "transfer_points_by_wallet"
		params = map[string]any{
			"p_source_wallet": req.Source.ID,
			"p_target_wallet": req.Target.ID,
			"p_amount":        req.Amount,
			"p_description":   req.Description,
		}
	}
	resp, err := s.rpc(ctx, fn, params)
	if err != nil {
		return credit.TransferResult{}, err
	}
	result := resp.Result()
	out := credit.TransferResult{
		RemainingAtSource: result.Get("remaining_points").Int(),
		TargetBalance:     result.Get("target_points").Int(),
	}
	if !result.Get("success").Bool() {
		return out, failure(result, req.Amount)
	}
	return out, nil
}

func (s *Store) Grant(ctx context.Context, req credit.GrantRequest) (credit.GrantResult, error) {
	if err := req.Owner.Validate(); err != nil {
		return credit.GrantResult{}, apperrors.InvalidInput(err.Error())
	}
	if req.Amount <= 0 {
		return credit.GrantResult{}, apperrors.InvalidAmount(req.Amount)
	}
	if req.ReferenceID == "" {
		return credit.GrantResult{}, apperrors.InvalidInput("grant reference id is required")
	}
	resp, err := s.rpc(ctx, "grant_points", map[string]any{
		"p_owner_kind":   string(req.Owner.Kind),
		"p_owner_id":     req.Owner.ID,
		"p_amount":       req.Amount,
		"p_description":  req.Description,
		"p_reference_id": req.ReferenceID,
	})
	if err != nil {
		return credit.GrantResult{}, err
	}
	result := resp.Result()
	if !result.Get("success").Bool() {
		return credit.GrantResult{}, failure(result, 0)
	}
	return credit.GrantResult{
		Balance: result.Get("balance").Int(),
		Applied: result.Get("applied").Bool(),
	}, nil
}

func (s *Store) ListTransactions(ctx context.Context, owner credit.Owner, limit int) ([]credit.Transaction, error) {
	if limit <= 0 {
		limit = 1000
	}
	resp, err := s.rpc(ctx, "list_point_transactions", map[string]any{
		"p_owner_kind": string(owner.Kind),
		"p_owner_id":   owner.ID,
		"p_limit":      limit,
	})
	if err != nil {
		return nil, err
	}
	out := []credit.Transaction{}
	var parseErr error
	resp.Result().ForEach(func(_, row gjson.Result) bool {
		created, err := time.Parse(time.RFC3339Nano, row.Get("created_at").String())
		if err != nil {
			parseErr = fmt.Errorf("transaction %s created_at: %w", row.Get("id").String(), err)
			return false
		}
		out = append(out, credit.Transaction{
			ID:           row.Get("id").String(),
			AccountID:    row.Get("account_id").String(),
			Amount:       row.Get("amount").Int(),
			BalanceAfter: row.Get("balance_after").Int(),
			Description:  row.Get("description").String(),
			Type:         credit.TxType(row.Get("type").String()),
			ReferenceID:  row.Get("reference_id").String(),
			CreatedAt:    created.UTC(),
		})
		return true
	})
	return out, parseErr
}
