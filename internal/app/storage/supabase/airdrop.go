package supabase

import (
	"context"
	"time"

	"github.com/R3E-Network/audit_layer/internal/app/domain/airdrop"
	apperrors "github.com/R3E-Network/audit_layer/internal/errors"
)

func (s *Store) GetAllocation(ctx context.Context, wallet string) (airdrop.Allocation, error) {
	var rows []airdrop.Allocation
	resp, err := s.client.From("airdrop_allocations").Select("*").Eq("wallet_address", wallet).Limit(1).Execute(ctx)
	if err := decode(resp, err, &rows); err != nil {
		return airdrop.Allocation{}, err
	}
	if len(rows) == 0 {
		return airdrop.Allocation{}, apperrors.NotFound("allocation", wallet)
	}
	return rows[0], nil
}

func (s *Store) MarkClaimed(ctx context.Context, wallet, userID string) (bool, error) {
	var rows []airdrop.Allocation
	resp, err := s.client.From("airdrop_allocations").Eq("wallet_address", wallet).Is("claimed_by", "null").
		ExecuteUpdate(ctx, map[string]any{"claimed_by": userID, "claimed_at": time.Now().UTC()})
	if err := decode(resp, err, &rows); err != nil {
		return false, err
	}
	if len(rows) == 0 {
		if _, err := s.GetAllocation(ctx, wallet); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *Store) ReleaseClaim(ctx context.Context, wallet, userID string) error {
	resp, err := s.client.From("airdrop_allocations").Eq("wallet_address", wallet).Eq("claimed_by", userID).
		ExecuteUpdate(ctx, map[string]any{"claimed_by": nil, "claimed_at": nil})
	if err != nil {
		return err
	}
	return resp.Error()
}

func (s *Store) SeedAllocations(ctx context.Context, allocations []airdrop.Allocation) error {
	if len(allocations) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(allocations))
	for _, a := range allocations {
		rows = append(rows, map[string]any{"wallet_address": a.WalletAddress, "amount": a.Amount})
	}
	resp, err := s.client.From("airdrop_allocations").OnConflict("wallet_address").ExecuteInsert(ctx, rows)
	if err != nil {
		return err
	}
	return resp.Error()
}
