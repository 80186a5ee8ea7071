package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/R3E-Network/audit_layer/internal/app/domain/airdrop"
	apperrors "github.com/R3E-Network/audit_layer/internal/errors"
)

func (s *Store) GetAllocation(ctx context.Context, wallet string) (airdrop.Allocation, error) {
	var a airdrop.Allocation
	err := s.db.GetContext(ctx, &a, `
		SELECT wallet_address, amount, claimed_by, claimed_at
		FROM airdrop_allocations WHERE wallet_address = $1
	`, wallet)
	if errors.Is(err, sql.ErrNoRows) {
		return airdrop.Allocation{}, apperrors.NotFound("allocation", wallet)
	}
	return a, err
}

func (s *Store) MarkClaimed(ctx context.Context, wallet, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE airdrop_allocations
		SET claimed_by = $1, claimed_at = $2
		WHERE wallet_address = $3 AND claimed_by IS NULL
	`, userID, time.Now().UTC(), wallet)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := s.GetAllocation(ctx, wallet); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *Store) ReleaseClaim(ctx context.Context, wallet, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE airdrop_allocations
		SET claimed_by = NULL, claimed_at = NULL
		WHERE wallet_address = $1 AND claimed_by = $2
	`, wallet, userID)
	return err
}

func (s *Store) SeedAllocations(ctx context.Context, allocations []airdrop.Allocation) error {
	for _, a := range allocations {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO airdrop_allocations (wallet_address, amount) VALUES ($1, $2)
			ON CONFLICT (wallet_address) DO UPDATE SET amount = EXCLUDED.amount
		`, a.WalletAddress, a.Amount); err != nil {
			return err
		}
	}
	return nil
}
