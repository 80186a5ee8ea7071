package memory

import (
	"context"
	"time"

	"github.com/R3E-Network/audit_layer/internal/app/domain/airdrop"
	apperrors "github.com/R3E-Network/audit_layer/internal/errors"
)

// PutAllocation inserts or replaces a wallet allocation.
func (s *Store) PutAllocation(a airdrop.Allocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocations[a.WalletAddress] = a
}

func (s *Store) GetAllocation(_ context.Context, wallet string) (airdrop.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.allocations[wallet]
	if !ok {
		return airdrop.Allocation{}, apperrors.NotFound("allocation", wallet)
	}
	return a, nil
}

func (s *Store) MarkClaimed(_ context.Context, wallet, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.allocations[wallet]
	if !ok {
		return false, apperrors.NotFound("allocation", wallet)
	}
	if a.Claimed() {
		return false, nil
	}
	now := time.Now().UTC()
	by := userID
	a.ClaimedBy = &by
	a.ClaimedAt = &now
	s.allocations[wallet] = a
	return true, nil
}

func (s *Store) ReleaseClaim(_ context.Context, wallet, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.allocations[wallet]
	if !ok {
		return apperrors.NotFound("allocation", wallet)
	}
	if a.ClaimedBy != nil && *a.ClaimedBy == userID {
		a.ClaimedBy = nil
		a.ClaimedAt = nil
		s.allocations[wallet] = a
	}
	return nil
}

func (s *Store) SeedWhitelist(_ context.Context, userIDs []string) error {
	s.AddWhitelist(userIDs...)
	return nil
}

func (s *Store) SeedAllocations(_ context.Context, allocations []airdrop.Allocation) error {
	for _, a := range allocations {
		s.PutAllocation(a)
	}
	return nil
}
