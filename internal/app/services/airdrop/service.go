// Package airdrop lets wallet holders claim their one-time credit allocation.
package airdrop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	domain "github.com/R3E-Network/audit_layer/internal/app/domain/airdrop"
	"github.com/R3E-Network/audit_layer/internal/app/domain/credit"
	"github.com/R3E-Network/audit_layer/internal/app/domain/identity"
	"github.com/R3E-Network/audit_layer/internal/app/storage"
	apperrors "github.com/R3E-Network/audit_layer/internal/errors"
	"github.com/R3E-Network/audit_layer/internal/wallet"
	"github.com/R3E-Network/audit_layer/pkg/logger"
)

const (
	reasonEligible       = "eligible"
	reasonInvalidAddress = "invalid wallet address"
	reasonNoAllocation   = "no allocation for this wallet"
	reasonClaimed        = "allocation already claimed"
)

// DefaultChallengeTTL is how long an issued claim nonce stays valid.
const DefaultChallengeTTL = 5 * time.Minute

// Granter credits an account idempotently.
type Granter interface {
	Grant(ctx context.Context, req credit.GrantRequest) (credit.GrantResult, error)
}

// Service answers eligibility checks and claims.
type Service struct {
	store        storage.AirdropStore
	ledger       Granter
	verifier     wallet.Verifier
	challenges   ChallengeStore
	challengeTTL time.Duration
	now          func() time.Time
	log          *logger.Logger
}

// New constructs an airdrop service. A nil challenge store keeps challenges
// in memory and a non-positive ttl uses DefaultChallengeTTL.
func New(store storage.AirdropStore, ledger Granter, verifier wallet.Verifier, challenges ChallengeStore, challengeTTL time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("airdrop")
	}
	if verifier == nil {
		verifier = wallet.NeoVerifier{}
	}
	if challenges == nil {
		challenges = NewMemoryChallenges()
	}
	if challengeTTL <= 0 {
		challengeTTL = DefaultChallengeTTL
	}
	return &Service{
		store:        store,
		ledger:       ledger,
		verifier:     verifier,
		challenges:   challenges,
		challengeTTL: challengeTTL,
		now:          time.Now,
		log:          log,
	}
}

// ReferenceID is the ledger reference used for a wallet's claim.
func ReferenceID(walletAddress string) string {
	return "airdrop:" + walletAddress
}

// CheckEligibility reports whether the wallet has an unclaimed allocation.
func (s *Service) CheckEligibility(ctx context.Context, walletAddress string) (domain.Eligibility, error) {
	addr, err := wallet.NormalizeAddress(walletAddress)
	if err != nil {
		return domain.Eligibility{Reason: reasonInvalidAddress}, nil
	}
	alloc, err := s.store.GetAllocation(ctx, addr)
	if apperrors.HasCode(err, apperrors.CodeNotFound) {
		return domain.Eligibility{Reason: reasonNoAllocation}, nil
	}
	if err != nil {
		return domain.Eligibility{}, fmt.Errorf("load allocation: %w", err)
	}
	if alloc.Claimed() {
		return domain.Eligibility{Amount: alloc.Amount, Reason: reasonClaimed}, nil
	}
	return domain.Eligibility{IsEligible: true, Amount: alloc.Amount, Reason: reasonEligible}, nil
}

// ChallengeMessage is the text a wallet signs to claim on behalf of userID.
func ChallengeMessage(walletAddress, userID, nonce string, expiresAt time.Time) string {
	return fmt.Sprintf("Claim audit credits airdrop\nwallet: %s\nuser: %s\nnonce: %s\nexpires: %s",
		walletAddress, userID, nonce, expiresAt.UTC().Format(time.RFC3339))
}

// IssueChallenge creates a single-use nonce for the session user to sign
// with the wallet before claiming.
func (s *Service) IssueChallenge(ctx context.Context, session identity.Session, walletAddress string) (domain.Challenge, error) {
	if !session.Authenticated() {
		return domain.Challenge{}, apperrors.NotAuthenticated()
	}
	addr, err := wallet.NormalizeAddress(walletAddress)
	if err != nil {
		return domain.Challenge{}, apperrors.InvalidInput(reasonInvalidAddress)
	}
	c := domain.Challenge{
		Nonce:         uuid.NewString(),
		WalletAddress: addr,
		UserID:        session.UserID,
		ExpiresAt:     s.now().Add(s.challengeTTL).UTC(),
	}
	c.Message = ChallengeMessage(c.WalletAddress, c.UserID, c.Nonce, c.ExpiresAt)
	if err := s.challenges.Put(ctx, c); err != nil {
		return domain.Challenge{}, fmt.Errorf("store claim challenge: %w", err)
	}
	return c, nil
}

// checkChallenge ties the proof to a live challenge issued to this user for
// this wallet.
func (s *Service) checkChallenge(ctx context.Context, session identity.Session, addr string, proof domain.Proof) error {
	if proof.Nonce == "" {
		return apperrors.Forbidden("claim challenge nonce is required")
	}
	c, ok, err := s.challenges.Get(ctx, proof.Nonce)
	if err != nil {
		return fmt.Errorf("load claim challenge: %w", err)
	}
	if !ok {
		return apperrors.Forbidden("claim challenge is unknown, expired or already used")
	}
	if c.UserID != session.UserID || c.WalletAddress != addr {
		return apperrors.Forbidden("claim challenge was issued for another user or wallet")
	}
	if proof.Message != c.Message {
		return apperrors.Forbidden("signed message does not match the claim challenge")
	}
	return nil
}

// Claim verifies wallet ownership against an issued challenge, reserves the
// allocation for the session user and credits their user account. The
// challenge is consumed once the proof verifies. A failed credit releases
// the reservation.
func (s *Service) Claim(ctx context.Context, session identity.Session, walletAddress string, proof domain.Proof) (domain.ClaimResult, error) {
	if !session.Authenticated() {
		return domain.ClaimResult{}, apperrors.NotAuthenticated()
	}
	addr, err := wallet.NormalizeAddress(walletAddress)
	if err != nil {
		return domain.ClaimResult{Message: reasonInvalidAddress}, nil
	}
	entry := s.log.WithField("wallet", addr).WithField("user_id", session.UserID)

	if err := s.checkChallenge(ctx, session, addr, proof); err != nil {
		entry.WithError(err).Warn("claim challenge rejected")
		return domain.ClaimResult{}, err
	}
	if err := s.verifier.Verify(ctx, addr, proof); err != nil {
		entry.WithError(err).Warn("wallet proof rejected")
		if errors.Is(err, wallet.ErrInvalidProof) || errors.Is(err, wallet.ErrInvalidAddress) {
			return domain.ClaimResult{}, apperrors.Forbidden("wallet ownership proof rejected")
		}
		return domain.ClaimResult{}, fmt.Errorf("verify wallet proof: %w", err)
	}
	consumed, err := s.challenges.Consume(ctx, proof.Nonce)
	if err != nil {
		return domain.ClaimResult{}, fmt.Errorf("consume claim challenge: %w", err)
	}
	if !consumed {
		entry.Warn("claim challenge replayed")
		return domain.ClaimResult{}, apperrors.Forbidden("claim challenge is unknown, expired or already used")
	}

	alloc, err := s.store.GetAllocation(ctx, addr)
	if apperrors.HasCode(err, apperrors.CodeNotFound) {
		return domain.ClaimResult{Message: reasonNoAllocation}, nil
	}
	if err != nil {
		return domain.ClaimResult{}, fmt.Errorf("load allocation: %w", err)
	}
	if alloc.Claimed() {
		return domain.ClaimResult{Amount: alloc.Amount, Message: reasonClaimed}, nil
	}

	marked, err := s.store.MarkClaimed(ctx, addr, session.UserID)
	if err != nil {
		return domain.ClaimResult{}, fmt.Errorf("mark allocation claimed: %w", err)
	}
	if !marked {
		return domain.ClaimResult{Amount: alloc.Amount, Message: reasonClaimed}, nil
	}

	res, err := s.ledger.Grant(ctx, credit.GrantRequest{
		Owner:       credit.User(session.UserID),
		Amount:      alloc.Amount,
		Description: "airdrop claim " + addr,
		ReferenceID: ReferenceID(addr),
	})
	if err != nil {
		if relErr := s.store.ReleaseClaim(ctx, addr, session.UserID); relErr != nil {
			entry.WithError(relErr).Error("release airdrop claim failed")
		}
		return domain.ClaimResult{}, fmt.Errorf("credit airdrop: %w", err)
	}

	entry.WithField("amount", alloc.Amount).Info("airdrop claimed")
	return domain.ClaimResult{
		Success: true,
		Amount:  alloc.Amount,
		Balance: res.Balance,
		Message: fmt.Sprintf("claimed %d credits", alloc.Amount),
	}, nil
}
