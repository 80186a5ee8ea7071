package credits

import (
	"context"
	"fmt"
	"strings"

	"github.com/R3E-Network/audit_layer/internal/app/domain/credit"
	"github.com/R3E-Network/audit_layer/internal/app/domain/identity"
	"github.com/R3E-Network/audit_layer/internal/app/metrics"
	"github.com/R3E-Network/audit_layer/internal/app/storage"
	apperrors "github.com/R3E-Network/audit_layer/internal/errors"
	"github.com/R3E-Network/audit_layer/internal/wallet"
	"github.com/R3E-Network/audit_layer/pkg/logger"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Service is the credits ledger. Callers get typed errors from the core
// operations and structured results from the RPC-style methods.
type Service struct {
	store storage.CreditStore
	log   *logger.Logger
}

// New constructs a credits service.
func New(store storage.CreditStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("credits")
	}
	return &Service{store: store, log: log}
}

// Balance returns the owner's balance, creating an empty account on first use.
func (s *Service) Balance(ctx context.Context, owner credit.Owner) (int64, error) {
	acct, err := s.store.EnsureAccount(ctx, owner)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// Debit removes amount from the owner's balance or fails with InsufficientFunds.
func (s *Service) Debit(ctx context.Context, req credit.DebitRequest) (credit.Account, error) {
	if req.Amount <= 0 {
		return credit.Account{}, apperrors.InvalidAmount(req.Amount)
	}
	if req.Type == "" {
		req.Type = credit.TxDeduct
	}
	req.Description = strings.TrimSpace(req.Description)

	acct, err := s.store.Debit(ctx, req)
	metrics.RecordLedgerOperation("debit", req.Amount, err)
	if err != nil {
		s.log.WithError(err).
			WithField("owner", req.Owner.String()).
			WithField("amount", req.Amount).
			Warn("debit rejected")
		return acct, err
	}
	s.log.WithField("owner", req.Owner.String()).
		WithField("amount", req.Amount).
		WithField("type", req.Type).
		WithField("balance", acct.Balance).
		Info("credits debited")
	return acct, nil
}

// Transfer moves amount from source to target as one atomic step.
func (s *Service) Transfer(ctx context.Context, req credit.TransferRequest) (credit.TransferResult, error) {
	if req.Amount <= 0 {
		return credit.TransferResult{}, apperrors.InvalidAmount(req.Amount)
	}
	if req.Source == req.Target {
		return credit.TransferResult{}, apperrors.SelfTransfer()
	}
	req.Description = strings.TrimSpace(req.Description)

	res, err := s.store.Transfer(ctx, req)
	metrics.RecordLedgerOperation("transfer", req.Amount, err)
	if err != nil {
		s.log.WithError(err).
			WithField("source", req.Source.String()).
			WithField("target", req.Target.String()).
			Warn("transfer rejected")
		return res, err
	}
	s.log.WithField("source", req.Source.String()).
		WithField("target", req.Target.String()).
		WithField("amount", req.Amount).
		Info("credits transferred")
	return res, nil
}

// Grant credits the owner once per reference id.
func (s *Service) Grant(ctx context.Context, req credit.GrantRequest) (credit.GrantResult, error) {
	if req.Amount <= 0 {
		return credit.GrantResult{}, apperrors.InvalidAmount(req.Amount)
	}
	req.ReferenceID = strings.TrimSpace(req.ReferenceID)
	if req.ReferenceID == "" {
		return credit.GrantResult{}, apperrors.InvalidInput("grant reference id is required")
	}

	res, err := s.store.Grant(ctx, req)
	var moved int64
	if res.Applied {
		moved = req.Amount
	}
	metrics.RecordLedgerOperation("grant", moved, err)
	if err != nil {
		return res, err
	}
	if !res.Applied {
		s.log.WithField("owner", req.Owner.String()).
			WithField("reference_id", req.ReferenceID).
			Info("grant already applied")
	}
	return res, nil
}

// History lists the owner's ledger rows newest first.
func (s *Service) History(ctx context.Context, owner credit.Owner, limit int) ([]credit.Transaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.store.ListTransactions(ctx, owner, limit)
}

// GetUserPoints answers get_user_points.
func (s *Service) GetUserPoints(ctx context.Context, session identity.Session) (int64, error) {
	if !session.Authenticated() {
		return 0, apperrors.NotAuthenticated()
	}
	return s.Balance(ctx, credit.User(session.UserID))
}

// DeductUserPoints answers deduct_user_points.
func (s *Service) DeductUserPoints(ctx context.Context, session identity.Session, amount int64, description string, txType credit.TxType, referenceID string) (credit.PointsResult, error) {
	if !session.Authenticated() {
		return credit.PointsResult{}, apperrors.NotAuthenticated()
	}
	if txType == "" {
		txType = credit.TxDeduct
	}
	if !txType.IsDebit() {
		return failed(apperrors.InvalidInput(fmt.Sprintf("type %q is not a debit type", txType)))
	}
	acct, err := s.Debit(ctx, credit.DebitRequest{
		Owner:       credit.User(session.UserID),
		Amount:      amount,
		Description: description,
		Type:        txType,
		ReferenceID: referenceID,
	})
	if err != nil {
		return failed(err)
	}
	return credit.PointsResult{
		Success:         true,
		Message:         fmt.Sprintf("deducted %d credits", amount),
		RemainingPoints: acct.Balance,
	}, nil
}

// TransferUserPoints answers transfer_user_points from the session user.
func (s *Service) TransferUserPoints(ctx context.Context, session identity.Session, targetUserID string, amount int64, description string) (credit.PointsResult, error) {
	if !session.Authenticated() {
		return credit.PointsResult{}, apperrors.NotAuthenticated()
	}
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return failed(apperrors.InvalidInput("target user id is required"))
	}
	res, err := s.Transfer(ctx, credit.TransferRequest{
		Source:      credit.User(session.UserID),
		Target:      credit.User(targetUserID),
		Amount:      amount,
		Description: description,
	})
	if err != nil {
		return failed(err)
	}
	return credit.PointsResult{
		Success:         true,
		Message:         fmt.Sprintf("transferred %d credits", amount),
		RemainingPoints: res.RemainingAtSource,
	}, nil
}

// TransferPointsByWallet answers transfer_points_by_wallet. The source
// defaults to the session's wallet and must match it when given.
func (s *Service) TransferPointsByWallet(ctx context.Context, session identity.Session, sourceWallet, targetWallet string, amount int64, description string) (credit.PointsResult, error) {
	if !session.Authenticated() {
		return credit.PointsResult{}, apperrors.NotAuthenticated()
	}
	if strings.TrimSpace(sourceWallet) == "" {
		sourceWallet = session.WalletAddress
	}
	if strings.TrimSpace(sourceWallet) == "" || strings.TrimSpace(targetWallet) == "" {
		return failed(apperrors.InvalidInput("source and target wallets are required"))
	}
	src, err := wallet.NormalizeAddress(sourceWallet)
	if err != nil {
		return failed(apperrors.InvalidInput("invalid source wallet"))
	}
	dst, err := wallet.NormalizeAddress(targetWallet)
	if err != nil {
		return failed(apperrors.InvalidInput("invalid target wallet"))
	}
	if own, err := wallet.NormalizeAddress(session.WalletAddress); err != nil || own != src {
		return failed(apperrors.Forbidden("source wallet is not linked to this session").
			WithDetails("wallet", src))
	}

	res, err := s.Transfer(ctx, credit.TransferRequest{
		Source:      credit.Wallet(src),
		Target:      credit.Wallet(dst),
		Amount:      amount,
		Description: description,
	})
	if err != nil {
		return failed(err)
	}
	target := res.TargetBalance
	return credit.PointsResult{
		Success:         true,
		Message:         fmt.Sprintf("transferred %d credits", amount),
		RemainingPoints: res.RemainingAtSource,
		TargetPoints:    &target,
	}, nil
}

// failed converts a ledger rejection into a structured result. Anything
// outside the ledger taxonomy stays an error.
func failed(err error) (credit.PointsResult, error) {
	se := apperrors.GetServiceError(err)
	if se == nil {
		return credit.PointsResult{}, err
	}
	switch se.Code {
	case apperrors.CodeInsufficientFunds, apperrors.CodeSelfTransfer, apperrors.CodeInvalidAmount,
		apperrors.CodeInvalidInput, apperrors.CodePermissionDenied:
	default:
		return credit.PointsResult{}, err
	}
	res := credit.PointsResult{Success: false, Message: se.Message, Code: string(se.Code)}
	if v, ok := se.Details["balance"].(int64); ok {
		res.RemainingPoints = v
	}
	if v, ok := se.Details["required"].(int64); ok {
		res.Required = v
	}
	return res, nil
}
