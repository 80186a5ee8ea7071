package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/audit_layer/internal/app/domain/credit"
	apperrors "github.com/R3E-Network/audit_layer/internal/errors"
)

const accountColumns = `id, owner_kind, owner_id, balance, version, created_at, updated_at`

type accountRow struct {
	ID        string    `db:"id"`
	OwnerKind string    `db:"owner_kind"`
	OwnerID   string    `db:"owner_id"`
	Balance   int64     `db:"balance"`
	Version   int64     `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r accountRow) toDomain() credit.Account {
	return credit.Account{
		ID:        r.ID,
		Owner:     credit.Owner{Kind: credit.OwnerKind(r.OwnerKind), ID: r.OwnerID},
		Balance:   r.Balance,
		Version:   r.Version,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

type transactionRow struct {
	ID           string         `db:"id"`
	AccountID    string         `db:"account_id"`
	Amount       int64          `db:"amount"`
	BalanceAfter int64          `db:"balance_after"`
	Description  string         `db:"description"`
	Type         string         `db:"type"`
	ReferenceID  sql.NullString `db:"reference_id"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (r transactionRow) toDomain() credit.Transaction {
	return credit.Transaction{
		ID:           r.ID,
		AccountID:    r.AccountID,
		Amount:       r.Amount,
		BalanceAfter: r.BalanceAfter,
		Description:  r.Description,
		Type:         credit.TxType(r.Type),
		ReferenceID:  r.ReferenceID.String,
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

func ensureAccount(ctx context.Context, q sqlx.ExtContext, owner credit.Owner) (accountRow, error) {
	now := time.Now().UTC()
	if _, err := q.ExecContext(ctx, `
		INSERT INTO credit_accounts (id, owner_kind, owner_id, balance, version, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, $4, $4)
		ON CONFLICT (owner_kind, owner_id) DO NOTHING
	`, uuid.NewString(), string(owner.Kind), owner.ID, now); err != nil {
		return accountRow{}, err
	}
	var row accountRow
	err := sqlx.GetContext(ctx, q, &row, `
		SELECT `+accountColumns+`
		FROM credit_accounts
		WHERE owner_kind = $1 AND owner_id = $2
	`, string(owner.Kind), owner.ID)
	return row, err
}

func insertTransaction(ctx context.Context, tx *sqlx.Tx, acct accountRow, amount int64, txType credit.TxType, description, reference string) error {
	ref := sql.NullString{String: reference, Valid: reference != ""}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, account_id, amount, balance_after, description, type, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.NewString(), acct.ID, amount, acct.Balance, description, string(txType), ref, time.Now().UTC())
	return err
}

// adjust applies delta to the balance, refusing to go below zero.
func adjust(ctx context.Context, tx *sqlx.Tx, accountID string, delta int64) (accountRow, error) {
	var row accountRow
	err := tx.GetContext(ctx, &row, `
		UPDATE credit_accounts
		SET balance = balance + $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND balance + $1 >= 0
		RETURNING `+accountColumns, delta, time.Now().UTC(), accountID)
	return row, err
}

func (s *Store) EnsureAccount(ctx context.Context, owner credit.Owner) (credit.Account, error) {
	if err := owner.Validate(); err != nil {
		return credit.Account{}, apperrors.InvalidInput(err.Error())
	}
	row, err := ensureAccount(ctx, s.db, owner)
	if err != nil {
		return credit.Account{}, err
	}
	return row.toDomain(), nil
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

	var result accountRow
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		acct, err := ensureAccount(ctx, tx, req.Owner)
		if err != nil {
			return err
		}
		updated, err := adjust(ctx, tx, acct.ID, -req.Amount)
		if errors.Is(err, sql.ErrNoRows) {
			result = acct
			return apperrors.InsufficientFunds(acct.Balance, req.Amount)
		}
		if err != nil {
			return err
		}
		result = updated
		return insertTransaction(ctx, tx, updated, -req.Amount, req.Type, req.Description, req.ReferenceID)
	})
	return result.toDomain(), err
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

	var result credit.TransferResult
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		src, err := ensureAccount(ctx, tx, req.Source)
		if err != nil {
			return err
		}
		dst, err := ensureAccount(ctx, tx, req.Target)
		if err != nil {
			return err
		}

		// Lock both rows in id order so opposing transfers cannot deadlock.
		var locked []accountRow
		if err := tx.SelectContext(ctx, &locked, `
			SELECT `+accountColumns+`
			FROM credit_accounts
			WHERE id = ANY($1)
			ORDER BY id
			FOR UPDATE
		`, pq.Array([]string{src.ID, dst.ID})); err != nil {
			return err
		}
		for _, row := range locked {
			switch row.ID {
			case src.ID:
				src = row
			case dst.ID:
				dst = row
			}
		}
		if src.Balance < req.Amount {
			result = credit.TransferResult{RemainingAtSource: src.Balance, TargetBalance: dst.Balance}
			return apperrors.InsufficientFunds(src.Balance, req.Amount)
		}

		if src, err = adjust(ctx, tx, src.ID, -req.Amount); err != nil {
			return err
		}
		if dst, err = adjust(ctx, tx, dst.ID, req.Amount); err != nil {
			return err
		}
		if err := insertTransaction(ctx, tx, src, -req.Amount, credit.TxTransferOut, req.Description, dst.ID); err != nil {
			return err
		}
		if err := insertTransaction(ctx, tx, dst, req.Amount, credit.TxTransferIn, req.Description, src.ID); err != nil {
			return err
		}
		result = credit.TransferResult{RemainingAtSource: src.Balance, TargetBalance: dst.Balance}
		return nil
	})
	return result, err
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

	var result credit.GrantResult
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		acct, err := ensureAccount(ctx, tx, req.Owner)
		if err != nil {
			return err
		}
		if err := tx.GetContext(ctx, &acct, `
			SELECT `+accountColumns+` FROM credit_accounts WHERE id = $1 FOR UPDATE
		`, acct.ID); err != nil {
			return err
		}

		var exists bool
		if err := tx.GetContext(ctx, &exists, `
			SELECT EXISTS (
				SELECT 1 FROM credit_transactions
				WHERE account_id = $1 AND type = 'grant' AND reference_id = $2
			)
		`, acct.ID, req.ReferenceID); err != nil {
			return err
		}
		if exists {
			result = credit.GrantResult{Balance: acct.Balance, Applied: false}
			return nil
		}

		updated, err := adjust(ctx, tx, acct.ID, req.Amount)
		if err != nil {
			return err
		}
		if err := insertTransaction(ctx, tx, updated, req.Amount, credit.TxGrant, req.Description, req.ReferenceID); err != nil {
			return err
		}
		result = credit.GrantResult{Balance: updated.Balance, Applied: true}
		return nil
	})
	if isUniqueViolation(err) {
		// Lost a race with a concurrent grant for the same reference.
		acct, getErr := s.EnsureAccount(ctx, req.Owner)
		if getErr != nil {
			return credit.GrantResult{}, getErr
		}
		return credit.GrantResult{Balance: acct.Balance, Applied: false}, nil
	}
	return result, err
}

func (s *Store) ListTransactions(ctx context.Context, owner credit.Owner, limit int) ([]credit.Transaction, error) {
	if limit <= 0 {
		limit = 1000
	}
	var rows []transactionRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT t.id, t.account_id, t.amount, t.balance_after, t.description, t.type, t.reference_id, t.created_at
		FROM credit_transactions t
		JOIN credit_accounts a ON a.id = t.account_id
		WHERE a.owner_kind = $1 AND a.owner_id = $2
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT $3
	`, string(owner.Kind), owner.ID, limit); err != nil {
		return nil, err
	}
	out := make([]credit.Transaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}
