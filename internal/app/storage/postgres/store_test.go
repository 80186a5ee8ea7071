package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/audit_layer/internal/app/domain/audit"
	"github.com/R3E-Network/audit_layer/internal/app/domain/credit"
	apperrors "github.com/R3E-Network/audit_layer/internal/errors"
	"github.com/R3E-Network/audit_layer/internal/platform/migrations"
)

var accountCols = []string{"id", "owner_kind", "owner_id", "balance", "version", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func expectEnsure(mock sqlmock.Sqlmock, id, ownerID string, balance int64) {
	now := time.Now()
	mock.ExpectExec("INSERT INTO credit_accounts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM credit_accounts WHERE owner_kind").
		WithArgs("user", ownerID).
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow(id, "user", ownerID, balance, 1, now, now))
}

func TestDebitRefusesOverdraft(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	expectEnsure(mock, "acct-1", "u1", 5)
	mock.ExpectQuery("UPDATE credit_accounts").WillReturnRows(sqlmock.NewRows(accountCols))
	mock.ExpectRollback()

	_, err := store.Debit(context.Background(), credit.DebitRequest{
		Owner: credit.User("u1"), Amount: 6, Type: credit.TxDeduct,
	})
	se := apperrors.GetServiceError(err)
	if se == nil || se.Code != apperrors.CodeInsufficientFunds {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if se.Details["balance"] != int64(5) {
		t.Fatalf("unexpected details %+v", se.Details)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDebitWritesLedgerRow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	expectEnsure(mock, "acct-1", "u1", 5)
	mock.ExpectQuery("UPDATE credit_accounts").
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow("acct-1", "user", "u1", 3, 2, now, now))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs(sqlmock.AnyArg(), "acct-1", int64(-2), int64(3), "view report demo", "view_report", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	acct, err := store.Debit(context.Background(), credit.DebitRequest{
		Owner: credit.User("u1"), Amount: 2, Type: credit.TxViewReport,
		Description: "view report demo", ReferenceID: "r1",
	})
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if acct.Balance != 3 || acct.Version != 2 {
		t.Fatalf("unexpected account %+v", acct)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTransferRejectsSelfWithoutQuery(t *testing.T) {
	store, mock := newMockStore(t)
	_, err := store.Transfer(context.Background(), credit.TransferRequest{
		Source: credit.User("u1"), Target: credit.User("u1"), Amount: 1,
	})
	if !apperrors.HasCode(err, apperrors.CodeSelfTransfer) {
		t.Fatalf("expected self transfer, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGrantSkipsSeenReference(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	expectEnsure(mock, "acct-1", "u1", 40)
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow("acct-1", "user", "u1", 40, 1, now, now))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("acct-1", "airdrop:w1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectCommit()

	res, err := store.Grant(context.Background(), credit.GrantRequest{
		Owner: credit.User("u1"), Amount: 10, ReferenceID: "airdrop:w1",
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if res.Applied || res.Balance != 40 {
		t.Fatalf("expected unapplied grant at 40, got %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateReportStatusNotApplied(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	cols := []string{"id", "date_code", "user_name", "repo_name", "risk_score", "total_issues", "critical_issues",
		"high_issues", "medium_issues", "low_issues", "status", "submitter_user_id", "created_at", "updated_at"}

	mock.ExpectQuery("UPDATE audit_reports").WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery("FROM audit_reports WHERE id").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("r1", "20240101", "alice", "vault", 40, 3, 1, 1, 1, 0, "archived", "", now, now))

	r, applied, err := store.UpdateReportStatus(context.Background(), "r1",
		[]audit.Status{audit.StatusPending}, audit.StatusCompleted)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if applied || r.Status != audit.StatusArchived {
		t.Fatalf("expected archived report untouched, got %+v applied=%v", r, applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMarkClaimedReportsExistingClaim(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE airdrop_allocations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM airdrop_allocations").
		WithArgs("w1").
		WillReturnRows(sqlmock.NewRows([]string{"wallet_address", "amount", "claimed_by", "claimed_at"}).
			AddRow("w1", 50, "u0", time.Now()))

	ok, err := store.MarkClaimed(context.Background(), "w1", "u1")
	if err != nil || ok {
		t.Fatalf("expected no-op claim, got ok=%v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetIssueNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM audit_issues WHERE id").WillReturnError(sql.ErrNoRows)

	if _, err := store.GetIssue(context.Background(), "missing"); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	store := New(db)

	owner := credit.User("integration-" + time.Now().Format("150405.000000"))
	if _, err := store.Grant(ctx, credit.GrantRequest{Owner: owner, Amount: 10, ReferenceID: "seed"}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := store.Debit(ctx, credit.DebitRequest{Owner: owner, Amount: 11, Type: credit.TxDeduct}); !apperrors.HasCode(err, apperrors.CodeInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	acct, err := store.Debit(ctx, credit.DebitRequest{Owner: owner, Amount: 4, Type: credit.TxDeduct})
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if acct.Balance != 6 {
		t.Fatalf("expected 6, got %d", acct.Balance)
	}
	txs, err := store.ListTransactions(ctx, owner, 10)
	if err != nil || len(txs) != 2 {
		t.Fatalf("expected 2 ledger rows, got %d (%v)", len(txs), err)
	}
}
