package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/R3E-Network/audit_layer/internal/app/domain/airdrop"
	"github.com/R3E-Network/audit_layer/internal/app/domain/audit"
	"github.com/R3E-Network/audit_layer/internal/app/domain/credit"
	apperrors "github.com/R3E-Network/audit_layer/internal/errors"
)

func seedBalance(t *testing.T, s *Store, owner credit.Owner, amount int64) {
	t.Helper()
	if _, err := s.Grant(context.Background(), credit.GrantRequest{Owner: owner, Amount: amount, ReferenceID: "seed"}); err != nil {
		t.Fatalf("seed grant: %v", err)
	}
}

func TestEnsureAccountIsLazyAndStable(t *testing.T) {
	s := New()
	ctx := context.Background()

	a, err := s.EnsureAccount(ctx, credit.User("u1"))
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if a.Balance != 0 || a.ID == "" {
		t.Fatalf("unexpected new account %+v", a)
	}
	b, _ := s.EnsureAccount(ctx, credit.User("u1"))
	if a.ID != b.ID {
		t.Fatalf("expected same account, got %s and %s", a.ID, b.ID)
	}
	w, _ := s.EnsureAccount(ctx, credit.Wallet("u1"))
	if w.ID == a.ID {
		t.Fatalf("user and wallet scoped accounts must be distinct")
	}
	if _, err := s.EnsureAccount(ctx, credit.Owner{Kind: "team", ID: "x"}); !apperrors.HasCode(err, apperrors.CodeInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestDebitRejectsOverdraft(t *testing.T) {
	s := New()
	ctx := context.Background()
	owner := credit.User("u1")
	seedBalance(t, s, owner, 10)

	acct, err := s.Debit(ctx, credit.DebitRequest{Owner: owner, Amount: 4, Type: credit.TxDeduct, Description: "x"})
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if acct.Balance != 6 {
		t.Fatalf("expected 6, got %d", acct.Balance)
	}

	_, err = s.Debit(ctx, credit.DebitRequest{Owner: owner, Amount: 7, Type: credit.TxDeduct})
	se := apperrors.GetServiceError(err)
	if se == nil || se.Code != apperrors.CodeInsufficientFunds {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if se.Details["balance"] != int64(6) || se.Details["required"] != int64(7) {
		t.Fatalf("unexpected details %+v", se.Details)
	}

	if _, err := s.Debit(ctx, credit.DebitRequest{Owner: owner, Amount: 0, Type: credit.TxDeduct}); !apperrors.HasCode(err, apperrors.CodeInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := s.Debit(ctx, credit.DebitRequest{Owner: owner, Amount: 1, Type: credit.TxGrant}); err == nil {
		t.Fatalf("expected grant type to be rejected by debit")
	}

	txs, _ := s.ListTransactions(ctx, owner, 0)
	if len(txs) != 2 {
		t.Fatalf("expected 2 ledger rows, got %d", len(txs))
	}
	if txs[0].Type != credit.TxDeduct || txs[0].Amount != -4 || txs[0].BalanceAfter != 6 {
		t.Fatalf("unexpected newest row %+v", txs[0])
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	s := New()
	ctx := context.Background()
	owner := credit.User("u1")
	seedBalance(t, s, owner, 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Debit(ctx, credit.DebitRequest{Owner: owner, Amount: 6, Type: credit.TxViewReport}); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one debit to succeed, got %d", successes)
	}
	acct, _ := s.EnsureAccount(ctx, owner)
	if acct.Balance != 4 {
		t.Fatalf("expected balance 4, got %d", acct.Balance)
	}
}

func TestTransferConservesTotal(t *testing.T) {
	s := New()
	ctx := context.Background()
	a, b := credit.User("a"), credit.User("b")
	seedBalance(t, s, a, 50)
	seedBalance(t, s, b, 5)

	res, err := s.Transfer(ctx, credit.TransferRequest{Source: a, Target: b, Amount: 20, Description: "gift"})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.RemainingAtSource != 30 || res.TargetBalance != 25 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.RemainingAtSource+res.TargetBalance != 55 {
		t.Fatalf("total not conserved")
	}

	if _, err := s.Transfer(ctx, credit.TransferRequest{Source: a, Target: a, Amount: 1}); !apperrors.HasCode(err, apperrors.CodeSelfTransfer) {
		t.Fatalf("expected self transfer, got %v", err)
	}
	if _, err := s.Transfer(ctx, credit.TransferRequest{Source: b, Target: a, Amount: 26}); !apperrors.HasCode(err, apperrors.CodeInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	outRows, _ := s.ListTransactions(ctx, a, 1)
	inRows, _ := s.ListTransactions(ctx, b, 1)
	if outRows[0].Type != credit.TxTransferOut || outRows[0].Amount != -20 {
		t.Fatalf("unexpected source row %+v", outRows[0])
	}
	if inRows[0].Type != credit.TxTransferIn || inRows[0].Amount != 20 {
		t.Fatalf("unexpected target row %+v", inRows[0])
	}
}

func TestGrantIsIdempotentPerReference(t *testing.T) {
	s := New()
	ctx := context.Background()
	owner := credit.User("u1")

	first, err := s.Grant(ctx, credit.GrantRequest{Owner: owner, Amount: 100, ReferenceID: "airdrop:w"})
	if err != nil || !first.Applied || first.Balance != 100 {
		t.Fatalf("first grant: %+v %v", first, err)
	}
	second, err := s.Grant(ctx, credit.GrantRequest{Owner: owner, Amount: 100, ReferenceID: "airdrop:w"})
	if err != nil || second.Applied || second.Balance != 100 {
		t.Fatalf("second grant: %+v %v", second, err)
	}
	txs, _ := s.ListTransactions(ctx, owner, 0)
	if len(txs) != 1 {
		t.Fatalf("expected one ledger row, got %d", len(txs))
	}
}

func TestUpdateReportStatusIsConditional(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.PutReport(audit.Report{ID: "r1", DateCode: "20240101"})

	r, ok, err := s.UpdateReportStatus(ctx, "r1", []audit.Status{audit.StatusPending}, audit.StatusCompleted)
	if err != nil || !ok || r.Status != audit.StatusCompleted {
		t.Fatalf("approve: %+v %v %v", r, ok, err)
	}
	r, ok, err = s.UpdateReportStatus(ctx, "r1", []audit.Status{audit.StatusPending}, audit.StatusCompleted)
	if err != nil || ok || r.Status != audit.StatusCompleted {
		t.Fatalf("second approve should not apply: %+v %v %v", r, ok, err)
	}
	if _, _, err := s.UpdateReportStatus(ctx, "missing", nil, audit.StatusArchived); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateIssueClearsFeedback(t *testing.T) {
	s := New()
	ctx := context.Background()
	fb := audit.FeedbackSafety
	s.PutIssue(audit.Issue{ID: "i1", ReportID: "r1", Severity: "HIGH", Feedback: &fb})

	got, err := s.UpdateIssue(ctx, "i1", audit.IssuePatch{Feedback: audit.SetFeedback(nil)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Feedback != nil {
		t.Fatalf("expected feedback cleared")
	}
	if got.Severity != audit.SeverityHigh {
		t.Fatalf("expected normalized severity, got %q", got.Severity)
	}
	bad := audit.Feedback("style")
	if _, err := s.UpdateIssue(ctx, "i1", audit.IssuePatch{Feedback: audit.SetFeedback(&bad)}); !apperrors.HasCode(err, apperrors.CodeInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestRefreshDateStatistics(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.PutReport(audit.Report{ID: "r1", DateCode: "20240101", CriticalIssues: 1, HighIssues: 2, TotalIssues: 5})
	s.PutReport(audit.Report{ID: "r2", DateCode: "20240101", CriticalIssues: 0, HighIssues: 1, TotalIssues: 3})
	s.PutReport(audit.Report{ID: "r3", DateCode: "20240102", TotalIssues: 9})

	d, err := s.RefreshDateStatistics(ctx, "20240101")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	want := audit.Date{DateCode: "20240101", FormattedDate: "2024-01-01", TotalRepos: 2, CriticalIssues: 1, HighIssues: 3, TotalIssues: 8}
	if d != want {
		t.Fatalf("got %+v want %+v", d, want)
	}
	if _, err := s.RefreshDateStatistics(ctx, "20990101"); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAllocationClaimOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.PutAllocation(airdrop.Allocation{WalletAddress: "w1", Amount: 50})

	ok, err := s.MarkClaimed(ctx, "w1", "u1")
	if err != nil || !ok {
		t.Fatalf("first claim: %v %v", ok, err)
	}
	ok, _ = s.MarkClaimed(ctx, "w1", "u2")
	if ok {
		t.Fatalf("second claim must not apply")
	}
	if err := s.ReleaseClaim(ctx, "w1", "u2"); err != nil {
		t.Fatalf("release: %v", err)
	}
	a, _ := s.GetAllocation(ctx, "w1")
	if !a.Claimed() || *a.ClaimedBy != "u1" {
		t.Fatalf("release by another user must not clear claim: %+v", a)
	}
	_ = s.ReleaseClaim(ctx, "w1", "u1")
	a, _ = s.GetAllocation(ctx, "w1")
	if a.Claimed() {
		t.Fatalf("expected claim released")
	}
}
