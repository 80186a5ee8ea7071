package storage

import (
	"context"

	"github.com/R3E-Network/audit_layer/internal/app/domain/airdrop"
	"github.com/R3E-Network/audit_layer/internal/app/domain/audit"
	"github.com/R3E-Network/audit_layer/internal/app/domain/credit"
)

// CreditStore persists credit accounts and their ledger. Every mutating
// call applies the balance check, the balance change and the ledger rows
// as one atomic step.
type CreditStore interface {
	// EnsureAccount returns the owner's account, creating a zero balance on first use.
	EnsureAccount(ctx context.Context, owner credit.Owner) (credit.Account, error)
	Debit(ctx context.Context, req credit.DebitRequest) (credit.Account, error)
	Transfer(ctx context.Context, req credit.TransferRequest) (credit.TransferResult, error)
	// Grant credits once per (account, reference id); a repeated reference
	// leaves the balance untouched and reports Applied=false.
	Grant(ctx context.Context, req credit.GrantRequest) (credit.GrantResult, error)
	ListTransactions(ctx context.Context, owner credit.Owner, limit int) ([]credit.Transaction, error)
}

// PermissionStore answers whitelist membership.
type PermissionStore interface {
	IsWhitelisted(ctx context.Context, userID string) (bool, error)
}

// AuditStore persists audit dates, reports and issues.
type AuditStore interface {
	ListDates(ctx context.Context) ([]audit.Date, error)
	GetDate(ctx context.Context, dateCode string) (audit.Date, error)
	ListReports(ctx context.Context, dateCode string) ([]audit.Report, error)
	GetReport(ctx context.Context, id string) (audit.Report, error)
	ListIssues(ctx context.Context, reportID string) ([]audit.Issue, error)
	GetIssue(ctx context.Context, id string) (audit.Issue, error)
	UpdateIssue(ctx context.Context, id string, patch audit.IssuePatch) (audit.Issue, error)
	// UpdateReportStatus moves the report to status only if its current status
	// is one of from. It returns the stored report either way.
	UpdateReportStatus(ctx context.Context, id string, from []audit.Status, to audit.Status) (audit.Report, bool, error)
	RefreshDateStatistics(ctx context.Context, dateCode string) (audit.Date, error)
}

// AirdropStore persists per-wallet allocations.
type AirdropStore interface {
	GetAllocation(ctx context.Context, wallet string) (airdrop.Allocation, error)
	// MarkClaimed sets claimed_by only if the allocation is unclaimed.
	MarkClaimed(ctx context.Context, wallet, userID string) (bool, error)
	ReleaseClaim(ctx context.Context, wallet, userID string) error
}

// Seeder loads configured registry rows at startup.
type Seeder interface {
	SeedWhitelist(ctx context.Context, userIDs []string) error
	SeedAllocations(ctx context.Context, allocations []airdrop.Allocation) error
}
