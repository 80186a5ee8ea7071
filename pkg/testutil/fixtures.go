// Package testutil provides shared fixtures for service and HTTP tests.
package testutil

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/audit_layer/internal/app/domain/audit"
	"github.com/R3E-Network/audit_layer/internal/app/storage/memory"
)

// FixtureDate is the audit day seeded by SeedAuditDay.
const FixtureDate = "20240105"

// Token signs an HS256 bearer token carrying the user and session ids.
func Token(t testing.TB, secret []byte, userID, sessionID string) string {
	t.Helper()
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"jti":     sessionID,
		"iat":     now.Unix(),
		"exp":     now.Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// SeedAuditDay loads one audit day into store:
//
//	r1 "vault"  completed, risk 70, submitted by "sub", issues i1 (critical), i2 (low), i3 (high)
//	r2 "bridge" pending,   risk 40, no issues
//
// and whitelists "curator".
func SeedAuditDay(store *memory.Store) {
	store.AddWhitelist("curator")
	store.PutDate(audit.Date{DateCode: FixtureDate})
	store.PutReport(audit.Report{
		ID: "r1", DateCode: FixtureDate, RepoName: "vault", RiskScore: 70,
		TotalIssues: 3, CriticalIssues: 1, HighIssues: 1, LowIssues: 1,
		Status: audit.StatusCompleted, SubmitterUserID: "sub",
	})
	store.PutReport(audit.Report{ID: "r2", DateCode: FixtureDate, RepoName: "bridge", RiskScore: 40})

	line := 12
	store.PutIssue(audit.Issue{ID: "i1", ReportID: "r1", Severity: audit.SeverityCritical, IssueType: "reentrancy", FilePath: "Vault.sol", LineNumber: &line, Message: "reentrant call"})
	store.PutIssue(audit.Issue{ID: "i2", ReportID: "r1", Severity: audit.SeverityLow, IssueType: "gas", FilePath: "Vault.sol", Message: "loop"})
	store.PutIssue(audit.Issue{ID: "i3", ReportID: "r1", Severity: audit.SeverityHigh, IssueType: "access-control", FilePath: "Admin.sol", Message: "missing modifier"})
}
