// Package permissions resolves curator and submitter standing. Every check
// fails closed: lookup errors never widen access.
package permissions

import (
	"context"
	"strings"

	"github.com/R3E-Network/audit_layer/internal/app/domain/audit"
	"github.com/R3E-Network/audit_layer/internal/app/domain/identity"
	"github.com/R3E-Network/audit_layer/internal/app/storage"
	"github.com/R3E-Network/audit_layer/pkg/logger"
)

// ReportLookup loads reports for ownership checks.
type ReportLookup interface {
	GetReport(ctx context.Context, id string) (audit.Report, error)
}

// Service answers whitelist and ownership questions.
type Service struct {
	registry storage.PermissionStore
	reports  ReportLookup
	log      *logger.Logger
}

// New constructs a permission service.
func New(registry storage.PermissionStore, reports ReportLookup, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("permissions")
	}
	return &Service{registry: registry, reports: reports, log: log}
}

// IsWhitelisted reports curator privilege. Errors yield false.
func (s *Service) IsWhitelisted(ctx context.Context, userID string) bool {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false
	}
	ok, err := s.registry.IsWhitelisted(ctx, userID)
	if err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("whitelist lookup failed; denying")
		return false
	}
	return ok
}

// IsReportSubmitter reports whether userID submitted the report. Errors yield false.
func (s *Service) IsReportSubmitter(ctx context.Context, userID, reportID string) bool {
	userID = strings.TrimSpace(userID)
	if userID == "" || strings.TrimSpace(reportID) == "" {
		return false
	}
	report, err := s.reports.GetReport(ctx, reportID)
	if err != nil {
		s.log.WithError(err).WithField("report_id", reportID).Warn("submitter lookup failed; denying")
		return false
	}
	return submittedBy(report, userID)
}

// ResolveRole collapses the curator and submitter checks for one report
// the caller already loaded. Curator wins over submitter.
func (s *Service) ResolveRole(ctx context.Context, session identity.Session, report audit.Report) identity.Role {
	if !session.Authenticated() {
		return identity.RoleViewer
	}
	if s.IsWhitelisted(ctx, session.UserID) {
		return identity.RoleCurator
	}
	if submittedBy(report, session.UserID) {
		return identity.RoleSubmitter
	}
	return identity.RoleViewer
}

func submittedBy(report audit.Report, userID string) bool {
	return report.SubmitterUserID != "" && report.SubmitterUserID == userID
}
