package reports

import (
	"context"
	"strings"

	"github.com/R3E-Network/audit_layer/internal/app/domain/audit"
	"github.com/R3E-Network/audit_layer/internal/app/storage"
	apperrors "github.com/R3E-Network/audit_layer/internal/errors"
	"github.com/R3E-Network/audit_layer/pkg/logger"
)

// Service reads and updates audit dates, reports and issues. Callers
// enforce curator permission before mutating.
type Service struct {
	store storage.AuditStore
	log   *logger.Logger
}

// New constructs a report repository service.
func New(store storage.AuditStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("reports")
	}
	return &Service{store: store, log: log}
}

func validDateCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if !audit.ValidDateCode(code) {
		return "", apperrors.InvalidInput("date_code must be 8 digits (YYYYMMDD)").WithDetails("date_code", code)
	}
	return code, nil
}

// ListDates returns every audit date, newest first.
func (s *Service) ListDates(ctx context.Context) ([]audit.Date, error) {
	dates, err := s.store.ListDates(ctx)
	if err != nil {
		return nil, err
	}
	audit.SortDates(dates)
	return dates, nil
}

// GetDateStatistics returns one date's aggregates.
func (s *Service) GetDateStatistics(ctx context.Context, dateCode string) (audit.Date, error) {
	code, err := validDateCode(dateCode)
	if err != nil {
		return audit.Date{}, err
	}
	return s.store.GetDate(ctx, code)
}

// ListReports returns a date's reports by ascending risk, user and repo.
func (s *Service) ListReports(ctx context.Context, dateCode string) ([]audit.Report, error) {
	code, err := validDateCode(dateCode)
	if err != nil {
		return nil, err
	}
	reports, err := s.store.ListReports(ctx, code)
	if err != nil {
		return nil, err
	}
	audit.SortReports(reports)
	return reports, nil
}

func (s *Service) GetReport(ctx context.Context, id string) (audit.Report, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return audit.Report{}, apperrors.InvalidInput("report id is required")
	}
	return s.store.GetReport(ctx, id)
}

// ListIssues returns a report's issues by severity, file and line.
func (s *Service) ListIssues(ctx context.Context, reportID string) ([]audit.Issue, error) {
	issues, err := s.store.ListIssues(ctx, reportID)
	if err != nil {
		return nil, err
	}
	audit.SortIssues(issues)
	return issues, nil
}

func (s *Service) GetIssue(ctx context.Context, id string) (audit.Issue, error) {
	return s.store.GetIssue(ctx, id)
}

// UpdateIssue applies a partial update and returns the stored row.
func (s *Service) UpdateIssue(ctx context.Context, issueID string, patch audit.IssuePatch) (audit.Issue, error) {
	issueID = strings.TrimSpace(issueID)
	if issueID == "" {
		return audit.Issue{}, apperrors.InvalidInput("issue id is required")
	}
	if patch.Empty() {
		return audit.Issue{}, apperrors.InvalidInput("patch must set message, feedback or false_positive")
	}
	if err := patch.Validate(); err != nil {
		return audit.Issue{}, apperrors.InvalidInput(err.Error())
	}
	updated, err := s.store.UpdateIssue(ctx, issueID, patch)
	if err != nil {
		return audit.Issue{}, err
	}
	s.log.WithField("issue_id", issueID).Debug("issue updated")
	return updated, nil
}

// UpdateReportStatus moves a report along the lifecycle or fails with
// InvalidTransition. The check and the write are a single conditional update.
func (s *Service) UpdateReportStatus(ctx context.Context, reportID string, to audit.Status) (audit.Report, error) {
	if !to.Valid() {
		return audit.Report{}, apperrors.InvalidInput("unknown status " + string(to))
	}
	from := audit.AllowedFrom(to)
	if len(from) == 0 {
		current, err := s.GetReport(ctx, reportID)
		if err != nil {
			return audit.Report{}, err
		}
		return current, apperrors.InvalidTransition(string(current.Status), string(to))
	}
	report, applied, err := s.store.UpdateReportStatus(ctx, reportID, from, to)
	if err != nil {
		return audit.Report{}, err
	}
	if !applied {
		return report, apperrors.InvalidTransition(string(report.Status), string(to))
	}
	return report, nil
}

// RefreshDateStatistics recomputes a date's aggregates from its reports.
func (s *Service) RefreshDateStatistics(ctx context.Context, dateCode string) (audit.Date, error) {
	code, err := validDateCode(dateCode)
	if err != nil {
		return audit.Date{}, err
	}
	return s.store.RefreshDateStatistics(ctx, code)
}
