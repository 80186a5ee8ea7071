package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/audit_layer/internal/app/domain/audit"
	apperrors "github.com/R3E-Network/audit_layer/internal/errors"
)

const (
	dateColumns   = `date_code, formatted_date, total_repos, critical_issues, high_issues, total_issues`
	reportColumns = `id, date_code, user_name, repo_name, risk_score, total_issues, critical_issues, high_issues,
		medium_issues, low_issues, status, COALESCE(submitter_user_id, '') AS submitter_user_id, created_at, updated_at`
	issueColumns = `id, report_id, severity, issue_type, file_path, line_number, message, code_snippet, feedback, false_positive`
)

func (s *Store) ListDates(ctx context.Context) ([]audit.Date, error) {
	out := []audit.Date{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+dateColumns+` FROM audit_dates ORDER BY formatted_date DESC
	`)
	return out, err
}

func (s *Store) GetDate(ctx context.Context, dateCode string) (audit.Date, error) {
	var d audit.Date
	err := s.db.GetContext(ctx, &d, `SELECT `+dateColumns+` FROM audit_dates WHERE date_code = $1`, dateCode)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Date{}, apperrors.NotFound("audit date", dateCode)
	}
	return d, err
}

func (s *Store) ListReports(ctx context.Context, dateCode string) ([]audit.Report, error) {
	out := []audit.Report{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+reportColumns+`
		FROM audit_reports
		WHERE date_code = $1
		ORDER BY risk_score ASC, user_name ASC, repo_name ASC
	`, dateCode)
	return out, err
}

func (s *Store) GetReport(ctx context.Context, id string) (audit.Report, error) {
	var r audit.Report
	err := s.db.GetContext(ctx, &r, `SELECT `+reportColumns+` FROM audit_reports WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Report{}, apperrors.NotFound("report", id)
	}
	return r, err
}

func (s *Store) ListIssues(ctx context.Context, reportID string) ([]audit.Issue, error) {
	out := []audit.Issue{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+issueColumns+`
		FROM audit_issues
		WHERE report_id = $1
		ORDER BY CASE severity
			WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2
			WHEN 'low' THEN 3 ELSE 4 END,
			file_path ASC, line_number ASC NULLS LAST
	`, reportID)
	return out, err
}

func (s *Store) GetIssue(ctx context.Context, id string) (audit.Issue, error) {
	var issue audit.Issue
	err := s.db.GetContext(ctx, &issue, `SELECT `+issueColumns+` FROM audit_issues WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Issue{}, apperrors.NotFound("issue", id)
	}
	return issue, err
}

func (s *Store) UpdateIssue(ctx context.Context, id string, patch audit.IssuePatch) (audit.Issue, error) {
	if err := patch.Validate(); err != nil {
		return audit.Issue{}, apperrors.InvalidInput(err.Error())
	}
	var updated audit.Issue
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var current audit.Issue
		err := tx.GetContext(ctx, &current, `SELECT `+issueColumns+` FROM audit_issues WHERE id = $1 FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NotFound("issue", id)
		}
		if err != nil {
			return err
		}
		next := patch.Apply(current)
		var feedback sql.NullString
		if next.Feedback != nil {
			feedback = sql.NullString{String: string(*next.Feedback), Valid: true}
		}
		return tx.GetContext(ctx, &updated, `
			UPDATE audit_issues
			SET message = $1, feedback = $2, false_positive = $3
			WHERE id = $4
			RETURNING `+issueColumns, next.Message, feedback, next.FalsePositive, id)
	})
	return updated, err
}

func (s *Store) UpdateReportStatus(ctx context.Context, id string, from []audit.Status, to audit.Status) (audit.Report, bool, error) {
	allowed := make([]string, 0, len(from))
	for _, st := range from {
		allowed = append(allowed, string(st))
	}
	var r audit.Report
	err := s.db.GetContext(ctx, &r, `
		UPDATE audit_reports
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = ANY($4)
		RETURNING `+reportColumns, string(to), time.Now().UTC(), id, pq.Array(allowed))
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.GetReport(ctx, id)
		return current, false, getErr
	}
	if err != nil {
		return audit.Report{}, false, err
	}
	return r, true, nil
}

func (s *Store) RefreshDateStatistics(ctx context.Context, dateCode string) (audit.Date, error) {
	var d audit.Date
	err := s.db.GetContext(ctx, &d, `
		INSERT INTO audit_dates (`+dateColumns+`)
		SELECT $1, $2, COUNT(*), COALESCE(SUM(critical_issues), 0), COALESCE(SUM(high_issues), 0), COALESCE(SUM(total_issues), 0)
		FROM audit_reports
		WHERE date_code = $1
		HAVING COUNT(*) > 0
		ON CONFLICT (date_code) DO UPDATE SET
			total_repos = EXCLUDED.total_repos,
			critical_issues = EXCLUDED.critical_issues,
			high_issues = EXCLUDED.high_issues,
			total_issues = EXCLUDED.total_issues
		RETURNING `+dateColumns, dateCode, audit.FormatDateCode(dateCode))
	if errors.Is(err, sql.ErrNoRows) {
		return s.GetDate(ctx, dateCode)
	}
	return d, err
}

func (s *Store) IsWhitelisted(ctx context.Context, userID string) (bool, error) {
	var ok bool
	err := s.db.GetContext(ctx, &ok, `SELECT EXISTS (SELECT 1 FROM whitelist_users WHERE user_id = $1)`, userID)
	return ok, err
}

func (s *Store) SeedWhitelist(ctx context.Context, userIDs []string) error {
	for _, id := range userIDs {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO whitelist_users (user_id, created_at) VALUES ($1, $2)
			ON CONFLICT (user_id) DO NOTHING
		`, id, time.Now().UTC()); err != nil {
			return err
		}
	}
	return nil
}
