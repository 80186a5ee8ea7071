package supabase

import (
	"context"
	"time"

	"github.com/R3E-Network/audit_layer/internal/app/domain/audit"
	apperrors "github.com/R3E-Network/audit_layer/internal/errors"
)

func (s *Store) ListDates(ctx context.Context) ([]audit.Date, error) {
	out := []audit.Date{}
	resp, err := s.client.From("audit_dates").Select("*").Order("formatted_date", false).Execute(ctx)
	return out, decode(resp, err, &out)
}

func (s *Store) GetDate(ctx context.Context, dateCode string) (audit.Date, error) {
	var rows []audit.Date
	resp, err := s.client.From("audit_dates").Select("*").Eq("date_code", dateCode).Limit(1).Execute(ctx)
	if err := decode(resp, err, &rows); err != nil {
		return audit.Date{}, err
	}
	if len(rows) == 0 {
		return audit.Date{}, apperrors.NotFound("audit date", dateCode)
	}
	return rows[0], nil
}

func (s *Store) ListReports(ctx context.Context, dateCode string) ([]audit.Report, error) {
	out := []audit.Report{}
	resp, err := s.client.From("audit_reports").Select("*").Eq("date_code", dateCode).
		Order("risk_score", true).Order("user_name", true).Order("repo_name", true).Execute(ctx)
	return out, decode(resp, err, &out)
}

func (s *Store) GetReport(ctx context.Context, id string) (audit.Report, error) {
	var rows []audit.Report
	resp, err := s.client.From("audit_reports").Select("*").Eq("id", id).Limit(1).Execute(ctx)
	if err := decode(resp, err, &rows); err != nil {
		return audit.Report{}, err
	}
	if len(rows) == 0 {
		return audit.Report{}, apperrors.NotFound("report", id)
	}
	return rows[0], nil
}

// ListIssues returns issues by file and line; severity ordering is applied
// by the caller since PostgREST cannot order by a derived rank.
func (s *Store) ListIssues(ctx context.Context, reportID string) ([]audit.Issue, error) {
	out := []audit.Issue{}
	resp, err := s.client.From("audit_issues").Select("*").Eq("report_id", reportID).
		Order("file_path", true).OrderNullsLast("line_number").Execute(ctx)
	return out, decode(resp, err, &out)
}

func (s *Store) GetIssue(ctx context.Context, id string) (audit.Issue, error) {
	var rows []audit.Issue
	resp, err := s.client.From("audit_issues").Select("*").Eq("id", id).Limit(1).Execute(ctx)
	if err := decode(resp, err, &rows); err != nil {
		return audit.Issue{}, err
	}
	if len(rows) == 0 {
		return audit.Issue{}, apperrors.NotFound("issue", id)
	}
	return rows[0], nil
}

func (s *Store) UpdateIssue(ctx context.Context, id string, patch audit.IssuePatch) (audit.Issue, error) {
	if err := patch.Validate(); err != nil {
		return audit.Issue{}, apperrors.InvalidInput(err.Error())
	}
	body := map[string]any{}
	if patch.Message != nil {
		body["message"] = *patch.Message
	}
	if patch.Feedback.Set {
		if patch.Feedback.Value == nil {
			body["feedback"] = nil
		} else {
			body["feedback"] = string(*patch.Feedback.Value)
		}
	}
	if patch.FalsePositive != nil {
		body["false_positive"] = *patch.FalsePositive
	}
	if len(body) == 0 {
		return s.GetIssue(ctx, id)
	}

	var rows []audit.Issue
	resp, err := s.client.From("audit_issues").Eq("id", id).ExecuteUpdate(ctx, body)
	if err := decode(resp, err, &rows); err != nil {
		return audit.Issue{}, err
	}
	if len(rows) == 0 {
		return audit.Issue{}, apperrors.NotFound("issue", id)
	}
	return rows[0], nil
}

func (s *Store) UpdateReportStatus(ctx context.Context, id string, from []audit.Status, to audit.Status) (audit.Report, bool, error) {
	allowed := make([]string, 0, len(from))
	for _, st := range from {
		allowed = append(allowed, string(st))
	}
	var rows []audit.Report
	resp, err := s.client.From("audit_reports").Eq("id", id).In("status", allowed).
		ExecuteUpdate(ctx, map[string]any{"status": string(to), "updated_at": time.Now().UTC()})
	if err := decode(resp, err, &rows); err != nil {
		return audit.Report{}, false, err
	}
	if len(rows) == 0 {
		current, err := s.GetReport(ctx, id)
		return current, false, err
	}
	return rows[0], true, nil
}

func (s *Store) RefreshDateStatistics(ctx context.Context, dateCode string) (audit.Date, error) {
	resp, err := s.rpc(ctx, "refresh_audit_date_statistics", map[string]any{"p_date_code": dateCode})
	if err != nil {
		return audit.Date{}, err
	}
	if result := resp.Result(); !result.IsObject() {
		return s.GetDate(ctx, dateCode)
	}
	var d audit.Date
	if err := resp.JSON(&d); err != nil {
		return audit.Date{}, err
	}
	return d, nil
}

func (s *Store) IsWhitelisted(ctx context.Context, userID string) (bool, error) {
	resp, err := s.rpc(ctx, "is_whitelist_user", map[string]any{"p_user_id": userID})
	if err != nil {
		return false, err
	}
	return resp.Result().Bool(), nil
}

func (s *Store) SeedWhitelist(ctx context.Context, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(userIDs))
	for _, id := range userIDs {
		rows = append(rows, map[string]any{"user_id": id})
	}
	resp, err := s.client.From("whitelist_users").OnConflict("user_id").ExecuteInsert(ctx, rows)
	if err != nil {
		return err
	}
	return resp.Error()
}
