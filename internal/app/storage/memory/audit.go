package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/R3E-Network/audit_layer/internal/app/domain/audit"
	apperrors "github.com/R3E-Network/audit_layer/internal/errors"
)

func (s *Store) ListDates(_ context.Context) ([]audit.Date, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]audit.Date, 0, len(s.dates))
	for _, d := range s.dates {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateCode > out[j].DateCode })
	return out, nil
}

func (s *Store) GetDate(_ context.Context, dateCode string) (audit.Date, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.dates[dateCode]
	if !ok {
		return audit.Date{}, apperrors.NotFound("audit date", dateCode)
	}
	return d, nil
}

func (s *Store) ListReports(_ context.Context, dateCode string) ([]audit.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]audit.Report, 0)
	for _, r := range s.reports {
		if r.DateCode == dateCode {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetReport(_ context.Context, id string) (audit.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[id]
	if !ok {
		return audit.Report{}, apperrors.NotFound("report", id)
	}
	return r, nil
}

func (s *Store) ListIssues(_ context.Context, reportID string) ([]audit.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]audit.Issue, 0)
	for _, issue := range s.issues {
		if issue.ReportID == reportID {
			out = append(out, issue.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetIssue(_ context.Context, id string) (audit.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	issue, ok := s.issues[id]
	if !ok {
		return audit.Issue{}, apperrors.NotFound("issue", id)
	}
	return issue.Clone(), nil
}

func (s *Store) UpdateIssue(_ context.Context, id string, patch audit.IssuePatch) (audit.Issue, error) {
	if err := patch.Validate(); err != nil {
		return audit.Issue{}, apperrors.InvalidInput(err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	issue, ok := s.issues[id]
	if !ok {
		return audit.Issue{}, apperrors.NotFound("issue", id)
	}
	updated := patch.Apply(issue)
	s.issues[id] = updated
	return updated.Clone(), nil
}

func (s *Store) UpdateReportStatus(_ context.Context, id string, from []audit.Status, to audit.Status) (audit.Report, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[id]
	if !ok {
		return audit.Report{}, false, apperrors.NotFound("report", id)
	}
	for _, st := range from {
		if r.Status == st {
			r.Status = to
			r.UpdatedAt = time.Now().UTC()
			s.reports[id] = r
			return r, true, nil
		}
	}
	return r, false, nil
}

func (s *Store) RefreshDateStatistics(_ context.Context, dateCode string) (audit.Date, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dates[dateCode]
	if !ok {
		d = audit.Date{DateCode: dateCode, FormattedDate: audit.FormatDateCode(dateCode)}
	}
	d.TotalRepos, d.CriticalIssues, d.HighIssues, d.TotalIssues = 0, 0, 0, 0
	for _, r := range s.reports {
		if r.DateCode != dateCode {
			continue
		}
		d.TotalRepos++
		d.CriticalIssues += r.CriticalIssues
		d.HighIssues += r.HighIssues
		d.TotalIssues += r.TotalIssues
	}
	if d.TotalRepos == 0 && !ok {
		return audit.Date{}, apperrors.NotFound("audit date", dateCode)
	}
	s.dates[dateCode] = d
	return d, nil
}

// Seed helpers ---------------------------------------------------------------

// PutDate inserts or replaces an audit date.
func (s *Store) PutDate(d audit.Date) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.FormattedDate == "" {
		d.FormattedDate = audit.FormatDateCode(d.DateCode)
	}
	s.dates[d.DateCode] = d
}

// PutReport inserts or replaces a report. Reports without a status start pending.
func (s *Store) PutReport(r audit.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Status == "" {
		r.Status = audit.StatusPending
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	s.reports[r.ID] = r
}

// PutIssue inserts or replaces an issue.
func (s *Store) PutIssue(issue audit.Issue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	issue.Severity = issue.Severity.Normalize()
	s.issues[issue.ID] = issue.Clone()
}

// AddWhitelist registers curator user ids.
func (s *Store) AddWhitelist(userIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range userIDs {
		if id = strings.TrimSpace(id); id != "" {
			s.whitelist[id] = struct{}{}
		}
	}
}

func (s *Store) IsWhitelisted(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.whitelist[userID]
	return ok, nil
}
