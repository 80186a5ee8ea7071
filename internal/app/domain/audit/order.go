package audit

import "sort"

// SortDates orders dates newest first.
func SortDates(dates []Date) {
	sort.SliceStable(dates, func(i, j int) bool {
		return dates[i].FormattedDate > dates[j].FormattedDate
	})
}

// SortReports orders reports by risk score ascending, then user and repo name.
func SortReports(reports []Report) {
	sort.SliceStable(reports, func(i, j int) bool {
		a, b := reports[i], reports[j]
		if a.RiskScore != b.RiskScore {
			return a.RiskScore < b.RiskScore
		}
		if a.UserName != b.UserName {
			return a.UserName < b.UserName
		}
		return a.RepoName < b.RepoName
	})
}

// SortIssues orders issues by severity (critical first), file path, then
// line number with missing lines last.
func SortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
			return ra < rb
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		switch {
		case a.LineNumber == nil && b.LineNumber == nil:
			return false
		case a.LineNumber == nil:
			return false
		case b.LineNumber == nil:
			return true
		}
		return *a.LineNumber < *b.LineNumber
	})
}
