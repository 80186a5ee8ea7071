// Package curation derives filtered and grouped views over a report's issues
// and builds the annotation edits curators apply. Everything except the
// Reconciler is a pure function over copies.
package curation

import (
	"sort"
	"strings"

	"github.com/R3E-Network/audit_layer/internal/app/domain/audit"
)

// Filter selects issues for display. All four predicates must hold.
type Filter struct {
	Severities         []audit.Severity `json:"severities"`
	Categories         []string         `json:"categories"`
	ShowFeedback       bool             `json:"show_feedback"`
	ShowFalsePositives bool             `json:"show_false_positives"`
}

// DefaultFilter shows every severity and category, hides false positives
// and keeps annotated issues visible. Categories stays empty so issues with
// a blank type are admitted too; ExtractCategories lists the choices.
func DefaultFilter() Filter {
	return Filter{
		Severities:         append([]audit.Severity(nil), audit.Severities...),
		Categories:         []string{},
		ShowFeedback:       true,
		ShowFalsePositives: false,
	}
}

// FileGroup is the issues of one file.
type FileGroup struct {
	FilePath       string                 `json:"file_path"`
	Issues         []audit.Issue          `json:"issues"`
	Count          int                    `json:"count"`
	SeverityCounts map[audit.Severity]int `json:"severity_counts"`
}

// FilterIssues returns copies of the issues that pass f, in input order.
// An empty category list admits every category; an empty severity list
// admits nothing. Categories compare after trimming whitespace.
func FilterIssues(issues []audit.Issue, f Filter) []audit.Issue {
	severities := make(map[audit.Severity]struct{}, len(f.Severities))
	for _, s := range f.Severities {
		severities[s.Normalize()] = struct{}{}
	}
	categories := make(map[string]struct{}, len(f.Categories))
	for _, c := range f.Categories {
		categories[strings.TrimSpace(c)] = struct{}{}
	}

	out := make([]audit.Issue, 0, len(issues))
	for _, issue := range issues {
		if issue.FalsePositive && !f.ShowFalsePositives {
			continue
		}
		if _, ok := severities[issue.Severity.Normalize()]; !ok {
			continue
		}
		if len(categories) > 0 {
			if _, ok := categories[strings.TrimSpace(issue.IssueType)]; !ok {
				continue
			}
		}
		if issue.HasFeedback() && !f.ShowFeedback {
			continue
		}
		out = append(out, issue.Clone())
	}
	return out
}

// GroupByFile buckets issues by file path, sorted by path.
func GroupByFile(issues []audit.Issue) []FileGroup {
	index := make(map[string]int)
	var groups []FileGroup
	for _, issue := range issues {
		i, ok := index[issue.FilePath]
		if !ok {
			i = len(groups)
			index[issue.FilePath] = i
			groups = append(groups, FileGroup{FilePath: issue.FilePath, SeverityCounts: map[audit.Severity]int{}})
		}
		g := &groups[i]
		g.Issues = append(g.Issues, issue.Clone())
		g.Count++
		g.SeverityCounts[issue.Severity.Normalize()]++
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].FilePath < groups[j].FilePath })
	return groups
}

// ExtractCategories returns the distinct non-empty issue types, sorted.
func ExtractCategories(issues []audit.Issue) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, issue := range issues {
		t := strings.TrimSpace(issue.IssueType)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// SeverityCounts tallies issues by lower-cased severity.
func SeverityCounts(issues []audit.Issue) map[audit.Severity]int {
	out := make(map[audit.Severity]int, len(audit.Severities))
	for _, issue := range issues {
		out[issue.Severity.Normalize()]++
	}
	return out
}

// ToggleFalsePositive returns a copy with the flag flipped.
func ToggleFalsePositive(issue audit.Issue) audit.Issue {
	out := issue.Clone()
	out.FalsePositive = !issue.FalsePositive
	return out
}

// ApplyBulkFeedback returns copies of the selected issues with feedback set
// to value. A nil value clears feedback.
func ApplyBulkFeedback(selected []audit.Issue, value *audit.Feedback) []audit.Issue {
	patch := audit.IssuePatch{Feedback: audit.SetFeedback(value)}
	out := make([]audit.Issue, len(selected))
	for i, issue := range selected {
		out[i] = patch.Apply(issue)
	}
	return out
}
