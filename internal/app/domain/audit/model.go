package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Severity of a finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Severities lists every severity from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// Normalize lower-cases and trims the severity.
func (s Severity) Normalize() Severity {
	return Severity(strings.ToLower(strings.TrimSpace(string(s))))
}

// Rank orders severities critical first. Unknown values sort last.
func (s Severity) Rank() int {
	for i, sev := range Severities {
		if sev == s.Normalize() {
			return i
		}
	}
	return len(Severities)
}

// Status of a report.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// Valid reports whether the status is known.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusCompleted, StatusArchived},
	StatusCompleted: {StatusArchived},
}

// CanTransition reports whether from -> to is a permitted lifecycle edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedFrom lists the statuses that may move to the target status.
func AllowedFrom(to Status) []Status {
	var out []Status
	for from, nexts := range transitions {
		for _, next := range nexts {
			if next == to {
				out = append(out, from)
			}
		}
	}
	return out
}

// Feedback is a curator annotation category.
type Feedback string

const (
	FeedbackSafety      Feedback = "safety"
	FeedbackPerformance Feedback = "performance"
	FeedbackDeprecated  Feedback = "deprecated"
	FeedbackDependency  Feedback = "dependency"
)

// Valid reports whether the feedback category is known.
func (f Feedback) Valid() bool {
	switch f {
	case FeedbackSafety, FeedbackPerformance, FeedbackDeprecated, FeedbackDependency:
		return true
	}
	return false
}

var dateCodePattern = regexp.MustCompile(`^\d{8}$`)

// ValidDateCode reports whether code is an 8-digit YYYYMMDD key.
func ValidDateCode(code string) bool {
	if !dateCodePattern.MatchString(code) {
		return false
	}
	_, err := time.Parse("20060102", code)
	return err == nil
}

// FormatDateCode renders a date code as YYYY-MM-DD.
func FormatDateCode(code string) string {
	t, err := time.Parse("20060102", code)
	if err != nil {
		return code
	}
	return t.Format("2006-01-02")
}

// Date aggregates one calendar day of audit activity.
type Date struct {
	DateCode       string `json:"date_code" db:"date_code"`
	FormattedDate  string `json:"formatted_date" db:"formatted_date"`
	TotalRepos     int    `json:"total_repos" db:"total_repos"`
	CriticalIssues int    `json:"critical_issues" db:"critical_issues"`
	HighIssues     int    `json:"high_issues" db:"high_issues"`
	TotalIssues    int    `json:"total_issues" db:"total_issues"`
}

// Report is one repository audit.
type Report struct {
	ID              string    `json:"id" db:"id"`
	DateCode        string    `json:"date_code" db:"date_code"`
	UserName        string    `json:"user_name" db:"user_name"`
	RepoName        string    `json:"repo_name" db:"repo_name"`
	RiskScore       int       `json:"risk_score" db:"risk_score"`
	TotalIssues     int       `json:"total_issues" db:"total_issues"`
	CriticalIssues  int       `json:"critical_issues" db:"critical_issues"`
	HighIssues      int       `json:"high_issues" db:"high_issues"`
	MediumIssues    int       `json:"medium_issues" db:"medium_issues"`
	LowIssues       int       `json:"low_issues" db:"low_issues"`
	Status          Status    `json:"status" db:"status"`
	SubmitterUserID string    `json:"submitter_user_id,omitempty" db:"submitter_user_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Issue is a single finding.
type Issue struct {
	ID            string    `json:"id" db:"id"`
	ReportID      string    `json:"report_id" db:"report_id"`
	Severity      Severity  `json:"severity" db:"severity"`
	IssueType     string    `json:"issue_type" db:"issue_type"`
	FilePath      string    `json:"file_path" db:"file_path"`
	LineNumber    *int      `json:"line_number,omitempty" db:"line_number"`
	Message       string    `json:"message" db:"message"`
	CodeSnippet   *string   `json:"code_snippet,omitempty" db:"code_snippet"`
	Feedback      *Feedback `json:"feedback" db:"feedback"`
	FalsePositive bool      `json:"false_positive" db:"false_positive"`
}

// HasFeedback reports whether a curator attached feedback.
func (i Issue) HasFeedback() bool {
	return i.Feedback != nil && *i.Feedback != ""
}

// Clone returns a deep copy so callers never share pointer fields.
func (i Issue) Clone() Issue {
	out := i
	if i.LineNumber != nil {
		n := *i.LineNumber
		out.LineNumber = &n
	}
	if i.CodeSnippet != nil {
		s := *i.CodeSnippet
		out.CodeSnippet = &s
	}
	if i.Feedback != nil {
		f := *i.Feedback
		out.Feedback = &f
	}
	return out
}

// FeedbackPatch distinguishes "leave unchanged" (Set=false) from
// "clear" (Set=true, Value=nil) when decoding JSON.
type FeedbackPatch struct {
	Set   bool
	Value *Feedback
}

// SetFeedback builds a patch that assigns (or clears, when f is nil) feedback.
func SetFeedback(f *Feedback) FeedbackPatch {
	return FeedbackPatch{Set: true, Value: f}
}

func (p *FeedbackPatch) UnmarshalJSON(data []byte) error {
	p.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		p.Value = nil
		return nil
	}
	var f Feedback
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	if f == "" {
		p.Value = nil
		return nil
	}
	p.Value = &f
	return nil
}

func (p FeedbackPatch) MarshalJSON() ([]byte, error) {
	if !p.Set || p.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*p.Value)
}

// IssuePatch is a partial issue update.
type IssuePatch struct {
	Message       *string       `json:"message,omitempty"`
	Feedback      FeedbackPatch `json:"feedback"`
	FalsePositive *bool         `json:"false_positive,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p IssuePatch) Empty() bool {
	return p.Message == nil && !p.Feedback.Set && p.FalsePositive == nil
}

// Validate rejects unknown feedback categories.
func (p IssuePatch) Validate() error {
	if p.Feedback.Set && p.Feedback.Value != nil && !p.Feedback.Value.Valid() {
		return fmt.Errorf("unknown feedback %q", *p.Feedback.Value)
	}
	return nil
}

// Apply returns a copy of the issue with the patch applied.
func (p IssuePatch) Apply(issue Issue) Issue {
	out := issue.Clone()
	if p.Message != nil {
		out.Message = *p.Message
	}
	if p.Feedback.Set {
		if p.Feedback.Value == nil {
			out.Feedback = nil
		} else {
			f := *p.Feedback.Value
			out.Feedback = &f
		}
	}
	if p.FalsePositive != nil {
		out.FalsePositive = *p.FalsePositive
	}
	return out
}
