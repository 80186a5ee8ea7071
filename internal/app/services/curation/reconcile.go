package curation

import (
	"context"
	"fmt"
	"sync"

	"github.com/R3E-Network/audit_layer/internal/app/domain/audit"
)

// CommitFunc persists a patch and returns the stored row.
type CommitFunc func(ctx context.Context, issueID string, patch audit.IssuePatch) (audit.Issue, error)

// Reconciler holds a local issue view that is patched optimistically and
// reconciled with the stored row once the commit returns.
type Reconciler struct {
	commit CommitFunc

	mu     sync.RWMutex
	issues []audit.Issue
}

// NewReconciler copies issues into a new local view.
func NewReconciler(issues []audit.Issue, commit CommitFunc) *Reconciler {
	local := make([]audit.Issue, len(issues))
	for i, issue := range issues {
		local[i] = issue.Clone()
	}
	return &Reconciler{commit: commit, issues: local}
}

// Snapshot returns a copy of the local view.
func (r *Reconciler) Snapshot() []audit.Issue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]audit.Issue, len(r.issues))
	for i, issue := range r.issues {
		out[i] = issue.Clone()
	}
	return out
}

// Apply patches one issue. On success the local row becomes the stored row;
// on failure it reverts to what it was before the call.
func (r *Reconciler) Apply(ctx context.Context, issueID string, patch audit.IssuePatch) (audit.Issue, error) {
	r.mu.Lock()
	idx := r.indexLocked(issueID)
	if idx < 0 {
		r.mu.Unlock()
		return audit.Issue{}, fmt.Errorf("issue %s is not in the local view", issueID)
	}
	original := r.issues[idx].Clone()
	r.issues[idx] = patch.Apply(original)
	r.mu.Unlock()

	stored, err := r.commit(ctx, issueID, patch)

	r.mu.Lock()
	defer r.mu.Unlock()
	if idx = r.indexLocked(issueID); idx < 0 {
		return stored, err
	}
	if err != nil {
		r.issues[idx] = original
		return original.Clone(), err
	}
	r.issues[idx] = stored.Clone()
	return stored, nil
}

// ApplyBulkFeedback sets feedback on every listed issue, committing each
// one. Failed ids are reported and their rows revert.
func (r *Reconciler) ApplyBulkFeedback(ctx context.Context, issueIDs []string, value *audit.Feedback) ([]audit.Issue, map[string]error) {
	failures := make(map[string]error)

	r.mu.RLock()
	selected := make([]audit.Issue, 0, len(issueIDs))
	for _, id := range issueIDs {
		if idx := r.indexLocked(id); idx >= 0 {
			selected = append(selected, r.issues[idx])
		} else {
			failures[id] = fmt.Errorf("issue %s is not in the local view", id)
		}
	}
	r.mu.RUnlock()

	patch := audit.IssuePatch{Feedback: audit.SetFeedback(value)}
	out := make([]audit.Issue, 0, len(selected))
	for _, expected := range ApplyBulkFeedback(selected, value) {
		stored, err := r.Apply(ctx, expected.ID, patch)
		if err != nil {
			failures[expected.ID] = err
			continue
		}
		// Kept locally, but reported when it disagrees with the edit.
		if !sameFeedback(stored.Feedback, expected.Feedback) {
			failures[expected.ID] = fmt.Errorf("issue %s stored feedback %s, expected %s",
				expected.ID, feedbackString(stored.Feedback), feedbackString(expected.Feedback))
			continue
		}
		out = append(out, stored)
	}
	return out, failures
}

func sameFeedback(a, b *audit.Feedback) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func feedbackString(f *audit.Feedback) string {
	if f == nil {
		return "none"
	}
	return string(*f)
}

func (r *Reconciler) indexLocked(issueID string) int {
	for i := range r.issues {
		if r.issues[i].ID == issueID {
			return i
		}
	}
	return -1
}
