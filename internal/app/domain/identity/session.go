package identity

import (
	"strings"
	"time"
)

// Role is the caller's standing relative to one report.
type Role string

const (
	RoleViewer    Role = "viewer"
	RoleSubmitter Role = "submitter"
	RoleCurator   Role = "curator"
)

// Exempt reports whether the role views reports without paying.
func (r Role) Exempt() bool {
	return r == RoleCurator || r == RoleSubmitter
}

// Session is the authenticated caller passed explicitly to every service call.
type Session struct {
	ID            string    `json:"session_id"`
	UserID        string    `json:"user_id"`
	WalletAddress string    `json:"wallet_address,omitempty"`
	IssuedAt      time.Time `json:"issued_at"`
}

// Authenticated reports whether the session carries a user.
func (s Session) Authenticated() bool {
	return strings.TrimSpace(s.UserID) != ""
}

// Key scopes per-session state. Sessions without an explicit id fall back
// to the user id and issue time.
func (s Session) Key() string {
	if s.ID != "" {
		return s.ID
	}
	return s.UserID + "@" + s.IssuedAt.UTC().Format(time.RFC3339Nano)
}
