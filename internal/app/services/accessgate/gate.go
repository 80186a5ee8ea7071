// Package accessgate decides whether a session may view a report, debiting
// the view cost at most once per (session, report).
package accessgate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/R3E-Network/audit_layer/internal/app/domain/audit"
	"github.com/R3E-Network/audit_layer/internal/app/domain/credit"
	"github.com/R3E-Network/audit_layer/internal/app/domain/identity"
	"github.com/R3E-Network/audit_layer/internal/app/metrics"
	apperrors "github.com/R3E-Network/audit_layer/internal/errors"
	"github.com/R3E-Network/audit_layer/pkg/logger"
)

// DefaultViewCost is charged when no cost is configured.
const DefaultViewCost int64 = 10

// chargeTimeout bounds a shared charge once it no longer follows a caller.
const chargeTimeout = 30 * time.Second

// Decision reasons.
const (
	ReasonCurator       = "curator"
	ReasonSubmitter     = "submitter"
	ReasonCached        = "cached"
	ReasonCharged       = "charged"
	ReasonNotAvailable  = "not_available"
	ReasonInsufficient  = "insufficient_credits"
	ReasonUnauthorized  = "unauthenticated"
	ReasonLookupFailure = "error"
)

// Debitor removes credits from an account.
type Debitor interface {
	Debit(ctx context.Context, req credit.DebitRequest) (credit.Account, error)
}

// ReportLookup loads the report being viewed.
type ReportLookup interface {
	GetReport(ctx context.Context, id string) (audit.Report, error)
}

// RoleResolver classifies the caller against a report.
type RoleResolver interface {
	ResolveRole(ctx context.Context, session identity.Session, report audit.Report) identity.Role
}

// Decision is the outcome of one gate check.
type Decision struct {
	Granted  bool          `json:"granted"`
	Role     identity.Role `json:"role"`
	Reason   string        `json:"reason"`
	Charged  int64         `json:"charged"`
	Balance  *int64        `json:"balance,omitempty"`
	Required int64         `json:"required,omitempty"`
	Cached   bool          `json:"cached"`
}

// Gate checks report access.
type Gate struct {
	ledger  Debitor
	reports ReportLookup
	roles   RoleResolver
	cache   GrantCache
	cost    int64
	log     *logger.Logger

	flight singleflight.Group
}

// New constructs a gate. A nil cache uses an in-memory cache without expiry
// and a non-positive cost uses DefaultViewCost.
func New(ledger Debitor, reports ReportLookup, roles RoleResolver, cache GrantCache, cost int64, log *logger.Logger) *Gate {
	if log == nil {
		log = logger.NewDefault("accessgate")
	}
	if cache == nil {
		cache = NewMemoryCache(0)
	}
	if cost <= 0 {
		cost = DefaultViewCost
	}
	return &Gate{ledger: ledger, reports: reports, roles: roles, cache: cache, cost: cost, log: log}
}

// Cost returns the per-view price.
func (g *Gate) Cost() int64 { return g.cost }

// Check grants or denies access. Denials come back as a Decision together
// with a ServiceError describing the reason.
func (g *Gate) Check(ctx context.Context, session identity.Session, reportID string) (Decision, error) {
	reportID = strings.TrimSpace(reportID)
	if !session.Authenticated() {
		metrics.RecordGateDecision(ReasonUnauthorized)
		return Decision{Role: identity.RoleViewer, Reason: ReasonUnauthorized}, apperrors.NotAuthenticated()
	}
	if reportID == "" {
		return Decision{}, apperrors.InvalidInput("report id is required")
	}

	report, err := g.reports.GetReport(ctx, reportID)
	if err != nil {
		metrics.RecordGateDecision(ReasonLookupFailure)
		return Decision{Role: identity.RoleViewer, Reason: ReasonLookupFailure}, err
	}

	role := g.roles.ResolveRole(ctx, session, report)
	switch role {
	case identity.RoleCurator:
		return g.decide(Decision{Granted: true, Role: role, Reason: ReasonCurator}, nil)
	case identity.RoleSubmitter:
		return g.decide(Decision{Granted: true, Role: role, Reason: ReasonSubmitter}, nil)
	}

	if report.Status != audit.StatusCompleted {
		return g.decide(Decision{Role: role, Reason: ReasonNotAvailable},
			apperrors.ReportNotAvailable(report.ID, string(report.Status)))
	}

	// Concurrent checks for the same (session, report) share one debit. The
	// shared charge is detached from any single caller's cancellation; each
	// caller stops waiting when its own context ends.
	key := session.Key() + "|" + report.ID
	ch := g.flight.DoChan(key, func() (any, error) {
		chargeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), chargeTimeout)
		defer cancel()
		return g.charge(chargeCtx, session, report)
	})
	select {
	case res := <-ch:
		d, _ := res.Val.(Decision)
		return g.decide(d, res.Err)
	case <-ctx.Done():
		return g.decide(Decision{Role: role, Reason: ReasonLookupFailure}, ctx.Err())
	}
}

func (g *Gate) decide(d Decision, err error) (Decision, error) {
	metrics.RecordGateDecision(d.Reason)
	return d, err
}

func (g *Gate) charge(ctx context.Context, session identity.Session, report audit.Report) (Decision, error) {
	sessionKey := session.Key()
	entry := g.log.WithField("report_id", report.ID).WithField("user_id", session.UserID)

	granted, err := g.cache.Has(ctx, sessionKey, report.ID)
	if err != nil {
		entry.WithError(err).Warn("grant cache lookup failed")
	}
	if granted {
		return Decision{Granted: true, Role: identity.RoleViewer, Reason: ReasonCached, Cached: true}, nil
	}

	claimed, err := g.cache.Claim(ctx, sessionKey, report.ID)
	switch {
	case err != nil:
		entry.WithError(err).Warn("grant cache claim failed; charging without caching")
	case !claimed:
		// Another replica already paid for this session.
		return Decision{Granted: true, Role: identity.RoleViewer, Reason: ReasonCached, Cached: true}, nil
	}

	acct, err := g.ledger.Debit(ctx, credit.DebitRequest{
		Owner:       credit.User(session.UserID),
		Amount:      g.cost,
		Description: fmt.Sprintf("view report %s", report.RepoName),
		Type:        credit.TxViewReport,
		ReferenceID: report.ID,
	})
	if err != nil {
		if claimed {
			if relErr := g.cache.Release(ctx, sessionKey, report.ID); relErr != nil {
				entry.WithError(relErr).Warn("release grant claim failed")
			}
		}
		if se := apperrors.GetServiceError(err); se != nil && se.Code == apperrors.CodeInsufficientFunds {
			balance, _ := se.Details["balance"].(int64)
			return Decision{
				Role:     identity.RoleViewer,
				Reason:   ReasonInsufficient,
				Balance:  &balance,
				Required: g.cost,
			}, apperrors.InsufficientCredits(balance, g.cost)
		}
		return Decision{Role: identity.RoleViewer, Reason: ReasonLookupFailure}, fmt.Errorf("charge report view: %w", err)
	}

	balance := acct.Balance
	entry.WithField("charged", g.cost).WithField("balance", balance).Info("report view charged")
	return Decision{
		Granted: true,
		Role:    identity.RoleViewer,
		Reason:  ReasonCharged,
		Charged: g.cost,
		Balance: &balance,
	}, nil
}
