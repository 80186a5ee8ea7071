// Package lifecycle moves reports through pending, completed and archived.
// Only curators may trigger a transition.
package lifecycle

import (
	"context"

	"github.com/R3E-Network/audit_layer/internal/app/domain/audit"
	"github.com/R3E-Network/audit_layer/internal/app/domain/identity"
	"github.com/R3E-Network/audit_layer/internal/app/metrics"
	apperrors "github.com/R3E-Network/audit_layer/internal/errors"
	"github.com/R3E-Network/audit_layer/pkg/logger"
)

// StatusUpdater performs guarded status changes.
type StatusUpdater interface {
	UpdateReportStatus(ctx context.Context, reportID string, to audit.Status) (audit.Report, error)
}

// CuratorCheck reports curator privilege.
type CuratorCheck interface {
	IsWhitelisted(ctx context.Context, userID string) bool
}

// Result is the outcome of a transition. GenerationError is set when the
// report moved but its document could not be produced.
type Result struct {
	Report          audit.Report `json:"report"`
	Document        *Document    `json:"document,omitempty"`
	GenerationError string       `json:"generation_error,omitempty"`
}

// Service runs lifecycle transitions.
type Service struct {
	reports   StatusUpdater
	curators  CuratorCheck
	generator ContentGenerator
	log       *logger.Logger
}

// New constructs a lifecycle service. A nil generator skips document generation.
func New(reports StatusUpdater, curators CuratorCheck, generator ContentGenerator, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("lifecycle")
	}
	return &Service{reports: reports, curators: curators, generator: generator, log: log}
}

func (s *Service) authorize(ctx context.Context, session identity.Session, action string) error {
	if !session.Authenticated() {
		return apperrors.NotAuthenticated()
	}
	if !s.curators.IsWhitelisted(ctx, session.UserID) {
		return apperrors.PermissionDenied(action)
	}
	return nil
}

// Approve marks a pending report completed and then generates its document.
// A generation failure does not undo the approval.
func (s *Service) Approve(ctx context.Context, session identity.Session, reportID string) (Result, error) {
	if err := s.authorize(ctx, session, "approve report"); err != nil {
		return Result{}, err
	}
	report, err := s.transition(ctx, session, reportID, audit.StatusCompleted)
	if err != nil {
		return Result{}, err
	}

	res := Result{Report: report}
	if s.generator == nil {
		return res, nil
	}
	doc, err := s.generator.Generate(ctx, report)
	if err != nil {
		s.log.WithError(err).WithField("report_id", report.ID).Error("content generation failed after approval")
		res.GenerationError = err.Error()
		return res, nil
	}
	res.Document = &doc
	return res, nil
}

// Archive retires a pending or completed report.
func (s *Service) Archive(ctx context.Context, session identity.Session, reportID string) (Result, error) {
	if err := s.authorize(ctx, session, "archive report"); err != nil {
		return Result{}, err
	}
	report, err := s.transition(ctx, session, reportID, audit.StatusArchived)
	if err != nil {
		return Result{}, err
	}
	return Result{Report: report}, nil
}

func (s *Service) transition(ctx context.Context, session identity.Session, reportID string, to audit.Status) (audit.Report, error) {
	report, err := s.reports.UpdateReportStatus(ctx, reportID, to)
	applied := err == nil
	if err == nil || apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		metrics.RecordTransition(string(to), applied)
	}
	if err != nil {
		return audit.Report{}, err
	}
	s.log.WithField("report_id", reportID).
		WithField("status", to).
		WithField("user_id", session.UserID).
		Info("report status changed")
	return report, nil
}
