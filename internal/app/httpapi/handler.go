package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/audit_layer/internal/app"
	"github.com/R3E-Network/audit_layer/internal/app/domain/airdrop"
	"github.com/R3E-Network/audit_layer/internal/app/domain/audit"
	"github.com/R3E-Network/audit_layer/internal/app/domain/credit"
	"github.com/R3E-Network/audit_layer/internal/app/domain/identity"
	"github.com/R3E-Network/audit_layer/internal/app/metrics"
	"github.com/R3E-Network/audit_layer/internal/app/services/accessgate"
	"github.com/R3E-Network/audit_layer/internal/app/services/curation"
	apperrors "github.com/R3E-Network/audit_layer/internal/errors"
	"github.com/R3E-Network/audit_layer/internal/httputil"
	"github.com/R3E-Network/audit_layer/internal/middleware"
	"github.com/R3E-Network/audit_layer/pkg/logger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	audit *auditLog
	log   *logger.Logger
}

func newRouter(application *app.Application, audit *auditLog, log *logger.Logger) *mux.Router {
	h := &handler{app: application, audit: audit, log: log}
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/points", h.getPoints).Methods(http.MethodGet)
	r.HandleFunc("/points/deduct", h.deductPoints).Methods(http.MethodPost)
	r.HandleFunc("/points/transfer", h.transferPoints).Methods(http.MethodPost)
	r.HandleFunc("/points/transfer-by-wallet", h.transferByWallet).Methods(http.MethodPost)
	r.HandleFunc("/points/transactions", h.pointTransactions).Methods(http.MethodGet)

	r.HandleFunc("/whitelist/me", h.whitelistMe).Methods(http.MethodGet)

	r.HandleFunc("/airdrop/eligibility", h.airdropEligibility).Methods(http.MethodGet)
	r.HandleFunc("/airdrop/challenge", h.airdropChallenge).Methods(http.MethodPost)
	r.HandleFunc("/airdrop/claim", h.airdropClaim).Methods(http.MethodPost)

	r.HandleFunc("/dates", h.listDates).Methods(http.MethodGet)
	r.HandleFunc("/dates/{code}", h.getDate).Methods(http.MethodGet)
	r.HandleFunc("/dates/{code}/reports", h.listReports).Methods(http.MethodGet)
	r.HandleFunc("/dates/{code}/refresh", h.refreshDate).Methods(http.MethodPost)

	r.HandleFunc("/reports/{id}/submitter", h.isSubmitter).Methods(http.MethodGet)
	r.HandleFunc("/reports/{id}/view", h.viewReport).Methods(http.MethodPost)
	r.HandleFunc("/reports/{id}/approve", h.approveReport).Methods(http.MethodPost)
	r.HandleFunc("/reports/{id}/archive", h.archiveReport).Methods(http.MethodPost)

	r.HandleFunc("/issues/feedback", h.bulkFeedback).Methods(http.MethodPost)
	r.HandleFunc("/issues/{id}", h.patchIssue).Methods(http.MethodPatch)
	r.HandleFunc("/issues/{id}/false-positive", h.toggleFalsePositive).Methods(http.MethodPost)

	r.HandleFunc("/audit/curator", h.curatorAudit).Methods(http.MethodGet)
	return r
}

func sessionOf(r *http.Request) identity.Session {
	return middleware.SessionFrom(r.Context())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	httputil.WriteJSON(w, status, v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.WriteServiceError(w, r, err)
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireCurator writes 403 and returns false unless the caller is whitelisted.
func (h *handler) requireCurator(w http.ResponseWriter, r *http.Request, action string) bool {
	s := sessionOf(r)
	if !s.Authenticated() {
		writeError(w, r, apperrors.NotAuthenticated())
		return false
	}
	if !h.app.Permissions.IsWhitelisted(r.Context(), s.UserID) {
		writeError(w, r, apperrors.PermissionDenied(action))
		return false
	}
	return true
}

// recordCurator appends a curator action to the audit log.
func (h *handler) recordCurator(r *http.Request, action, target string, err error) {
	status := http.StatusOK
	entry := auditEntry{
		Time:    time.Now().UTC(),
		User:    sessionOf(r).UserID,
		Action:  action,
		Target:  target,
		TraceID: logger.TraceID(r.Context()),
	}
	if err != nil {
		status = http.StatusInternalServerError
		if se := apperrors.GetServiceError(err); se != nil && se.HTTPStatus != 0 {
			status = se.HTTPStatus
		}
		entry.Detail = err.Error()
	}
	entry.Status = status
	if sinkErr := h.audit.add(entry); sinkErr != nil {
		h.log.FromContext(r.Context()).WithError(sinkErr).Warn("curator audit sink write failed")
	}
}

// --- points ------------------------------------------------------------------

func (h *handler) getPoints(w http.ResponseWriter, r *http.Request) {
	points, err := h.app.Credits.GetUserPoints(r.Context(), sessionOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"points": points})
}

func (h *handler) deductPoints(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Amount      int64         `json:"amount"`
		Description string        `json:"description"`
		Type        credit.TxType `json:"type"`
		ReferenceID string        `json:"reference_id"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.app.Credits.DeductUserPoints(r.Context(), sessionOf(r), payload.Amount, payload.Description, payload.Type, payload.ReferenceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) transferPoints(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TargetUserID string `json:"target_user_id"`
		Amount       int64  `json:"amount"`
		Description  string `json:"description"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.app.Credits.TransferUserPoints(r.Context(), sessionOf(r), payload.TargetUserID, payload.Amount, payload.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) transferByWallet(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SourceWallet string `json:"source_wallet"`
		TargetWallet string `json:"target_wallet"`
		Amount       int64  `json:"amount"`
		Description  string `json:"description"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.app.Credits.TransferPointsByWallet(r.Context(), sessionOf(r), payload.SourceWallet, payload.TargetWallet, payload.Amount, payload.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) pointTransactions(w http.ResponseWriter, r *http.Request) {
	s := sessionOf(r)
	if !s.Authenticated() {
		writeError(w, r, apperrors.NotAuthenticated())
		return
	}
	owner := credit.User(s.UserID)
	if strings.EqualFold(r.URL.Query().Get("scope"), string(credit.OwnerWallet)) {
		if s.WalletAddress == "" {
			writeError(w, r, apperrors.InvalidInput("no wallet is linked to this session"))
			return
		}
		owner = credit.Wallet(s.WalletAddress)
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	txs, err := h.app.Credits.History(r.Context(), owner, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.InvalidInput("limit must be a non-negative integer")
	}
	return n, nil
}

// --- permissions and airdrop -------------------------------------------------

func (h *handler) whitelistMe(w http.ResponseWriter, r *http.Request) {
	s := sessionOf(r)
	writeJSON(w, http.StatusOK, map[string]bool{
		"is_whitelisted": h.app.Permissions.IsWhitelisted(r.Context(), s.UserID),
	})
}

func (h *handler) isSubmitter(w http.ResponseWriter, r *http.Request) {
	s := sessionOf(r)
	writeJSON(w, http.StatusOK, map[string]bool{
		"is_submitter": h.app.Permissions.IsReportSubmitter(r.Context(), s.UserID, mux.Vars(r)["id"]),
	})
}

func (h *handler) airdropEligibility(w http.ResponseWriter, r *http.Request) {
	e, err := h.app.Airdrop.CheckEligibility(r.Context(), r.URL.Query().Get("wallet"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *handler) airdropChallenge(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Wallet string `json:"wallet"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.app.Airdrop.IssueChallenge(r.Context(), sessionOf(r), payload.Wallet)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handler) airdropClaim(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Wallet string        `json:"wallet"`
		Proof  airdrop.Proof `json:"proof"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.app.Airdrop.Claim(r.Context(), sessionOf(r), payload.Wallet, payload.Proof)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- dates and reports -------------------------------------------------------

func (h *handler) listDates(w http.ResponseWriter, r *http.Request) {
	dates, err := h.app.Reports.ListDates(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dates)
}

func (h *handler) getDate(w http.ResponseWriter, r *http.Request) {
	d, err := h.app.Reports.GetDateStatistics(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handler) listReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.app.Reports.ListReports(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (h *handler) refreshDate(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	if !h.requireCurator(w, r, "refresh statistics") {
		return
	}
	d, err := h.app.Reports.RefreshDateStatistics(r.Context(), code)
	h.recordCurator(r, "refresh_statistics", code, err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// reportView is the body returned once the gate grants access.
type reportView struct {
	Decision       accessgate.Decision    `json:"decision"`
	Report         audit.Report           `json:"report"`
	Filter         curation.Filter        `json:"filter"`
	Issues         []audit.Issue          `json:"issues"`
	Groups         []curation.FileGroup   `json:"groups"`
	Categories     []string               `json:"categories"`
	SeverityCounts map[audit.Severity]int `json:"severity_counts"`
	TotalIssues    int                    `json:"total_issues"`
}

func (h *handler) viewReport(w http.ResponseWriter, r *http.Request) {
	reportID := mux.Vars(r)["id"]
	var payload struct {
		Filter *curation.Filter `json:"filter"`
	}
	if r.ContentLength > 0 {
		if err := httputil.DecodeJSON(r, &payload); err != nil {
			writeError(w, r, err)
			return
		}
	}

	decision, err := h.app.Gate.Check(r.Context(), sessionOf(r), reportID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	report, err := h.app.Reports.GetReport(r.Context(), reportID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	issues, err := h.app.Reports.ListIssues(r.Context(), reportID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	filter := curation.DefaultFilter()
	if payload.Filter != nil {
		filter = *payload.Filter
	}
	visible := curation.FilterIssues(issues, filter)
	writeJSON(w, http.StatusOK, reportView{
		Decision:       decision,
		Report:         report,
		Filter:         filter,
		Issues:         visible,
		Groups:         curation.GroupByFile(visible),
		Categories:     curation.ExtractCategories(issues),
		SeverityCounts: curation.SeverityCounts(issues),
		TotalIssues:    len(issues),
	})
}

func (h *handler) approveReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	res, err := h.app.Lifecycle.Approve(r.Context(), sessionOf(r), id)
	if !apperrors.HasCode(err, apperrors.CodePermissionDenied) && !apperrors.HasCode(err, apperrors.CodeNotAuthenticated) {
		h.recordCurator(r, "approve_report", id, err)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) archiveReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	res, err := h.app.Lifecycle.Archive(r.Context(), sessionOf(r), id)
	if !apperrors.HasCode(err, apperrors.CodePermissionDenied) && !apperrors.HasCode(err, apperrors.CodeNotAuthenticated) {
		h.recordCurator(r, "archive_report", id, err)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- curation ----------------------------------------------------------------

func (h *handler) patchIssue(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.requireCurator(w, r, "update issue") {
		return
	}
	var patch audit.IssuePatch
	if err := httputil.DecodeJSON(r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := h.app.Reports.UpdateIssue(r.Context(), id, patch)
	h.recordCurator(r, "update_issue", id, err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) toggleFalsePositive(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.requireCurator(w, r, "mark false positive") {
		return
	}
	issue, err := h.app.Reports.GetIssue(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	toggled := curation.ToggleFalsePositive(issue)
	updated, err := h.app.Reports.UpdateIssue(r.Context(), id, audit.IssuePatch{FalsePositive: &toggled.FalsePositive})
	h.recordCurator(r, "toggle_false_positive", id, err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) bulkFeedback(w http.ResponseWriter, r *http.Request) {
	if !h.requireCurator(w, r, "apply feedback") {
		return
	}
	var payload struct {
		ReportID string              `json:"report_id"`
		IssueIDs []string            `json:"issue_ids"`
		Feedback audit.FeedbackPatch `json:"feedback"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		writeError(w, r, err)
		return
	}
	if payload.ReportID == "" || len(payload.IssueIDs) == 0 {
		writeError(w, r, apperrors.InvalidInput("report_id and issue_ids are required"))
		return
	}
	if v := payload.Feedback.Value; v != nil && !v.Valid() {
		writeError(w, r, apperrors.InvalidInput(fmt.Sprintf("unknown feedback %q", *v)))
		return
	}

	issues, err := h.app.Reports.ListIssues(r.Context(), payload.ReportID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec := curation.NewReconciler(issues, h.app.Reports.UpdateIssue)
	updated, failures := rec.ApplyBulkFeedback(r.Context(), payload.IssueIDs, payload.Feedback.Value)

	failed := make(map[string]string, len(failures))
	for id, ferr := range failures {
		failed[id] = ferr.Error()
	}
	var summary error
	if len(failed) > 0 {
		summary = fmt.Errorf("%d of %d issues failed", len(failed), len(payload.IssueIDs))
	}
	h.recordCurator(r, "bulk_feedback", payload.ReportID, summary)

	writeJSON(w, http.StatusOK, map[string]any{
		"updated": updated,
		"failed":  failed,
		"issues":  rec.Snapshot(),
	})
}

func (h *handler) curatorAudit(w http.ResponseWriter, r *http.Request) {
	if !h.requireCurator(w, r, "read curator audit log") {
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}
