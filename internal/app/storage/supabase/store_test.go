package supabase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/audit_layer/internal/app/domain/audit"
	"github.com/R3E-Network/audit_layer/internal/app/domain/credit"
	apperrors "github.com/R3E-Network/audit_layer/internal/errors"
	"github.com/R3E-Network/audit_layer/supabase/client"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := client.New(client.Config{URL: srv.URL, APIKey: "k"})
	require.NoError(t, err)
	return New(c)
}

func readBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestDebitMapsInsufficientResult(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/rpc/deduct_user_points", r.URL.Path)
		body := readBody(t, r)
		assert.Equal(t, "u1", body["p_user_id"])
		assert.Equal(t, "view_report", body["p_type"])
		assert.Equal(t, "r1", body["p_reference_id"])
		_, _ = io.WriteString(w, `{"success":false,"message":"insufficient points","remaining_points":4}`)
	})

	acct, err := store.Debit(context.Background(), credit.DebitRequest{
		Owner: credit.User("u1"), Amount: 10, Type: credit.TxViewReport, ReferenceID: "r1",
	})
	se := apperrors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, apperrors.CodeInsufficientFunds, se.Code)
	assert.Equal(t, int64(4), se.Details["balance"])
	assert.Equal(t, int64(4), acct.Balance)
}

func TestWalletTransferUsesWalletProcedure(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/rpc/transfer_points_by_wallet", r.URL.Path)
		body := readBody(t, r)
		assert.Equal(t, "wa", body["p_source_wallet"])
		assert.Equal(t, "wb", body["p_target_wallet"])
		_, _ = io.WriteString(w, `{"success":true,"message":"ok","remaining_points":5,"target_points":15}`)
	})

	res, err := store.Transfer(context.Background(), credit.TransferRequest{
		Source: credit.Wallet("wa"), Target: credit.Wallet("wb"), Amount: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, credit.TransferResult{RemainingAtSource: 5, TargetBalance: 15}, res)

	_, err = store.Transfer(context.Background(), credit.TransferRequest{
		Source: credit.User("u"), Target: credit.Wallet("wb"), Amount: 5,
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidInput))
}

func TestGrantReportsApplied(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/rpc/grant_points", r.URL.Path)
		_, _ = io.WriteString(w, `{"success":true,"applied":false,"balance":100}`)
	})
	res, err := store.Grant(context.Background(), credit.GrantRequest{Owner: credit.User("u1"), Amount: 100, ReferenceID: "airdrop:w"})
	require.NoError(t, err)
	assert.Equal(t, credit.GrantResult{Balance: 100, Applied: false}, res)
}

func TestIsWhitelistedPropagatesErrors(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"message":"boom"}`)
	})
	ok, err := store.IsWhitelisted(context.Background(), "u1")
	require.Error(t, err)
	assert.False(t, ok)
}

func TestUpdateReportStatusConditional(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPatch:
			assert.Equal(t, "in.(pending)", r.URL.Query().Get("status"))
			_, _ = io.WriteString(w, `[]`)
		case http.MethodGet:
			_, _ = io.WriteString(w, `[{"id":"r1","status":"archived","date_code":"20240101"}]`)
		}
	})
	r, applied, err := store.UpdateReportStatus(context.Background(), "r1",
		[]audit.Status{audit.StatusPending}, audit.StatusCompleted)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, audit.StatusArchived, r.Status)
}

func TestUpdateIssueSendsExplicitNull(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		body := readBody(t, r)
		v, present := body["feedback"]
		assert.True(t, present)
		assert.Nil(t, v)
		_, _ = io.WriteString(w, `[{"id":"i1","severity":"high","feedback":null}]`)
	})
	issue, err := store.UpdateIssue(context.Background(), "i1", audit.IssuePatch{Feedback: audit.SetFeedback(nil)})
	require.NoError(t, err)
	assert.Nil(t, issue.Feedback)
}

func TestGetDateNotFound(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})
	_, err := store.GetDate(context.Background(), "20240101")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}
