package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"/":                       "/",
		"/points":                 "/points",
		"/points/transfer":        "/points/transfer",
		"/reports/abc/view":       "/reports/:id/view",
		"/dates/20240101":         "/dates/:id",
		"/dates/20240101/reports": "/dates/:id/reports",
		"/issues/feedback":        "/issues/feedback",
		"/issues/i-1":             "/issues/:id",
	}
	for in, want := range cases {
		if got := canonicalPath(in); got != want {
			t.Errorf("canonicalPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRecordLedgerOperation(t *testing.T) {
	before := testutil.ToFloat64(ledgerOperations.WithLabelValues("debit", "error"))
	RecordLedgerOperation("debit", 5, errors.New("boom"))
	if got := testutil.ToFloat64(ledgerOperations.WithLabelValues("debit", "error")); got != before+1 {
		t.Fatalf("expected error counter to increase, got %v", got)
	}

	moved := testutil.ToFloat64(creditsMoved.WithLabelValues("grant"))
	RecordLedgerOperation("grant", 7, nil)
	if got := testutil.ToFloat64(creditsMoved.WithLabelValues("grant")); got != moved+7 {
		t.Fatalf("expected moved total to grow by 7, got %v", got-moved)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordGateDecision("curator")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "audit_layer_gate_decisions_total") {
		t.Fatalf("gate metric missing from exposition")
	}
}
