package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	apperrors "github.com/R3E-Network/audit_layer/internal/errors"
	"github.com/R3E-Network/audit_layer/pkg/logger"
)

func TestNewServiceClient_Defaults(t *testing.T) {
	client := NewServiceClient(ServiceClientConfig{BaseURL: "http://localhost:8080/"})
	if client.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %s, want trailing slash trimmed", client.baseURL)
	}
	if client.httpClient.Timeout == 0 {
		t.Error("expected a default timeout")
	}
}

func TestServiceClient_PostAttachesHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/generate" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k1" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get(TraceIDHeader); got != "trace-1" {
			t.Errorf("trace header = %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["report_id"] != "r1" {
			t.Errorf("report_id = %q", body["report_id"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"document_url":"https://docs/r1"}`))
	}))
	defer server.Close()

	client := NewServiceClient(ServiceClientConfig{BaseURL: server.URL, APIKey: "k1"})
	ctx := logger.WithTraceID(context.Background(), "trace-1")
	resp, err := client.Post(ctx, "/generate", map[string]string{"report_id": "r1"})
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	var out struct {
		DocumentURL string `json:"document_url"`
	}
	if err := DecodeResponse(resp, &out); err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if out.DocumentURL != "https://docs/r1" {
		t.Errorf("document_url = %q", out.DocumentURL)
	}
}

func TestServiceClient_NoRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewServiceClient(ServiceClientConfig{BaseURL: server.URL})
	resp, err := client.Get(context.Background(), "/x")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if err := DecodeResponse(resp, nil); err == nil {
		t.Fatal("expected error for 401")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDecodeResponse_ErrorTruncates(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusBadGateway)
	_, _ = rec.WriteString(strings.Repeat("x", 70<<10))

	err := DecodeResponse(rec.Result(), nil)
	if err == nil || !strings.Contains(err.Error(), "(truncated)") {
		t.Fatalf("error = %v, want truncated body", err)
	}
}

func TestReadAllStrict(t *testing.T) {
	if _, err := ReadAllStrict(strings.NewReader("12345"), 4); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("err = %v, want ErrBodyTooLarge", err)
	}
	data, err := ReadAllStrict(strings.NewReader("1234"), 4)
	if err != nil || string(data) != "1234" {
		t.Fatalf("data = %q err = %v", data, err)
	}
}

func TestWriteServiceError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	WriteServiceError(rec, req, apperrors.InsufficientCredits(3, 10))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d", rec.Code)
	}
	var body ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != string(apperrors.CodeInsufficientCredits) {
		t.Errorf("code = %s", body.Code)
	}
	if body.Details["required"] != float64(10) {
		t.Errorf("details = %v", body.Details)
	}

	rec = httptest.NewRecorder()
	WriteServiceError(rec, req, errors.New("db password leaked"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Error("internal error text leaked")
	}
}

func TestDecodeJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":5,"bogus":1}`))
	var v struct {
		Amount int64 `json:"amount"`
	}
	err := DecodeJSON(req, &v)
	if !apperrors.HasCode(err, apperrors.CodeInvalidInput) {
		t.Fatalf("err = %v, want invalid input", err)
	}
}
