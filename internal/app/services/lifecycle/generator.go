package lifecycle

import (
	"context"
	"fmt"

	"github.com/R3E-Network/audit_layer/internal/app/domain/audit"
	"github.com/R3E-Network/audit_layer/internal/httputil"
)

// Document describes generated report content.
type Document struct {
	ReportID string `json:"report_id"`
	URL      string `json:"url,omitempty"`
	Summary  string `json:"summary,omitempty"`
}

// ContentGenerator produces the report document after approval.
type ContentGenerator interface {
	Generate(ctx context.Context, report audit.Report) (Document, error)
}

// HTTPGenerator posts approved reports to an external generation service.
type HTTPGenerator struct {
	client *httputil.ServiceClient
	path   string
}

// NewHTTPGenerator targets path on the client's base URL.
func NewHTTPGenerator(client *httputil.ServiceClient, path string) *HTTPGenerator {
	if path == "" {
		path = "/generate"
	}
	return &HTTPGenerator{client: client, path: path}
}

func (g *HTTPGenerator) Generate(ctx context.Context, report audit.Report) (Document, error) {
	resp, err := g.client.Post(ctx, g.path, map[string]any{
		"report_id":  report.ID,
		"date_code":  report.DateCode,
		"user_name":  report.UserName,
		"repo_name":  report.RepoName,
		"risk_score": report.RiskScore,
	})
	if err != nil {
		return Document{}, fmt.Errorf("generate report %s: %w", report.ID, err)
	}
	var doc Document
	if err := httputil.DecodeResponse(resp, &doc); err != nil {
		return Document{}, fmt.Errorf("generate report %s: %w", report.ID, err)
	}
	if doc.ReportID == "" {
		doc.ReportID = report.ID
	}
	return doc, nil
}
