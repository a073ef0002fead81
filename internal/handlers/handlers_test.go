package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/money"
	"reconciliation-engine/internal/services"
)

type stubLedger struct {
	items      []models.OpenItem
	candidates []models.LedgerLine
}

func (s *stubLedger) FetchCandidateLines(_ context.Context, q models.CandidateQuery) (models.CandidatePage, error) {
	if q.Mode != models.ModeMatchRP {
		return models.CandidatePage{}, nil
	}
	excluded := make(map[int64]bool)
	for _, id := range q.ExcludedIDs {
		excluded[id] = true
	}
	var page []models.LedgerLine
	for _, l := range s.candidates {
		if !excluded[l.ID] {
			page = append(page, l)
		}
	}
	return models.CandidatePage{Lines: page, Total: len(page)}, nil
}

func (s *stubLedger) FetchOpenItems(_ context.Context, _ models.LineType, _ []int64) ([]models.OpenItem, error) {
	return s.items, nil
}

type stubTaxes struct{}

func (stubTaxes) ComputeAll(_ context.Context, req models.TaxRequest) (models.TaxResult, error) {
	return models.TaxResult{Base: req.BaseAmount}, nil
}

type stubPartners struct{}

func (stubPartners) ResolveAccounts(_ context.Context, _ int64) (models.PartnerAccounts, error) {
	return models.PartnerAccounts{ReceivableAccountID: 1100, PayableAccountID: 2100}, nil
}

type stubCommits struct {
	err     error
	batches [][]models.CommitRecord
}

func (s *stubCommits) ProcessReconciliations(_ context.Context, batch []models.CommitRecord) error {
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, batch)
	return nil
}

func (s *stubCommits) MarkPartnersReconciled(_ context.Context, _ []int64) error { return nil }

type stubTemplates struct{}

func (stubTemplates) ListTemplates(_ context.Context, _ []int64) ([]models.Template, error) {
	return []models.Template{{ID: 3, Name: "Bank fees"}}, nil
}

func (stubTemplates) Instantiate(_ context.Context, _ int64, target decimal.Decimal, _ int64) ([]models.ProposedLine, error) {
	return []models.ProposedLine{{Name: "Bank fees", AccountID: 6270, Amount: target}}, nil
}

type server struct {
	router  *mux.Router
	commits *stubCommits
}

func newServer() *server {
	ledger := &stubLedger{
		items: []models.OpenItem{{
			Type: models.LineTypeStatement,
			StatementLine: &models.StatementLine{
				ID: 1, Name: "SEPA Acme", Date: "2024-03-01",
				Amount: decimal.NewFromInt(100), CurrencyID: "EUR", JournalID: 1,
			},
			CurrencyID: "EUR",
		}},
		candidates: []models.LedgerLine{{
			ID: 11, Name: "INV/0011", Date: "2024-02-15", Amount: decimal.NewFromInt(100),
			CurrencyID: "EUR", AccountID: 1100, AccountType: models.AccountReceivable, JournalID: 2,
		}},
	}
	commits := &stubCommits{}
	cmp := money.NewComparator(map[string]int32{"EUR": 2})
	svc := services.NewReconciliationService(ledger, stubTaxes{}, stubPartners{}, commits, stubTemplates{}, cmp, nil, services.Options{})
	return &server{
		router:  SetupRouter(NewReconciliationHandler(svc, nil), nil, nil),
		commits: commits,
	}
}

func (s *server) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *server) loadLine(t *testing.T) models.LineHandle {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/lines/load", `{"type": "statement", "scope_ids": [1]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp LoadLinesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Handles, 1)
	return resp.Handles[0]
}

func decodeLine(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &line))
	return line
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	rec := newServer().do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "healthy"}`, rec.Body.String())
}

func TestLoadLinesValidation(t *testing.T) {
	s := newServer()

	rec := s.do(t, http.MethodPost, "/api/v1/lines/load", `{"scope_ids": [1]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "type is required", errorMessage(t, rec))

	rec = s.do(t, http.MethodPost, "/api/v1/lines/load", `{"type":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReconcileFlow(t *testing.T) {
	s := newServer()
	h := s.loadLine(t)

	rec := s.do(t, http.MethodGet, "/api/v1/lines", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var lines []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lines))
	require.Len(t, lines, 1)
	assert.Equal(t, string(h), lines[0]["handle"])

	rec = s.do(t, http.MethodGet, "/api/v1/lines/"+string(h), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "match_rp", decodeLine(t, rec)["mode"])
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = s.do(t, http.MethodPost, "/api/v1/lines/"+string(h)+"/propositions", `{"id": 11}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	line := decodeLine(t, rec)
	propositions := line["propositions"].([]interface{})
	require.Len(t, propositions, 1)
	assert.Equal(t, float64(11), propositions[0].(map[string]interface{})["id"])

	rec = s.do(t, http.MethodPost, "/api/v1/validate", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result services.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, []models.LineHandle{h}, result.Reconciled)
	assert.Equal(t, []models.LineHandle{}, result.Updated)
	require.Len(t, s.commits.batches, 1)

	rec = s.do(t, http.MethodPost, "/api/v1/lines/"+string(h)+"/mode", `{"mode": "create"}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "reconciled lines are read-only")
}

func TestValidateFailure(t *testing.T) {
	s := newServer()
	h := s.loadLine(t)
	rec := s.do(t, http.MethodPost, "/api/v1/lines/"+string(h)+"/propositions", `{"id": "11"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	s.commits.err = errors.New("lock wait timeout")
	rec = s.do(t, http.MethodPost, "/api/v1/validate", `{"handles": ["`+string(h)+`"]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/lines/"+string(h), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeLine(t, rec)["reconciled"])
}

func TestErrorStatuses(t *testing.T) {
	s := newServer()
	h := string(s.loadLine(t))

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown line", http.MethodGet, "/api/v1/lines/nope", "", http.StatusNotFound},
		{"unknown candidate", http.MethodPost, "/api/v1/lines/" + h + "/propositions", `{"id": 99}`, http.StatusNotFound},
		{"missing id", http.MethodPost, "/api/v1/lines/" + h + "/propositions", `{}`, http.StatusBadRequest},
		{"mode of another line type", http.MethodPost, "/api/v1/lines/" + h + "/mode", `{"mode": "match"}`, http.StatusUnprocessableEntity},
		{"missing mode", http.MethodPost, "/api/v1/lines/" + h + "/mode", `{}`, http.StatusBadRequest},
		{"invalid proposition id", http.MethodDelete, "/api/v1/lines/" + h + "/propositions/-3", "", http.StatusBadRequest},
		{"unknown proposition", http.MethodDelete, "/api/v1/lines/" + h + "/propositions/draft-x", "", http.StatusNotFound},
		{"unknown template", http.MethodPost, "/api/v1/lines/" + h + "/quick-create", `{"template_id": 8}`, http.StatusNotFound},
		{"missing template", http.MethodPost, "/api/v1/lines/" + h + "/quick-create", `{}`, http.StatusBadRequest},
		{"fetch more", http.MethodPost, "/api/v1/lines/" + h + "/fetch-more", "", http.StatusOK},
		{"ingestion not mounted", http.MethodPost, "/api/v1/ingest/statement-lines", `[]`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestReadOnlyProposition(t *testing.T) {
	s := newServer()
	h := string(s.loadLine(t))
	rec := s.do(t, http.MethodPost, "/api/v1/lines/"+h+"/propositions", `{"id": 11}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPatch, "/api/v1/lines/"+h+"/propositions/11", `{"name": "renamed"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPartialEndpoints(t *testing.T) {
	s := newServer()
	h := string(s.loadLine(t))
	rec := s.do(t, http.MethodPost, "/api/v1/lines/"+h+"/propositions", `{"id": 11}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/lines/"+h+"/propositions/11/partial", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"amount": "100.00"}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/lines/"+h+"/propositions/11/partial", `{"amount": "abc"}`)
	require.Equal(t, http.StatusOK, rec.Code, "rejected input is reported in the outcome")
	var resp struct {
		Outcome struct {
			Accepted bool   `json:"accepted"`
			Warning  string `json:"warning"`
		} `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Outcome.Accepted)
	assert.NotEmpty(t, resp.Outcome.Warning)

	rec = s.do(t, http.MethodPost, "/api/v1/lines/"+h+"/propositions/11/partial", `{"amount": "40"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Outcome.Accepted)
}

func TestTemplatesAndQuickCreate(t *testing.T) {
	s := newServer()
	h := string(s.loadLine(t))

	rec := s.do(t, http.MethodGet, "/api/v1/templates", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id": 3, "name": "Bank fees", "company_id": 0}]`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/lines/"+h+"/quick-create", `{"template_id": 3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	line := decodeLine(t, rec)
	assert.Equal(t, "create", line["mode"])
	assert.Len(t, line["propositions"], 1)
}

func TestAutoClear(t *testing.T) {
	s := newServer()
	s.loadLine(t)

	rec := s.do(t, http.MethodPost, "/api/v1/auto-clear", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reconciled": [], "updated": []}`, rec.Body.String())
}
