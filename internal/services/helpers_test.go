package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/money"
)

var testCmp = money.NewComparator(map[string]int32{"EUR": 2, "JPY": 0})

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	if !dec(want).Equal(got) {
		assert.Fail(t, fmt.Sprintf("amount mismatch: want %s, got %s", want, got), msgAndArgs...)
	}
}

type fakeLedger struct {
	mu         sync.Mutex
	candidates map[models.Mode][]models.LedgerLine
	openItems  []models.OpenItem
	queries    []models.CandidateQuery
	err        error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{candidates: make(map[models.Mode][]models.LedgerLine)}
}

func (f *fakeLedger) add(mode models.Mode, lines ...models.LedgerLine) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates[mode] = append(f.candidates[mode], lines...)
}

func (f *fakeLedger) remove(ids []int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	for mode, list := range f.candidates {
		kept := list[:0:0]
		for _, l := range list {
			if !drop[l.ID] {
				kept = append(kept, l)
			}
		}
		f.candidates[mode] = kept
	}
}

func (f *fakeLedger) FetchCandidateLines(_ context.Context, q models.CandidateQuery) (models.CandidatePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return models.CandidatePage{}, f.err
	}

	excluded := make(map[int64]bool, len(q.ExcludedIDs))
	for _, id := range q.ExcludedIDs {
		excluded[id] = true
	}
	var matched []models.LedgerLine
	for _, l := range f.candidates[q.Mode] {
		if excluded[l.ID] {
			continue
		}
		if q.SearchText != "" && !strings.Contains(strings.ToLower(l.Name), strings.ToLower(q.SearchText)) {
			continue
		}
		matched = append(matched, l)
	}
	page := matched
	if q.Limit > 0 && len(page) > q.Limit {
		page = page[:q.Limit]
	}
	return models.CandidatePage{Lines: page, Total: len(matched)}, nil
}

func (f *fakeLedger) FetchOpenItems(_ context.Context, _ models.LineType, _ []int64) ([]models.OpenItem, error) {
	return f.openItems, f.err
}

type fakeTaxes struct {
	mu     sync.Mutex
	result models.TaxResult
	reqs   []models.TaxRequest
}

func (f *fakeTaxes) ComputeAll(_ context.Context, req models.TaxRequest) (models.TaxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.result, nil
}

type fakePartners struct {
	accounts map[int64]models.PartnerAccounts
}

func (f *fakePartners) ResolveAccounts(_ context.Context, partnerID int64) (models.PartnerAccounts, error) {
	accounts, ok := f.accounts[partnerID]
	if !ok {
		return models.PartnerAccounts{}, errors.New("unknown partner")
	}
	return accounts, nil
}

type fakeCommits struct {
	mu       sync.Mutex
	ledger   *fakeLedger
	batches  [][]models.CommitRecord
	partners []int64
	err      error
}

// ProcessReconciliations records the batch and withdraws the settled entries
// from the ledger.
func (f *fakeCommits) ProcessReconciliations(_ context.Context, batch []models.CommitRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, batch)
	for _, rec := range batch {
		f.ledger.remove(rec.MoveLineIDs)
	}
	return nil
}

func (f *fakeCommits) MarkPartnersReconciled(_ context.Context, partnerIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partners = append(f.partners, partnerIDs...)
	return nil
}

type fakeTemplates struct {
	templates []models.Template
	lines     []models.ProposedLine
	targets   []decimal.Decimal
	listCalls int
}

func (f *fakeTemplates) ListTemplates(_ context.Context, _ []int64) ([]models.Template, error) {
	f.listCalls++
	return f.templates, nil
}

func (f *fakeTemplates) Instantiate(_ context.Context, _ int64, target decimal.Decimal, _ int64) ([]models.ProposedLine, error) {
	f.targets = append(f.targets, target)
	out := make([]models.ProposedLine, len(f.lines))
	for i, pl := range f.lines {
		if pl.Amount.IsZero() {
			pl.Amount = target
		}
		out[i] = pl
	}
	return out, nil
}

type testEnv struct {
	svc       *ReconciliationService
	ledger    *fakeLedger
	taxes     *fakeTaxes
	partners  *fakePartners
	commits   *fakeCommits
	templates *fakeTemplates
}

func newTestEnv(pageSize int) *testEnv {
	ledger := newFakeLedger()
	env := &testEnv{
		ledger: ledger,
		taxes:  &fakeTaxes{},
		partners: &fakePartners{accounts: map[int64]models.PartnerAccounts{
			7: {ReceivableAccountID: 1100, PayableAccountID: 2100},
			9: {ReceivableAccountID: 1101, PayableAccountID: 2101},
		}},
		commits:   &fakeCommits{ledger: ledger},
		templates: &fakeTemplates{},
	}
	env.svc = NewReconciliationService(env.ledger, env.taxes, env.partners, env.commits, env.templates, testCmp, nil, Options{PageSize: pageSize})
	return env
}

func (e *testEnv) load(t *testing.T, items ...models.OpenItem) []models.LineHandle {
	t.Helper()
	handles, err := e.svc.LoadOpenItems(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, handles, len(items))
	return handles
}

func (e *testEnv) line(t *testing.T, handle models.LineHandle) *models.Line {
	t.Helper()
	line, err := e.svc.GetLine(handle)
	require.NoError(t, err)
	return line
}

func statementItem(id int64, amount string) models.OpenItem {
	return models.OpenItem{
		Type: models.LineTypeStatement,
		StatementLine: &models.StatementLine{
			ID:         id,
			Name:       "Payment",
			Date:       "2024-03-01",
			Amount:     dec(amount),
			CurrencyID: "EUR",
			JournalID:  1,
		},
		CurrencyID: "EUR",
	}
}

func receivable(id int64, name, amount string, partnerID int64) models.LedgerLine {
	return models.LedgerLine{
		ID:          id,
		Name:        name,
		Date:        "2024-02-15",
		Amount:      dec(amount),
		CurrencyID:  "EUR",
		AccountID:   1100,
		AccountCode: "1100",
		AccountType: models.AccountReceivable,
		JournalID:   2,
		PartnerID:   partnerID,
	}
}

func miscellaneous(id int64, name, amount string) models.LedgerLine {
	return models.LedgerLine{
		ID:          id,
		Name:        name,
		Date:        "2024-02-20",
		Amount:      dec(amount),
		CurrencyID:  "EUR",
		AccountID:   4700,
		AccountCode: "4700",
		AccountType: models.AccountOther,
		JournalID:   3,
	}
}
