package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconciliation-engine/internal/models"
)

// flatTaxes charges every tax id at 21% of the requested base, price exclusive.
type flatTaxes struct {
	mu        sync.Mutex
	calls     []models.TaxRequest
	err       error
	accountID int64
	analytic  bool
}

func (f *flatTaxes) ComputeAll(_ context.Context, req models.TaxRequest) (models.TaxResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.err != nil {
		return models.TaxResult{}, f.err
	}
	res := models.TaxResult{Base: req.BaseAmount, BaseTags: []int64{7}}
	for _, id := range req.TaxIDs {
		res.Taxes = append(res.Taxes, models.TaxComponent{
			TaxID:             id,
			Name:              fmt.Sprintf("VAT%d", id),
			Amount:            req.BaseAmount.Mul(decimal.RequireFromString("0.21")).Round(2),
			Base:              req.BaseAmount,
			AccountID:         f.accountID,
			RepartitionLineID: id * 10,
			TagIDs:            []int64{id + 100},
			Analytic:          f.analytic,
		})
	}
	return res, nil
}

func (f *flatTaxes) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func taxedDraft(name, amount string, taxIDs ...int64) *models.Proposition {
	p := draftProp(name, amount)
	for _, id := range taxIDs {
		p.TaxIDs = append(p.TaxIDs, models.TaxRef{ID: id, Name: fmt.Sprintf("VAT%d", id)})
	}
	p.NeedsTaxRecompute = true
	return p
}

func TestRecomputeMaterializesTaxLine(t *testing.T) {
	taxes := &flatTaxes{accountID: 4510}
	engine := NewEngine(testCmp, taxes, nil)
	line := statementLine("100")
	base := taxedDraft("Office supplies", "50", 21)
	base.AnalyticAccountID = 9
	require.NoError(t, Apply(line, Add{Proposition: base}))

	require.NoError(t, engine.ComputeLine(context.Background(), line))

	require.Len(t, line.Propositions, 2)
	gotBase, tax := line.Propositions[0], line.Propositions[1]
	assertDec(t, "50", gotBase.Amount)
	assert.Equal(t, []int64{7}, gotBase.TaxTagIDs)
	assert.Equal(t, base.ID, tax.Link)
	assertDec(t, "10.50", tax.Amount)
	assertDec(t, "50", tax.BaseAmount)
	assert.Equal(t, "Office supplies VAT21", tax.Name)
	assert.Equal(t, int64(4510), tax.AccountID)
	assert.Equal(t, int64(21), tax.TaxID)
	assert.Equal(t, []int64{121}, tax.TaxTagIDs)
	assert.Zero(t, tax.AnalyticAccountID)
	assert.False(t, gotBase.NeedsTaxRecompute)
	assert.False(t, tax.NeedsTaxRecompute)
	assertDec(t, "39.5", line.Balance.Amount)

	require.Len(t, taxes.calls, 1)
	assert.Equal(t, []int64{21}, taxes.calls[0].TaxIDs)
	assert.True(t, taxes.calls[0].RoundPerLine)
	assert.Equal(t, "EUR", taxes.calls[0].CurrencyID)
}

func TestRecomputeIsIdempotent(t *testing.T) {
	engine := NewEngine(testCmp, &flatTaxes{accountID: 4510}, nil)
	line := statementLine("100")
	require.NoError(t, Apply(line, Add{Proposition: taxedDraft("Office supplies", "50", 21, 6)}))
	require.NoError(t, engine.ComputeLine(context.Background(), line))
	first := line.Clone()

	line.Propositions[0].NeedsTaxRecompute = true
	require.NoError(t, engine.ComputeLine(context.Background(), line))

	require.Equal(t, ids(first.Propositions), ids(line.Propositions))
	for i := range first.Propositions {
		assert.True(t, first.Propositions[i].Amount.Equal(line.Propositions[i].Amount))
		assert.Equal(t, first.Propositions[i].Link, line.Propositions[i].Link)
	}
	assert.True(t, first.Balance.Amount.Equal(line.Balance.Amount))
	assert.Equal(t, first.Balance.Kind, line.Balance.Kind)
}

func TestRecomputeFallsBackToBaseAccount(t *testing.T) {
	engine := NewEngine(testCmp, &flatTaxes{analytic: true}, nil)
	line := statementLine("100")
	base := taxedDraft("", "50", 21)
	base.AnalyticAccountID = 9
	base.AnalyticTagIDs = []int64{3}
	require.NoError(t, Apply(line, Add{Proposition: base}))

	require.NoError(t, engine.ComputeLine(context.Background(), line))

	tax := line.Propositions[1]
	assert.Equal(t, base.AccountID, tax.AccountID)
	assert.Empty(t, tax.Name, "no name without a base name")
	assert.Equal(t, int64(9), tax.AnalyticAccountID)
	assert.Equal(t, []int64{3}, tax.AnalyticTagIDs)
}

func TestRecomputeRunsEachDirtyBase(t *testing.T) {
	taxes := &flatTaxes{accountID: 4510}
	engine := NewEngine(testCmp, taxes, nil)
	line := statementLine("200")
	clean := taxedDraft("Clean", "10", 21)
	clean.NeedsTaxRecompute = false
	require.NoError(t, Apply(line,
		Add{Proposition: taxedDraft("A", "50", 21)},
		Add{Proposition: clean},
		Add{Proposition: taxedDraft("B", "20", 21)},
	))

	require.NoError(t, engine.ComputeLine(context.Background(), line))

	assert.Equal(t, 2, taxes.callCount())
	names := make([]string, len(line.Propositions))
	for i, p := range line.Propositions {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"A", "A VAT21", "Clean", "B", "B VAT21"}, names)
	require.NoError(t, CheckIntegrity(line))
}

func TestRecomputeWithoutTaxesDropsTaxLines(t *testing.T) {
	taxes := &flatTaxes{}
	engine := NewEngine(testCmp, taxes, nil)
	line := statementLine("100")
	base := draftProp("Office supplies", "60.50")
	base.BaseAmount = dec("50")
	require.NoError(t, Apply(line, Add{Proposition: base}, Add{Proposition: taxLineOf(base, "10.50")}))

	line.Propositions[0].NeedsTaxRecompute = true
	require.NoError(t, engine.ComputeLine(context.Background(), line))

	require.Len(t, line.Propositions, 1)
	assertDec(t, "50", line.Propositions[0].Amount)
	assert.Zero(t, taxes.callCount())
}

func TestRecomputeForcePriceIncludeNeedsSingleTax(t *testing.T) {
	taxes := &flatTaxes{accountID: 4510}
	engine := NewEngine(testCmp, taxes, nil)
	line := statementLine("100")
	single := taxedDraft("single", "50", 21)
	single.ForceTaxIncluded = true
	double := taxedDraft("double", "50", 21, 6)
	double.ForceTaxIncluded = true
	require.NoError(t, Apply(line, Add{Proposition: single}, Add{Proposition: double}))

	require.NoError(t, engine.ComputeLine(context.Background(), line))

	byCount := map[int]bool{}
	for _, c := range taxes.calls {
		byCount[len(c.TaxIDs)] = c.ForcePriceInclude
	}
	assert.True(t, byCount[1])
	assert.False(t, byCount[2])
}

func TestRecomputeFailureLeavesLineUntouched(t *testing.T) {
	boom := errors.New("tax service down")
	engine := NewEngine(testCmp, &flatTaxes{err: boom}, nil)
	line := statementLine("100")
	require.NoError(t, Apply(line, Add{Proposition: taxedDraft("Office supplies", "50", 21)}))
	before := line.Clone()

	err := engine.ComputeLine(context.Background(), line)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, ids(before.Propositions), ids(line.Propositions))
	assert.True(t, line.Propositions[0].NeedsTaxRecompute)
}
