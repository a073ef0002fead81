package matching

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconciliation-engine/internal/models"
)

func TestBalanceWithoutPropositions(t *testing.T) {
	line := statementLine("100")
	b := ComputeBalance(testCmp, line)

	assertDec(t, "100", b.Amount)
	assert.Equal(t, "100.00", b.AmountStr)
	assert.True(t, b.ShowBalance)
	assert.Equal(t, models.BalanceDebitLike, b.Kind)
	assert.Empty(t, b.ForeignCurrencyID)

	negative := statementLine("-42.5")
	assert.Equal(t, models.BalanceCreditLike, ComputeBalance(testCmp, negative).Kind)
}

func TestBalanceKinds(t *testing.T) {
	tests := []struct {
		name    string
		amounts []string
		want    models.BalanceKind
		show    bool
	}{
		{name: "balanced", amounts: []string{"60", "40"}, want: models.BalanceBalanced},
		{name: "balanced within precision", amounts: []string{"99.996"}, want: models.BalanceBalanced},
		{name: "all debit", amounts: []string{"30"}, want: models.BalanceDebitLike, show: true},
		{name: "all credit", amounts: []string{"-30", "-5"}, want: models.BalanceCreditLike, show: true},
		{name: "mixed", amounts: []string{"150", "-20"}, want: models.BalanceCreditLike, show: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := statementLine("100")
			for i, a := range tt.amounts {
				require.NoError(t, Apply(line, Add{Proposition: ledgerProp(int64(i+1), a)}))
			}
			b := ComputeBalance(testCmp, line)
			assert.Equal(t, tt.want, b.Kind)
			assert.Equal(t, tt.show, b.ShowBalance)
		})
	}
}

func TestBalanceUsesPartialAmounts(t *testing.T) {
	line := statementLine("100")
	p := ledgerProp(1, "300")
	p.SetPartial(dec("75"))
	require.NoError(t, Apply(line, Add{Proposition: p}))

	assertDec(t, "25", ComputeBalance(testCmp, line).Amount)
}

func TestBalanceSkipsInvalidDrafts(t *testing.T) {
	line := statementLine("100")
	noAccount := draftProp("Bank fees", "10")
	noAccount.AccountID = 0
	noAccount.Revalidate()
	focused := draftProp("", "20")
	require.NoError(t, Apply(line, Add{Proposition: noAccount}, Add{Proposition: focused, Focus: true}))

	b := ComputeBalance(testCmp, line)

	assertDec(t, "100", b.Amount)
	assert.True(t, line.Propositions[0].IsInvalid())
	assert.False(t, line.Propositions[0].Display)
	assert.True(t, line.Propositions[1].IsInvalid())
	assert.True(t, line.Propositions[1].Display, "the row being edited stays visible")
	assert.Equal(t, "20.00", line.Propositions[1].DisplayAmount)
	assert.False(t, IsEligibleForCommit(testCmp, line))
}

func TestBalanceDefersPendingTaxLines(t *testing.T) {
	line := statementLine("100")
	base := draftProp("Office supplies", "50")
	require.NoError(t, Apply(line, Add{Proposition: base}, Add{Proposition: taxLineOf(base, "10.50")}))

	assertDec(t, "39.5", ComputeBalance(testCmp, line).Amount)

	line.Propositions[0].NeedsTaxRecompute = true
	assertDec(t, "50", ComputeBalance(testCmp, line).Amount)
}

func TestBalanceForeignCurrency(t *testing.T) {
	line := statementLine("0")
	p := ledgerProp(1, "45")
	p.CurrencyID = "USD"
	p.AmountCurrency = decimal.NewNullDecimal(dec("50"))
	require.NoError(t, Apply(line, Add{Proposition: p}))

	b := ComputeBalance(testCmp, line)

	assert.Equal(t, "USD", b.ForeignCurrencyID)
	assertDec(t, "-45", b.Amount)
	assertDec(t, "-50", b.AmountCurrency)
	assert.Equal(t, "50.00", b.AmountCurrencyStr)
	assert.Equal(t, models.BalanceDebitLike, b.Kind)

	settle := ledgerProp(2, "-45")
	settle.CurrencyID = "USD"
	settle.AmountCurrency = decimal.NewNullDecimal(dec("-50"))
	require.NoError(t, Apply(line, Add{Proposition: settle}))

	b = ComputeBalance(testCmp, line)
	assertDec(t, "0", b.AmountCurrency)
	assert.Equal(t, models.BalanceBalanced, b.Kind)
	assert.False(t, b.ShowBalance)
}

func TestBalanceForeignTrackingDisabled(t *testing.T) {
	mixed := statementLine("0")
	usd := ledgerProp(1, "45")
	usd.CurrencyID = "USD"
	gbp := ledgerProp(2, "10")
	gbp.CurrencyID = "GBP"
	require.NoError(t, Apply(mixed, Add{Proposition: usd}, Add{Proposition: gbp}))
	assert.Empty(t, ComputeBalance(testCmp, mixed).ForeignCurrencyID)

	native := statementLine("45")
	require.NoError(t, Apply(native, Add{Proposition: usd.Clone()}))
	assert.Empty(t, ComputeBalance(testCmp, native).ForeignCurrencyID)
}

func TestBalanceAggregatesToCheck(t *testing.T) {
	line := statementLine("100")
	p := ledgerProp(1, "10")
	p.ToCheck = true
	require.NoError(t, Apply(line, Add{Proposition: p}))

	ComputeBalance(testCmp, line)
	assert.True(t, line.ToCheck)

	require.NoError(t, Apply(line, Remove{ID: p.ID}))
	ComputeBalance(testCmp, line)
	assert.False(t, line.ToCheck)
}

func TestEligibilityMatchesZeroBalance(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	amounts := []string{"25", "50", "-25", "100", "0.004"}

	for round := 0; round < 300; round++ {
		line := statementLine("100")
		next := int64(1)
		for step := 0; step < 12; step++ {
			switch {
			case len(line.Propositions) > 0 && rng.Intn(3) == 0:
				victim := line.Propositions[rng.Intn(len(line.Propositions))]
				require.NoError(t, Apply(line, Remove{ID: victim.ID}))
			case rng.Intn(4) == 0:
				draft := draftProp("write-off", amounts[rng.Intn(len(amounts))])
				if rng.Intn(3) == 0 {
					draft.AccountID = 0
				}
				require.NoError(t, Apply(line, Add{Proposition: draft}))
			default:
				require.NoError(t, Apply(line, Add{Proposition: ledgerProp(next, amounts[rng.Intn(len(amounts))])}))
				next++
			}
			line.Balance = ComputeBalance(testCmp, line)

			want := testCmp.IsZero(line.Balance.Amount, "EUR") && len(line.ValidPropositions()) > 0
			assert.Equal(t, want, IsEligibleForCommit(testCmp, line))
		}
	}
}

func TestInvalidDraftOnlyIsNotEligible(t *testing.T) {
	line := statementLine("0")
	draft := draftProp("", "10")
	require.True(t, draft.IsInvalid())
	require.NoError(t, Apply(line, Add{Proposition: draft, Focus: true}))
	line.Balance = ComputeBalance(testCmp, line)

	require.True(t, line.Balance.Amount.IsZero())
	assert.False(t, IsEligibleForCommit(testCmp, line))
	assert.False(t, IsEmptyBalance(testCmp, line))
}

func TestEmptyBalance(t *testing.T) {
	line := statementLine("0")
	line.Balance = ComputeBalance(testCmp, line)
	assert.True(t, IsEmptyBalance(testCmp, line))
	assert.False(t, IsEligibleForCommit(testCmp, line))

	line.Reconciled = true
	assert.False(t, IsEmptyBalance(testCmp, line))
}
