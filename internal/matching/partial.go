package matching

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/money"
)

// PartialOutcome reports what happened to a manually entered partial amount.
// Warning is set only when the input was not a number at all.
type PartialOutcome struct {
	Accepted bool            `json:"accepted"`
	Amount   decimal.Decimal `json:"amount"`
	Reason   string          `json:"reason,omitempty"`
	Warning  string          `json:"warning,omitempty"`
}

// SuggestPartial proposes a partial amount when p would overshoot the
// remaining balance of its line: the partial is the remaining balance itself,
// so that adding p settles the line exactly. Liquidity entries and tax
// sub-lines are never partially suggested. It reports whether a partial was set.
func SuggestPartial(cmp *money.Comparator, remaining decimal.Decimal, p *models.Proposition, currencyID string) bool {
	if p.Liquidity || p.IsTaxLine() || cmp.IsZero(remaining, currencyID) {
		return false
	}
	effective := p.Effective().Abs()
	if cmp.Compare(effective, remaining.Abs(), currencyID) <= 0 {
		return false
	}
	p.SetPartial(fillSide(cmp.Round(remaining, currencyID), remaining, p))
	return true
}

// fillSide signs a partial magnitude like the residual it fills. A settled
// residual falls back to the sign of the entry.
func fillSide(magnitude, residual decimal.Decimal, p *models.Proposition) decimal.Decimal {
	side := residual
	if side.IsZero() {
		side = p.Amount
	}
	if side.IsNegative() {
		return magnitude.Abs().Neg()
	}
	return magnitude.Abs()
}

// residualWithout is the balance of the line once p is taken out of it.
func residualWithout(line *models.Line, p *models.Proposition) decimal.Decimal {
	residual := line.Balance.Amount
	if current := line.Find(p.ID); current != nil && !current.IsInvalid() {
		residual = residual.Add(current.Effective())
	}
	return residual
}

// RefreshPartialPreview allocates the statement amount, net of write-offs,
// over the ledger entries of the line in insertion order. Each entry absorbs
// as much of the remaining amount as its own amount allows; the first entry
// that cannot be fully absorbed becomes partial. Order is significant.
func RefreshPartialPreview(cmp *money.Comparator, line *models.Line) {
	currency := line.CurrencyID
	remaining := line.Amount.Add(WriteOffTotal(line))

	for _, p := range line.Propositions {
		if !p.ID.IsLedger() || p.Liquidity || p.IsInvalid() || p.IsTaxLine() {
			continue
		}
		full := p.Amount.Abs()
		impact := decimal.Min(remaining.Abs(), full)
		if cmp.IsZero(remaining, currency) || cmp.Equal(impact, full, currency) {
			p.ClearPartial()
			remaining = remaining.Sub(p.Amount)
			continue
		}
		partial := cmp.Round(fillSide(impact, remaining, p), currency)
		p.SetPartial(partial)
		remaining = remaining.Sub(partial)
	}
}

// WriteOffTotal is the balance contribution of the valid draft propositions
// (manual write-offs and their taxes), signed like the line balance.
func WriteOffTotal(line *models.Line) decimal.Decimal {
	total := decimal.Zero
	for _, p := range line.Propositions {
		if p.ID.IsDraft() && !p.IsInvalid() {
			total = total.Sub(p.Effective())
		}
	}
	return total
}

// ApplyManualPartial validates a user supplied partial amount for p, a
// proposition of line. The input must be a positive number strictly below the
// absolute amount of p; the partial is signed like the residual of the line
// without p. Any other input clears the partial. line.Balance must be current.
func ApplyManualPartial(cmp *money.Comparator, line *models.Line, p *models.Proposition, input string) PartialOutcome {
	currencyID := line.CurrencyID
	residual := residualWithout(line, p)
	if cmp.IsZero(residual, currencyID) {
		residual = decimal.Zero
	}
	raw := strings.TrimSpace(input)
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		p.ClearPartial()
		return PartialOutcome{
			Reason:  "not a number",
			Warning: fmt.Sprintf("The amount %q is not a valid partial amount", raw),
		}
	}
	if cmp.Compare(amount, decimal.Zero, currencyID) <= 0 {
		p.ClearPartial()
		return PartialOutcome{Reason: "partial amount must be positive"}
	}
	if cmp.Compare(amount, p.Amount.Abs(), currencyID) >= 0 {
		p.ClearPartial()
		return PartialOutcome{Reason: "partial amount must be lower than the proposition amount"}
	}
	amount = fillSide(cmp.Round(amount, currencyID), residual, p)
	p.SetPartial(amount)
	return PartialOutcome{Accepted: true, Amount: amount}
}

// PartialPreview returns the formatted amount that would settle the line if
// p were reconciled partially: the line's remaining balance without p when
// that is smaller than p, the full amount of p otherwise.
func PartialPreview(cmp *money.Comparator, line *models.Line, p *models.Proposition) string {
	currency := line.CurrencyID
	without := residualWithout(line, p)
	amount := p.Amount.Abs()
	if !cmp.IsZero(without, currency) && cmp.Compare(without.Abs(), amount, currency) < 0 {
		amount = without.Abs()
	}
	return cmp.Format(amount, currency)
}
