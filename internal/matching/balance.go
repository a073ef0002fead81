package matching

import (
	"github.com/shopspring/decimal"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/money"
)

// ComputeBalance refreshes the derived fields of every proposition (validity,
// display flag, formatted amount), the line's toCheck flag, and returns the
// balance of the line. Tax sub-lines of a base still waiting for tax
// recomputation are left out of the totals.
func ComputeBalance(cmp *money.Comparator, line *models.Line) models.Balance {
	currency := line.CurrencyID
	pending := make(map[models.PropositionID]bool)
	for _, p := range line.Propositions {
		if !p.IsTaxLine() && p.NeedsTaxRecompute {
			pending[p.ID] = true
		}
	}

	line.ToCheck = false
	var included []*models.Proposition
	for _, p := range line.Propositions {
		p.Revalidate()
		p.Display = !p.IsInvalid() || p.ID == line.FocusedPropositionID
		p.DisplayAmount = cmp.Format(p.Amount.Abs(), currency)
		if p.ToCheck {
			line.ToCheck = true
		}
		if p.IsInvalid() || (p.IsTaxLine() && pending[p.Link]) {
			continue
		}
		included = append(included, p)
	}

	foreign := foreignCurrency(cmp, line, included)

	total := line.Amount
	amountCurrency := decimal.Zero
	for _, p := range included {
		total = total.Sub(p.Effective())
		if foreign != "" {
			sign := decimal.NewFromInt(1)
			if p.Amount.IsNegative() {
				sign = sign.Neg()
			}
			amountCurrency = amountCurrency.Sub(sign.Mul(p.AmountCurrency.Decimal.Abs()))
		}
	}
	total = cmp.Round(total, currency)

	balance := models.Balance{
		Amount:         total,
		AmountStr:      cmp.Format(total.Abs(), currency),
		AmountCurrency: total,
	}
	reference, refCurrency := total, currency
	if foreign != "" {
		amountCurrency = cmp.Round(amountCurrency, foreign)
		balance.AmountCurrency = amountCurrency
		balance.AmountCurrencyStr = cmp.Format(amountCurrency.Abs(), foreign)
		balance.ForeignCurrencyID = foreign
		reference, refCurrency = amountCurrency, foreign
	}
	balance.ShowBalance = !cmp.IsZero(reference, refCurrency)
	balance.Kind = classify(cmp, reference, refCurrency, included)
	return balance
}

// foreignCurrency returns the single foreign currency shared by all valid
// propositions, or "" when foreign tracking does not apply: the line carries
// a native amount, or the propositions mix currencies.
func foreignCurrency(cmp *money.Comparator, line *models.Line, valid []*models.Proposition) string {
	if !cmp.IsZero(line.Amount, line.CurrencyID) || len(valid) == 0 {
		return ""
	}
	found := ""
	for _, p := range valid {
		c := p.CurrencyID
		if c == "" {
			c = line.CurrencyID
		}
		if found == "" {
			found = c
			continue
		}
		if c != found {
			return ""
		}
	}
	if found == line.CurrencyID {
		return ""
	}
	return found
}

func classify(cmp *money.Comparator, reference decimal.Decimal, currency string, valid []*models.Proposition) models.BalanceKind {
	if cmp.IsZero(reference, currency) && len(valid) > 0 {
		return models.BalanceBalanced
	}
	var debit, credit bool
	for _, p := range valid {
		switch p.Amount.Sign() {
		case 1:
			debit = true
		case -1:
			credit = true
		}
	}
	switch {
	case debit && credit:
		// mixed sides are ambiguous and reported as credit-like
		return models.BalanceCreditLike
	case debit:
		return models.BalanceDebitLike
	case credit:
		return models.BalanceCreditLike
	case reference.IsNegative():
		return models.BalanceCreditLike
	default:
		return models.BalanceDebitLike
	}
}

// IsEligibleForCommit reports whether a line can be validated: it is not yet
// reconciled, its balance is zero and it holds at least one valid proposition.
func IsEligibleForCommit(cmp *money.Comparator, line *models.Line) bool {
	return !line.Reconciled && cmp.IsZero(line.Balance.Amount, line.CurrencyID) && len(line.ValidPropositions()) > 0
}

// IsEmptyBalance reports whether a line is settled without any proposition,
// the case cleared by the auto-clear bulk action.
func IsEmptyBalance(cmp *money.Comparator, line *models.Line) bool {
	return !line.Reconciled && cmp.IsZero(line.Balance.Amount, line.CurrencyID) && len(line.Propositions) == 0
}
