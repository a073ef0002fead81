package matching

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/money"
)

var testCmp = money.NewComparator(map[string]int32{"EUR": 2, "USD": 2, "JPY": 0})

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	if !dec(want).Equal(got) {
		assert.Fail(t, fmt.Sprintf("amount mismatch: want %s, got %s", want, got), msgAndArgs...)
	}
}

func statementLine(amount string) *models.Line {
	line := models.NewLine("line-1", models.LineTypeStatement)
	line.Amount = dec(amount)
	line.CurrencyID = "EUR"
	line.StatementLineID = 1
	return line
}

func ledgerProp(id int64, amount string) *models.Proposition {
	p := &models.Proposition{
		ID:          models.LedgerID(id),
		Name:        fmt.Sprintf("INV/%04d", id),
		Amount:      dec(amount),
		AccountID:   1100,
		AccountType: models.AccountReceivable,
	}
	p.Revalidate()
	return p
}

func draftProp(name, amount string) *models.Proposition {
	p := &models.Proposition{
		ID:          models.NewDraftID(),
		Name:        name,
		Amount:      dec(amount),
		BaseAmount:  dec(amount),
		AccountID:   6200,
		AccountType: models.AccountOther,
	}
	p.Revalidate()
	return p
}

func taxLineOf(base *models.Proposition, amount string) *models.Proposition {
	p := draftProp(base.Name+" tax", amount)
	p.Link = base.ID
	return p
}

func ids(list []*models.Proposition) []models.PropositionID {
	out := make([]models.PropositionID, len(list))
	for i, p := range list {
		out[i] = p.ID
	}
	return out
}
