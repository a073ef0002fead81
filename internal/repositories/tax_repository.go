package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/money"
)

var ErrTaxNotFound = errors.New("tax not found")

// Tax amount types
const (
	TaxAmountPercent = "percent"
	TaxAmountFixed   = "fixed"
)

// Tax is one row of the taxes table.
type Tax struct {
	ID           int64
	Name         string
	AmountType   string
	Amount       decimal.Decimal
	PriceInclude bool
	AccountID    int64
	Analytic     bool
	TagID        int64
	BaseTagID    int64
	Sequence     int
}

type TaxRepository interface {
	GetTaxes(ctx context.Context, ids []int64) ([]Tax, error)
	ComputeAll(ctx context.Context, req models.TaxRequest) (models.TaxResult, error)
}

type taxRepository struct {
	db  *sql.DB
	cmp *money.Comparator
}

func NewTaxRepository(db *sql.DB, cmp *money.Comparator) TaxRepository {
	return &taxRepository{db: db, cmp: cmp}
}

// GetTaxes loads the taxes by id in application order. Every id must exist.
func (r *taxRepository) GetTaxes(ctx context.Context, ids []int64) ([]Tax, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
		SELECT id, name, amount_type, amount, price_include,
		       COALESCE(account_id, 0), analytic,
		       COALESCE(tag_id, 0), COALESCE(base_tag_id, 0), sequence
		FROM taxes
		WHERE id IN (` + placeholders(len(ids)) + `)
		ORDER BY sequence, id
	`
	rows, err := r.db.QueryContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[int64]bool, len(ids))
	var taxes []Tax
	for rows.Next() {
		var t Tax
		err := rows.Scan(
			&t.ID,
			&t.Name,
			&t.AmountType,
			&t.Amount,
			&t.PriceInclude,
			&t.AccountID,
			&t.Analytic,
			&t.TagID,
			&t.BaseTagID,
			&t.Sequence,
		)
		if err != nil {
			return nil, err
		}
		found[t.ID] = true
		taxes = append(taxes, t)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if !found[id] {
			return nil, fmt.Errorf("tax %d: %w", id, ErrTaxNotFound)
		}
	}
	return taxes, nil
}

func (r *taxRepository) ComputeAll(ctx context.Context, req models.TaxRequest) (models.TaxResult, error) {
	taxes, err := r.GetTaxes(ctx, req.TaxIDs)
	if err != nil {
		return models.TaxResult{}, err
	}
	return ComputeTaxes(taxes, req, r.cmp.Precision(req.CurrencyID)), nil
}

var hundred = decimal.NewFromInt(100)

// ComputeTaxes splits req.BaseAmount into a tax-exclusive base and one amount
// per tax. Price-included taxes are extracted from the base amount; the
// rounding residual of the extraction goes to the last included tax so the
// base plus included taxes always equals the amount entered.
func ComputeTaxes(taxes []Tax, req models.TaxRequest, precision int32) models.TaxResult {
	round := func(d decimal.Decimal) decimal.Decimal {
		if !req.RoundPerLine {
			return d
		}
		return d.Round(precision)
	}

	sign := decimal.NewFromInt(1)
	if req.BaseAmount.IsNegative() {
		sign = sign.Neg()
	}
	included := func(t Tax) bool {
		return t.PriceInclude || req.ForcePriceInclude
	}

	percentIncluded := decimal.Zero
	fixedIncluded := decimal.Zero
	lastIncluded := -1
	for i, t := range taxes {
		if !included(t) {
			continue
		}
		lastIncluded = i
		if t.AmountType == TaxAmountFixed {
			fixedIncluded = fixedIncluded.Add(t.Amount.Mul(sign))
		} else {
			percentIncluded = percentIncluded.Add(t.Amount)
		}
	}

	base := req.BaseAmount
	if lastIncluded >= 0 {
		base = req.BaseAmount.Sub(fixedIncluded).Div(decimal.NewFromInt(1).Add(percentIncluded.Div(hundred)))
	}
	base = base.Round(precision)

	amounts := make([]decimal.Decimal, len(taxes))
	includedTotal := decimal.Zero
	for i, t := range taxes {
		if t.AmountType == TaxAmountFixed {
			amounts[i] = round(t.Amount.Mul(sign))
		} else {
			amounts[i] = round(base.Mul(t.Amount).Div(hundred))
		}
		if included(t) {
			includedTotal = includedTotal.Add(amounts[i])
		}
	}
	if lastIncluded >= 0 {
		residual := req.BaseAmount.Sub(base).Sub(includedTotal)
		amounts[lastIncluded] = amounts[lastIncluded].Add(residual)
	}

	result := models.TaxResult{Base: base}
	seenTags := make(map[int64]bool)
	for i, t := range taxes {
		comp := models.TaxComponent{
			TaxID:             t.ID,
			Name:              t.Name,
			Amount:            amounts[i],
			Base:              base,
			AccountID:         t.AccountID,
			RepartitionLineID: t.ID,
			Analytic:          t.Analytic,
		}
		if t.TagID != 0 {
			comp.TagIDs = []int64{t.TagID}
		}
		if t.BaseTagID != 0 && !seenTags[t.BaseTagID] {
			seenTags[t.BaseTagID] = true
			result.BaseTags = append(result.BaseTags, t.BaseTagID)
		}
		result.Taxes = append(result.Taxes, comp)
	}
	return result
}
