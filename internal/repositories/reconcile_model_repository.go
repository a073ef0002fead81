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

var ErrReconcileModelNotFound = errors.New("reconcile model not found")

// Amount types of reconcile model lines
const (
	ModelAmountPercentage = "percentage"
	ModelAmountFixed      = "fixed"
)

type ReconcileModelRepository interface {
	ListTemplates(ctx context.Context, companyIDs []int64) ([]models.Template, error)
	// Instantiate splits target over the model lines. Percentage lines take a
	// share of what is left after the previous lines.
	Instantiate(ctx context.Context, templateID int64, target decimal.Decimal, partnerID int64) ([]models.ProposedLine, error)
}

type reconcileModelRepository struct {
	db  *sql.DB
	cmp *money.Comparator
}

func NewReconcileModelRepository(db *sql.DB, cmp *money.Comparator) ReconcileModelRepository {
	return &reconcileModelRepository{db: db, cmp: cmp}
}

func (r *reconcileModelRepository) ListTemplates(ctx context.Context, companyIDs []int64) ([]models.Template, error) {
	query := `SELECT id, name, company_id FROM reconcile_models`
	var args []interface{}
	if len(companyIDs) > 0 {
		query += ` WHERE company_id IN (` + placeholders(len(companyIDs)) + `)`
		args = int64Args(companyIDs)
	}
	query += ` ORDER BY sequence, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := []models.Template{}
	for rows.Next() {
		var t models.Template
		if err := rows.Scan(&t.ID, &t.Name, &t.CompanyID); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return templates, nil
}

type modelLine struct {
	label             string
	accountID         int64
	accountType       string
	currencyID        string
	requiresTax       bool
	journalID         int64
	amountType        string
	amount            decimal.Decimal
	taxID             int64
	taxName           string
	taxPriceInclude   bool
	forceTaxIncluded  bool
	analyticAccountID int64
	toCheck           bool
}

func (r *reconcileModelRepository) Instantiate(ctx context.Context, templateID int64, target decimal.Decimal, partnerID int64) ([]models.ProposedLine, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reconcile_models WHERE id = ?`, templateID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("reconcile model %d: %w", templateID, ErrReconcileModelNotFound)
	}

	lines, err := r.modelLines(ctx, templateID)
	if err != nil {
		return nil, err
	}

	var partner models.PartnerAccounts
	if partnerID != 0 {
		err := r.db.QueryRowContext(ctx, `
			SELECT COALESCE(receivable_account_id, 0), COALESCE(payable_account_id, 0)
			FROM partners WHERE id = ?
		`, partnerID).Scan(&partner.ReceivableAccountID, &partner.PayableAccountID)
		if err != nil && err != sql.ErrNoRows {
			return nil, err
		}
	}

	sign := decimal.NewFromInt(1)
	if target.IsNegative() {
		sign = sign.Neg()
	}

	remaining := target
	proposed := make([]models.ProposedLine, 0, len(lines))
	for _, ml := range lines {
		var amount decimal.Decimal
		if ml.amountType == ModelAmountFixed {
			amount = ml.amount.Abs().Mul(sign)
		} else {
			amount = remaining.Mul(ml.amount).Div(hundred)
		}
		amount = r.cmp.Round(amount, ml.currencyID)
		remaining = remaining.Sub(amount)

		p := models.ProposedLine{
			Name:              ml.label,
			AccountID:         ml.accountID,
			AccountType:       models.AccountType(ml.accountType),
			JournalID:         ml.journalID,
			Amount:            amount,
			ForceTaxIncluded:  ml.forceTaxIncluded,
			AnalyticAccountID: ml.analyticAccountID,
			RequiresTax:       ml.requiresTax,
			ToCheck:           ml.toCheck,
		}
		switch {
		case p.AccountType == models.AccountReceivable && partner.ReceivableAccountID != 0:
			p.AccountID = partner.ReceivableAccountID
		case p.AccountType == models.AccountPayable && partner.PayableAccountID != 0:
			p.AccountID = partner.PayableAccountID
		}
		if ml.taxID != 0 {
			p.TaxIDs = []models.TaxRef{{ID: ml.taxID, Name: ml.taxName, PriceInclude: ml.taxPriceInclude}}
		}
		proposed = append(proposed, p)
	}
	return proposed, nil
}

func (r *reconcileModelRepository) modelLines(ctx context.Context, templateID int64) ([]modelLine, error) {
	query := `
		SELECT ml.label, ml.account_id, a.account_type, a.currency_id, a.requires_tax,
		       COALESCE(ml.journal_id, 0), ml.amount_type, ml.amount,
		       COALESCE(ml.tax_id, 0), COALESCE(t.name, ''), COALESCE(t.price_include, 0),
		       ml.force_tax_included, COALESCE(ml.analytic_account_id, 0), ml.to_check
		FROM reconcile_model_lines ml
		JOIN accounts a ON a.id = ml.account_id
		LEFT JOIN taxes t ON t.id = ml.tax_id
		WHERE ml.model_id = ?
		ORDER BY ml.sequence, ml.id
	`
	rows, err := r.db.QueryContext(ctx, query, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []modelLine
	for rows.Next() {
		var ml modelLine
		err := rows.Scan(
			&ml.label,
			&ml.accountID,
			&ml.accountType,
			&ml.currencyID,
			&ml.requiresTax,
			&ml.journalID,
			&ml.amountType,
			&ml.amount,
			&ml.taxID,
			&ml.taxName,
			&ml.taxPriceInclude,
			&ml.forceTaxIncluded,
			&ml.analyticAccountID,
			&ml.toCheck,
		)
		if err != nil {
			return nil, err
		}
		lines = append(lines, ml)
	}
	return lines, rows.Err()
}
