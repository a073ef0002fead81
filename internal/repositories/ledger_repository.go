package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"reconciliation-engine/internal/models"
)

var (
	ErrLedgerLineNotFound = errors.New("ledger line not found")
	ErrAlreadyReconciled  = errors.New("already reconciled")
	ErrUnsupportedType    = errors.New("unsupported line type")
)

type LedgerRepository interface {
	InsertLedgerLine(ctx context.Context, tx *sql.Tx, entry *models.LedgerLine, statementLineID int64) error
	InsertReconciledLine(ctx context.Context, tx *sql.Tx, entry *models.LedgerLine, reconcileModelID int64) error
	GetLedgerLineByID(ctx context.Context, id int64) (*models.LedgerLine, error)
	// Settle reduces the residual of an open entry. A nil amount settles the
	// whole residual. It returns the settled amount, signed like the residual,
	// and whether the entry is now fully reconciled.
	Settle(ctx context.Context, tx *sql.Tx, id int64, amount *decimal.Decimal) (decimal.Decimal, bool, error)
	FetchCandidateLines(ctx context.Context, q models.CandidateQuery) (models.CandidatePage, error)
	FetchOpenItems(ctx context.Context, lineType models.LineType, scopeIDs []int64) ([]models.OpenItem, error)
}

type ledgerRepository struct {
	db         *sql.DB
	statements StatementRepository
}

func NewLedgerRepository(db *sql.DB, statements StatementRepository) LedgerRepository {
	return &ledgerRepository{db: db, statements: statements}
}

const ledgerColumns = `
	l.id, l.name, l.date, l.residual, l.amount_currency,
	COALESCE(l.currency_id, ''), l.account_id, a.code, a.account_type,
	l.journal_id, COALESCE(l.partner_id, 0)
`

func scanLedgerLine(scan func(dest ...interface{}) error) (models.LedgerLine, error) {
	var entry models.LedgerLine
	var date dateString
	var accountType string
	err := scan(
		&entry.ID,
		&entry.Name,
		&date,
		&entry.Amount,
		&entry.AmountCurrency,
		&entry.CurrencyID,
		&entry.AccountID,
		&entry.AccountCode,
		&accountType,
		&entry.JournalID,
		&entry.PartnerID,
	)
	if err != nil {
		return entry, err
	}
	entry.Date = string(date)
	entry.AccountType = models.AccountType(accountType)
	entry.Liquidity = entry.AccountType == models.AccountLiquidity
	return entry, nil
}

func (r *ledgerRepository) InsertLedgerLine(ctx context.Context, tx *sql.Tx, entry *models.LedgerLine, statementLineID int64) error {
	query := `
		INSERT INTO ledger_lines (
			name, date, amount, residual, amount_currency, currency_id,
			account_id, journal_id, partner_id, statement_line_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var currency interface{}
	if entry.CurrencyID != "" {
		currency = entry.CurrencyID
	}
	result, err := tx.ExecContext(ctx, query,
		entry.Name,
		entry.Date,
		entry.Amount,
		entry.Amount,
		entry.AmountCurrency,
		currency,
		entry.AccountID,
		entry.JournalID,
		nullableID(entry.PartnerID),
		nullableID(statementLineID),
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = id
	return nil
}

// InsertReconciledLine books an entry created by a reconciliation. It is
// settled from the start.
func (r *ledgerRepository) InsertReconciledLine(ctx context.Context, tx *sql.Tx, entry *models.LedgerLine, reconcileModelID int64) error {
	query := `
		INSERT INTO ledger_lines (
			name, date, amount, residual, currency_id, account_id,
			journal_id, partner_id, reconcile_model_id, reconciled
		) VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?, 1)
	`
	var currency interface{}
	if entry.CurrencyID != "" {
		currency = entry.CurrencyID
	}
	result, err := tx.ExecContext(ctx, query,
		entry.Name,
		entry.Date,
		entry.Amount,
		currency,
		entry.AccountID,
		entry.JournalID,
		nullableID(entry.PartnerID),
		nullableID(reconcileModelID),
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = id
	return nil
}

func (r *ledgerRepository) GetLedgerLineByID(ctx context.Context, id int64) (*models.LedgerLine, error) {
	query := `SELECT ` + ledgerColumns + `
		FROM ledger_lines l
		JOIN accounts a ON a.id = l.account_id
		WHERE l.id = ?
	`
	entry, err := scanLedgerLine(r.db.QueryRowContext(ctx, query, id).Scan)
	if err == sql.ErrNoRows {
		return nil, ErrLedgerLineNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *ledgerRepository) Settle(ctx context.Context, tx *sql.Tx, id int64, amount *decimal.Decimal) (decimal.Decimal, bool, error) {
	var residual decimal.Decimal
	var reconciled bool
	err := tx.QueryRowContext(ctx,
		`SELECT residual, reconciled FROM ledger_lines WHERE id = ?`, id,
	).Scan(&residual, &reconciled)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, fmt.Errorf("ledger line %d: %w", id, ErrLedgerLineNotFound)
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	if reconciled {
		return decimal.Zero, false, fmt.Errorf("ledger line %d: %w", id, ErrAlreadyReconciled)
	}

	remaining := decimal.Zero
	if amount != nil && amount.Abs().LessThan(residual.Abs()) {
		settled := amount.Abs()
		if residual.IsNegative() {
			settled = settled.Neg()
		}
		remaining = residual.Sub(settled)
	}
	full := remaining.IsZero()

	result, err := tx.ExecContext(ctx, `
		UPDATE ledger_lines
		SET residual = ?, reconciled = ?
		WHERE id = ? AND reconciled = 0
	`, remaining, full, id)
	if err != nil {
		return decimal.Zero, false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return decimal.Zero, false, err
	}
	if rowsAffected == 0 {
		return decimal.Zero, false, fmt.Errorf("ledger line %d: %w", id, ErrAlreadyReconciled)
	}
	return residual.Sub(remaining), full, nil
}

// FetchCandidateLines returns one page of open entries for a match mode,
// ordered by date, plus the number of entries matching the filter.
func (r *ledgerRepository) FetchCandidateLines(ctx context.Context, q models.CandidateQuery) (models.CandidatePage, error) {
	where := []string{"l.reconciled = 0"}
	var args []interface{}

	if q.StatementLineID != 0 {
		where = append(where, "(l.statement_line_id IS NULL OR l.statement_line_id = ?)")
		args = append(args, q.StatementLineID)
	}

	switch q.Mode {
	case models.ModeMatchRP:
		where = append(where, "a.account_type IN ('receivable', 'payable')")
		if q.PartnerID != 0 {
			where = append(where, "l.partner_id = ?")
			args = append(args, q.PartnerID)
		}
	case models.ModeMatchOther:
		where = append(where, "a.account_type NOT IN ('receivable', 'payable')")
	case models.ModeMatch:
		if q.AccountID != 0 {
			where = append(where, "l.account_id = ?")
			args = append(args, q.AccountID)
		}
		if q.PartnerID != 0 {
			where = append(where, "l.partner_id = ?")
			args = append(args, q.PartnerID)
		}
	default:
		return models.CandidatePage{}, fmt.Errorf("mode %q does not fetch candidates", q.Mode)
	}

	if len(q.ExcludedIDs) > 0 {
		where = append(where, "l.id NOT IN ("+placeholders(len(q.ExcludedIDs))+")")
		args = append(args, int64Args(q.ExcludedIDs)...)
	}
	if text := strings.TrimSpace(q.SearchText); text != "" {
		pattern := "%" + text + "%"
		where = append(where, "(l.name LIKE ? OR a.code LIKE ?)")
		args = append(args, pattern, pattern)
	}

	from := `
		FROM ledger_lines l
		JOIN accounts a ON a.id = l.account_id
		WHERE ` + strings.Join(where, " AND ")

	var page models.CandidatePage
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) `+from, args...).Scan(&page.Total); err != nil {
		return page, err
	}
	if page.Total == 0 {
		return page, nil
	}

	query := `SELECT ` + ledgerColumns + from + ` ORDER BY l.date, l.id`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return page, err
	}
	defer rows.Close()

	for rows.Next() {
		entry, err := scanLedgerLine(rows.Scan)
		if err != nil {
			return page, err
		}
		page.Lines = append(page.Lines, entry)
	}
	if err = rows.Err(); err != nil {
		return page, err
	}
	return page, nil
}

// FetchOpenItems lists the lines a session starts from. scopeIDs are journal
// ids for statement lines, account ids for accounts and partner ids for
// customers and suppliers. An empty scope loads everything open.
func (r *ledgerRepository) FetchOpenItems(ctx context.Context, lineType models.LineType, scopeIDs []int64) ([]models.OpenItem, error) {
	switch lineType {
	case models.LineTypeStatement:
		return r.openStatementItems(ctx, scopeIDs)
	case models.LineTypeAccounts:
		return r.openAccountItems(ctx, scopeIDs)
	case models.LineTypeCustomers:
		return r.openPartnerItems(ctx, lineType, "receivable_account_id", scopeIDs)
	case models.LineTypeSuppliers:
		return r.openPartnerItems(ctx, lineType, "payable_account_id", scopeIDs)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, lineType)
	}
}

func (r *ledgerRepository) openStatementItems(ctx context.Context, journalIDs []int64) ([]models.OpenItem, error) {
	open, err := r.statements.GetOpenStatementLines(ctx, journalIDs)
	if err != nil {
		return nil, err
	}

	items := make([]models.OpenItem, 0, len(open))
	for i := range open {
		st := open[i].Line
		item := models.OpenItem{
			Type:          models.LineTypeStatement,
			StatementLine: &st,
			PartnerID:     open[i].PartnerID,
			PartnerName:   open[i].PartnerName,
			CurrencyID:    st.CurrencyID,
		}
		if item.PartnerID != 0 {
			item.OpenBalanceAccountID = open[i].ReceivableAccountID
			if st.Amount.IsNegative() {
				item.OpenBalanceAccountID = open[i].PayableAccountID
			}
		}
		if item.Proposed, err = r.proposedFor(ctx, st.ID); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (r *ledgerRepository) proposedFor(ctx context.Context, statementLineID int64) ([]models.LedgerLine, error) {
	query := `SELECT ` + ledgerColumns + `
		FROM ledger_lines l
		JOIN accounts a ON a.id = l.account_id
		WHERE l.reconciled = 0 AND l.statement_line_id = ?
		ORDER BY l.date, l.id
	`
	rows, err := r.db.QueryContext(ctx, query, statementLineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerLine
	for rows.Next() {
		entry, err := scanLedgerLine(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *ledgerRepository) openAccountItems(ctx context.Context, accountIDs []int64) ([]models.OpenItem, error) {
	query := `
		SELECT a.id, a.currency_id
		FROM accounts a
		WHERE EXISTS (
			SELECT 1 FROM ledger_lines l
			WHERE l.account_id = a.id AND l.reconciled = 0
		)
	`
	var args []interface{}
	if len(accountIDs) > 0 {
		query += ` AND a.id IN (` + placeholders(len(accountIDs)) + `)`
		args = int64Args(accountIDs)
	}
	query += ` ORDER BY a.code`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.OpenItem
	for rows.Next() {
		item := models.OpenItem{Type: models.LineTypeAccounts}
		if err := rows.Scan(&item.AccountID, &item.CurrencyID); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// openPartnerItems lists partners with open entries on their receivable or
// payable account, named by accountColumn.
func (r *ledgerRepository) openPartnerItems(ctx context.Context, lineType models.LineType, accountColumn string, partnerIDs []int64) ([]models.OpenItem, error) {
	query := `
		SELECT p.id, p.name, a.id, a.currency_id
		FROM partners p
		JOIN accounts a ON a.id = p.` + accountColumn + `
		WHERE EXISTS (
			SELECT 1 FROM ledger_lines l
			WHERE l.partner_id = p.id AND l.account_id = a.id AND l.reconciled = 0
		)
	`
	var args []interface{}
	if len(partnerIDs) > 0 {
		query += ` AND p.id IN (` + placeholders(len(partnerIDs)) + `)`
		args = int64Args(partnerIDs)
	}
	query += ` ORDER BY p.name, p.id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.OpenItem
	for rows.Next() {
		item := models.OpenItem{Type: lineType}
		if err := rows.Scan(&item.PartnerID, &item.PartnerName, &item.AccountID, &item.CurrencyID); err != nil {
			return nil, err
		}
		item.OpenBalanceAccountID = item.AccountID
		items = append(items, item)
	}
	return items, rows.Err()
}
