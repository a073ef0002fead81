package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"reconciliation-engine/internal/models"
)

var ErrStatementLineNotFound = errors.New("statement line not found")

// OpenStatementLine is an unreconciled statement line with its partner.
type OpenStatementLine struct {
	Line                models.StatementLine
	PartnerID           int64
	PartnerName         string
	ReceivableAccountID int64
	PayableAccountID    int64
}

type StatementRepository interface {
	InsertStatementLine(ctx context.Context, tx *sql.Tx, st *models.StatementLine, partnerID int64) error
	GetStatementLineByID(ctx context.Context, id int64) (*models.StatementLine, error)
	GetOpenStatementLines(ctx context.Context, journalIDs []int64) ([]OpenStatementLine, error)
	MarkReconciled(ctx context.Context, tx *sql.Tx, id int64) error
}

type statementRepository struct {
	db *sql.DB
}

func NewStatementRepository(db *sql.DB) StatementRepository {
	return &statementRepository{db: db}
}

func (r *statementRepository) InsertStatementLine(ctx context.Context, tx *sql.Tx, st *models.StatementLine, partnerID int64) error {
	query := `
		INSERT INTO statement_lines (
			name, date, amount, amount_currency,
			currency_id, journal_id, company_id, partner_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, query,
		st.Name,
		st.Date,
		st.Amount,
		st.AmountCurrency,
		st.CurrencyID,
		st.JournalID,
		st.CompanyID,
		nullableID(partnerID),
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	st.ID = id
	return nil
}

func (r *statementRepository) GetStatementLineByID(ctx context.Context, id int64) (*models.StatementLine, error) {
	st := &models.StatementLine{}
	var date dateString
	query := `
		SELECT id, name, date, amount, amount_currency,
		       currency_id, journal_id, company_id
		FROM statement_lines
		WHERE id = ?
	`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&st.ID,
		&st.Name,
		&date,
		&st.Amount,
		&st.AmountCurrency,
		&st.CurrencyID,
		&st.JournalID,
		&st.CompanyID,
	)
	if err == sql.ErrNoRows {
		return nil, ErrStatementLineNotFound
	}
	if err != nil {
		return nil, err
	}
	st.Date = string(date)
	return st, nil
}

// GetOpenStatementLines returns the unreconciled lines of the given journals,
// or of every journal when journalIDs is empty.
func (r *statementRepository) GetOpenStatementLines(ctx context.Context, journalIDs []int64) ([]OpenStatementLine, error) {
	query := `
		SELECT s.id, s.name, s.date, s.amount, s.amount_currency,
		       s.currency_id, s.journal_id, s.company_id,
		       COALESCE(s.partner_id, 0), COALESCE(p.name, ''),
		       COALESCE(p.receivable_account_id, 0), COALESCE(p.payable_account_id, 0)
		FROM statement_lines s
		LEFT JOIN partners p ON p.id = s.partner_id
		WHERE s.reconciled = 0
	`
	var args []interface{}
	if len(journalIDs) > 0 {
		query += ` AND s.journal_id IN (` + placeholders(len(journalIDs)) + `)`
		args = int64Args(journalIDs)
	}
	query += ` ORDER BY s.date, s.id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []OpenStatementLine
	for rows.Next() {
		var open OpenStatementLine
		var date dateString
		err := rows.Scan(
			&open.Line.ID,
			&open.Line.Name,
			&date,
			&open.Line.Amount,
			&open.Line.AmountCurrency,
			&open.Line.CurrencyID,
			&open.Line.JournalID,
			&open.Line.CompanyID,
			&open.PartnerID,
			&open.PartnerName,
			&open.ReceivableAccountID,
			&open.PayableAccountID,
		)
		if err != nil {
			return nil, err
		}
		open.Line.Date = string(date)
		lines = append(lines, open)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *statementRepository) MarkReconciled(ctx context.Context, tx *sql.Tx, id int64) error {
	query := `
		UPDATE statement_lines
		SET reconciled = 1
		WHERE id = ? AND reconciled = 0
	`
	result, err := tx.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("statement line %d: %w", id, ErrAlreadyReconciled)
	}
	return nil
}
