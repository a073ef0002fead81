package repositories

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"reconciliation-engine/internal/money"
)

// openTestDB returns an in-memory database with the adapter schema applied.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1) // sqlite
	db.SetConnMaxLifetime(0)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile("testdata/schema.sql")
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)
	return db
}

func testCmp() *money.Comparator {
	return money.NewComparator(map[string]int32{"EUR": 2, "USD": 2, "JPY": 0})
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func exec(t *testing.T, db *sql.DB, query string, args ...interface{}) int64 {
	t.Helper()
	res, err := db.Exec(query, args...)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

type fixture struct {
	db         *sql.DB
	bank       int64
	receivable int64
	payable    int64
	income     int64
	taxAccount int64
	customer   int64
	supplier   int64
}

// seed creates a small chart of accounts and two partners.
func seed(t *testing.T) fixture {
	t.Helper()
	db := openTestDB(t)
	exec(t, db, `INSERT INTO currencies (code, decimal_places) VALUES ('EUR', 2), ('JPY', 0)`)

	f := fixture{db: db}
	f.bank = exec(t, db, `INSERT INTO accounts (code, name, account_type, currency_id) VALUES ('1000', 'Bank', 'liquidity', 'EUR')`)
	f.receivable = exec(t, db, `INSERT INTO accounts (code, name, account_type, currency_id) VALUES ('1100', 'Receivable', 'receivable', 'EUR')`)
	f.payable = exec(t, db, `INSERT INTO accounts (code, name, account_type, currency_id) VALUES ('2100', 'Payable', 'payable', 'EUR')`)
	f.income = exec(t, db, `INSERT INTO accounts (code, name, account_type, currency_id, requires_tax) VALUES ('7000', 'Sales', 'other', 'EUR', 1)`)
	f.taxAccount = exec(t, db, `INSERT INTO accounts (code, name, account_type, currency_id) VALUES ('4457', 'VAT', 'other', 'EUR')`)
	f.customer = exec(t, db, `INSERT INTO partners (name, receivable_account_id, payable_account_id) VALUES ('Acme', ?, ?)`, f.receivable, f.payable)
	f.supplier = exec(t, db, `INSERT INTO partners (name, receivable_account_id, payable_account_id) VALUES ('Globex', ?, ?)`, f.receivable, f.payable)
	return f
}

func (f fixture) statementLine(t *testing.T, date, amount string, partnerID int64) int64 {
	t.Helper()
	return exec(t, f.db, `
		INSERT INTO statement_lines (name, date, amount, currency_id, journal_id, company_id, partner_id)
		VALUES ('Transfer', ?, ?, 'EUR', 1, 1, ?)
	`, date, amount, nullableID(partnerID))
}

func (f fixture) ledgerLine(t *testing.T, name, date, amount string, accountID, partnerID, statementLineID int64) int64 {
	t.Helper()
	return exec(t, f.db, `
		INSERT INTO ledger_lines (name, date, amount, residual, currency_id, account_id, journal_id, partner_id, statement_line_id)
		VALUES (?, ?, ?, ?, 'EUR', ?, 2, ?, ?)
	`, name, date, amount, amount, accountID, nullableID(partnerID), nullableID(statementLineID))
}

func inTx(t *testing.T, db *sql.DB, fn func(tx *sql.Tx) error) error {
	t.Helper()
	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
