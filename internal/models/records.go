package models

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Reconciliation is one committed batch as stored by the ledger adapters.
type Reconciliation struct {
	ID        int64     `db:"id" json:"id"`
	BatchID   string    `db:"batch_id" json:"batch_id"`
	LineCount int       `db:"line_count" json:"line_count"`
	CreatedAt time.Time `db:"created_at" json:"-"`
}

// ReconciliationMapping links a committed batch to a ledger entry it settled
// or booked.
type ReconciliationMapping struct {
	ID               int64           `db:"id" json:"id"`
	ReconciliationID int64           `db:"reconciliation_id" json:"reconciliation_id"`
	StatementLineID  sql.NullInt64   `db:"statement_line_id" json:"statement_line_id"`
	LedgerLineID     sql.NullInt64   `db:"ledger_line_id" json:"ledger_line_id"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	MappingType      string          `db:"mapping_type" json:"mapping_type"`
}

// ReconciliationAudit represents an audit trail entry
type ReconciliationAudit struct {
	ID               int64           `db:"id" json:"id"`
	ReconciliationID sql.NullInt64   `db:"reconciliation_id" json:"reconciliation_id"`
	Action           string          `db:"action" json:"action"`
	Details          json.RawMessage `db:"details" json:"details"`
	UserID           string          `db:"user_id" json:"user_id"`
	CreatedAt        time.Time       `db:"created_at" json:"-"`
}

// MappingType constants
const (
	MappingFull    = "full"
	MappingPartial = "partial"
	MappingNew     = "new"
	MappingCleared = "cleared"
)

// AuditAction constants
const (
	AuditActionImported   = "imported"
	AuditActionReconciled = "reconciled"
)
