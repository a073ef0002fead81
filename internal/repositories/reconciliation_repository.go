package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"reconciliation-engine/internal/models"
)

var ErrReconciliationNotFound = errors.New("reconciliation not found")

type ReconciliationRepository interface {
	// ProcessReconciliations books a commit batch in one transaction. Any
	// failing record rolls the whole batch back.
	ProcessReconciliations(ctx context.Context, batch []models.CommitRecord) error
	MarkPartnersReconciled(ctx context.Context, partnerIDs []int64) error
	CreateReconciliation(ctx context.Context, tx *sql.Tx, rec *models.Reconciliation) error
	CreateMapping(ctx context.Context, tx *sql.Tx, mapping *models.ReconciliationMapping) error
	CreateAuditEntry(ctx context.Context, tx *sql.Tx, audit *models.ReconciliationAudit) error
	GetReconciliationByBatchID(ctx context.Context, batchID string) (*models.Reconciliation, error)
	GetMappings(ctx context.Context, reconciliationID int64) ([]models.ReconciliationMapping, error)
}

type reconciliationRepository struct {
	db         *sql.DB
	statements StatementRepository
	ledger     LedgerRepository
	partners   PartnerRepository
	logger     *zap.Logger
	now        func() time.Time
}

func NewReconciliationRepository(
	db *sql.DB,
	statements StatementRepository,
	ledger LedgerRepository,
	partners PartnerRepository,
	logger *zap.Logger,
) ReconciliationRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &reconciliationRepository{
		db:         db,
		statements: statements,
		ledger:     ledger,
		partners:   partners,
		logger:     logger,
		now:        time.Now,
	}
}

func (r *reconciliationRepository) ProcessReconciliations(ctx context.Context, batch []models.CommitRecord) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec := &models.Reconciliation{
		BatchID:   uuid.NewString(),
		LineCount: len(batch),
	}
	if err := r.CreateReconciliation(ctx, tx, rec); err != nil {
		return fmt.Errorf("failed to create reconciliation: %w", err)
	}

	today := r.now().Format(dateLayout)
	var settled, booked int
	for i, record := range batch {
		n, m, err := r.processRecord(ctx, tx, rec.ID, record, today)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		settled += n
		booked += m
	}

	details, err := json.Marshal(map[string]interface{}{
		"batch_id":        rec.BatchID,
		"lines":           len(batch),
		"settled_entries": settled,
		"booked_entries":  booked,
	})
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}
	audit := &models.ReconciliationAudit{
		ReconciliationID: sql.NullInt64{Int64: rec.ID, Valid: true},
		Action:           models.AuditActionReconciled,
		Details:          details,
		UserID:           "system",
	}
	if err := r.CreateAuditEntry(ctx, tx, audit); err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Info("reconciliation batch stored",
		zap.String("batch_id", rec.BatchID),
		zap.Int("lines", len(batch)),
		zap.Int("settled", settled),
		zap.Int("booked", booked),
	)
	return nil
}

// processRecord applies one commit record and returns how many existing
// entries it settled and how many new entries it booked.
func (r *reconciliationRepository) processRecord(ctx context.Context, tx *sql.Tx, reconciliationID int64, record models.CommitRecord, today string) (int, int, error) {
	statementLineID := sql.NullInt64{Int64: record.StatementLineID, Valid: record.StatementLineID != 0}

	if record.ID != nil && record.Type != nil {
		if *record.Type == models.LineTypeStatement {
			if err := r.statements.MarkReconciled(ctx, tx, *record.ID); err != nil {
				return 0, 0, err
			}
			statementLineID = sql.NullInt64{Int64: *record.ID, Valid: true}
		}
		err := r.CreateMapping(ctx, tx, &models.ReconciliationMapping{
			ReconciliationID: reconciliationID,
			StatementLineID:  statementLineID,
			Amount:           decimal.Zero,
			MappingType:      models.MappingCleared,
		})
		return 0, 0, err
	}

	partials := make(map[int64]decimal.Decimal, len(record.PartialMoveLines))
	for _, p := range record.PartialMoveLines {
		partials[p.ID] = p.Amount
	}

	for _, id := range record.MoveLineIDs {
		var amount *decimal.Decimal
		mappingType := models.MappingFull
		if partial, ok := partials[id]; ok {
			amount = &partial
			mappingType = models.MappingPartial
		}
		settled, full, err := r.ledger.Settle(ctx, tx, id, amount)
		if err != nil {
			return 0, 0, err
		}
		if full {
			mappingType = models.MappingFull
		}
		err = r.CreateMapping(ctx, tx, &models.ReconciliationMapping{
			ReconciliationID: reconciliationID,
			StatementLineID:  statementLineID,
			LedgerLineID:     sql.NullInt64{Int64: id, Valid: true},
			Amount:           settled,
			MappingType:      mappingType,
		})
		if err != nil {
			return 0, 0, err
		}
	}

	for _, nl := range record.NewLines {
		entry := &models.LedgerLine{
			Name:      nl.Name,
			Date:      nl.Date,
			Amount:    nl.Balance,
			AccountID: nl.AccountID,
			JournalID: nl.JournalID,
			PartnerID: nl.PartnerID,
		}
		if entry.Date == "" {
			entry.Date = today
		}
		if err := r.ledger.InsertReconciledLine(ctx, tx, entry, nl.ReconcileModelID); err != nil {
			return 0, 0, err
		}
		err := r.CreateMapping(ctx, tx, &models.ReconciliationMapping{
			ReconciliationID: reconciliationID,
			StatementLineID:  statementLineID,
			LedgerLineID:     sql.NullInt64{Int64: entry.ID, Valid: true},
			Amount:           nl.Balance,
			MappingType:      models.MappingNew,
		})
		if err != nil {
			return 0, 0, err
		}
	}

	if record.StatementLineID != 0 {
		if err := r.statements.MarkReconciled(ctx, tx, record.StatementLineID); err != nil {
			return 0, 0, err
		}
	}
	return len(record.MoveLineIDs), len(record.NewLines), nil
}

func (r *reconciliationRepository) MarkPartnersReconciled(ctx context.Context, partnerIDs []int64) error {
	return r.partners.MarkReconciled(ctx, partnerIDs, r.now())
}

func (r *reconciliationRepository) CreateReconciliation(ctx context.Context, tx *sql.Tx, rec *models.Reconciliation) error {
	query := `
		INSERT INTO reconciliations (batch_id, line_count)
		VALUES (?, ?)
	`
	result, err := tx.ExecContext(ctx, query, rec.BatchID, rec.LineCount)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}

func (r *reconciliationRepository) GetReconciliationByBatchID(ctx context.Context, batchID string) (*models.Reconciliation, error) {
	rec := &models.Reconciliation{}
	query := `
		SELECT id, batch_id, line_count, created_at
		FROM reconciliations
		WHERE batch_id = ?
	`
	err := r.db.QueryRowContext(ctx, query, batchID).Scan(
		&rec.ID,
		&rec.BatchID,
		&rec.LineCount,
		&rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrReconciliationNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *reconciliationRepository) CreateMapping(ctx context.Context, tx *sql.Tx, mapping *models.ReconciliationMapping) error {
	query := `
		INSERT INTO reconciliation_mappings (
			reconciliation_id, statement_line_id, ledger_line_id, amount, mapping_type
		) VALUES (?, ?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, query,
		mapping.ReconciliationID,
		mapping.StatementLineID,
		mapping.LedgerLineID,
		mapping.Amount,
		mapping.MappingType,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	mapping.ID = id
	return nil
}

func (r *reconciliationRepository) GetMappings(ctx context.Context, reconciliationID int64) ([]models.ReconciliationMapping, error) {
	query := `
		SELECT id, reconciliation_id, statement_line_id, ledger_line_id, amount, mapping_type
		FROM reconciliation_mappings
		WHERE reconciliation_id = ?
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, reconciliationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []models.ReconciliationMapping
	for rows.Next() {
		var m models.ReconciliationMapping
		err := rows.Scan(
			&m.ID,
			&m.ReconciliationID,
			&m.StatementLineID,
			&m.LedgerLineID,
			&m.Amount,
			&m.MappingType,
		)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return mappings, nil
}

func (r *reconciliationRepository) CreateAuditEntry(ctx context.Context, tx *sql.Tx, audit *models.ReconciliationAudit) error {
	query := `
		INSERT INTO reconciliation_audit (
			reconciliation_id, action, details, user_id
		) VALUES (?, ?, ?, ?)
	`
	var details interface{}
	if len(audit.Details) > 0 {
		details = string(audit.Details)
	}
	result, err := tx.ExecContext(ctx, query,
		audit.ReconciliationID,
		audit.Action,
		details,
		audit.UserID,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	audit.ID = id
	return nil
}
