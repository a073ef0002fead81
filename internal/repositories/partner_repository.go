package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"reconciliation-engine/internal/models"
)

var ErrPartnerNotFound = errors.New("partner not found")

type PartnerRepository interface {
	ResolveAccounts(ctx context.Context, partnerID int64) (models.PartnerAccounts, error)
	MarkReconciled(ctx context.Context, partnerIDs []int64, at time.Time) error
}

type partnerRepository struct {
	db *sql.DB
}

func NewPartnerRepository(db *sql.DB) PartnerRepository {
	return &partnerRepository{db: db}
}

func (r *partnerRepository) ResolveAccounts(ctx context.Context, partnerID int64) (models.PartnerAccounts, error) {
	var accounts models.PartnerAccounts
	query := `
		SELECT COALESCE(receivable_account_id, 0), COALESCE(payable_account_id, 0)
		FROM partners
		WHERE id = ?
	`
	err := r.db.QueryRowContext(ctx, query, partnerID).Scan(
		&accounts.ReceivableAccountID,
		&accounts.PayableAccountID,
	)
	if err == sql.ErrNoRows {
		return accounts, fmt.Errorf("partner %d: %w", partnerID, ErrPartnerNotFound)
	}
	return accounts, err
}

// MarkReconciled stamps the last manual reconciliation time on the partners.
func (r *partnerRepository) MarkReconciled(ctx context.Context, partnerIDs []int64, at time.Time) error {
	if len(partnerIDs) == 0 {
		return nil
	}
	query := `UPDATE partners SET last_reconciled_at = ? WHERE id IN (` + placeholders(len(partnerIDs)) + `)`
	args := append([]interface{}{at.UTC()}, int64Args(partnerIDs)...)
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}
