package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/repositories"
)

// DataIngestionService imports bank statement lines and ledger entries into
// the reference ledger store.
type DataIngestionService struct {
	db                 *sql.DB
	statementRepo      repositories.StatementRepository
	ledgerRepo         repositories.LedgerRepository
	reconciliationRepo repositories.ReconciliationRepository
	logger             *zap.Logger
}

func NewDataIngestionService(
	db *sql.DB,
	statementRepo repositories.StatementRepository,
	ledgerRepo repositories.LedgerRepository,
	reconciliationRepo repositories.ReconciliationRepository,
	logger *zap.Logger,
) *DataIngestionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DataIngestionService{
		db:                 db,
		statementRepo:      statementRepo,
		ledgerRepo:         ledgerRepo,
		reconciliationRepo: reconciliationRepo,
		logger:             logger,
	}
}

type StatementLineInput struct {
	Name           string              `json:"name"`
	Date           string              `json:"date"`
	Amount         decimal.Decimal     `json:"amount"`
	AmountCurrency decimal.NullDecimal `json:"amount_currency"`
	CurrencyID     string              `json:"currency_id"`
	JournalID      int64               `json:"journal_id"`
	CompanyID      int64               `json:"company_id"`
	PartnerID      int64               `json:"partner_id,omitempty"`
}

type LedgerLineInput struct {
	Name           string              `json:"name"`
	Date           string              `json:"date"`
	Amount         decimal.Decimal     `json:"amount"`
	AmountCurrency decimal.NullDecimal `json:"amount_currency"`
	CurrencyID     string              `json:"currency_id,omitempty"`
	AccountID      int64               `json:"account_id"`
	JournalID      int64               `json:"journal_id"`
	PartnerID      int64               `json:"partner_id,omitempty"`
	// StatementLineID proposes the entry as a match for that statement line.
	StatementLineID int64 `json:"statement_line_id,omitempty"`
}

type IngestionResult struct {
	Success      bool                   `json:"success"`
	RecordsCount int                    `json:"records_count"`
	IDs          []int64                `json:"ids,omitempty"`
	Errors       []string               `json:"errors,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// IngestStatementLines stores the statement lines in one transaction. Nothing
// is stored if any line is rejected.
func (s *DataIngestionService) IngestStatementLines(ctx context.Context, lines []StatementLineInput) (*IngestionResult, error) {
	result := &IngestionResult{
		Success: true,
		Details: make(map[string]interface{}),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, input := range lines {
		if err := validateStatementLine(input); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Invalid statement line %d: %v", i, err))
			continue
		}

		st := &models.StatementLine{
			Name:           input.Name,
			Date:           input.Date,
			Amount:         input.Amount,
			AmountCurrency: input.AmountCurrency,
			CurrencyID:     input.CurrencyID,
			JournalID:      input.JournalID,
			CompanyID:      input.CompanyID,
		}
		if err := s.statementRepo.InsertStatementLine(ctx, tx, st, input.PartnerID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Failed to insert statement line %d: %v", i, err))
			continue
		}

		result.IDs = append(result.IDs, st.ID)
		result.RecordsCount++
	}

	return s.finish(ctx, tx, result, "statement_lines", len(lines))
}

// IngestLedgerLines stores unreconciled ledger entries in one transaction.
// Nothing is stored if any entry is rejected.
func (s *DataIngestionService) IngestLedgerLines(ctx context.Context, entries []LedgerLineInput) (*IngestionResult, error) {
	result := &IngestionResult{
		Success: true,
		Details: make(map[string]interface{}),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, input := range entries {
		if err := validateLedgerLine(input); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Invalid ledger entry %d: %v", i, err))
			continue
		}

		entry := &models.LedgerLine{
			Name:           input.Name,
			Date:           input.Date,
			Amount:         input.Amount,
			AmountCurrency: input.AmountCurrency,
			CurrencyID:     input.CurrencyID,
			AccountID:      input.AccountID,
			JournalID:      input.JournalID,
			PartnerID:      input.PartnerID,
		}
		if err := s.ledgerRepo.InsertLedgerLine(ctx, tx, entry, input.StatementLineID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Failed to insert ledger entry %d: %v", i, err))
			continue
		}

		result.IDs = append(result.IDs, entry.ID)
		result.RecordsCount++
	}

	return s.finish(ctx, tx, result, "ledger_lines", len(entries))
}

func (s *DataIngestionService) finish(ctx context.Context, tx *sql.Tx, result *IngestionResult, kind string, total int) (*IngestionResult, error) {
	result.Success = len(result.Errors) == 0
	result.Details["total_records"] = total
	result.Details["successful"] = result.RecordsCount
	result.Details["failed"] = len(result.Errors)

	if !result.Success {
		s.logger.Warn("import rejected",
			zap.String("kind", kind),
			zap.Int("failed", len(result.Errors)),
		)
		result.IDs = nil
		return result, nil
	}

	auditDetails, err := json.Marshal(map[string]interface{}{
		"kind":          kind,
		"total_records": total,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit details: %w", err)
	}
	audit := &models.ReconciliationAudit{
		Action:  models.AuditActionImported,
		Details: auditDetails,
		UserID:  "system",
	}
	if err := s.reconciliationRepo.CreateAuditEntry(ctx, tx, audit); err != nil {
		return nil, fmt.Errorf("failed to create audit entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("records imported",
		zap.String("kind", kind),
		zap.Int("count", result.RecordsCount),
	)
	return result, nil
}

func validateStatementLine(input StatementLineInput) error {
	if input.JournalID == 0 {
		return fmt.Errorf("journal_id is required")
	}
	if input.CurrencyID == "" {
		return fmt.Errorf("currency_id is required")
	}
	if _, err := time.Parse("2006-01-02", input.Date); err != nil {
		return fmt.Errorf("invalid date %q, use YYYY-MM-DD", input.Date)
	}
	return nil
}

func validateLedgerLine(input LedgerLineInput) error {
	if input.AccountID == 0 {
		return fmt.Errorf("account_id is required")
	}
	if input.JournalID == 0 {
		return fmt.Errorf("journal_id is required")
	}
	if input.Amount.IsZero() {
		return fmt.Errorf("amount is required and must be non-zero")
	}
	if _, err := time.Parse("2006-01-02", input.Date); err != nil {
		return fmt.Errorf("invalid date %q, use YYYY-MM-DD", input.Date)
	}
	return nil
}
