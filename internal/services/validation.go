package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"reconciliation-engine/internal/matching"
	"reconciliation-engine/internal/models"
)

// BlockedLine is a line held back from validation, with the message to show.
type BlockedLine struct {
	Handle        models.LineHandle    `json:"handle"`
	PropositionID models.PropositionID `json:"proposition_id"`
	Message       string               `json:"message"`
}

// ValidationResult reports the outcome of a commit. Updated lines were
// committed but still have open candidates.
type ValidationResult struct {
	Reconciled []models.LineHandle `json:"reconciled"`
	Updated    []models.LineHandle `json:"updated"`
	Blocked    []BlockedLine       `json:"blocked,omitempty"`
}

type commitItem struct {
	line    *models.Line
	release func()
	record  models.CommitRecord
}

// Validate commits every given line that is ready: balanced with at least one
// valid proposition. With no handles every line of the session is considered.
// The batch is committed atomically; on failure no line changes.
func (s *ReconciliationService) Validate(ctx context.Context, handles []models.LineHandle) (*ValidationResult, error) {
	return s.commit(ctx, "validate", handles, func(line *models.Line) bool {
		return matching.IsEligibleForCommit(s.cmp, line)
	})
}

// AutoClearEmpty commits every line whose balance is zero without any
// proposition, such as statement lines already settled by the ledger.
func (s *ReconciliationService) AutoClearEmpty(ctx context.Context) (*ValidationResult, error) {
	return s.commit(ctx, "auto_clear", nil, func(line *models.Line) bool {
		return matching.IsEmptyBalance(s.cmp, line)
	})
}

func (s *ReconciliationService) commit(ctx context.Context, op string, handles []models.LineHandle, ready func(*models.Line) bool) (*ValidationResult, error) {
	explicit := len(handles) > 0
	if !explicit {
		handles = s.Handles()
	}

	result := &ValidationResult{}
	var items []*commitItem
	defer func() {
		for _, item := range items {
			item.release()
		}
	}()

	for _, handle := range handles {
		work, release, err := s.acquire(handle)
		if err != nil {
			if !explicit && errors.Is(err, ErrLineBusy) {
				continue
			}
			return nil, err
		}
		if work.Reconciled || !ready(work) {
			release()
			continue
		}
		if blocked, ok := blockingProposition(work); ok {
			release()
			result.Blocked = append(result.Blocked, BlockedLine{
				Handle:        handle,
				PropositionID: blocked.ID,
				Message:       fmt.Sprintf("%q needs a tax before the line can be validated", blocked.Name),
			})
			continue
		}
		items = append(items, &commitItem{line: work, release: release, record: commitRecord(work)})
	}
	if len(items) == 0 {
		return result, nil
	}

	batch := make([]models.CommitRecord, len(items))
	for i, item := range items {
		batch[i] = item.record
	}
	if err := s.commits.ProcessReconciliations(ctx, batch); err != nil {
		s.logger.Error("reconciliation batch rejected",
			zap.String("op", op),
			zap.Int("lines", len(batch)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to process reconciliations: %w", err)
	}
	s.logger.Info("reconciliation batch committed",
		zap.String("op", op),
		zap.Int("lines", len(batch)),
	)

	var partners []int64
	for _, item := range items {
		line := item.line
		reconciled := s.afterCommit(ctx, line)
		s.store(line)
		if !reconciled {
			result.Updated = append(result.Updated, line.Handle)
			continue
		}
		result.Reconciled = append(result.Reconciled, line.Handle)
		if (line.Type == models.LineTypeCustomers || line.Type == models.LineTypeSuppliers) && line.PartnerID != 0 {
			partners = append(partners, line.PartnerID)
		}
	}

	if len(partners) > 0 {
		if err := s.commits.MarkPartnersReconciled(ctx, partners); err != nil {
			s.logger.Warn("failed to mark partners reconciled",
				zap.Int64s("partners", partners),
				zap.Error(err),
			)
		}
	}
	return result, nil
}

// afterCommit clears the committed propositions. Statement lines and lines
// cleared without propositions are done; an open-balance line is done only if
// no candidate is left for it.
func (s *ReconciliationService) afterCommit(ctx context.Context, line *models.Line) bool {
	trivial := len(line.Propositions) == 0
	if err := matching.Apply(line, matching.Clear{}, matching.ClearCandidates{}); err != nil {
		s.logger.Warn("failed to clear committed line",
			zap.String("line", string(line.Handle)),
			zap.Error(err),
		)
	}

	if line.Type == models.LineTypeStatement || trivial {
		line.Reconciled = true
		line.Mode = models.ModeInactive
		line.Balance = matching.ComputeBalance(s.cmp, line)
		return true
	}

	ev, err := s.fetchCandidates(ctx, line, models.ModeMatch)
	if err == nil {
		err = matching.Apply(line, ev)
	}
	if err != nil {
		s.logger.Warn("failed to refetch candidates after commit",
			zap.String("line", string(line.Handle)),
			zap.Error(err),
		)
		line.Mode = models.ModeInactive
		line.Balance = matching.ComputeBalance(s.cmp, line)
		return false
	}
	line.Balance = matching.ComputeBalance(s.cmp, line)
	if len(line.CandidateMatches[models.ModeMatch]) == 0 {
		line.Reconciled = true
		line.Mode = models.ModeInactive
		return true
	}
	line.Mode = models.ModeMatch
	return false
}

// blockingProposition returns the first draft of a statement line whose
// account requires a tax that was not provided.
func blockingProposition(line *models.Line) (*models.Proposition, bool) {
	if line.Type != models.LineTypeStatement {
		return nil, false
	}
	for _, p := range line.Propositions {
		if p.ID.IsDraft() && !p.IsTaxLine() && !p.IsInvalid() && p.RequiresTax && len(p.TaxIDs) == 0 {
			return p, true
		}
	}
	return nil, false
}

// commitRecord serializes a line for the commit batch. A line without
// propositions is cleared by reference to its account, partner or statement
// line; otherwise the record lists the ledger entries to reconcile and the
// drafts to book. Draft balances are booked as the counterpart of the
// proposition amount.
func commitRecord(line *models.Line) models.CommitRecord {
	rec := models.CommitRecord{
		StatementLineID: line.StatementLineID,
		PartnerID:       line.PartnerID,
		MoveLineIDs:     []int64{},
		NewLines:        []models.NewLineRecord{},
		ToCheck:         line.ToCheck,
	}
	if len(line.Propositions) == 0 {
		id := line.PartnerID
		switch line.Type {
		case models.LineTypeAccounts:
			id = line.AccountID
		case models.LineTypeStatement:
			id = line.StatementLineID
		}
		lineType := line.Type
		rec.ID = &id
		rec.Type = &lineType
		return rec
	}

	for _, p := range line.Propositions {
		if p.IsInvalid() {
			continue
		}
		if id, ok := p.ID.Ledger(); ok {
			rec.MoveLineIDs = append(rec.MoveLineIDs, id)
			if p.PartialAmount.Valid {
				rec.PartialMoveLines = append(rec.PartialMoveLines, models.PartialMoveLine{
					ID:     id,
					Amount: p.PartialAmount.Decimal.Abs(),
				})
			}
			continue
		}
		if !p.Display {
			continue
		}
		rec.NewLines = append(rec.NewLines, newLineRecord(line, p))
	}
	return rec
}

func newLineRecord(line *models.Line, p *models.Proposition) models.NewLineRecord {
	date := p.Date
	if date == "" {
		date = line.Date
	}
	rec := models.NewLineRecord{
		Name:                 p.Name,
		Date:                 date,
		Balance:              p.Effective().Neg(),
		AccountID:            p.AccountID,
		JournalID:            p.JournalID,
		PartnerID:            p.PartnerID,
		TaxTagIDs:            append([]int64(nil), p.TaxTagIDs...),
		TaxRepartitionLineID: p.TaxRepartitionLineID,
		AnalyticAccountID:    p.AnalyticAccountID,
		AnalyticTagIDs:       append([]int64(nil), p.AnalyticTagIDs...),
		ReconcileModelID:     p.ReconcileModelID,
	}
	for _, t := range p.TaxIDs {
		rec.TaxIDs = append(rec.TaxIDs, t.ID)
	}
	if len(rec.TaxTagIDs) == 0 {
		rec.TaxTagIDs = nil
	}
	if len(rec.AnalyticTagIDs) == 0 {
		rec.AnalyticTagIDs = nil
	}
	return rec
}
