package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"reconciliation-engine/internal/matching"
	"reconciliation-engine/internal/models"
)

// PropositionUpdate lists the fields to change on a draft proposition. Nil
// fields are left as they are.
type PropositionUpdate struct {
	Name              *string          `json:"name,omitempty"`
	Date              *string          `json:"date,omitempty"`
	Amount            *decimal.Decimal `json:"amount,omitempty"`
	AccountID         *int64           `json:"account_id,omitempty"`
	AccountCode       *string          `json:"account_code,omitempty"`
	JournalID         *int64           `json:"journal_id,omitempty"`
	TaxIDs            *[]models.TaxRef `json:"tax_ids,omitempty"`
	ForceTaxIncluded  *bool            `json:"force_tax_included,omitempty"`
	AnalyticAccountID *int64           `json:"analytic_account_id,omitempty"`
	AnalyticTagIDs    *[]int64         `json:"analytic_tag_ids,omitempty"`
	// RequiresTax is account metadata, sent along with the account choice.
	RequiresTax *bool `json:"requires_tax,omitempty"`
	ToCheck     *bool `json:"to_check,omitempty"`
}

// apply writes the update to p and reports whether a field the taxes depend
// on changed.
func (u PropositionUpdate) apply(p *models.Proposition) bool {
	taxable := false
	if u.Name != nil {
		p.Name = *u.Name
		taxable = true
	}
	if u.Date != nil {
		p.Date = *u.Date
	}
	if u.Amount != nil {
		p.Amount = *u.Amount
		p.BaseAmount = *u.Amount
		p.ClearPartial()
		taxable = true
	}
	if u.AccountID != nil {
		p.AccountID = *u.AccountID
		taxable = true
	}
	if u.AccountCode != nil {
		p.AccountCode = *u.AccountCode
	}
	if u.JournalID != nil {
		p.JournalID = *u.JournalID
	}
	if u.TaxIDs != nil {
		p.TaxIDs = append([]models.TaxRef(nil), (*u.TaxIDs)...)
		taxable = true
	}
	if u.ForceTaxIncluded != nil {
		p.ForceTaxIncluded = *u.ForceTaxIncluded
		taxable = true
	}
	if u.AnalyticAccountID != nil {
		p.AnalyticAccountID = *u.AnalyticAccountID
	}
	if u.AnalyticTagIDs != nil {
		p.AnalyticTagIDs = append([]int64(nil), (*u.AnalyticTagIDs)...)
	}
	if u.RequiresTax != nil {
		p.RequiresTax = *u.RequiresTax
	}
	if u.ToCheck != nil {
		p.ToCheck = *u.ToCheck
	}
	return taxable
}

// AddProposition moves a cached candidate into the proposition set. When the
// candidate overshoots the remaining balance it is settled partially.
func (s *ReconciliationService) AddProposition(ctx context.Context, handle models.LineHandle, id models.PropositionID) (*models.Line, error) {
	return s.mutate(handle, "add_proposition", func(line *models.Line) error {
		candidate, _ := line.FindCandidate(id)
		if candidate == nil {
			return fmt.Errorf("%w: %s", ErrCandidateNotFound, id)
		}
		p := candidate.Clone()

		line.Balance = matching.ComputeBalance(s.cmp, line)
		matching.SuggestPartial(s.cmp, line.Balance.Amount, p, line.CurrencyID)
		if err := matching.Apply(line, matching.Add{Proposition: p}); err != nil {
			return err
		}

		if line.Type == models.LineTypeStatement && line.PartnerID == 0 && p.PartnerID != 0 && len(line.Propositions) == 1 {
			s.logger.Debug("partner adopted from proposition",
				zap.String("line", string(line.Handle)),
				zap.Int64("partner", p.PartnerID),
			)
			if err := s.applyPartner(ctx, line, p.PartnerID, ""); err != nil {
				return err
			}
			if err := s.prefetch(ctx, line); err != nil {
				return err
			}
		}
		return s.settle(ctx, line, line.Mode)
	})
}

// RemoveProposition drops a proposition and its tax sub-lines. A ledger entry
// becomes a candidate again.
func (s *ReconciliationService) RemoveProposition(ctx context.Context, handle models.LineHandle, id models.PropositionID) (*models.Line, error) {
	return s.mutate(handle, "remove_proposition", func(line *models.Line) error {
		target := line.Find(id)
		if target == nil {
			return fmt.Errorf("%w: %s", matching.ErrPropositionNotFound, id)
		}
		writeOff := target.ID.IsDraft()
		if err := matching.Apply(line, matching.Remove{ID: id}); err != nil {
			return err
		}
		if writeOff {
			return s.settleWriteOffs(ctx, line, line.Mode)
		}
		return s.settle(ctx, line, line.Mode)
	})
}

// UpdateProposition edits a draft proposition. Changing a field the taxes
// depend on schedules a tax recomputation of the draft.
func (s *ReconciliationService) UpdateProposition(ctx context.Context, handle models.LineHandle, id models.PropositionID, upd PropositionUpdate) (*models.Line, error) {
	return s.mutate(handle, "update_proposition", func(line *models.Line) error {
		current := line.Find(id)
		if current == nil {
			return fmt.Errorf("%w: %s", matching.ErrPropositionNotFound, id)
		}
		if current.ID.IsLedger() {
			return fmt.Errorf("%w: ledger entry %s", ErrReadOnlyProposition, id)
		}

		p := current.Clone()
		if upd.apply(p) && !p.IsTaxLine() {
			p.NeedsTaxRecompute = true
		}
		p.Revalidate()
		if err := matching.Apply(line, matching.Replace{Proposition: p}); err != nil {
			return err
		}
		line.FocusedPropositionID = p.ID
		return s.settleWriteOffs(ctx, line, line.Mode)
	})
}

// PartialReconcile sets a user supplied partial amount on a proposition.
// Rejected input clears the partial and is reported in the outcome, never as
// an error.
func (s *ReconciliationService) PartialReconcile(ctx context.Context, handle models.LineHandle, id models.PropositionID, input string) (*models.Line, matching.PartialOutcome, error) {
	var outcome matching.PartialOutcome
	line, err := s.mutate(handle, "partial_reconcile", func(line *models.Line) error {
		current := line.Find(id)
		if current == nil {
			return fmt.Errorf("%w: %s", matching.ErrPropositionNotFound, id)
		}
		p := current.Clone()
		line.Balance = matching.ComputeBalance(s.cmp, line)
		outcome = matching.ApplyManualPartial(s.cmp, line, p, input)
		if err := matching.Apply(line, matching.Replace{Proposition: p}); err != nil {
			return err
		}
		return s.settle(ctx, line, line.Mode)
	})
	return line, outcome, err
}

// ChangePartner sets the partner of the line. Cached candidates are partner
// scoped and dropped; a single remaining proposition of another partner is
// dropped too. The line then goes through default mode selection.
func (s *ReconciliationService) ChangePartner(ctx context.Context, handle models.LineHandle, partnerID int64, partnerName string) (*models.Line, error) {
	return s.mutate(handle, "change_partner", func(line *models.Line) error {
		if err := s.applyPartner(ctx, line, partnerID, partnerName); err != nil {
			return err
		}
		if len(line.Propositions) == 1 && line.Propositions[0].PartnerID != partnerID {
			if err := matching.Apply(line, matching.Clear{}); err != nil {
				return err
			}
		}
		return s.settle(ctx, line, models.ModeDefault)
	})
}

func (s *ReconciliationService) applyPartner(ctx context.Context, line *models.Line, partnerID int64, partnerName string) error {
	line.PartnerID = partnerID
	line.PartnerName = partnerName
	line.OpenBalanceAccountID = 0
	if partnerID != 0 {
		accounts, err := s.partners.ResolveAccounts(ctx, partnerID)
		if err != nil {
			return fmt.Errorf("failed to resolve accounts of partner %d: %w", partnerID, err)
		}
		if line.Amount.IsNegative() {
			line.OpenBalanceAccountID = accounts.PayableAccountID
		} else {
			line.OpenBalanceAccountID = accounts.ReceivableAccountID
		}
	}
	return matching.Apply(line, matching.ClearCandidates{})
}

// QuickCreateFromModel ends the current edit and adds the lines of a
// reconcile model, instantiated for the remaining balance, as drafts.
func (s *ReconciliationService) QuickCreateFromModel(ctx context.Context, handle models.LineHandle, templateID int64) (*models.Line, error) {
	templates, err := s.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	found := false
	for _, t := range templates {
		if t.ID == templateID {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %d", ErrTemplateNotFound, templateID)
	}

	return s.mutate(handle, "quick_create", func(line *models.Line) error {
		if err := matching.Apply(line, matching.BlurFocus{}); err != nil {
			return err
		}
		if err := s.engine.ComputeLine(ctx, line); err != nil {
			return err
		}

		proposed, err := s.templates.Instantiate(ctx, templateID, line.Balance.Amount, line.PartnerID)
		if err != nil {
			return fmt.Errorf("failed to instantiate reconcile model %d: %w", templateID, err)
		}
		events := make([]matching.Event, 0, len(proposed))
		for i, pl := range proposed {
			events = append(events, matching.Add{
				Proposition: draftFromTemplate(line, pl, templateID),
				Focus:       i == len(proposed)-1,
			})
		}
		if err := matching.Apply(line, events...); err != nil {
			return err
		}

		mode := line.Mode
		if len(proposed) > 0 {
			mode = models.ModeCreate
		}
		return s.settleWriteOffs(ctx, line, mode)
	})
}

// BlurFocus commits the in-progress edit: the focus is cleared and invalid
// drafts are dropped.
func (s *ReconciliationService) BlurFocus(ctx context.Context, handle models.LineHandle) (*models.Line, error) {
	return s.mutate(handle, "blur", func(line *models.Line) error {
		if err := matching.Apply(line, matching.BlurFocus{}); err != nil {
			return err
		}
		return s.engine.ComputeLine(ctx, line)
	})
}

// GetPartialReconcileAmount returns the formatted amount that would settle the
// line if the proposition were reconciled partially.
func (s *ReconciliationService) GetPartialReconcileAmount(handle models.LineHandle, id models.PropositionID) (string, error) {
	line, err := s.GetLine(handle)
	if err != nil {
		return "", err
	}
	p := line.Find(id)
	if p == nil {
		return "", fmt.Errorf("%w: %s", matching.ErrPropositionNotFound, id)
	}
	return matching.PartialPreview(s.cmp, line, p), nil
}

// quickCreateDraft is the empty write-off row offered in create mode. It
// settles the remaining balance and stays invalid until an account is chosen.
func (s *ReconciliationService) quickCreateDraft(line *models.Line) *models.Proposition {
	p := &models.Proposition{
		ID:                models.NewDraftID(),
		Name:              line.Name,
		Date:              line.Date,
		Amount:            line.Balance.Amount,
		BaseAmount:        line.Balance.Amount,
		JournalID:         line.JournalID,
		PartnerID:         line.PartnerID,
		NeedsTaxRecompute: true,
		Display:           true,
	}
	p.Revalidate()
	return p
}

func draftFromTemplate(line *models.Line, pl models.ProposedLine, templateID int64) *models.Proposition {
	name := pl.Name
	if name == "" {
		name = line.Name
	}
	journalID := pl.JournalID
	if journalID == 0 {
		journalID = line.JournalID
	}
	p := &models.Proposition{
		ID:                models.NewDraftID(),
		Name:              name,
		Date:              line.Date,
		Amount:            pl.Amount,
		BaseAmount:        pl.Amount,
		AccountID:         pl.AccountID,
		AccountType:       pl.AccountType,
		JournalID:         journalID,
		PartnerID:         line.PartnerID,
		TaxIDs:            append([]models.TaxRef(nil), pl.TaxIDs...),
		ForceTaxIncluded:  pl.ForceTaxIncluded,
		AnalyticAccountID: pl.AnalyticAccountID,
		AnalyticTagIDs:    append([]int64(nil), pl.AnalyticTagIDs...),
		ReconcileModelID:  templateID,
		RequiresTax:       pl.RequiresTax,
		ToCheck:           pl.ToCheck,
		NeedsTaxRecompute: true,
		Display:           true,
	}
	p.Revalidate()
	return p
}
