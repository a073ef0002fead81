package matching

import (
	"errors"
	"fmt"

	"reconciliation-engine/internal/models"
)

var (
	ErrOrphanLink           = errors.New("tax sub-line links to a missing base proposition")
	ErrDuplicateProposition = errors.New("duplicate proposition id")
	ErrPropositionNotFound  = errors.New("proposition not found")
)

// Event is one structural change to the proposition set of a line.
type Event interface {
	apply(line *models.Line) error
}

// Apply runs the events against a working copy of line and commits the copy
// only if every event succeeds and the link invariants still hold. On error
// the line is left untouched. Proposition pointers taken from line before the
// call are stale afterwards.
func Apply(line *models.Line, events ...Event) error {
	work := line.Clone()
	for _, ev := range events {
		if err := ev.apply(work); err != nil {
			return err
		}
	}
	if err := CheckIntegrity(work); err != nil {
		return err
	}
	*line = *work
	return nil
}

// CheckIntegrity verifies that proposition ids are unique, that every tax
// sub-line links to a base present in the same line and that bases never
// carry a link themselves.
func CheckIntegrity(line *models.Line) error {
	byID := make(map[models.PropositionID]*models.Proposition, len(line.Propositions))
	for _, p := range line.Propositions {
		if _, dup := byID[p.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateProposition, p.ID)
		}
		byID[p.ID] = p
	}
	for _, p := range line.Propositions {
		if !p.IsTaxLine() {
			continue
		}
		base, ok := byID[p.Link]
		if !ok {
			return fmt.Errorf("%w: %s -> %s", ErrOrphanLink, p.ID, p.Link)
		}
		if base.IsTaxLine() {
			return fmt.Errorf("%w: %s links to tax sub-line %s", ErrOrphanLink, p.ID, base.ID)
		}
	}
	if !line.FocusedPropositionID.IsZero() {
		if _, ok := byID[line.FocusedPropositionID]; !ok {
			return fmt.Errorf("%w: focused %s", ErrPropositionNotFound, line.FocusedPropositionID)
		}
	}
	return nil
}

// Add appends a proposition. A base proposition is withdrawn from every
// candidate list so it cannot be offered twice.
type Add struct {
	Proposition *models.Proposition
	Focus       bool
}

func (ev Add) apply(line *models.Line) error {
	p := ev.Proposition.Clone()
	if line.Find(p.ID) != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateProposition, p.ID)
	}
	line.Propositions = append(line.Propositions, p)
	if !p.IsTaxLine() {
		for mode, list := range line.CandidateMatches {
			line.CandidateMatches[mode] = withoutID(list, p.ID)
		}
	}
	if ev.Focus {
		line.FocusedPropositionID = p.ID
	}
	return nil
}

// Remove drops a proposition and the tax sub-lines linked to it. Removing a
// tax sub-line leaves its base in place. A removed ledger entry returns to the
// head of its candidate bucket.
type Remove struct {
	ID models.PropositionID
}

func (ev Remove) apply(line *models.Line) error {
	target := line.Find(ev.ID)
	if target == nil {
		return fmt.Errorf("%w: %s", ErrPropositionNotFound, ev.ID)
	}

	kept := line.Propositions[:0:0]
	for _, p := range line.Propositions {
		if p.ID == ev.ID || (!target.IsTaxLine() && p.Link == ev.ID) {
			if p.ID == line.FocusedPropositionID {
				line.FocusedPropositionID = models.PropositionID{}
			}
			continue
		}
		kept = append(kept, p)
	}
	line.Propositions = kept

	if target.ID.IsLedger() && !target.IsTaxLine() {
		mode := CandidateBucket(line, target)
		if !containsID(line.CandidateMatches[mode], target.ID) {
			candidate := target.Clone()
			candidate.ClearPartial()
			line.CandidateMatches[mode] = append([]*models.Proposition{candidate}, line.CandidateMatches[mode]...)
		}
	}
	return nil
}

// Replace swaps in a new version of an existing proposition, keeping its position.
type Replace struct {
	Proposition *models.Proposition
}

func (ev Replace) apply(line *models.Line) error {
	for i, p := range line.Propositions {
		if p.ID == ev.Proposition.ID {
			line.Propositions[i] = ev.Proposition.Clone()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrPropositionNotFound, ev.Proposition.ID)
}

// SyncTaxLines replaces a base proposition and the full set of tax sub-lines
// linked to it. The sub-lines are placed right after the base.
type SyncTaxLines struct {
	Base     *models.Proposition
	TaxLines []*models.Proposition
}

func (ev SyncTaxLines) apply(line *models.Line) error {
	if line.Find(ev.Base.ID) == nil {
		return fmt.Errorf("%w: %s", ErrPropositionNotFound, ev.Base.ID)
	}
	out := make([]*models.Proposition, 0, len(line.Propositions)+len(ev.TaxLines))
	for _, p := range line.Propositions {
		if p.Link == ev.Base.ID {
			continue
		}
		if p.ID == ev.Base.ID {
			out = append(out, ev.Base.Clone())
			for _, t := range ev.TaxLines {
				out = append(out, t.Clone())
			}
			continue
		}
		out = append(out, p)
	}
	line.Propositions = out
	return nil
}

// BlurFocus ends the in-progress edit: the focus is cleared and every invalid
// proposition, with its tax sub-lines, is dropped.
type BlurFocus struct{}

func (BlurFocus) apply(line *models.Line) error {
	line.FocusedPropositionID = models.PropositionID{}
	dropped := make(map[models.PropositionID]bool)
	for _, p := range line.Propositions {
		if p.IsInvalid() && !p.IsTaxLine() {
			dropped[p.ID] = true
		}
	}
	kept := line.Propositions[:0:0]
	for _, p := range line.Propositions {
		if p.IsInvalid() || dropped[p.Link] {
			continue
		}
		kept = append(kept, p)
	}
	line.Propositions = kept
	return nil
}

// Clear drops every proposition.
type Clear struct{}

func (Clear) apply(line *models.Line) error {
	line.Propositions = nil
	line.FocusedPropositionID = models.PropositionID{}
	return nil
}

// MergeCandidates accumulates a fetched page into a match mode, skipping ids
// already cached or already used as propositions. Total is the number of
// candidates the query matched before this page was taken.
type MergeCandidates struct {
	Mode  models.Mode
	Page  []*models.Proposition
	Total int
}

func (ev MergeCandidates) apply(line *models.Line) error {
	list := line.CandidateMatches[ev.Mode]
	for _, c := range ev.Page {
		if containsID(list, c.ID) || line.Find(c.ID) != nil {
			continue
		}
		list = append(list, c.Clone())
	}
	line.CandidateMatches[ev.Mode] = list
	remaining := ev.Total - len(ev.Page)
	if remaining < 0 {
		remaining = 0
	}
	line.RemainingCount[ev.Mode] = remaining
	return nil
}

// ClearCandidates forgets the cached candidates of the given modes, or of
// every mode when none is given.
type ClearCandidates struct {
	Modes []models.Mode
}

func (ev ClearCandidates) apply(line *models.Line) error {
	modes := ev.Modes
	if len(modes) == 0 {
		modes = line.MatchModes()
	}
	for _, mode := range modes {
		delete(line.CandidateMatches, mode)
		delete(line.RemainingCount, mode)
	}
	return nil
}

// CandidateBucket returns the match mode a ledger entry belongs to.
func CandidateBucket(line *models.Line, p *models.Proposition) models.Mode {
	if line.Type != models.LineTypeStatement {
		return models.ModeMatch
	}
	if p.AccountType.IsReceivablePayable() {
		return models.ModeMatchRP
	}
	return models.ModeMatchOther
}

func withoutID(list []*models.Proposition, id models.PropositionID) []*models.Proposition {
	out := list[:0:0]
	for _, p := range list {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

func containsID(list []*models.Proposition, id models.PropositionID) bool {
	for _, p := range list {
		if p.ID == id {
			return true
		}
	}
	return false
}
