package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"reconciliation-engine/internal/matching"
	"reconciliation-engine/internal/models"
)

// ChangeMode moves the line to the requested mode. ModeDefault picks the
// mode from the available candidates, ModeNext cycles to the next available
// one.
func (s *ReconciliationService) ChangeMode(ctx context.Context, handle models.LineHandle, mode models.Mode) (*models.Line, error) {
	return s.mutate(handle, "change_mode", func(line *models.Line) error {
		return s.enterMode(ctx, line, mode)
	})
}

// FetchMore pulls the next page of candidates into the current match mode.
func (s *ReconciliationService) FetchMore(ctx context.Context, handle models.LineHandle) (*models.Line, error) {
	return s.mutate(handle, "fetch_more", func(line *models.Line) error {
		if !line.Mode.IsMatch() {
			return fmt.Errorf("%w: fetch more in %s", ErrInvalidMode, line.Mode)
		}
		ev, err := s.fetchCandidates(ctx, line, line.Mode)
		if err != nil {
			return err
		}
		return matching.Apply(line, ev)
	})
}

// Search filters the candidates of the current match mode. The cached list is
// dropped and refetched with the new filter.
func (s *ReconciliationService) Search(ctx context.Context, handle models.LineHandle, text string) (*models.Line, error) {
	return s.mutate(handle, "search", func(line *models.Line) error {
		mode := line.Mode
		if !mode.IsMatch() {
			return fmt.Errorf("%w: search in %s", ErrInvalidMode, mode)
		}
		line.SearchText[mode] = text
		if err := matching.Apply(line, matching.ClearCandidates{Modes: []models.Mode{mode}}); err != nil {
			return err
		}
		ev, err := s.fetchCandidates(ctx, line, mode)
		if err != nil {
			return err
		}
		return matching.Apply(line, ev)
	})
}

func (s *ReconciliationService) enterMode(ctx context.Context, line *models.Line, mode models.Mode) error {
	switch mode {
	case models.ModeDefault:
		return s.enterDefault(ctx, line)
	case models.ModeNext:
		mode = nextMode(line)
	}
	if !modeAllowed(line, mode) {
		return fmt.Errorf("%w: %s on %s line", ErrInvalidMode, mode, line.Type)
	}

	if line.Mode == models.ModeCreate && mode != models.ModeCreate {
		if err := matching.Apply(line, matching.BlurFocus{}); err != nil {
			return err
		}
	}

	switch {
	case mode.IsMatch():
		if len(line.CandidateMatches[mode]) == 0 {
			ev, err := s.fetchCandidates(ctx, line, mode)
			if err != nil {
				return err
			}
			if err := matching.Apply(line, ev); err != nil {
				return err
			}
		}
	case mode == models.ModeCreate:
		if line.FocusedPropositionID.IsZero() {
			if err := matching.Apply(line, matching.Add{Proposition: s.quickCreateDraft(line), Focus: true}); err != nil {
				return err
			}
		}
	}

	line.Mode = mode
	return s.engine.ComputeLine(ctx, line)
}

// enterDefault fetches every match mode that has no cached candidates, then
// settles on inactive for a balanced line without candidates, the first mode
// holding candidates, or create.
func (s *ReconciliationService) enterDefault(ctx context.Context, line *models.Line) error {
	if err := s.prefetch(ctx, line); err != nil {
		return err
	}
	if err := s.engine.ComputeLine(ctx, line); err != nil {
		return err
	}

	modes := line.MatchModes()
	target := models.ModeCreate
	if s.cmp.IsZero(line.Balance.Amount, line.CurrencyID) && !line.HasCandidates() {
		target = models.ModeInactive
	} else {
		for _, mode := range modes {
			if len(line.CandidateMatches[mode]) > 0 {
				target = mode
				break
			}
		}
	}
	s.logger.Debug("default mode selected",
		zap.String("line", string(line.Handle)),
		zap.String("mode", string(target)),
	)
	return s.enterMode(ctx, line, target)
}

// prefetch concurrently fills the match modes of the line that have no cached
// candidates. The mode of the line is left alone.
func (s *ReconciliationService) prefetch(ctx context.Context, line *models.Line) error {
	modes := line.MatchModes()
	events := make([]matching.Event, len(modes))

	g, gctx := errgroup.WithContext(ctx)
	for i, mode := range modes {
		if len(line.CandidateMatches[mode]) > 0 {
			continue
		}
		g.Go(func() error {
			ev, err := s.fetchCandidates(gctx, line, mode)
			if err != nil {
				return err
			}
			events[i] = ev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, ev := range events {
		if ev == nil {
			continue
		}
		if err := matching.Apply(line, ev); err != nil {
			return err
		}
	}
	return nil
}

// nextMode returns the mode following the current one among the available
// modes, in the fixed order of the line's match modes followed by create.
func nextMode(line *models.Line) models.Mode {
	cycle := append(line.MatchModes(), models.ModeCreate)
	var available []models.Mode
	for _, mode := range cycle {
		if mode == models.ModeCreate || len(line.CandidateMatches[mode]) > 0 {
			available = append(available, mode)
		}
	}

	pos := -1
	for i, mode := range cycle {
		if mode == line.Mode {
			pos = i
		}
	}
	for step := 1; step <= len(cycle); step++ {
		candidate := cycle[(pos+step+len(cycle))%len(cycle)]
		for _, mode := range available {
			if mode == candidate {
				return mode
			}
		}
	}
	return models.ModeCreate
}

func modeAllowed(line *models.Line, mode models.Mode) bool {
	switch mode {
	case models.ModeInactive, models.ModeCreate:
		return true
	}
	for _, m := range line.MatchModes() {
		if m == mode {
			return true
		}
	}
	return false
}

func (s *ReconciliationService) fetchCandidates(ctx context.Context, line *models.Line, mode models.Mode) (matching.MergeCandidates, error) {
	q := models.CandidateQuery{
		Mode:            mode,
		StatementLineID: line.StatementLineID,
		AccountID:       line.AccountID,
		PartnerID:       line.PartnerID,
		SearchText:      line.SearchText[mode],
		Limit:           s.pageSize,
	}
	for _, p := range line.Propositions {
		if id, ok := p.ID.Ledger(); ok {
			q.ExcludedIDs = append(q.ExcludedIDs, id)
		}
	}
	for _, c := range line.CandidateMatches[mode] {
		if id, ok := c.ID.Ledger(); ok {
			q.ExcludedIDs = append(q.ExcludedIDs, id)
		}
	}

	page, err := s.ledger.FetchCandidateLines(ctx, q)
	if err != nil {
		return matching.MergeCandidates{}, fmt.Errorf("failed to fetch %s candidates: %w", mode, err)
	}
	ev := matching.MergeCandidates{Mode: mode, Total: page.Total}
	for _, l := range page.Lines {
		ev.Page = append(ev.Page, propositionFromLedger(l))
	}
	return ev, nil
}
