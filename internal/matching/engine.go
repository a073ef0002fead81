package matching

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/money"
)

// TaxComputer computes the taxes of a base amount.
type TaxComputer interface {
	ComputeAll(ctx context.Context, req models.TaxRequest) (models.TaxResult, error)
}

// Engine recomputes the derived state of a line: tax sub-lines first, then
// the balance.
type Engine struct {
	cmp    *money.Comparator
	taxes  TaxComputer
	logger *zap.Logger
}

func NewEngine(cmp *money.Comparator, taxes TaxComputer, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cmp: cmp, taxes: taxes, logger: logger}
}

// Comparator returns the money comparator used by the engine.
func (e *Engine) Comparator() *money.Comparator {
	return e.cmp
}

// ComputeLine settles every pending tax recomputation of the line and then
// refreshes its balance. The balance is only computed once all tax calls of
// the pass have returned; on a tax service error the line is left untouched.
func (e *Engine) ComputeLine(ctx context.Context, line *models.Line) error {
	if err := e.RecomputeTaxes(ctx, line); err != nil {
		return err
	}
	line.Balance = ComputeBalance(e.cmp, line)
	return nil
}

type taxJob struct {
	base   *models.Proposition
	req    models.TaxRequest
	skip   bool
	result models.TaxResult
}

// RecomputeTaxes regenerates the tax sub-lines of every base proposition
// flagged for recomputation. Calls for different bases run concurrently; the
// results are applied together once all of them have resolved.
func (e *Engine) RecomputeTaxes(ctx context.Context, line *models.Line) error {
	var jobs []*taxJob
	for _, p := range line.Propositions {
		if p.IsTaxLine() || !p.NeedsTaxRecompute {
			continue
		}
		job := &taxJob{base: p.Clone()}
		if len(p.TaxIDs) == 0 || e.cmp.IsZero(p.BaseAmount, line.CurrencyID) {
			job.skip = true
		} else {
			job.req = taxRequest(p, line.CurrencyID)
		}
		jobs = append(jobs, job)
	}
	if len(jobs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		if job.skip {
			continue
		}
		g.Go(func() error {
			res, err := e.taxes.ComputeAll(gctx, job.req)
			if err != nil {
				return fmt.Errorf("compute taxes of %s: %w", job.base.ID, err)
			}
			job.result = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Warn("tax recomputation failed",
			zap.String("line", string(line.Handle)),
			zap.Error(err),
		)
		return err
	}

	events := make([]Event, 0, len(jobs))
	for _, job := range jobs {
		base, taxLines := e.materialize(line, job)
		events = append(events, SyncTaxLines{Base: base, TaxLines: taxLines})
	}
	if err := Apply(line, events...); err != nil {
		return err
	}
	for _, p := range line.Propositions {
		p.NeedsTaxRecompute = false
	}

	e.logger.Debug("taxes recomputed",
		zap.String("line", string(line.Handle)),
		zap.Int("bases", len(jobs)),
	)
	return nil
}

func taxRequest(base *models.Proposition, currencyID string) models.TaxRequest {
	ids := make([]int64, len(base.TaxIDs))
	for i, t := range base.TaxIDs {
		ids[i] = t.ID
	}
	return models.TaxRequest{
		TaxIDs:            ids,
		BaseAmount:        base.BaseAmount,
		CurrencyID:        currencyID,
		RoundPerLine:      true,
		ForcePriceInclude: len(ids) == 1 && base.ForceTaxIncluded,
	}
}

type taxKey struct {
	taxID       int64
	repartition int64
}

// materialize builds the new base and its tax sub-lines from a tax result.
// Existing sub-lines generated from the same tax and repartition line keep
// their id, so an unchanged recomputation yields an identical set.
func (e *Engine) materialize(line *models.Line, job *taxJob) (*models.Proposition, []*models.Proposition) {
	base := job.base
	base.NeedsTaxRecompute = false

	if job.skip {
		if !base.BaseAmount.IsZero() {
			base.Amount = base.BaseAmount
		}
		base.Revalidate()
		return base, nil
	}

	reuse := make(map[taxKey][]models.PropositionID)
	for _, p := range line.Propositions {
		if p.Link == base.ID {
			k := taxKey{taxID: p.TaxID, repartition: p.TaxRepartitionLineID}
			reuse[k] = append(reuse[k], p.ID)
		}
	}

	base.Amount = job.result.Base
	base.TaxTagIDs = append([]int64(nil), job.result.BaseTags...)
	base.Revalidate()

	taxLines := make([]*models.Proposition, 0, len(job.result.Taxes))
	for _, tax := range job.result.Taxes {
		k := taxKey{taxID: tax.TaxID, repartition: tax.RepartitionLineID}
		id := models.NewDraftID()
		if ids := reuse[k]; len(ids) > 0 {
			id, reuse[k] = ids[0], ids[1:]
		}

		t := &models.Proposition{
			ID:                   id,
			Link:                 base.ID,
			Date:                 base.Date,
			Amount:               tax.Amount,
			BaseAmount:           tax.Base,
			CurrencyID:           base.CurrencyID,
			AccountID:            tax.AccountID,
			JournalID:            base.JournalID,
			PartnerID:            base.PartnerID,
			TaxID:                tax.TaxID,
			TaxIDs:               append([]models.TaxRef(nil), tax.ChildTaxIDs...),
			TaxTagIDs:            append([]int64(nil), tax.TagIDs...),
			TaxRepartitionLineID: tax.RepartitionLineID,
			ReconcileModelID:     base.ReconcileModelID,
			Display:              true,
		}
		if base.Name != "" {
			t.Name = base.Name + " " + tax.Name
		}
		if t.AccountID == 0 {
			t.AccountID = base.AccountID
			t.AccountCode = base.AccountCode
			t.AccountType = base.AccountType
		}
		if tax.Analytic {
			t.AnalyticAccountID = base.AnalyticAccountID
			t.AnalyticTagIDs = append([]int64(nil), base.AnalyticTagIDs...)
		}
		t.Revalidate()
		taxLines = append(taxLines, t)
	}
	return base, taxLines
}
