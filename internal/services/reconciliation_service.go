package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"reconciliation-engine/internal/matching"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/money"
)

var (
	ErrLineNotFound        = errors.New("line not found")
	ErrLineBusy            = errors.New("line is being modified")
	ErrLineReconciled      = errors.New("line is already reconciled")
	ErrCandidateNotFound   = errors.New("candidate not found")
	ErrInvalidMode         = errors.New("mode not available for this line")
	ErrTemplateNotFound    = errors.New("reconcile model not found")
	ErrReadOnlyProposition = errors.New("proposition cannot be edited")
)

// DefaultPageSize is the number of candidates fetched per request.
const DefaultPageSize = 5

// Options tunes the reconciliation session.
type Options struct {
	PageSize   int
	CompanyIDs []int64
}

// ReconciliationService owns the lines of one manual reconciliation session.
//
// Stored lines are never modified in place: every mutation works on a copy
// that replaces the stored line only once the whole operation succeeded, so a
// failed service call leaves the line as it was. At most one mutation per
// line runs at a time; a concurrent one fails with ErrLineBusy.
type ReconciliationService struct {
	ledger    LedgerQueryService
	partners  PartnerService
	commits   CommitService
	templates ReconcileModelService
	engine    *matching.Engine
	cmp       *money.Comparator
	logger    *zap.Logger

	pageSize   int
	companyIDs []int64

	mu        sync.RWMutex
	lines     map[models.LineHandle]*models.Line
	order     []models.LineHandle
	delivered map[models.LineHandle]bool

	processingMutex sync.Mutex
	activeProcesses map[models.LineHandle]bool

	templatesMu     sync.Mutex
	templateCache   []models.Template
	templatesLoaded bool
}

func NewReconciliationService(
	ledger LedgerQueryService,
	taxes TaxComputationService,
	partners PartnerService,
	commits CommitService,
	templates ReconcileModelService,
	cmp *money.Comparator,
	logger *zap.Logger,
	opts Options,
) *ReconciliationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	return &ReconciliationService{
		ledger:          ledger,
		partners:        partners,
		commits:         commits,
		templates:       templates,
		engine:          matching.NewEngine(cmp, taxes, logger),
		cmp:             cmp,
		logger:          logger,
		pageSize:        opts.PageSize,
		companyIDs:      append([]int64(nil), opts.CompanyIDs...),
		lines:           make(map[models.LineHandle]*models.Line),
		delivered:       make(map[models.LineHandle]bool),
		activeProcesses: make(map[models.LineHandle]bool),
	}
}

// LoadLines fetches the open items of the given type from the ledger and
// starts a line for each of them.
func (s *ReconciliationService) LoadLines(ctx context.Context, lineType models.LineType, scopeIDs []int64) ([]models.LineHandle, error) {
	if !lineType.Valid() {
		return nil, fmt.Errorf("unknown line type %q", lineType)
	}
	items, err := s.ledger.FetchOpenItems(ctx, lineType, scopeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch open items: %w", err)
	}
	return s.LoadOpenItems(ctx, items)
}

// LoadOpenItems starts one line per item. Lines are prepared concurrently and
// registered together; if any of them fails none is registered.
func (s *ReconciliationService) LoadOpenItems(ctx context.Context, items []models.OpenItem) ([]models.LineHandle, error) {
	for _, item := range items {
		if !item.Type.Valid() {
			return nil, fmt.Errorf("unknown line type %q", item.Type)
		}
	}

	lines := make([]*models.Line, len(items))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		g.Go(func() error {
			line, err := s.startLine(gctx, item)
			if err != nil {
				return err
			}
			lines[i] = line
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	handles := make([]models.LineHandle, len(lines))
	s.mu.Lock()
	for i, line := range lines {
		s.lines[line.Handle] = line
		s.order = append(s.order, line.Handle)
		handles[i] = line.Handle
	}
	s.mu.Unlock()

	s.logger.Info("lines loaded", zap.Int("count", len(handles)))
	return handles, nil
}

func (s *ReconciliationService) startLine(ctx context.Context, item models.OpenItem) (*models.Line, error) {
	line := models.NewLine(models.LineHandle(uuid.NewString()), item.Type)
	line.AccountID = item.AccountID
	line.PartnerID = item.PartnerID
	line.PartnerName = item.PartnerName
	line.CurrencyID = item.CurrencyID
	line.OpenBalanceAccountID = item.OpenBalanceAccountID
	if st := item.StatementLine; st != nil {
		line.StatementLineID = st.ID
		line.Name = st.Name
		line.Date = st.Date
		line.Amount = st.Amount
		line.AmountCurrency = st.AmountCurrency
		line.JournalID = st.JournalID
		line.CompanyID = st.CompanyID
		if st.CurrencyID != "" {
			line.CurrencyID = st.CurrencyID
		}
	}

	for _, proposed := range item.Proposed {
		line.Balance = matching.ComputeBalance(s.cmp, line)
		p := propositionFromLedger(proposed)
		matching.SuggestPartial(s.cmp, line.Balance.Amount, p, line.CurrencyID)
		if err := matching.Apply(line, matching.Add{Proposition: p}); err != nil {
			return nil, fmt.Errorf("failed to add proposed entry %d: %w", proposed.ID, err)
		}
	}
	if err := s.engine.ComputeLine(ctx, line); err != nil {
		return nil, err
	}
	if err := s.enterMode(ctx, line, models.ModeDefault); err != nil {
		return nil, err
	}
	return line, nil
}

// GetLine returns a snapshot of the line.
func (s *ReconciliationService) GetLine(handle models.LineHandle) (*models.Line, error) {
	s.mu.RLock()
	line, ok := s.lines[handle]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLineNotFound, handle)
	}
	return line.Clone(), nil
}

// GetStatementLines returns the unreconciled lines not handed out yet, in load
// order. Every line is returned at most once.
func (s *ReconciliationService) GetStatementLines() []*models.Line {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Line
	for _, handle := range s.order {
		line := s.lines[handle]
		if s.delivered[handle] || line.Reconciled {
			continue
		}
		s.delivered[handle] = true
		out = append(out, line.Clone())
	}
	return out
}

// Handles returns every line handle in load order.
func (s *ReconciliationService) Handles() []models.LineHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.LineHandle(nil), s.order...)
}

// ListTemplates returns the reconcile models of the session companies. They
// are fetched once per session.
func (s *ReconciliationService) ListTemplates(ctx context.Context) ([]models.Template, error) {
	s.templatesMu.Lock()
	defer s.templatesMu.Unlock()

	if !s.templatesLoaded {
		templates, err := s.templates.ListTemplates(ctx, s.companyIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to list reconcile models: %w", err)
		}
		s.templateCache = templates
		s.templatesLoaded = true
	}
	return append([]models.Template(nil), s.templateCache...), nil
}

func (s *ReconciliationService) acquire(handle models.LineHandle) (*models.Line, func(), error) {
	s.processingMutex.Lock()
	defer s.processingMutex.Unlock()

	s.mu.RLock()
	line, ok := s.lines[handle]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrLineNotFound, handle)
	}
	if s.activeProcesses[handle] {
		return nil, nil, fmt.Errorf("%w: %s", ErrLineBusy, handle)
	}
	s.activeProcesses[handle] = true

	release := func() {
		s.processingMutex.Lock()
		delete(s.activeProcesses, handle)
		s.processingMutex.Unlock()
	}
	return line.Clone(), release, nil
}

func (s *ReconciliationService) store(line *models.Line) {
	s.mu.Lock()
	s.lines[line.Handle] = line
	s.mu.Unlock()
}

// mutate runs fn against a working copy of the line and stores the copy if
// fn succeeds.
func (s *ReconciliationService) mutate(handle models.LineHandle, op string, fn func(line *models.Line) error) (*models.Line, error) {
	work, release, err := s.acquire(handle)
	if err != nil {
		return nil, err
	}
	defer release()

	if work.Reconciled {
		return nil, fmt.Errorf("%w: %s", ErrLineReconciled, handle)
	}
	if err := fn(work); err != nil {
		s.logger.Debug("line operation failed",
			zap.String("op", op),
			zap.String("line", string(handle)),
			zap.Error(err),
		)
		return nil, err
	}
	s.store(work)
	return work.Clone(), nil
}

// settle recomputes the line and re-enters mode, the closing step of every
// structural operation.
func (s *ReconciliationService) settle(ctx context.Context, line *models.Line, mode models.Mode) error {
	if err := s.engine.ComputeLine(ctx, line); err != nil {
		return err
	}
	return s.enterMode(ctx, line, mode)
}

// settleWriteOffs is settle for operations that changed the write-off drafts
// of the line: once their taxes are known the statement amount is allocated
// again over the ledger entries.
func (s *ReconciliationService) settleWriteOffs(ctx context.Context, line *models.Line, mode models.Mode) error {
	if line.Type == models.LineTypeStatement {
		if err := s.engine.RecomputeTaxes(ctx, line); err != nil {
			return err
		}
		line.Balance = matching.ComputeBalance(s.cmp, line)
		matching.RefreshPartialPreview(s.cmp, line)
	}
	return s.settle(ctx, line, mode)
}

func propositionFromLedger(l models.LedgerLine) *models.Proposition {
	p := &models.Proposition{
		ID:             models.LedgerID(l.ID),
		Name:           l.Name,
		Date:           l.Date,
		Amount:         l.Amount,
		BaseAmount:     l.Amount,
		AmountCurrency: l.AmountCurrency,
		CurrencyID:     l.CurrencyID,
		AccountID:      l.AccountID,
		AccountCode:    l.AccountCode,
		AccountType:    l.AccountType,
		JournalID:      l.JournalID,
		PartnerID:      l.PartnerID,
		AlreadyPaid:    l.AlreadyPaid,
		Liquidity:      l.Liquidity || l.AccountType == models.AccountLiquidity,
		Display:        true,
	}
	p.Revalidate()
	return p
}
