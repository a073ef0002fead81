package services

import (
	"context"

	"github.com/shopspring/decimal"

	"reconciliation-engine/internal/matching"
	"reconciliation-engine/internal/models"
)

// LedgerQueryService reads unreconciled ledger entries and the open items a
// session starts from.
type LedgerQueryService interface {
	FetchCandidateLines(ctx context.Context, q models.CandidateQuery) (models.CandidatePage, error)
	FetchOpenItems(ctx context.Context, lineType models.LineType, scopeIDs []int64) ([]models.OpenItem, error)
}

// TaxComputationService computes the taxes of a base amount.
type TaxComputationService = matching.TaxComputer

// PartnerService resolves partner defaults.
type PartnerService interface {
	ResolveAccounts(ctx context.Context, partnerID int64) (models.PartnerAccounts, error)
}

// CommitService books reconciliations. ProcessReconciliations is all or
// nothing: an error means no record of the batch was applied.
type CommitService interface {
	ProcessReconciliations(ctx context.Context, batch []models.CommitRecord) error
	MarkPartnersReconciled(ctx context.Context, partnerIDs []int64) error
}

// ReconcileModelService serves the journal entry templates.
type ReconcileModelService interface {
	ListTemplates(ctx context.Context, companyIDs []int64) ([]models.Template, error)
	Instantiate(ctx context.Context, templateID int64, target decimal.Decimal, partnerID int64) ([]models.ProposedLine, error)
}
