package models

import (
	"github.com/shopspring/decimal"
)

// LedgerLine is an existing, unreconciled ledger entry offered as a candidate.
type LedgerLine struct {
	ID             int64               `json:"id"`
	Name           string              `json:"name"`
	Date           string              `json:"date"`
	Amount         decimal.Decimal     `json:"amount"`
	AmountCurrency decimal.NullDecimal `json:"amount_currency"`
	CurrencyID     string              `json:"currency_id,omitempty"`
	AccountID      int64               `json:"account_id"`
	AccountCode    string              `json:"account_code"`
	AccountType    AccountType         `json:"account_type"`
	JournalID      int64               `json:"journal_id"`
	PartnerID      int64               `json:"partner_id,omitempty"`
	AlreadyPaid    bool                `json:"already_paid,omitempty"`
	Liquidity      bool                `json:"liquidity,omitempty"`
}

// CandidateQuery describes one page of candidate ledger entries.
type CandidateQuery struct {
	Mode            Mode
	StatementLineID int64
	AccountID       int64
	PartnerID       int64
	ExcludedIDs     []int64
	SearchText      string
	Limit           int
}

// CandidatePage is one page of candidates plus the total count matching the
// query, used to track how many candidates remain unfetched.
type CandidatePage struct {
	Lines []LedgerLine
	Total int
}

// StatementLine carries the bank transaction of a statement line.
type StatementLine struct {
	ID             int64               `json:"id"`
	Name           string              `json:"name"`
	Date           string              `json:"date"`
	Amount         decimal.Decimal     `json:"amount"`
	AmountCurrency decimal.NullDecimal `json:"amount_currency"`
	CurrencyID     string              `json:"currency_id"`
	JournalID      int64               `json:"journal_id"`
	CompanyID      int64               `json:"company_id"`
}

// OpenItem is the server-side description of a line to load.
type OpenItem struct {
	Type                 LineType       `json:"type"`
	StatementLine        *StatementLine `json:"statement_line,omitempty"`
	AccountID            int64          `json:"account_id,omitempty"`
	PartnerID            int64          `json:"partner_id,omitempty"`
	PartnerName          string         `json:"partner_name,omitempty"`
	CurrencyID           string         `json:"currency_id"`
	OpenBalanceAccountID int64          `json:"open_balance_account_id,omitempty"`
	// Proposed holds entries the server already suggests as a match.
	Proposed []LedgerLine `json:"proposed,omitempty"`
}

// TaxRequest is the input of one tax computation call.
type TaxRequest struct {
	TaxIDs            []int64
	BaseAmount        decimal.Decimal
	CurrencyID        string
	RoundPerLine      bool
	ForcePriceInclude bool
}

// TaxComponent is one tax amount returned by the tax computation service.
type TaxComponent struct {
	TaxID             int64
	Name              string
	Amount            decimal.Decimal
	Base              decimal.Decimal
	AccountID         int64
	RepartitionLineID int64
	TagIDs            []int64
	ChildTaxIDs       []TaxRef
	Analytic          bool
}

// TaxResult is the response of the tax computation service. Base is the
// tax-exclusive base amount.
type TaxResult struct {
	Base     decimal.Decimal
	Taxes    []TaxComponent
	BaseTags []int64
}

// PartnerAccounts holds the partner's default receivable and payable accounts.
type PartnerAccounts struct {
	ReceivableAccountID int64
	PayableAccountID    int64
}

// Template is a reconcile model used to pre-populate draft propositions.
type Template struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CompanyID int64  `json:"company_id"`
}

// ProposedLine is one line produced by instantiating a template.
type ProposedLine struct {
	Name              string
	AccountID         int64
	AccountType       AccountType
	JournalID         int64
	Amount            decimal.Decimal
	TaxIDs            []TaxRef
	ForceTaxIncluded  bool
	AnalyticAccountID int64
	AnalyticTagIDs    []int64
	RequiresTax       bool
	ToCheck           bool
}

// NewLineRecord is a draft proposition serialized for the ledger. Balance is
// the signed amount to book, absent fields are omitted.
type NewLineRecord struct {
	Name                 string          `json:"name,omitempty"`
	Date                 string          `json:"date,omitempty"`
	Balance              decimal.Decimal `json:"balance"`
	AccountID            int64           `json:"account_id"`
	JournalID            int64           `json:"journal_id,omitempty"`
	PartnerID            int64           `json:"partner_id,omitempty"`
	TaxIDs               []int64         `json:"tax_ids,omitempty"`
	TaxTagIDs            []int64         `json:"tax_tag_ids,omitempty"`
	TaxRepartitionLineID int64           `json:"tax_repartition_line_id,omitempty"`
	AnalyticAccountID    int64           `json:"analytic_account_id,omitempty"`
	AnalyticTagIDs       []int64         `json:"analytic_tag_ids,omitempty"`
	ReconcileModelID     int64           `json:"reconcile_model_id,omitempty"`
}

// PartialMoveLine carries the partially settled amount of a ledger entry.
type PartialMoveLine struct {
	ID     int64           `json:"id"`
	Amount decimal.Decimal `json:"amount"`
}

// CommitRecord is the reconciliation of one line in a commit batch. ID and
// Type are set only for lines cleared without propositions.
type CommitRecord struct {
	ID               *int64            `json:"id"`
	Type             *LineType         `json:"type"`
	StatementLineID  int64             `json:"statement_line_id,omitempty"`
	PartnerID        int64             `json:"partner_id,omitempty"`
	MoveLineIDs      []int64           `json:"mv_line_ids"`
	PartialMoveLines []PartialMoveLine `json:"partial_mv_lines,omitempty"`
	NewLines         []NewLineRecord   `json:"new_mv_line_dicts"`
	ToCheck          bool              `json:"to_check,omitempty"`
}
