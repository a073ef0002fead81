package models

import (
	"github.com/shopspring/decimal"
)

// LineHandle is the opaque session token identifying one reconciliation line.
type LineHandle string

// LineType tells whether a line is a bank statement transaction or an
// open-balance bucket of the manual reconciliation screen.
type LineType string

// LineType constants
const (
	LineTypeStatement LineType = "statement"
	LineTypeAccounts  LineType = "accounts"
	LineTypeCustomers LineType = "customers"
	LineTypeSuppliers LineType = "suppliers"
)

// Valid reports whether t is a known line type.
func (t LineType) Valid() bool {
	switch t {
	case LineTypeStatement, LineTypeAccounts, LineTypeCustomers, LineTypeSuppliers:
		return true
	}
	return false
}

// Mode is the state of a line's state machine.
type Mode string

// Mode constants. ModeDefault and ModeNext are requests, never stored on a line.
const (
	ModeInactive   Mode = "inactive"
	ModeMatch      Mode = "match"
	ModeMatchRP    Mode = "match_rp"
	ModeMatchOther Mode = "match_other"
	ModeCreate     Mode = "create"

	ModeDefault Mode = "default"
	ModeNext    Mode = "next"
)

// IsMatch reports whether m is one of the candidate matching sub-modes.
func (m Mode) IsMatch() bool {
	return m == ModeMatch || m == ModeMatchRP || m == ModeMatchOther
}

// BalanceKind classifies the residual of a line.
type BalanceKind string

// BalanceKind constants
const (
	BalanceDebitLike  BalanceKind = "debit-like"
	BalanceCreditLike BalanceKind = "credit-like"
	BalanceBalanced   BalanceKind = "balanced"
)

// Balance is the derived snapshot recomputed after every mutation of a line.
type Balance struct {
	Amount            decimal.Decimal `json:"amount"`
	AmountStr         string          `json:"amount_str"`
	AmountCurrency    decimal.Decimal `json:"amount_currency"`
	AmountCurrencyStr string          `json:"amount_currency_str,omitempty"`
	// ForeignCurrencyID is set only when the foreign sub-total is tracked.
	ForeignCurrencyID string      `json:"foreign_currency_id,omitempty"`
	ShowBalance       bool        `json:"show_balance"`
	Kind              BalanceKind `json:"kind"`
}

// Line represents one unit of reconciliation work: a statement transaction
// or an account/partner open balance.
type Line struct {
	Handle     LineHandle `json:"handle"`
	Type       LineType   `json:"type"`
	Reconciled bool       `json:"reconciled"`
	Mode       Mode       `json:"mode"`
	Balance    Balance    `json:"balance"`

	Propositions     []*Proposition          `json:"propositions"`
	CandidateMatches map[Mode][]*Proposition `json:"candidate_matches"`
	RemainingCount   map[Mode]int            `json:"remaining_count"`
	SearchText       map[Mode]string         `json:"search_text,omitempty"`

	FocusedPropositionID PropositionID `json:"focused_proposition_id"`

	Name            string              `json:"name,omitempty"`
	Date            string              `json:"date,omitempty"`
	Amount          decimal.Decimal     `json:"amount"`
	AmountCurrency  decimal.NullDecimal `json:"amount_currency"`
	CurrencyID      string              `json:"currency_id"`
	StatementLineID int64               `json:"statement_line_id,omitempty"`
	JournalID       int64               `json:"journal_id,omitempty"`
	CompanyID       int64               `json:"company_id,omitempty"`

	AccountID            int64  `json:"account_id,omitempty"`
	PartnerID            int64  `json:"partner_id,omitempty"`
	PartnerName          string `json:"partner_name,omitempty"`
	OpenBalanceAccountID int64  `json:"open_balance_account_id,omitempty"`
	ToCheck              bool   `json:"to_check"`
}

// NewLine returns an empty line of the given type with its maps allocated.
func NewLine(handle LineHandle, lineType LineType) *Line {
	return &Line{
		Handle:           handle,
		Type:             lineType,
		Mode:             ModeInactive,
		CandidateMatches: make(map[Mode][]*Proposition),
		RemainingCount:   make(map[Mode]int),
		SearchText:       make(map[Mode]string),
	}
}

// MatchModes returns the candidate sub-modes a line of this type uses, in
// the fixed cycling order.
func (l *Line) MatchModes() []Mode {
	if l.Type == LineTypeStatement {
		return []Mode{ModeMatchRP, ModeMatchOther}
	}
	return []Mode{ModeMatch}
}

// Find returns the proposition with the given id, or nil.
func (l *Line) Find(id PropositionID) *Proposition {
	for _, p := range l.Propositions {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// FindCandidate returns the cached candidate with the given id and the mode
// that holds it.
func (l *Line) FindCandidate(id PropositionID) (*Proposition, Mode) {
	for _, mode := range l.MatchModes() {
		for _, c := range l.CandidateMatches[mode] {
			if c.ID == id {
				return c, mode
			}
		}
	}
	return nil, ""
}

// ValidPropositions returns the propositions not flagged invalid, in order.
func (l *Line) ValidPropositions() []*Proposition {
	var valid []*Proposition
	for _, p := range l.Propositions {
		if !p.IsInvalid() {
			valid = append(valid, p)
		}
	}
	return valid
}

// HasCandidates reports whether any match sub-mode holds cached candidates.
func (l *Line) HasCandidates() bool {
	for _, mode := range l.MatchModes() {
		if len(l.CandidateMatches[mode]) > 0 {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the line.
func (l *Line) Clone() *Line {
	if l == nil {
		return nil
	}
	c := *l
	c.Propositions = ClonePropositions(l.Propositions)
	c.CandidateMatches = make(map[Mode][]*Proposition, len(l.CandidateMatches))
	for mode, list := range l.CandidateMatches {
		c.CandidateMatches[mode] = ClonePropositions(list)
	}
	c.RemainingCount = make(map[Mode]int, len(l.RemainingCount))
	for mode, n := range l.RemainingCount {
		c.RemainingCount[mode] = n
	}
	c.SearchText = make(map[Mode]string, len(l.SearchText))
	for mode, s := range l.SearchText {
		c.SearchText[mode] = s
	}
	return &c
}
