package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInvalidPropositionID is returned when an id cannot be parsed.
var ErrInvalidPropositionID = errors.New("invalid proposition id")

// PropositionID identifies a proposition. It is either the numeric id of an
// existing ledger entry or a locally generated draft token; the two spaces
// never overlap. The zero value means "no id".
type PropositionID struct {
	ledger int64
	draft  string
}

// LedgerID returns the id of an existing ledger entry.
func LedgerID(id int64) PropositionID {
	return PropositionID{ledger: id}
}

// NewDraftID returns a fresh synthetic id for a locally created proposition.
func NewDraftID() PropositionID {
	return PropositionID{draft: "draft-" + uuid.NewString()}
}

// ParsePropositionID reads an id from its string form: positive integers are
// ledger ids, anything else is a draft token.
func ParsePropositionID(s string) (PropositionID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PropositionID{}, ErrInvalidPropositionID
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n <= 0 {
			return PropositionID{}, fmt.Errorf("%w: %q", ErrInvalidPropositionID, s)
		}
		return LedgerID(n), nil
	}
	return PropositionID{draft: s}, nil
}

// IsLedger reports whether the id references an existing ledger entry.
func (id PropositionID) IsLedger() bool { return id.draft == "" && id.ledger != 0 }

// IsDraft reports whether the id was generated locally.
func (id PropositionID) IsDraft() bool { return id.draft != "" }

// IsZero reports whether the id is unset.
func (id PropositionID) IsZero() bool { return id.draft == "" && id.ledger == 0 }

// Ledger returns the numeric ledger id, if any.
func (id PropositionID) Ledger() (int64, bool) {
	if !id.IsLedger() {
		return 0, false
	}
	return id.ledger, true
}

func (id PropositionID) String() string {
	if id.IsDraft() {
		return id.draft
	}
	if id.IsLedger() {
		return strconv.FormatInt(id.ledger, 10)
	}
	return ""
}

// MarshalJSON writes ledger ids as numbers, drafts as strings and the zero id as null.
func (id PropositionID) MarshalJSON() ([]byte, error) {
	switch {
	case id.IsLedger():
		return []byte(strconv.FormatInt(id.ledger, 10)), nil
	case id.IsDraft():
		return json.Marshal(id.draft)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts the forms written by MarshalJSON.
func (id *PropositionID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "" {
		*id = PropositionID{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var token string
		if err := json.Unmarshal(data, &token); err != nil {
			return err
		}
		parsed, err := ParsePropositionID(token)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPropositionID, s)
	}
	*id = LedgerID(n)
	return nil
}

// AccountType drives which candidate bucket a ledger entry belongs to.
type AccountType string

// AccountType constants
const (
	AccountReceivable AccountType = "receivable"
	AccountPayable    AccountType = "payable"
	AccountLiquidity  AccountType = "liquidity"
	AccountOther      AccountType = "other"
)

// IsReceivablePayable reports whether the account is a partner account.
func (t AccountType) IsReceivablePayable() bool {
	return t == AccountReceivable || t == AccountPayable
}

// TaxRef references a tax attached to a proposition.
type TaxRef struct {
	ID           int64  `json:"id"`
	Name         string `json:"name,omitempty"`
	PriceInclude bool   `json:"price_include,omitempty"`
}

// Proposition is one candidate or manually created offsetting entry.
// Amounts are signed and expressed in the line currency.
type Proposition struct {
	ID   PropositionID `json:"id"`
	Name string        `json:"name,omitempty"`
	Date string        `json:"date,omitempty"`

	Amount decimal.Decimal `json:"amount"`
	// BaseAmount is the taxable amount the user entered; taxes are computed from it.
	BaseAmount     decimal.Decimal     `json:"base_amount"`
	PartialAmount  decimal.NullDecimal `json:"partial_amount"`
	AmountCurrency decimal.NullDecimal `json:"amount_currency"`
	CurrencyID     string              `json:"currency_id,omitempty"`
	DisplayAmount  string              `json:"amount_str,omitempty"`

	AccountID   int64       `json:"account_id,omitempty"`
	AccountCode string      `json:"account_code,omitempty"`
	AccountType AccountType `json:"account_type,omitempty"`
	JournalID   int64       `json:"journal_id,omitempty"`
	PartnerID   int64       `json:"partner_id,omitempty"`

	// TaxID is the tax a sub-line was generated from.
	TaxID                int64    `json:"tax_id,omitempty"`
	TaxIDs               []TaxRef `json:"tax_ids,omitempty"`
	TaxTagIDs            []int64  `json:"tax_tag_ids,omitempty"`
	TaxRepartitionLineID int64    `json:"tax_repartition_line_id,omitempty"`
	AnalyticAccountID    int64    `json:"analytic_account_id,omitempty"`
	AnalyticTagIDs       []int64  `json:"analytic_tag_ids,omitempty"`
	ReconcileModelID     int64    `json:"reconcile_model_id,omitempty"`

	// Link holds the base proposition id when this is a tax sub-line.
	Link PropositionID `json:"link"`

	ForceTaxIncluded  bool `json:"force_tax_included,omitempty"`
	RequiresTax       bool `json:"requires_tax,omitempty"`
	Liquidity         bool `json:"liquidity,omitempty"`
	AlreadyPaid       bool `json:"already_paid,omitempty"`
	ToCheck           bool `json:"to_check,omitempty"`
	NeedsTaxRecompute bool `json:"-"`
	Display           bool `json:"display"`

	invalid bool
}

// IsInvalid reports the computed validity flag. It is maintained by Revalidate.
func (p *Proposition) IsInvalid() bool { return p.invalid }

// Revalidate recomputes the invalid flag. Ledger entries are always valid;
// drafts need an account, a non-zero amount and a name.
func (p *Proposition) Revalidate() {
	if p.ID.IsLedger() {
		p.invalid = false
		return
	}
	p.invalid = p.AccountID == 0 || p.Amount.IsZero() || strings.TrimSpace(p.Name) == ""
}

// IsTaxLine reports whether the proposition is a tax sub-line of a base.
func (p *Proposition) IsTaxLine() bool { return !p.Link.IsZero() }

// Effective returns the partial amount when set, the full amount otherwise.
func (p *Proposition) Effective() decimal.Decimal {
	if p.PartialAmount.Valid {
		return p.PartialAmount.Decimal
	}
	return p.Amount
}

// ClearPartial drops any partial amount.
func (p *Proposition) ClearPartial() {
	p.PartialAmount = decimal.NullDecimal{}
}

// SetPartial records a partial settlement amount.
func (p *Proposition) SetPartial(amount decimal.Decimal) {
	p.PartialAmount = decimal.NewNullDecimal(amount)
}

// Clone returns a deep copy of the proposition.
func (p *Proposition) Clone() *Proposition {
	if p == nil {
		return nil
	}
	c := *p
	c.TaxIDs = append([]TaxRef(nil), p.TaxIDs...)
	c.TaxTagIDs = append([]int64(nil), p.TaxTagIDs...)
	c.AnalyticTagIDs = append([]int64(nil), p.AnalyticTagIDs...)
	return &c
}

// MarshalJSON adds the computed invalid flag to the encoded form.
func (p Proposition) MarshalJSON() ([]byte, error) {
	type alias Proposition
	return json.Marshal(struct {
		alias
		Invalid bool `json:"invalid"`
	}{alias(p), p.invalid})
}

// ClonePropositions deep-copies a proposition list.
func ClonePropositions(list []*Proposition) []*Proposition {
	if list == nil {
		return nil
	}
	out := make([]*Proposition, len(list))
	for i, p := range list {
		out[i] = p.Clone()
	}
	return out
}
