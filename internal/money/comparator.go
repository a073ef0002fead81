// Package money compares and rounds monetary amounts at their currency's
// decimal precision.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultPrecision is used for currencies without a configured precision.
const DefaultPrecision int32 = 2

// Comparator compares amounts after rounding them to a currency's precision.
// Every equality or ordering check on money goes through it.
type Comparator struct {
	precisions map[string]int32
	fallback   int32
}

// NewComparator builds a comparator from a currency code to decimal places map.
func NewComparator(precisions map[string]int32) *Comparator {
	c := &Comparator{
		precisions: make(map[string]int32, len(precisions)),
		fallback:   DefaultPrecision,
	}
	for code, digits := range precisions {
		c.precisions[strings.ToUpper(code)] = digits
	}
	return c
}

// WithFallback returns a copy of the comparator using digits for unknown currencies.
func (c *Comparator) WithFallback(digits int32) *Comparator {
	cp := NewComparator(c.precisions)
	cp.fallback = digits
	return cp
}

// Precision returns the number of decimal places of the currency.
func (c *Comparator) Precision(currencyID string) int32 {
	if c == nil {
		return DefaultPrecision
	}
	if digits, ok := c.precisions[strings.ToUpper(currencyID)]; ok {
		return digits
	}
	return c.fallback
}

// Round rounds amount half away from zero at the currency precision.
func (c *Comparator) Round(amount decimal.Decimal, currencyID string) decimal.Decimal {
	return amount.Round(c.Precision(currencyID))
}

// Compare returns -1, 0 or 1 as the rounded a is less than, equal to or
// greater than the rounded b.
func (c *Comparator) Compare(a, b decimal.Decimal, currencyID string) int {
	return c.Round(a, currencyID).Sub(c.Round(b, currencyID)).Sign()
}

// IsZero reports whether amount rounds to zero.
func (c *Comparator) IsZero(amount decimal.Decimal, currencyID string) bool {
	return c.Round(amount, currencyID).IsZero()
}

// Equal reports whether a and b are equal at the currency precision.
func (c *Comparator) Equal(a, b decimal.Decimal, currencyID string) bool {
	return c.Compare(a, b, currencyID) == 0
}

// Format renders amount with exactly the currency's number of decimals.
func (c *Comparator) Format(amount decimal.Decimal, currencyID string) string {
	return amount.StringFixed(c.Precision(currencyID))
}
