// Package money holds the positive amount-plus-currency value carried by
// commands that move funds.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
)

// Money is a strictly positive decimal amount in an ISO 4217 currency. The
// zero value means "no amount" and is rejected by every command constructor.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// New validates amount and currency. The amount is canonicalised so that two
// values built from the same decimal text compare equal field for field.
func New(amount decimal.Decimal, currencyCode string) (Money, error) {
	if !amount.IsPositive() {
		return Money{}, apperrors.Validation("amount", "must be greater than zero")
	}
	code, err := ParseCurrency(currencyCode)
	if err != nil {
		return Money{}, err
	}
	canonical, err := decimal.NewFromString(amount.String())
	if err != nil {
		return Money{}, apperrors.Validation("amount", "is not a decimal")
	}
	return Money{amount: canonical, currency: code}, nil
}

// Parse builds Money from decimal text such as "10.50".
func Parse(amount, currencyCode string) (Money, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, apperrors.Validation("amount", "is not a decimal")
	}
	return New(value, currencyCode)
}

// ParseCurrency returns the canonical upper-case ISO 4217 code.
func ParseCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", apperrors.Validation("currency", "is required")
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", apperrors.Validation("currency", "is not an ISO 4217 code")
	}
	return unit.String(), nil
}

// Amount returns the decimal amount.
func (m Money) Amount() decimal.Decimal { return m.amount }

// Currency returns the ISO 4217 code.
func (m Money) Currency() string { return m.currency }

// IsZero reports whether m is the unset value.
func (m Money) IsZero() bool { return m.currency == "" }

// Equal compares amount by value and currency by code.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// String formats m as "10.5 EUR".
func (m Money) String() string {
	if m.IsZero() {
		return ""
	}
	return m.amount.String() + " " + m.currency
}
