// Package money provides a fixed-point amount+currency value type.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount   = errors.New("negative_amount")
	ErrInvalidCurrency  = errors.New("invalid_currency")
	ErrPrecisionTooFine = errors.New("precision_too_fine")
	ErrInvalidAmount    = errors.New("invalid_amount")
)

// CurrencyMismatchError is returned when arithmetic mixes currencies.
type CurrencyMismatchError struct {
	Left  string
	Right string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("currency_mismatch: %s vs %s", e.Left, e.Right)
}

// Code returns the stable machine-readable error code.
func (e *CurrencyMismatchError) Code() string { return "CURRENCY_MISMATCH" }

// Money holds an amount in minor units (cents) with its ISO currency code.
// The zero value is not valid; use New or FromString.
type Money struct {
	amount   int64
	currency string
}

// New builds a Money from minor units.
func New(minor int64, currency string) (Money, error) {
	if minor < 0 {
		return Money{}, ErrNegativeAmount
	}
	code, err := normalizeCurrency(currency)
	if err != nil {
		return Money{}, err
	}
	return Money{amount: minor, currency: code}, nil
}

// FromDecimal builds a Money from a major-unit decimal. Amounts with more
// than two decimal places are rejected rather than rounded.
func FromDecimal(d decimal.Decimal, currency string) (Money, error) {
	if d.Exponent() < -2 && !d.Equal(d.Truncate(2)) {
		return Money{}, ErrPrecisionTooFine
	}
	minor := d.Shift(2)
	if !minor.IsInteger() {
		return Money{}, ErrPrecisionTooFine
	}
	return New(minor.IntPart(), currency)
}

// FromString parses a major-unit amount such as "49.99".
func FromString(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	return FromDecimal(d, currency)
}

// MustNew builds a Money from minor units and panics on invalid input.
// Intended for tests and static tables.
func MustNew(minor int64, currency string) Money {
	m, err := New(minor, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Amount returns the amount in minor units.
func (m Money) Amount() int64 { return m.amount }

// Currency returns the ISO currency code.
func (m Money) Currency() string { return m.currency }

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.amount, -2)
}

func (m Money) IsZero() bool     { return m.amount == 0 }
func (m Money) IsPositive() bool { return m.amount > 0 }

// Add returns the sum of two amounts of the same currency.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount + other.amount, currency: m.currency}, nil
}

// Sub returns the difference of two amounts of the same currency.
// A result below zero is an error, never an underflow.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	if other.amount > m.amount {
		return Money{}, ErrNegativeAmount
	}
	return Money{amount: m.amount - other.amount, currency: m.currency}, nil
}

// Cmp compares two amounts of the same currency: -1 if m < other,
// 0 if equal, +1 if m > other.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	switch {
	case m.amount < other.amount:
		return -1, nil
	case m.amount > other.amount:
		return 1, nil
	default:
		return 0, nil
	}
}

// Equal reports whether amount and currency both match.
func (m Money) Equal(other Money) bool {
	return m.amount == other.amount && m.currency == other.currency
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Decimal().StringFixed(2), m.currency)
}

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return &CurrencyMismatchError{Left: m.currency, Right: other.currency}
	}
	return nil
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON encodes the amount in major units.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{
		Amount:   m.Decimal().StringFixed(2),
		Currency: m.currency,
	})
}

// UnmarshalJSON decodes a major-unit amount.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromString(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func normalizeCurrency(currency string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if len(code) != 3 {
		return "", ErrInvalidCurrency
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", ErrInvalidCurrency
		}
	}
	return code, nil
}
