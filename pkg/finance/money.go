package finance

import (
	"fmt"
)

// Money represents a monetary value in a specific currency.
// It uses integer math (minor units) to avoid floating point errors.
// Claim prices and reservoir balances are carried as minor units throughout;
// Money exists for arithmetic and display at the edges.
type Money struct {
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"` // ISO 4217 code
	Scale       int    `json:"scale"`    // e.g. 2 for USD/EUR
}

// NewMoney creates a new Money instance with the default fiat scale.
func NewMoney(amount int64, currency string) Money {
	return Money{
		AmountMinor: amount,
		Currency:    currency,
		Scale:       2,
	}
}

// Add adds two Money amounts. Returns error on currency mismatch.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	if m.Scale != other.Scale {
		return Money{}, fmt.Errorf("scale mismatch: %d vs %d", m.Scale, other.Scale)
	}
	return Money{
		AmountMinor: m.AmountMinor + other.AmountMinor,
		Currency:    m.Currency,
		Scale:       m.Scale,
	}, nil
}

// Sub subtracts other Money from m. Returns error on currency mismatch.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{
		AmountMinor: m.AmountMinor - other.AmountMinor,
		Currency:    m.Currency,
		Scale:       m.Scale,
	}, nil
}

// IsZero returns true if the amount is 0.
func (m Money) IsZero() bool {
	return m.AmountMinor == 0
}

// IsPositive returns true if the amount is > 0.
func (m Money) IsPositive() bool {
	return m.AmountMinor > 0
}

// IsNegative returns true if the amount is < 0.
func (m Money) IsNegative() bool {
	return m.AmountMinor < 0
}

// String renders the amount in major units, e.g. "2500.00 USD".
func (m Money) String() string {
	div := int64(1)
	for i := 0; i < m.Scale; i++ {
		div *= 10
	}
	major := m.AmountMinor / div
	minor := m.AmountMinor % div
	if minor < 0 {
		minor = -minor
	}
	return fmt.Sprintf("%d.%0*d %s", major, m.Scale, minor, m.Currency)
}
