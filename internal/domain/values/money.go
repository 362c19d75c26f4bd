package values

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Money represents a monetary amount in auction credits with exact
// decimal arithmetic. The zero value is a valid zero amount.
type Money struct {
	amount decimal.Decimal
}

// NewMoney creates a new Money value object.
func NewMoney(amount decimal.Decimal) Money {
	return Money{amount: amount}
}

// NewMoneyFromString creates Money from a decimal string.
func NewMoneyFromString(amount string) (Money, error) {
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount: %w", err)
	}
	return Money{amount: dec}, nil
}

// NewMoneyFromFloat creates Money from a float64 amount. NaN and
// infinite values are rejected rather than silently truncated.
func NewMoneyFromFloat(amount float64) (Money, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return Money{}, fmt.Errorf("amount must be finite, got %v", amount)
	}
	return Money{amount: decimal.NewFromFloat(amount)}, nil
}

// MustNewMoneyFromFloat creates Money from a float and panics on error
// (for constants and tests).
func MustNewMoneyFromFloat(amount float64) Money {
	m, err := NewMoneyFromFloat(amount)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero Money value.
func Zero() Money {
	return Money{amount: decimal.Zero}
}

// Amount returns the decimal amount.
func (m Money) Amount() decimal.Decimal {
	return m.amount
}

// String returns the amount formatted to two decimal places.
func (m Money) String() string {
	return m.amount.StringFixed(2)
}

// IsZero checks if the amount is zero.
func (m Money) IsZero() bool {
	return m.amount.IsZero()
}

// IsPositive checks if the amount is strictly positive.
func (m Money) IsPositive() bool {
	return m.amount.IsPositive()
}

// IsNegative checks if the amount is negative.
func (m Money) IsNegative() bool {
	return m.amount.IsNegative()
}

// Equal checks if two Money values are equal.
func (m Money) Equal(other Money) bool {
	return m.amount.Equal(other.amount)
}

// Compare returns -1, 0, or 1 based on comparison with other Money.
func (m Money) Compare(other Money) int {
	return m.amount.Cmp(other.amount)
}

// LessThan reports whether m < other.
func (m Money) LessThan(other Money) bool {
	return m.amount.Cmp(other.amount) < 0
}

// GreaterThan reports whether m > other.
func (m Money) GreaterThan(other Money) bool {
	return m.amount.Cmp(other.amount) > 0
}

// Add adds two Money values.
func (m Money) Add(other Money) Money {
	return Money{amount: m.amount.Add(other.amount)}
}

// Sub subtracts other from m.
func (m Money) Sub(other Money) Money {
	return Money{amount: m.amount.Sub(other.amount)}
}

// ToFloat64 converts to float64 (for display only; precision may be lost).
func (m Money) ToFloat64() float64 {
	f, _ := m.amount.Float64()
	return f
}

// MarshalJSON encodes the amount as a JSON string to preserve precision.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.amount.String() + `"`), nil
}

// UnmarshalJSON decodes a JSON number or string into Money. Non-numeric
// input (including "NaN" and "Inf") is rejected.
func (m *Money) UnmarshalJSON(data []byte) error {
	var dec decimal.Decimal
	if err := dec.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("invalid money amount: %w", err)
	}
	m.amount = dec
	return nil
}
