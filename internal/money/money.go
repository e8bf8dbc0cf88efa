// Package money provides the exact-decimal Amount value type used for every
// monetary figure in the negotiation pipeline.
//
// Amounts are fixed-point decimals with a single canonical string form
// ("1250.00") and a single canonical parse constructor. Binary floats never
// enter the pipeline: values arriving from persistence, configuration, or
// free text are re-parsed from their decimal string representation.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by canonical amounts.
const Scale = 2

// Amount is an exact fixed-point decimal monetary value.
//
// The zero value is a valid zero amount. Amount is immutable; all arithmetic
// returns a new value rounded to Scale digits using round-half-up.
type Amount struct {
	d decimal.Decimal
}

// Zero is the zero amount.
var Zero = Amount{}

// Parse constructs an Amount from its canonical decimal string form.
// This is the only path from text into the pipeline: currency symbols and
// thousands separators must already be stripped by the caller.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("money: empty amount string")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("money: parsing %q: %w", s, err)
	}
	return Amount{d: roundHalfUp(d)}, nil
}

// MustParse is Parse for trusted literals; it panics on malformed input.
// Intended for tests and compile-time constants only.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromInt constructs an Amount from a whole number of currency units.
func FromInt(n int64) Amount {
	return Amount{d: decimal.NewFromInt(n)}
}

// roundHalfUp rounds d to Scale fractional digits. decimal.Round rounds
// half away from zero, which is round-half-up for the non-negative values
// this pipeline deals in.
func roundHalfUp(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// String returns the canonical serialization, always with two fractional
// digits ("1250.00").
func (a Amount) String() string {
	return a.d.StringFixed(Scale)
}

// Decimal exposes the underlying decimal for read-only interop (e.g. the
// budget tracker's intermediate arithmetic). Callers must not mutate it.
func (a Amount) Decimal() decimal.Decimal {
	return a.d
}

// Mul multiplies by an exact decimal factor and rounds to Scale.
func (a Amount) Mul(f decimal.Decimal) Amount {
	return Amount{d: roundHalfUp(a.d.Mul(f))}
}

// Div divides by an exact decimal divisor and rounds to Scale.
func (a Amount) Div(f decimal.Decimal) Amount {
	return Amount{d: roundHalfUp(a.d.DivRound(f, Scale+2))}
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{d: a.d.Add(b.d)}
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount {
	return Amount{d: a.d.Sub(b.d)}
}

// Cmp compares a and b: -1 if a < b, 0 if equal, +1 if a > b.
func (a Amount) Cmp(b Amount) int {
	return a.d.Cmp(b.d)
}

// LessThan reports a < b.
func (a Amount) LessThan(b Amount) bool { return a.d.Cmp(b.d) < 0 }

// GreaterThan reports a > b.
func (a Amount) GreaterThan(b Amount) bool { return a.d.Cmp(b.d) > 0 }

// Equal reports numeric equality (1250 == 1250.00).
func (a Amount) Equal(b Amount) bool { return a.d.Cmp(b.d) == 0 }

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a.d.IsZero() }

// IsPositive reports whether the amount is strictly greater than zero.
func (a Amount) IsPositive() bool { return a.d.IsPositive() }

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a.d.Cmp(b.d) <= 0 {
		return a
	}
	return b
}

// MarshalText implements encoding.TextMarshaler using the canonical form.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler via the canonical parse.
func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalJSON serializes the amount as a JSON string, never a JSON number,
// so no consumer is tempted to read it back through a float.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts the canonical string form. A bare JSON number is
// also accepted because the raw token is still an exact decimal literal;
// it is parsed as text, not through float64.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	return a.UnmarshalText([]byte(s))
}
