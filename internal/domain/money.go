package domain

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value in minor units (cents).
type Amount int64

// MaxAmount mirrors the NUMERIC(12,2) bound of the balance column.
const MaxAmount Amount = 999_999_999_999

var maxAmountDecimal = decimal.NewFromInt(int64(MaxAmount))

const (
	// maxIntegerDigits is the number of digits left of the point in MaxAmount.
	maxIntegerDigits = 10
	// minExponent bounds how many fractional digits, trailing zeros
	// included, an input may carry.
	minExponent = -18
)

// ParseAmount reads a decimal string such as "100.25". Anything that is not
// a number, carries more than two fractional digits, or exceeds MaxAmount is
// rejected with ErrInvalidAmount. Sign is preserved; callers decide whether
// zero or negative values are acceptable.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("ParseAmount: not a number: %w", ErrInvalidAmount)
	}
	a, err := AmountFromDecimal(d)
	if err != nil {
		return 0, fmt.Errorf("ParseAmount: %w", err)
	}
	return a, nil
}

// AmountFromDecimal converts d to minor units. The magnitude is checked from
// the exponent and digit count before any arithmetic, so inputs like 1e9999999
// are rejected without being expanded.
func AmountFromDecimal(d decimal.Decimal) (Amount, error) {
	if d.IsZero() {
		return 0, nil
	}
	if d.Exponent() < minExponent {
		return 0, fmt.Errorf("AmountFromDecimal: too many decimal places: %w", ErrInvalidAmount)
	}
	if d.NumDigits()+int(d.Exponent()) > maxIntegerDigits {
		return 0, fmt.Errorf("AmountFromDecimal: out of range: %w", ErrInvalidAmount)
	}

	minor := d.Shift(2)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("AmountFromDecimal: more than 2 decimal places: %w", ErrInvalidAmount)
	}
	if minor.Abs().GreaterThan(maxAmountDecimal) {
		return 0, fmt.Errorf("AmountFromDecimal: out of range: %w", ErrInvalidAmount)
	}
	return Amount(minor.IntPart()), nil
}

func (a Amount) IsPositive() bool { return a > 0 }

// Add returns a+b, failing with ErrLimitExceeded when the sum leaves the
// representable range.
func (a Amount) Add(b Amount) (Amount, error) {
	sum := a + b
	if sum > MaxAmount || sum < -MaxAmount {
		return 0, ErrLimitExceeded
	}
	return sum, nil
}

func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}

// MarshalJSON writes the amount as a bare number with two fractional digits.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("Amount.UnmarshalJSON: empty: %w", ErrInvalidAmount)
	}
	parsed, err := ParseAmount(string(data))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
