// Package money parses and formats amounts kept in minor units.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorDigits is the number of decimal digits one major unit is split into.
const MinorDigits = 2

var (
	ErrNotANumber      = errors.New("not a number")
	ErrTooManyDecimals = errors.New("too many decimal digits")
	ErrNegative        = errors.New("negative amount not allowed")
	ErrZero            = errors.New("zero amount not allowed")
	ErrTooLarge        = errors.New("amount exceeds limit")
)

// Rules controls which values Parse accepts.
// Max is a ceiling on the magnitude, in minor units; 0 disables it.
type Rules struct {
	AllowZero     bool
	AllowNegative bool
	Max           int64
}

// Parse reads a user-typed amount such as "12,50" or "-3.1" and returns it in
// minor units.
func Parse(input string, rules Rules) (int64, error) {
	s := strings.TrimSpace(input)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" || strings.ContainsAny(s, "eE") {
		return 0, ErrNotANumber
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrNotANumber
	}

	if d.Exponent() < -MinorDigits {
		return 0, ErrTooManyDecimals
	}
	if d.IsNegative() && !rules.AllowNegative {
		return 0, ErrNegative
	}
	if d.IsZero() && !rules.AllowZero {
		return 0, ErrZero
	}

	minor := d.Shift(MinorDigits)
	if rules.Max > 0 && minor.Abs().GreaterThan(decimal.NewFromInt(rules.Max)) {
		return 0, ErrTooLarge
	}
	if !minor.Abs().LessThanOrEqual(decimal.NewFromInt(maxMinor)) {
		return 0, ErrTooLarge
	}

	return minor.IntPart(), nil
}

// int64 range guard for when no ceiling is configured
const maxMinor = 1<<63 - 1

// Format renders a minor-unit amount as "12.50 EUR".
func Format(minor int64, currency string) string {
	s := decimal.New(minor, -MinorDigits).StringFixed(MinorDigits)
	if currency == "" {
		return s
	}
	return s + " " + currency
}

// FormatSigned is Format with an explicit plus sign on positive amounts.
func FormatSigned(minor int64, currency string) string {
	if minor > 0 {
		return "+" + Format(minor, currency)
	}
	return Format(minor, currency)
}
