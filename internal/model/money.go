package model

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseMinorUnits parses an integer amount already expressed in minor units.
// Catalog files store prices this way ("1299" is 12.99 in a two-decimal currency).
// Surrounding whitespace is ignored; fractional or non-numeric input is rejected.
func ParseMinorUnits(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return v, nil
}

// FormatMinorUnits renders an amount for display, assuming two decimal places.
// Examples: 1299, "USD" → "12.99 USD"; -5, "" → "-0.05"
func FormatMinorUnits(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	s := fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
	if currency != "" {
		s += " " + currency
	}
	return s
}
