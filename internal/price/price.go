// Package price normalizes the free-text price organizers type into event
// settings ("Free", "$1,500.00", "25,00") to a decimal amount.
package price

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrUnparseable = errors.New("unparseable price")

var freeWords = map[string]bool{
	"":     true,
	"free": true,
	"0":    true,
	"-":    true,
}

// Parse applies the normalization rules:
//   - empty, "Free" (any case), "0" and "-" mean zero;
//   - currency symbols, letters and whitespace are stripped;
//   - when both '.' and ',' appear, the last one is the decimal separator
//     and the other is a thousands separator;
//   - a lone ',' followed by exactly two digits is a decimal comma,
//     otherwise it is a thousands separator.
//
// Negative amounts are rejected.
func Parse(raw string) (decimal.Decimal, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if freeWords[s] {
		return decimal.Zero, nil
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			b.WriteRune(r)
		case r == '-':
			return decimal.Zero, ErrUnparseable
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return decimal.Zero, ErrUnparseable
	}

	lastDot := strings.LastIndex(cleaned, ".")
	lastComma := strings.LastIndex(cleaned, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		if decimalComma(cleaned, lastComma) {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, ErrUnparseable
	}
	if d.IsNegative() {
		return decimal.Zero, ErrUnparseable
	}
	return d, nil
}

func decimalComma(s string, idx int) bool {
	return strings.Count(s, ",") == 1 && len(s)-idx-1 == 2
}
