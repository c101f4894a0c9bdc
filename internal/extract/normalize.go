package extract

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// normalizeValue applies the per-key normalization chain: whitespace is
// trimmed and collapsed, then the optional folds run in order. A failed
// numeric cast returns the value normalized so far along with a KindNormalize
// error so the caller can log the fallback.
func normalizeValue(raw string, spec KeySpec) (string, error) {
	val := collapseWhitespace(raw)
	if spec.Lowercase {
		val = strings.ToLower(val)
	}
	if spec.Numeric {
		cast, err := castNumeric(val)
		if err != nil {
			return val, &Error{Kind: KindNormalize, Detail: "numeric cast", Err: err}
		}
		val = cast
	}
	return val, nil
}

// collapseWhitespace trims the value and folds every internal whitespace run,
// including newlines from block elements, to a single space.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// castNumeric strips currency symbols, grouping separators and units, then
// renders the remaining number canonically so "$1,299.00" becomes "1299".
// Values with no parseable number fail the cast.
func castNumeric(s string) (string, error) {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return "", fmt.Errorf("no digits in %q", s)
	}
	f, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", digits, err)
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}
