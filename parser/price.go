package parser

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// NormalizationError reports a field that could not be normalized. The field is
// dropped from the canonical record; the rest of the record persists.
type NormalizationError struct {
	Field string
	Value string
	Err   error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s: %q: %v", e.Field, e.Value, e.Err)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

// Longer symbols first so "CA$" is not consumed as "$".
var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"US$", "USD"},
	{"CA$", "CAD"},
	{"C$", "CAD"},
	{"$", "USD"},
	{"£", "GBP"},
	{"€", "EUR"},
}

var currencyCodes = []string{"USD", "GBP", "EUR", "CAD"}

// ParsePrice converts a locale-formatted currency string into an exact decimal
// value plus an ISO currency code (empty when the string carried none).
// Ambiguous strings are rejected, never guessed: a lone separator followed by
// exactly three digits could be either a decimal or a thousands mark.
func ParsePrice(text string) (decimal.Decimal, string, error) {
	fail := func(reason string) (decimal.Decimal, string, error) {
		return decimal.Zero, "", &NormalizationError{Field: "price", Value: text, Err: fmt.Errorf("%s", reason)}
	}

	s := strings.TrimSpace(text)
	if s == "" {
		return fail("empty price")
	}

	currency := ""
	for _, cs := range currencySymbols {
		if strings.Contains(s, cs.symbol) {
			currency = cs.code
			s = strings.ReplaceAll(s, cs.symbol, "")
			break
		}
	}
	upper := strings.ToUpper(s)
	for _, code := range currencyCodes {
		if strings.Contains(upper, code) {
			if currency == "" {
				currency = code
			}
			idx := strings.Index(upper, code)
			s = s[:idx] + s[idx+len(code):]
			upper = strings.ToUpper(s)
			break
		}
	}
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "(") {
		return fail("negative price")
	}
	if s == "" {
		return fail("no digits")
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != ',' {
			return fail("unexpected character")
		}
	}

	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")

	var intPart, fracPart string
	switch {
	case dots == 0 && commas == 0:
		intPart = s
	case dots > 0 && commas > 0:
		// The rightmost separator kind is the decimal mark, the other groups
		// thousands.
		lastDot := strings.LastIndex(s, ".")
		lastComma := strings.LastIndex(s, ",")
		var decSep, groupSep string
		if lastDot > lastComma {
			decSep, groupSep = ".", ","
		} else {
			decSep, groupSep = ",", "."
		}
		if strings.Count(s, decSep) != 1 {
			return fail("multiple decimal separators")
		}
		idx := strings.LastIndex(s, decSep)
		intPart, fracPart = s[:idx], s[idx+1:]
		if !validGrouping(strings.Split(intPart, groupSep)) {
			return fail("malformed digit grouping")
		}
		intPart = strings.ReplaceAll(intPart, groupSep, "")
	default:
		sep := "."
		if commas > 0 {
			sep = ","
		}
		parts := strings.Split(s, sep)
		last := parts[len(parts)-1]
		if len(parts) == 2 && len(last) == 3 {
			// "1,299" or "1.299": thousands grouping in one locale, a
			// three-digit fraction in another.
			return fail("ambiguous separator")
		}
		if len(parts) == 2 && len(last) <= 2 {
			intPart, fracPart = parts[0], last
		} else if validGrouping(parts) {
			intPart = strings.Join(parts, "")
		} else {
			return fail("malformed digit grouping")
		}
	}

	if fracPart != "" && len(fracPart) > 2 {
		return fail("too many fraction digits")
	}
	if intPart == "" {
		return fail("missing integer part")
	}

	joined := intPart
	if fracPart != "" {
		joined = intPart + "." + fracPart
	}
	value, err := decimal.NewFromString(joined)
	if err != nil {
		return fail("unparseable number")
	}
	if value.IsNegative() {
		return fail("negative price")
	}
	return value, currency, nil
}

// validGrouping checks that thousand-separated digit groups are well formed:
// the leading group 1-3 digits, every following group exactly 3.
func validGrouping(groups []string) bool {
	if len(groups) == 0 {
		return false
	}
	if len(groups) == 1 {
		return groups[0] != ""
	}
	if len(groups[0]) == 0 || len(groups[0]) > 3 {
		return false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return false
		}
	}
	return true
}
