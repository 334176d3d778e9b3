package parser

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		currency string
		wantErr  bool
	}{
		{name: "us format with cents", input: "$1,299.95", expected: "1299.95", currency: "USD"},
		{name: "uk format", input: "£12.00", expected: "12", currency: "GBP"},
		{name: "eu format", input: "€1.299,95", expected: "1299.95", currency: "EUR"},
		{name: "plain decimal", input: "45.50", expected: "45.5"},
		{name: "integer", input: "45", expected: "45"},
		{name: "grouped integer", input: "$12,345,678", expected: "12345678", currency: "USD"},
		{name: "currency code suffix", input: "19.99 USD", expected: "19.99", currency: "USD"},
		{name: "canadian symbol", input: "CA$9.99", expected: "9.99", currency: "CAD"},
		{name: "single decimal digit", input: "$4.5", expected: "4.5", currency: "USD"},
		{name: "whitespace", input: "  £51.77  ", expected: "51.77", currency: "GBP"},
		{name: "ambiguous comma", input: "1,299", wantErr: true},
		{name: "ambiguous dot", input: "1.299", wantErr: true},
		{name: "negative", input: "-$10.00", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "words only", input: "call for price", wantErr: true},
		{name: "malformed grouping", input: "1,29.95", wantErr: true},
		{name: "too many fraction digits", input: "$10.9999", wantErr: true},
		{name: "double decimal", input: "1.2.3.4,5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, currency, err := ParsePrice(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParsePrice(%q) = %s, want error", tt.input, value)
				}
				var normErr *NormalizationError
				if !errors.As(err, &normErr) {
					t.Fatalf("ParsePrice(%q) error %T, want *NormalizationError", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePrice(%q) unexpected error: %v", tt.input, err)
			}
			if got := value.String(); got != tt.expected {
				t.Fatalf("ParsePrice(%q) = %s, want %s", tt.input, got, tt.expected)
			}
			if currency != tt.currency {
				t.Fatalf("ParsePrice(%q) currency = %q, want %q", tt.input, currency, tt.currency)
			}
		})
	}
}

func TestParsePriceExactRoundTrip(t *testing.T) {
	// Float conversion would corrupt these values; the decimal pipeline must not.
	value, _, err := ParsePrice("$1,299.95")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cents := value.Mul(decimal.NewFromInt(100))
	if !cents.IsInteger() {
		t.Fatalf("1299.95 did not survive exactly: %s cents", cents)
	}
	if got := cents.IntPart(); got != 129995 {
		t.Fatalf("cents = %d, want 129995", got)
	}
}
