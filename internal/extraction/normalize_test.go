package extraction

import (
	"errors"
	"testing"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   any
		want *float64
	}{
		{in: 12.5, want: f(12.5)},
		{in: "1,234.50", want: f(1234.5)},
		{in: "1.234,50", want: f(1234.5)},
		{in: "$ 2,000", want: f(2000)},
		{in: "€12,5", want: f(12.5)},
		{in: "4 500 USD", want: f(4500)},
		{in: "n/a", want: nil},
		{in: true, want: nil},
		{in: nil, want: nil},
	}
	for _, tt := range tests {
		got := ParseNumber(tt.in)
		if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
			t.Errorf("ParseNumber(%v) = %v, want %v", tt.in, deref(got), deref(tt.want))
		}
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		in   any
		want *bool
	}{
		{in: true, want: b(true)},
		{in: "Yes", want: b(true)},
		{in: "no", want: b(false)},
		{in: "1", want: b(true)},
		{in: 0.0, want: b(false)},
		{in: 2.0, want: nil},
		{in: "maybe", want: nil},
	}
	for _, tt := range tests {
		got := ParseBool(tt.in)
		if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
			t.Errorf("ParseBool(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	raw := map[string]any{
		"items": []any{
			map[string]any{"name": "Laptop", "quantity": "5", "unit": "pcs", "unit_price": "1,000.00"},
			map[string]any{"name": "  ", "quantity": 1.0},
			map[string]any{"name": "Dock", "quantity": 5.0, "unit_price": 100.0, "total_price": 480.0},
			"garbage",
		},
		"currency":             "eur",
		"delivery_days":        "14.6",
		"warranty_months":      24.0,
		"matches_requirements": "yes",
		"vague_specs":          false,
		"missing_items":        []any{"Mouse", ""},
		"score":                140.0,
	}

	n, err := Normalize(raw, "USD")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(n.Data.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(n.Data.Items))
	}
	if got := *n.Data.Items[0].TotalPrice; got != 5000 {
		t.Errorf("computed line total = %v, want 5000", got)
	}
	if got := *n.Data.TotalPrice; got != 5480 {
		t.Errorf("total price = %v, want 5480", got)
	}
	if n.Data.Currency != "EUR" {
		t.Errorf("currency = %q", n.Data.Currency)
	}
	if *n.Data.DeliveryDays != 15 || *n.Data.WarrantyMonths != 24 {
		t.Errorf("delivery=%d warranty=%d", *n.Data.DeliveryDays, *n.Data.WarrantyMonths)
	}
	if n.Data.MatchesRequirements == nil || !*n.Data.MatchesRequirements {
		t.Errorf("matches = %v", n.Data.MatchesRequirements)
	}
	if len(n.MissingItems) != 1 || !n.HasPricing || n.Vague {
		t.Errorf("signals = %+v", n)
	}
	if n.ModelScore != 100 {
		t.Errorf("model score = %v, want clamped 100", n.ModelScore)
	}
}

func TestNormalizeCurrencyFallback(t *testing.T) {
	tests := []struct{ code, fallback, want string }{
		{"usd", "EUR", "USD"},
		{"dollars", "eur", "EUR"},
		{"", "", "USD"},
		{"US", "XX", "USD"},
	}
	for _, tt := range tests {
		if got := NormalizeCurrency(tt.code, tt.fallback); got != tt.want {
			t.Errorf("NormalizeCurrency(%q, %q) = %q, want %q", tt.code, tt.fallback, got, tt.want)
		}
	}
}

func TestNormalizeNoItems(t *testing.T) {
	_, err := Normalize(map[string]any{"items": []any{map[string]any{"name": ""}}, "total_price": 10.0}, "USD")
	if !errors.Is(err, ErrNoItems) {
		t.Fatalf("err = %v, want ErrNoItems", err)
	}
}

func f(v float64) *float64 { return &v }
func b(v bool) *bool       { return &v }
func i(v int) *int         { return &v }

func deref(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
