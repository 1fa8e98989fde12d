package extraction

import (
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/senyabanana/tender-negotiation/internal/models"
)

// ErrNoItems is returned when an extracted offer has no usable line items.
var ErrNoItems = errors.New("extraction: offer has no line items")

// DefaultCurrency is used when neither the reply nor the request names one.
const DefaultCurrency = "USD"

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

// Normalized is a reply reduced to typed offer fields plus the signals the scorer needs.
type Normalized struct {
	Data           models.OfferData
	Vague          bool
	MissingItems   []string
	HasPricing     bool
	ModelScore     float64
	ModelRationale string
}

// Normalize coerces a decoded completion into offer fields. Every field is
// optional; anything that does not parse becomes nil. fallbackCurrency is
// used when the reply carries no valid ISO code.
func Normalize(raw map[string]any, fallbackCurrency string) (Normalized, error) {
	var n Normalized

	for _, v := range asSlice(raw["items"]) {
		obj, ok := v.(map[string]any)
		if !ok {
			continue
		}
		name := strings.TrimSpace(asString(obj["name"]))
		if name == "" {
			continue
		}
		item := models.OfferLineItem{
			Name:       name,
			Quantity:   nonNegative(ParseNumber(obj["quantity"])),
			Unit:       strings.TrimSpace(asString(obj["unit"])),
			UnitPrice:  nonNegative(ParseNumber(obj["unit_price"])),
			TotalPrice: nonNegative(ParseNumber(obj["total_price"])),
		}
		if item.TotalPrice == nil && item.Quantity != nil && item.UnitPrice != nil {
			total := round2(*item.Quantity * *item.UnitPrice)
			item.TotalPrice = &total
		}
		if item.Quantity != nil || item.UnitPrice != nil || item.TotalPrice != nil {
			n.HasPricing = true
		}
		n.Data.Items = append(n.Data.Items, item)
	}
	if len(n.Data.Items) == 0 {
		return n, ErrNoItems
	}

	n.Data.TotalPrice = nonNegative(ParseNumber(raw["total_price"]))
	if n.Data.TotalPrice == nil {
		var sum float64
		var found bool
		for _, item := range n.Data.Items {
			if item.TotalPrice != nil {
				sum += *item.TotalPrice
				found = true
			}
		}
		if found {
			total := round2(sum)
			n.Data.TotalPrice = &total
		}
	}
	if n.Data.TotalPrice != nil {
		n.HasPricing = true
	}

	n.Data.Currency = NormalizeCurrency(asString(raw["currency"]), fallbackCurrency)
	n.Data.DeliveryDays = nonNegativeInt(ParseInt(raw["delivery_days"]))
	n.Data.WarrantyMonths = nonNegativeInt(ParseInt(raw["warranty_months"]))
	n.Data.PaymentTerms = strings.TrimSpace(asString(raw["payment_terms"]))
	n.Data.MatchesRequirements = ParseBool(raw["matches_requirements"])

	if vague := ParseBool(raw["vague_specs"]); vague != nil {
		n.Vague = *vague
	}
	for _, v := range asSlice(raw["missing_items"]) {
		if s := strings.TrimSpace(asString(v)); s != "" {
			n.MissingItems = append(n.MissingItems, s)
		}
	}
	if score := ParseNumber(raw["score"]); score != nil {
		n.ModelScore = Clamp(*score, 0, 100)
	}
	n.ModelRationale = strings.TrimSpace(asString(raw["rationale"]))
	return n, nil
}

// NormalizeCurrency upper-cases code and accepts it only as a three-letter code.
func NormalizeCurrency(code, fallback string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if currencyCode.MatchString(code) {
		return code
	}
	fallback = strings.ToUpper(strings.TrimSpace(fallback))
	if currencyCode.MatchString(fallback) {
		return fallback
	}
	return DefaultCurrency
}

// ParseNumber coerces v to a float. Strings may carry currency symbols and
// thousands separators; "1.234,50" and "1,234.50" both read as 1234.5.
func ParseNumber(v any) *float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, ok := parseNumericString(x)
		if !ok {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func parseNumericString(s string) (float64, bool) {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			b.WriteRune(r)
		}
	}
	clean := strings.Trim(b.String(), ".,")
	if clean == "" || clean == "-" {
		return 0, false
	}

	lastDot := strings.LastIndex(clean, ".")
	lastComma := strings.LastIndex(clean, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			clean = strings.ReplaceAll(clean, ".", "")
			clean = strings.Replace(clean, ",", ".", 1)
		} else {
			clean = strings.ReplaceAll(clean, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(clean, ",") == 1 && len(clean)-lastComma-1 != 3 {
			clean = strings.Replace(clean, ",", ".", 1)
		} else {
			clean = strings.ReplaceAll(clean, ",", "")
		}
	case strings.Count(clean, ".") > 1:
		clean = strings.ReplaceAll(clean, ".", "")
	}

	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseInt coerces v to an integer, rounding fractional values.
func ParseInt(v any) *int {
	f := ParseNumber(v)
	if f == nil {
		return nil
	}
	i := int(math.Round(*f))
	return &i
}

// ParseBool accepts booleans, yes/no/true/false/1/0 strings and the numbers 1 and 0.
func ParseBool(v any) *bool {
	t, f := true, false
	switch x := v.(type) {
	case bool:
		return &x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "yes", "true", "1", "y":
			return &t
		case "no", "false", "0", "n":
			return &f
		}
	case float64:
		switch x {
		case 1:
			return &t
		case 0:
			return &f
		}
	case int:
		switch x {
		case 1:
			return &t
		case 0:
			return &f
		}
	}
	return nil
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func nonNegative(f *float64) *float64 {
	if f == nil || *f < 0 {
		return nil
	}
	return f
}

func nonNegativeInt(i *int) *int {
	if i == nil || *i < 0 {
		return nil
	}
	return i
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}
