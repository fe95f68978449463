package pricing

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"goflare.io/cartsync/models"
	"goflare.io/cartsync/models/enum"
)

// TaxRule maps a category to a rate. Prefix rules also match every category
// that starts with Category, e.g. "electr" covers "Electrónica" and
// "Electrodomésticos".
type TaxRule struct {
	Category string
	Rate     decimal.Decimal
	Prefix   bool
}

type TaxRuleTable struct {
	DefaultRate decimal.Decimal
	Rules       []TaxRule
}

// RateFor 以不分大小寫、去除重音的方式比對類別；完全相符優先，其次是最長前綴
func (t TaxRuleTable) RateFor(category string) decimal.Decimal {
	key := NormalizeCategory(category)
	if key == "" {
		return t.DefaultRate
	}

	var (
		best    decimal.Decimal
		bestLen = -1
	)
	for _, rule := range t.Rules {
		ruleKey := NormalizeCategory(rule.Category)
		if ruleKey == "" {
			continue
		}
		if ruleKey == key {
			return rule.Rate
		}
		if rule.Prefix && strings.HasPrefix(key, ruleKey) && len(ruleKey) > bestLen {
			best = rule.Rate
			bestLen = len(ruleKey)
		}
	}
	if bestLen >= 0 {
		return best
	}
	return t.DefaultRate
}

func (t TaxRuleTable) Validate() error {
	if t.DefaultRate.IsNegative() {
		return models.NewValidationError("defaultRate", "must not be negative")
	}
	for _, rule := range t.Rules {
		if NormalizeCategory(rule.Category) == "" {
			return models.NewValidationError("taxRule.category", "must not be empty")
		}
		if rule.Rate.IsNegative() {
			return models.NewValidationError("taxRule.rate", "must not be negative for "+rule.Category)
		}
	}
	return nil
}

// NormalizeCategory trims, strips diacritics and lower-cases a category name.
func NormalizeCategory(category string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.TrimSpace(category))
	if err != nil {
		folded = strings.TrimSpace(category)
	}
	return strings.ToLower(folded)
}

type ShippingRule struct {
	FreeThreshold decimal.Decimal
	FlatFee       decimal.Decimal
	Basis         enum.ShippingBasis
}

func (s ShippingRule) Validate() error {
	if s.FreeThreshold.IsNegative() {
		return models.NewValidationError("freeThreshold", "must not be negative")
	}
	if s.FlatFee.IsNegative() {
		return models.NewValidationError("flatFee", "must not be negative")
	}
	switch s.Basis {
	case "", enum.ShippingBasisSubtotal, enum.ShippingBasisSubtotalPlusTax:
		return nil
	default:
		return models.NewValidationError("shippingBasis", "unknown basis "+string(s.Basis))
	}
}

// FeeFor returns the shipping fee for an order. itemCount counts the lines
// with a positive quantity. An empty basis means subtotal plus tax.
func (s ShippingRule) FeeFor(itemCount int, subtotal, tax decimal.Decimal) decimal.Decimal {
	if itemCount == 0 {
		return decimal.Zero
	}
	amount := subtotal.Add(tax)
	if s.Basis == enum.ShippingBasisSubtotal {
		amount = subtotal
	}
	if amount.GreaterThanOrEqual(s.FreeThreshold) {
		return decimal.Zero
	}
	return s.FlatFee
}
