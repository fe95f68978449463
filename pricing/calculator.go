// Package pricing derives subtotal, tax, shipping and total from priced cart
// lines. Everything here is pure: identical inputs give identical outputs.
package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"goflare.io/cartsync/models"
)

// CurrencyPlaces is the rounding precision of every monetary result.
const CurrencyPlaces = 2

type Line struct {
	ProductID int64
	Subtotal  decimal.Decimal
	Rate      decimal.Decimal
	Tax       decimal.Decimal
}

type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
	Lines    []Line
}

// Compute prices items against the given rules. Subtotal and tax are summed
// unrounded and rounded once; total is the sum of the rounded parts, so
// Total == Subtotal + Tax + Shipping holds exactly.
func Compute(items []models.CartItem, taxRules TaxRuleTable, shipping ShippingRule) (Totals, error) {
	subtotal := decimal.Zero
	tax := decimal.Zero
	lines := make([]Line, 0, len(items))
	shipped := 0

	for _, item := range items {
		if item.Quantity < 0 {
			return Totals{}, models.NewValidationError("quantity", fmt.Sprintf("negative quantity %d for product %d", item.Quantity, item.ProductID))
		}
		if item.UnitPrice.IsNegative() {
			return Totals{}, models.NewValidationError("unitPrice", fmt.Sprintf("negative price %s for product %d", item.UnitPrice, item.ProductID))
		}

		if item.Quantity > 0 {
			shipped++
		}

		lineSubtotal := item.LineSubtotal()
		rate := taxRules.RateFor(item.Category)
		lineTax := lineSubtotal.Mul(rate)

		subtotal = subtotal.Add(lineSubtotal)
		tax = tax.Add(lineTax)
		lines = append(lines, Line{
			ProductID: item.ProductID,
			Subtotal:  lineSubtotal.Round(CurrencyPlaces),
			Rate:      rate,
			Tax:       lineTax.Round(CurrencyPlaces),
		})
	}

	subtotal = subtotal.Round(CurrencyPlaces)
	tax = tax.Round(CurrencyPlaces)
	fee := shipping.FeeFor(shipped, subtotal, tax).Round(CurrencyPlaces)

	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: fee,
		Total:    subtotal.Add(tax).Add(fee),
		Lines:    lines,
	}, nil
}

// Calculator holds a validated rule set.
type Calculator struct {
	taxRules TaxRuleTable
	shipping ShippingRule
}

func NewCalculator(taxRules TaxRuleTable, shipping ShippingRule) (*Calculator, error) {
	if err := taxRules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tax rules: %w", err)
	}
	if err := shipping.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shipping rule: %w", err)
	}
	return &Calculator{taxRules: taxRules, shipping: shipping}, nil
}

func (c *Calculator) Compute(items []models.CartItem) (Totals, error) {
	return Compute(items, c.taxRules, c.shipping)
}

// Apply recomputes the derived totals of cart in place. The cart is left
// untouched on error.
func (c *Calculator) Apply(cart *models.Cart) error {
	totals, err := c.Compute(cart.Items)
	if err != nil {
		return err
	}
	cart.Subtotal = totals.Subtotal
	cart.Tax = totals.Tax
	cart.Shipping = totals.Shipping
	cart.Total = totals.Total
	cart.UpdatedAt = time.Now()
	return nil
}
