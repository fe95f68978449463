package models

import "github.com/shopspring/decimal"

// Product is the canonical product snapshot. Backend payload variants are
// normalized into this shape at the gateway boundary.
type Product struct {
	ID             int64           `json:"id"`
	Title          string          `json:"title"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Category       string          `json:"category"`
	StockAvailable int             `json:"stock_available"`
}

func (p *Product) Validate() error {
	if p.ID <= 0 {
		return NewValidationError("productId", "must be positive")
	}
	if p.UnitPrice.IsNegative() {
		return NewValidationError("unitPrice", "must not be negative")
	}
	if p.StockAvailable < 0 {
		return NewValidationError("stockAvailable", "must not be negative")
	}
	return nil
}
