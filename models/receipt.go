package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
)

// Receipt 代表結帳完成後的訂單收據，金額在結帳當下凍結
type Receipt struct {
	OrderID         string          `json:"order_id"`
	Items           []CartItem      `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	Shipping        decimal.Decimal `json:"shipping"`
	Total           decimal.Decimal `json:"total"`
	Currency        stripe.Currency `json:"currency"`
	ShippingAddress string          `json:"shipping_address"`
	CreatedAt       time.Time       `json:"created_at"`
}

// CheckoutRequest is what the finalize endpoint receives. The payment token
// is forwarded as is and never persisted.
type CheckoutRequest struct {
	ShippingAddress string
	PaymentToken    string
}

func (r CheckoutRequest) Validate() error {
	if r.ShippingAddress == "" {
		return NewValidationError("shippingAddress", "is required")
	}
	if r.PaymentToken == "" {
		return NewValidationError("paymentToken", "is required")
	}
	return nil
}

// OrderConfirmation is the normalized finalize response.
type OrderConfirmation struct {
	OrderID string
	// Total is the server side total, zero when the backend omits it.
	Total decimal.Decimal
}

// MinorUnits converts an amount to integer cents.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits converts integer cents back to an amount.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
