package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"

	"goflare.io/cartsync/models/enum"
)

// CartEntry 是本地購物車中最小的持久化單位
type CartEntry struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

// Validate rejects malformed product ids and negative quantities.
func (e CartEntry) Validate() error {
	if e.ProductID <= 0 {
		return NewValidationError("productId", "must be positive")
	}
	if e.Quantity < 0 {
		return NewValidationError("quantity", "must not be negative")
	}
	return nil
}

// CartItem 代表購物車中的單個商品項目，附帶商品快照
type CartItem struct {
	ProductID      int64           `json:"product_id"`
	Quantity       int             `json:"quantity"`
	Title          string          `json:"title"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Category       string          `json:"category"`
	StockAvailable int             `json:"stock_available"`
}

func NewCartItem(entry CartEntry, product *Product) CartItem {
	item := CartItem{
		ProductID: entry.ProductID,
		Quantity:  entry.Quantity,
	}
	if product != nil {
		item.Title = product.Title
		item.UnitPrice = product.UnitPrice
		item.Category = product.Category
		item.StockAvailable = product.StockAvailable
	}
	return item
}

func (ci CartItem) Entry() CartEntry {
	return CartEntry{ProductID: ci.ProductID, Quantity: ci.Quantity}
}

func (ci CartItem) LineSubtotal() decimal.Decimal {
	return ci.UnitPrice.Mul(decimal.NewFromInt(int64(ci.Quantity)))
}

// Cart 代表購物車
type Cart struct {
	Items     []CartItem      `json:"items"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
	Shipping  decimal.Decimal `json:"shipping"`
	Total     decimal.Decimal `json:"total"`
	Currency  stripe.Currency `json:"currency"`
	SyncState enum.SyncState  `json:"sync_state"`
	Version   uint64          `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func NewCart(currency stripe.Currency, state enum.SyncState) *Cart {
	return &Cart{
		Items:     make([]CartItem, 0),
		Currency:  currency,
		SyncState: state,
		UpdatedAt: time.Now(),
	}
}

// Item returns the line for productID, if any.
func (c *Cart) Item(productID int64) (CartItem, bool) {
	for _, item := range c.Items {
		if item.ProductID == productID {
			return item, true
		}
	}
	return CartItem{}, false
}

func (c *Cart) Quantity(productID int64) int {
	item, ok := c.Item(productID)
	if !ok {
		return 0
	}
	return item.Quantity
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Quantities maps product id to line quantity.
func (c *Cart) Quantities() map[int64]int {
	quantities := make(map[int64]int, len(c.Items))
	for _, item := range c.Items {
		quantities[item.ProductID] = item.Quantity
	}
	return quantities
}

// Clone returns a deep copy, so callers can not mutate committed state.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Items = make([]CartItem, len(c.Items))
	copy(clone.Items, c.Items)
	return &clone
}
