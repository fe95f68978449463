// Package stock keeps the client side view of product availability.
package stock

import (
	"sync"

	"go.uber.org/zap"

	"goflare.io/cartsync/models"
)

type level struct {
	original int
	reserved int
}

func (l *level) available() int {
	if avail := l.original - l.reserved; avail > 0 {
		return avail
	}
	return 0
}

// Guard tracks available = originalStock - reservedByThisClient per product.
// Reservations are applied optimistically, before any network confirmation.
type Guard struct {
	mu     sync.Mutex
	levels map[int64]*level
	logger *zap.Logger
}

func NewGuard(logger *zap.Logger) *Guard {
	return &Guard{
		levels: make(map[int64]*level),
		logger: logger,
	}
}

// Track records the authoritative stock of a product. Existing reservations
// are kept.
func (g *Guard) Track(productID int64, stock int) {
	if stock < 0 {
		stock = 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.levels[productID]
	if !ok {
		g.levels[productID] = &level{original: stock}
		return
	}
	l.original = stock
}

// CanIncrement reports whether a line at currentQty may grow by one unit.
func (g *Guard) CanIncrement(productID int64, currentQty, available int) bool {
	return g.Check(productID, currentQty, 1, available) == nil
}

// Check 檢查 currentQty+delta 是否超過可用庫存
func (g *Guard) Check(productID int64, currentQty, delta, available int) error {
	if currentQty < 0 || delta < 0 {
		return models.NewValidationError("quantity", "must not be negative")
	}
	requested := currentQty + delta
	if requested > available {
		return &models.StockExceededError{
			ProductID: productID,
			Requested: requested,
			Available: available,
		}
	}
	return nil
}

// Reserve takes delta units of a tracked product. Nothing is applied when
// the reservation would exceed the original stock.
func (g *Guard) Reserve(productID int64, delta int) error {
	if delta < 0 {
		return models.NewValidationError("quantity", "reservation delta must not be negative")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.levels[productID]
	if !ok {
		return models.NewValidationError("productId", "stock is not tracked for this product")
	}
	if l.reserved+delta > l.original {
		return &models.StockExceededError{
			ProductID: productID,
			Requested: l.reserved + delta,
			Available: l.original,
		}
	}
	l.reserved += delta

	g.logger.Debug("stock reserved",
		zap.Int64("product_id", productID),
		zap.Int("delta", delta),
		zap.Int("available", l.available()))
	return nil
}

func (g *Guard) Release(productID int64, delta int) {
	if delta <= 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.levels[productID]
	if !ok {
		return
	}
	l.reserved -= delta
	if l.reserved < 0 {
		l.reserved = 0
	}

	g.logger.Debug("stock released",
		zap.Int64("product_id", productID),
		zap.Int("delta", delta),
		zap.Int("available", l.available()))
}

// Adjust moves the reservation of a product from one quantity to another.
func (g *Guard) Adjust(productID int64, from, to int) error {
	switch {
	case to > from:
		return g.Reserve(productID, to-from)
	case to < from:
		g.Release(productID, from-to)
	}
	return nil
}

// Available is the stock left for this client. The second value is false for
// products that have never been tracked.
func (g *Guard) Available(productID int64) (int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.levels[productID]
	if !ok {
		return 0, false
	}
	return l.available(), true
}

// Refresh recomputes every level from authoritative stock and the current
// cart quantities, dropping any optimistic drift.
func (g *Guard) Refresh(stock map[int64]int, cartQuantities map[int64]int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for productID, qty := range stock {
		if qty < 0 {
			qty = 0
		}
		g.levels[productID] = &level{original: qty, reserved: cartQuantities[productID]}
	}
	for productID, l := range g.levels {
		if _, refreshed := stock[productID]; !refreshed {
			l.reserved = cartQuantities[productID]
		}
	}

	g.logger.Debug("stock levels refreshed", zap.Int("products", len(stock)))
}

// Reset drops every reservation and keeps the known stock figures.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, l := range g.levels {
		l.reserved = 0
	}
}

// Forget drops a product entirely, e.g. after its stock was consumed by a checkout.
func (g *Guard) Forget(productIDs ...int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, productID := range productIDs {
		delete(g.levels, productID)
	}
}
