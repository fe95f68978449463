// Package remote talks to the commerce backend that owns the authoritative
// cart and product catalog. Nothing outside this package sees raw payloads.
package remote

import (
	"context"

	"goflare.io/cartsync/models"
)

// Gateway is the server side cart of an authenticated session.
type Gateway interface {
	GetCart(ctx context.Context) ([]models.CartItem, error)
	AddItem(ctx context.Context, productID int64, quantity int) error
	RemoveItem(ctx context.Context, productID int64) error
	// SetQuantity sets an absolute quantity, creating the line when missing.
	SetQuantity(ctx context.Context, productID int64, quantity int) error
	Cancel(ctx context.Context) error
	Finalize(ctx context.Context, req models.CheckoutRequest) (*models.OrderConfirmation, error)
}

// Catalog serves product snapshots.
type Catalog interface {
	GetProduct(ctx context.Context, productID int64) (*models.Product, error)
	ListProducts(ctx context.Context) ([]*models.Product, error)
}

// TokenSource yields the bearer token of the current session, empty when
// the session is anonymous.
type TokenSource interface {
	Token() string
}
