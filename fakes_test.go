package cartsync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/cartsync/cart"
	"goflare.io/cartsync/models"
	"goflare.io/cartsync/models/enum"
	"goflare.io/cartsync/pricing"
	"goflare.io/cartsync/remote"
)

var (
	_ remote.Gateway = (*fakeRemote)(nil)
	_ remote.Catalog = (*fakeRemote)(nil)
)

// fakeRemote is an in-memory backend. Errors registered in fail are
// returned by the named operation for the given product.
type fakeRemote struct {
	mu          sync.Mutex
	products    map[int64]*models.Product
	lines       map[int64]int
	calls       []string
	fail        map[string]error
	finalizeErr error
	finalized   []models.CheckoutRequest
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		products: map[int64]*models.Product{
			1: {ID: 1, Title: "Auriculares", UnitPrice: decimal.NewFromInt(100), Category: "Electrónica", StockAvailable: 5},
			5: {ID: 5, Title: "Camisa", UnitPrice: decimal.NewFromInt(100), Category: "Ropa", StockAvailable: 3},
			7: {ID: 7, Title: "Libro", UnitPrice: decimal.RequireFromString("12.50"), Category: "Libros", StockAvailable: 10},
		},
		lines: make(map[int64]int),
		fail:  make(map[string]error),
	}
}

func (f *fakeRemote) failWith(op string, productID int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[fmt.Sprintf("%s:%d", op, productID)] = err
}

func (f *fakeRemote) record(op string, productID int64) error {
	f.calls = append(f.calls, fmt.Sprintf("%s:%d", op, productID))
	if err, ok := f.fail[fmt.Sprintf("%s:%d", op, productID)]; ok {
		return err
	}
	if err, ok := f.fail[op+":*"]; ok {
		return err
	}
	return nil
}

func (f *fakeRemote) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *fakeRemote) remoteLines() map[int64]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make(map[int64]int, len(f.lines))
	for id, qty := range f.lines {
		lines[id] = qty
	}
	return lines
}

func (f *fakeRemote) GetCart(_ context.Context) ([]models.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("get", 0); err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(f.lines))
	for id := range f.lines {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	items := make([]models.CartItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, models.NewCartItem(models.CartEntry{ProductID: id, Quantity: f.lines[id]}, f.products[id]))
	}
	return items, nil
}

func (f *fakeRemote) AddItem(_ context.Context, productID int64, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("add", productID); err != nil {
		return err
	}
	f.lines[productID] += quantity
	return nil
}

func (f *fakeRemote) RemoveItem(_ context.Context, productID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("remove", productID); err != nil {
		return err
	}
	delete(f.lines, productID)
	return nil
}

func (f *fakeRemote) SetQuantity(_ context.Context, productID int64, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("set", productID); err != nil {
		return err
	}
	f.lines[productID] = quantity
	return nil
}

func (f *fakeRemote) Cancel(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("cancel", 0); err != nil {
		return err
	}
	f.lines = make(map[int64]int)
	return nil
}

func (f *fakeRemote) Finalize(_ context.Context, req models.CheckoutRequest) (*models.OrderConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "finalize:0")
	if f.finalizeErr != nil {
		return nil, f.finalizeErr
	}
	f.finalized = append(f.finalized, req)
	f.lines = make(map[int64]int)
	return &models.OrderConfirmation{OrderID: fmt.Sprintf("ORD-%d", len(f.finalized))}, nil
}

func (f *fakeRemote) GetProduct(_ context.Context, productID int64) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("product", productID); err != nil {
		return nil, err
	}
	product, ok := f.products[productID]
	if !ok {
		return nil, models.NewValidationError("productId", "unknown product")
	}
	snapshot := *product
	return &snapshot, nil
}

func (f *fakeRemote) ListProducts(_ context.Context) ([]*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("list", 0); err != nil {
		return nil, err
	}
	products := make([]*models.Product, 0, len(f.products))
	for _, product := range f.products {
		snapshot := *product
		products = append(products, &snapshot)
	}
	return products, nil
}

func (f *fakeRemote) setStock(productID int64, stock int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[productID].StockAvailable = stock
}

// MockPublisher records published events.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event *models.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockPublisher) types() []enum.EventType {
	types := make([]enum.EventType, 0)
	for _, call := range m.Calls {
		types = append(types, call.Arguments.Get(1).(*models.Event).Type)
	}
	return types
}

// MockReceipts is an order.Service double.
type MockReceipts struct {
	mock.Mock
}

func (m *MockReceipts) Record(ctx context.Context, sessionID string, receipt *models.Receipt) error {
	args := m.Called(ctx, sessionID, receipt)
	return args.Error(0)
}

func (m *MockReceipts) GetReceipt(ctx context.Context, orderID string) (*models.Receipt, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Receipt), args.Error(1)
}

func (m *MockReceipts) ListReceipts(ctx context.Context, sessionID string, limit, offset uint64) ([]*models.Receipt, error) {
	args := m.Called(ctx, sessionID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Receipt), args.Error(1)
}

func setupLocalStore(t *testing.T) (cart.LocalStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cart.NewLocalStore(client, "device-1", time.Hour, zap.NewNop()), mr
}

func testCalculator(t *testing.T) *pricing.Calculator {
	calculator, err := pricing.NewCalculator(
		pricing.TaxRuleTable{
			DefaultRate: decimal.RequireFromString("0.21"),
			Rules: []pricing.TaxRule{
				{Category: "Electrónica", Rate: decimal.RequireFromString("0.10")},
			},
		},
		pricing.ShippingRule{
			FreeThreshold: decimal.NewFromInt(1000),
			FlatFee:       decimal.NewFromInt(50),
			Basis:         enum.ShippingBasisSubtotalPlusTax,
		},
	)
	require.NoError(t, err)
	return calculator
}
