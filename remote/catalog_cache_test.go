package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/cartsync/models"
)

type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) GetProduct(ctx context.Context, productID int64) (*models.Product, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Product), args.Error(1)
}

func (m *MockCatalog) ListProducts(ctx context.Context) ([]*models.Product, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Product), args.Error(1)
}

func setupCachedCatalog(t *testing.T) (*CachedCatalog, *MockCatalog) {
	upstream := new(MockCatalog)
	catalog, err := NewCachedCatalog(upstream, time.Minute, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(catalog.Close)
	return catalog, upstream
}

func TestCachedCatalog_ServesRepeatedLookupsFromCache(t *testing.T) {
	catalog, upstream := setupCachedCatalog(t)
	ctx := context.Background()

	product := &models.Product{ID: 1, Title: "Libro", UnitPrice: decimal.NewFromInt(10), StockAvailable: 5}
	upstream.On("GetProduct", mock.Anything, int64(1)).Return(product, nil).Once()

	first, err := catalog.GetProduct(ctx, 1)
	require.NoError(t, err)
	second, err := catalog.GetProduct(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	upstream.AssertExpectations(t)
}

func TestCachedCatalog_ReturnsCopies(t *testing.T) {
	catalog, upstream := setupCachedCatalog(t)
	ctx := context.Background()

	upstream.On("GetProduct", mock.Anything, int64(1)).
		Return(&models.Product{ID: 1, StockAvailable: 5}, nil).Once()

	first, err := catalog.GetProduct(ctx, 1)
	require.NoError(t, err)
	first.StockAvailable = 0

	second, err := catalog.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, second.StockAvailable)
}

func TestCachedCatalog_InvalidateForcesRefetch(t *testing.T) {
	catalog, upstream := setupCachedCatalog(t)
	ctx := context.Background()

	upstream.On("GetProduct", mock.Anything, int64(1)).
		Return(&models.Product{ID: 1, StockAvailable: 5}, nil).Twice()

	_, err := catalog.GetProduct(ctx, 1)
	require.NoError(t, err)

	catalog.Invalidate(1)

	_, err = catalog.GetProduct(ctx, 1)
	require.NoError(t, err)
	upstream.AssertExpectations(t)
}

func TestCachedCatalog_ErrorsAreNotCached(t *testing.T) {
	catalog, upstream := setupCachedCatalog(t)
	ctx := context.Background()

	netErr := &models.NetworkError{Op: "get product", Err: errors.New("connection refused")}
	upstream.On("GetProduct", mock.Anything, int64(2)).Return(nil, netErr).Once()
	upstream.On("GetProduct", mock.Anything, int64(2)).
		Return(&models.Product{ID: 2, StockAvailable: 1}, nil).Once()

	_, err := catalog.GetProduct(ctx, 2)
	assert.True(t, errors.Is(err, models.ErrNetwork))

	product, err := catalog.GetProduct(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, product.StockAvailable)
	upstream.AssertExpectations(t)
}

func TestCachedCatalog_ListWarmsCache(t *testing.T) {
	catalog, upstream := setupCachedCatalog(t)
	ctx := context.Background()

	upstream.On("ListProducts", mock.Anything).Return([]*models.Product{
		{ID: 1, StockAvailable: 5},
		{ID: 2, StockAvailable: 3},
	}, nil).Once()

	products, err := catalog.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 2)

	product, err := catalog.GetProduct(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, product.StockAvailable)
	upstream.AssertExpectations(t)
}
