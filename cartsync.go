// Package cartsync keeps a shopping cart consistent across the anonymous and
// authenticated phases of a session and prices it.
package cartsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/cartsync/cart"
	"goflare.io/cartsync/event"
	"goflare.io/cartsync/models"
	"goflare.io/cartsync/models/enum"
	"goflare.io/cartsync/order"
	"goflare.io/cartsync/pricing"
	"goflare.io/cartsync/remote"
	"goflare.io/cartsync/stock"
)

type Service interface {
	// Cart reloads the cart from its source of truth and returns a snapshot.
	Cart(ctx context.Context) (*models.Cart, error)
	Add(ctx context.Context, productID int64, quantity int) (*models.Cart, error)
	Remove(ctx context.Context, productID int64) (*models.Cart, error)
	SetQuantity(ctx context.Context, productID int64, quantity int) (*models.Cart, error)
	Cancel(ctx context.Context) (*models.Cart, error)
	Checkout(ctx context.Context, req models.CheckoutRequest) (*models.Receipt, error)

	Login(ctx context.Context, token string) (*models.Cart, error)
	Logout(ctx context.Context) (*models.Cart, error)
	RefreshCatalog(ctx context.Context) (*models.Cart, error)

	State() enum.SyncState
	Snapshot() *models.Cart
	Close()
}

// Deps are the collaborators of one session. Receipts and Publisher are
// optional.
type Deps struct {
	Session    *Session
	Local      cart.LocalStore
	Gateway    remote.Gateway
	Catalog    remote.Catalog
	Calculator *pricing.Calculator
	Guard      *stock.Guard
	Receipts   order.Service
	Publisher  event.Publisher
	Logger     *zap.Logger
}

type Options struct {
	Currency        stripe.Currency
	LogoutPolicy    enum.LogoutPolicy
	OverStockPolicy enum.OverStockPolicy
	QueueSize       int
}

// invalidator is implemented by catalogs that cache snapshots.
type invalidator interface {
	Invalidate(productIDs ...int64)
}

type service struct {
	session    *Session
	local      cart.LocalStore
	gateway    remote.Gateway
	catalog    remote.Catalog
	calculator *pricing.Calculator
	guard      *stock.Guard
	receipts   order.Service

	reconciler   *Reconciler
	eventManager *EventManager
	queue        *MutationQueue

	currency  stripe.Currency
	overStock enum.OverStockPolicy
	logger    *zap.Logger

	mu        sync.RWMutex
	cart      *models.Cart
	committed uint64
}

func NewService(deps Deps, opts Options) (Service, error) {
	if deps.Local == nil || deps.Gateway == nil || deps.Catalog == nil || deps.Calculator == nil {
		return nil, errors.New("cartsync: local store, gateway, catalog and calculator are required")
	}
	if deps.Session == nil {
		deps.Session = NewSession("")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Guard == nil {
		deps.Guard = stock.NewGuard(deps.Logger)
	}
	if opts.Currency == "" {
		opts.Currency = stripe.CurrencyUSD
	}
	if opts.OverStockPolicy == "" {
		opts.OverStockPolicy = enum.OverStockPolicyReject
	}

	logger := deps.Logger.With(zap.String("session_id", deps.Session.ID()))
	s := &service{
		session:    deps.Session,
		local:      deps.Local,
		gateway:    deps.Gateway,
		catalog:    deps.Catalog,
		calculator: deps.Calculator,
		guard:      deps.Guard,
		receipts:   deps.Receipts,
		currency:   opts.Currency,
		overStock:  opts.OverStockPolicy,
		logger:     logger,
		cart:       models.NewCart(opts.Currency, enum.SyncStateAnonymous),
	}
	s.eventManager = NewEventManager(deps.Publisher, deps.Session.ID(), logger)
	s.reconciler = NewReconciler(deps.Local, deps.Gateway, opts.LogoutPolicy, s.eventManager, logger)
	s.queue = NewMutationQueue(opts.QueueSize, logger)

	return s, nil
}

func (s *service) State() enum.SyncState {
	return s.reconciler.State()
}

// Snapshot returns the last committed cart without any I/O.
func (s *service) Snapshot() *models.Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.Clone()
}

func (s *service) Close() {
	s.queue.Shutdown()
}

// run executes fn on the mutation queue and returns the snapshot committed
// by it.
func (s *service) run(ctx context.Context, name string, fn Mutation) (*models.Cart, error) {
	if err := s.queue.Do(ctx, name, fn); err != nil {
		return nil, err
	}
	return s.Snapshot(), nil
}

func (s *service) Cart(ctx context.Context) (*models.Cart, error) {
	return s.run(ctx, "reload", func(ctx context.Context, version uint64) error {
		return s.reload(ctx, version)
	})
}

func (s *service) Add(ctx context.Context, productID int64, quantity int) (*models.Cart, error) {
	if productID <= 0 {
		return nil, models.NewValidationError("productId", "must be positive")
	}
	if quantity <= 0 {
		return nil, models.NewValidationError("quantity", "must be positive")
	}

	return s.run(ctx, "add", func(ctx context.Context, version uint64) error {
		product, err := s.catalog.GetProduct(ctx, productID)
		if err != nil {
			return err
		}

		current, err := s.quantityOf(ctx, productID)
		if err != nil {
			return err
		}
		if err = s.guard.Check(productID, current, quantity, product.StockAvailable); err != nil {
			return err
		}
		s.guard.Track(productID, product.StockAvailable)
		if err = s.guard.Reserve(productID, quantity); err != nil {
			return err
		}

		write := func(ctx context.Context) error {
			if s.State() == enum.SyncStateSynced {
				return s.gateway.AddItem(ctx, productID, quantity)
			}
			return s.addLocal(ctx, models.CartEntry{ProductID: productID, Quantity: current + quantity})
		}
		rollback := func(err error) {
			s.guard.Release(productID, quantity)
			s.logger.Warn("Add rejected, reservation rolled back",
				zap.Int64("product_id", productID),
				zap.Int("quantity", quantity),
				zap.Error(err))
		}

		return s.apply(ctx, version, productID, product, current+quantity, write, rollback)
	})
}

func (s *service) Remove(ctx context.Context, productID int64) (*models.Cart, error) {
	if productID <= 0 {
		return nil, models.NewValidationError("productId", "must be positive")
	}

	return s.run(ctx, "remove", func(ctx context.Context, version uint64) error {
		current, err := s.quantityOf(ctx, productID)
		if err != nil {
			return err
		}
		if current == 0 {
			return nil
		}

		write := func(ctx context.Context) error {
			var err error
			if s.State() == enum.SyncStateSynced {
				err = s.gateway.RemoveItem(ctx, productID)
			} else {
				err = s.local.Delete(ctx, productID)
			}
			if err != nil {
				return err
			}
			s.guard.Release(productID, current)
			return nil
		}

		return s.apply(ctx, version, productID, nil, 0, write, nil)
	})
}

func (s *service) SetQuantity(ctx context.Context, productID int64, quantity int) (*models.Cart, error) {
	if productID <= 0 {
		return nil, models.NewValidationError("productId", "must be positive")
	}
	if quantity <= 0 {
		return s.Remove(ctx, productID)
	}

	return s.run(ctx, "set_quantity", func(ctx context.Context, version uint64) error {
		current, err := s.quantityOf(ctx, productID)
		if err != nil {
			return err
		}
		if current == quantity {
			return nil
		}

		product, err := s.catalog.GetProduct(ctx, productID)
		if err != nil {
			return err
		}

		target := quantity
		if target > product.StockAvailable {
			if s.overStock != enum.OverStockPolicyClamp {
				return &models.StockExceededError{
					ProductID: productID,
					Requested: quantity,
					Available: product.StockAvailable,
				}
			}
			target = product.StockAvailable
			s.logger.Info("Quantity clamped to available stock",
				zap.Int64("product_id", productID),
				zap.Int("requested", quantity),
				zap.Int("clamped", target))
		}
		if target == current {
			return nil
		}

		s.guard.Track(productID, product.StockAvailable)
		if err = s.guard.Adjust(productID, current, target); err != nil {
			return err
		}

		write := func(ctx context.Context) error {
			switch {
			case s.State() == enum.SyncStateSynced && target == 0:
				return s.gateway.RemoveItem(ctx, productID)
			case s.State() == enum.SyncStateSynced:
				return s.gateway.SetQuantity(ctx, productID, target)
			default:
				return s.addLocal(ctx, models.CartEntry{ProductID: productID, Quantity: target})
			}
		}
		rollback := func(error) {
			if err := s.guard.Adjust(productID, target, current); err != nil {
				s.logger.Warn("Failed to roll back reservation", zap.Int64("product_id", productID), zap.Error(err))
			}
		}

		return s.apply(ctx, version, productID, product, target, write, rollback)
	})
}

func (s *service) Cancel(ctx context.Context) (*models.Cart, error) {
	return s.run(ctx, "cancel", func(ctx context.Context, version uint64) error {
		var err error
		if s.State() == enum.SyncStateSynced {
			err = s.gateway.Cancel(ctx)
		} else {
			err = s.local.Clear(ctx)
		}
		if err != nil {
			return err
		}

		s.guard.Reset()
		s.eventManager.Emit(ctx, enum.EventTypeCartCancelled, nil)
		s.commit(version, make([]models.CartItem, 0))
		return nil
	})
}

// Checkout finalizes the remote cart. Totals are frozen from the committed
// cart before the call; the cart is left as it was when finalization fails.
func (s *service) Checkout(ctx context.Context, req models.CheckoutRequest) (*models.Receipt, error) {
	var receipt *models.Receipt

	err := s.queue.Do(ctx, "checkout", func(ctx context.Context, version uint64) error {
		if s.State() != enum.SyncStateSynced {
			return &models.AuthRequiredError{Op: "checkout"}
		}
		snapshot := s.Snapshot()
		if snapshot.IsEmpty() {
			return models.NewValidationError("cart", "is empty")
		}
		if err := req.Validate(); err != nil {
			return err
		}

		confirmation, err := s.gateway.Finalize(ctx, req)
		if err != nil {
			s.logger.Error("Checkout failed, cart left untouched", zap.Error(err))
			return err
		}

		receipt = &models.Receipt{
			OrderID:         confirmation.OrderID,
			Items:           snapshot.Items,
			Subtotal:        snapshot.Subtotal,
			Tax:             snapshot.Tax,
			Shipping:        snapshot.Shipping,
			Total:           snapshot.Total,
			Currency:        snapshot.Currency,
			ShippingAddress: req.ShippingAddress,
			CreatedAt:       time.Now(),
		}
		if !confirmation.Total.IsZero() && !confirmation.Total.Equal(receipt.Total) {
			s.logger.Warn("Backend total differs from computed total",
				zap.String("order_id", receipt.OrderID),
				zap.String("computed", receipt.Total.StringFixed(pricing.CurrencyPlaces)),
				zap.String("backend", confirmation.Total.StringFixed(pricing.CurrencyPlaces)))
		}

		if s.receipts != nil {
			if err = s.receipts.Record(ctx, s.session.ID(), receipt); err != nil {
				s.logger.Warn("Failed to record receipt", zap.String("order_id", receipt.OrderID), zap.Error(err))
			}
		}

		productIDs := make([]int64, 0, len(snapshot.Items))
		for _, item := range snapshot.Items {
			productIDs = append(productIDs, item.ProductID)
		}
		s.guard.Forget(productIDs...)
		if cache, ok := s.catalog.(invalidator); ok {
			cache.Invalidate(productIDs...)
		}

		s.eventManager.Emit(ctx, enum.EventTypeCartCheckedOut, checkedOutPayload{
			OrderID: receipt.OrderID,
			Total:   receipt.Total.StringFixed(pricing.CurrencyPlaces),
			Items:   len(receipt.Items),
		})
		s.commit(version, make([]models.CartItem, 0))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// Login authenticates the session and merges the local cart. A
// *models.SyncPartialFailure is returned together with the synced cart.
func (s *service) Login(ctx context.Context, token string) (*models.Cart, error) {
	if token == "" {
		return nil, models.NewValidationError("token", "is required")
	}

	var warning error
	snapshot, err := s.run(ctx, "login", func(ctx context.Context, version uint64) error {
		s.session.setToken(token)

		err := s.reconciler.Login(ctx)
		var partial *models.SyncPartialFailure
		switch {
		case errors.As(err, &partial):
			warning = partial
		case err != nil:
			s.session.setToken("")
			return err
		}

		s.guard.Reset()
		return s.reload(ctx, version)
	})
	if err != nil {
		return nil, err
	}
	return snapshot, warning
}

func (s *service) Logout(ctx context.Context) (*models.Cart, error) {
	return s.run(ctx, "logout", func(ctx context.Context, version uint64) error {
		lines := make([]models.CartEntry, 0)
		if s.State() == enum.SyncStateSynced {
			for _, item := range s.Snapshot().Items {
				lines = append(lines, item.Entry())
			}
		}
		err := s.reconciler.Logout(ctx, lines)
		s.session.setToken("")
		s.guard.Reset()
		if err != nil {
			return err
		}
		return s.reload(ctx, version)
	})
}

// RefreshCatalog pulls authoritative stock for every product and recomputes
// availability from it, dropping optimistic drift.
func (s *service) RefreshCatalog(ctx context.Context) (*models.Cart, error) {
	return s.run(ctx, "refresh_catalog", func(ctx context.Context, version uint64) error {
		products, err := s.catalog.ListProducts(ctx)
		if err != nil {
			return err
		}

		byID := make(map[int64]*models.Product, len(products))
		levels := make(map[int64]int, len(products))
		for _, product := range products {
			byID[product.ID] = product
			levels[product.ID] = product.StockAvailable
		}

		snapshot := s.Snapshot()
		s.guard.Refresh(levels, snapshot.Quantities())

		items := make([]models.CartItem, 0, len(snapshot.Items))
		for _, item := range snapshot.Items {
			items = append(items, models.NewCartItem(item.Entry(), productOr(byID[item.ProductID], item)))
		}
		_, err = s.commit(version, items)
		return err
	})
}

// reload rebuilds the cart from its source of truth: the remote cart once
// synced, the local store otherwise.
func (s *service) reload(ctx context.Context, version uint64) error {
	var (
		items []models.CartItem
		err   error
	)
	if s.State() == enum.SyncStateSynced {
		items, err = s.gateway.GetCart(ctx)
	} else {
		items, err = s.localItems(ctx)
	}
	if err != nil {
		return err
	}
	return s.settle(version, items)
}

// apply changes one line to quantity. Every read that can fail runs before
// write, so an error from it or from write leaves the cart as it was and
// rollback undoes the caller's reservation. Once write succeeded the change
// is committed: a failed remote re-fetch falls back to the committed cart
// with the line applied.
func (s *service) apply(ctx context.Context, version uint64, productID int64, product *models.Product, quantity int, write func(context.Context) error, rollback func(error)) error {
	synced := s.State() == enum.SyncStateSynced

	var (
		base []models.CartItem
		err  error
	)
	if synced {
		base = s.Snapshot().Items
	} else {
		base, err = s.localItems(ctx)
	}
	if err == nil {
		err = write(ctx)
	}
	if err != nil {
		if rollback != nil {
			rollback(err)
		}
		return err
	}

	items := withLine(base, productID, product, quantity)
	if synced {
		fetched, err := s.gateway.GetCart(ctx)
		if err != nil {
			s.logger.Warn("Failed to re-fetch remote cart after write, committing local view",
				zap.Uint64("version", version),
				zap.Error(err))
		} else {
			items = fetched
		}
	}
	return s.settle(version, items)
}

// settle re-bases stock reservations on items and commits them.
func (s *service) settle(version uint64, items []models.CartItem) error {
	s.guard.Refresh(stockLevels(items), quantities(items))
	_, err := s.commit(version, items)
	return err
}

func (s *service) localItems(ctx context.Context) ([]models.CartItem, error) {
	entries, err := s.local.Entries(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]models.CartItem, 0, len(entries))
	for _, entry := range entries {
		product, err := s.catalog.GetProduct(ctx, entry.ProductID)
		if err != nil {
			return nil, err
		}
		items = append(items, models.NewCartItem(entry, product))
	}
	return items, nil
}

// addLocal writes an anonymous entry and re-arms the merge.
func (s *service) addLocal(ctx context.Context, entry models.CartEntry) error {
	if err := s.local.Put(ctx, entry); err != nil {
		return err
	}
	if err := s.reconciler.LocalChanged(ctx); err != nil {
		s.logger.Warn("Failed to reset sync flag", zap.Error(err))
	}
	return nil
}

// quantityOf reads the line quantity from the source of truth of the current
// state. The remote cart is mirrored by the committed snapshot.
func (s *service) quantityOf(ctx context.Context, productID int64) (int, error) {
	if s.State() == enum.SyncStateSynced {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.cart.Quantity(productID), nil
	}

	entry, ok, err := s.local.Get(ctx, productID)
	if err != nil || !ok {
		return 0, err
	}
	return entry.Quantity, nil
}

// commit prices items and publishes them as the current cart. A cart that
// can not be priced is rejected with the pricing error. Versions at or below
// the committed one are discarded; the queue hands versions out in order, so
// only a direct caller outside it can hit that guard.
func (s *service) commit(version uint64, items []models.CartItem) (bool, error) {
	next := models.NewCart(s.currency, s.State())
	next.Items = items
	next.Version = version
	if err := s.calculator.Apply(next); err != nil {
		s.logger.Error("Failed to price cart", zap.Uint64("version", version), zap.Error(err))
		return false, fmt.Errorf("failed to price cart: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if version <= s.committed {
		s.logger.Debug("Discarding stale cart",
			zap.Uint64("version", version),
			zap.Uint64("committed", s.committed))
		return false, nil
	}
	s.cart = next
	s.committed = version
	return true, nil
}

// withLine returns a copy of items with productID set to quantity; zero
// drops the line. product refreshes the snapshot when given.
func withLine(items []models.CartItem, productID int64, product *models.Product, quantity int) []models.CartItem {
	result := make([]models.CartItem, 0, len(items)+1)
	found := false
	for _, item := range items {
		if item.ProductID != productID {
			result = append(result, item)
			continue
		}
		found = true
		if quantity > 0 {
			result = append(result, models.NewCartItem(models.CartEntry{ProductID: productID, Quantity: quantity}, productOr(product, item)))
		}
	}
	if !found && quantity > 0 {
		result = append(result, models.NewCartItem(models.CartEntry{ProductID: productID, Quantity: quantity}, product))
	}
	return result
}

func productOr(product *models.Product, item models.CartItem) *models.Product {
	if product != nil {
		return product
	}
	return &models.Product{
		ID:             item.ProductID,
		Title:          item.Title,
		UnitPrice:      item.UnitPrice,
		Category:       item.Category,
		StockAvailable: item.StockAvailable,
	}
}

func stockLevels(items []models.CartItem) map[int64]int {
	levels := make(map[int64]int, len(items))
	for _, item := range items {
		levels[item.ProductID] = item.StockAvailable
	}
	return levels
}

func quantities(items []models.CartItem) map[int64]int {
	result := make(map[int64]int, len(items))
	for _, item := range items {
		result[item.ProductID] = item.Quantity
	}
	return result
}
