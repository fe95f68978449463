package cartsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"goflare.io/cartsync/cart"
	"goflare.io/cartsync/models"
	"goflare.io/cartsync/models/enum"
	"goflare.io/cartsync/remote"
)

// Reconciler owns the sync state of a session and merges the local cart
// into the remote one when the shopper authenticates.
type Reconciler struct {
	local  cart.LocalStore
	remote remote.Gateway
	policy enum.LogoutPolicy
	events *EventManager
	logger *zap.Logger

	mu    sync.RWMutex
	state enum.SyncState
}

func NewReconciler(local cart.LocalStore, gateway remote.Gateway, policy enum.LogoutPolicy, events *EventManager, logger *zap.Logger) *Reconciler {
	if policy == "" {
		policy = enum.LogoutPolicyClear
	}
	return &Reconciler{
		local:  local,
		remote: gateway,
		policy: policy,
		events: events,
		logger: logger,
		state:  enum.SyncStateAnonymous,
	}
}

func (r *Reconciler) State() enum.SyncState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Reconciler) setState(state enum.SyncState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != state {
		r.logger.Info("Sync state changed",
			zap.String("from", string(r.state)),
			zap.String("to", string(state)))
	}
	r.state = state
}

// Login merges pending local entries into the remote cart. Each entry
// overwrites the remote line, so running the merge twice is harmless.
// Entries that fail are reported in a *models.SyncPartialFailure, which is a
// warning: the session ends up Synced either way. An AuthRequiredError from
// the backend aborts the login and leaves everything as it was.
func (r *Reconciler) Login(ctx context.Context) error {
	if r.State() == enum.SyncStateSynced {
		return nil
	}

	entries, err := r.local.Entries(ctx)
	if err != nil {
		return fmt.Errorf("failed to read local cart: %w", err)
	}
	merged, err := r.local.SyncFlag(ctx)
	if err != nil {
		return fmt.Errorf("failed to read sync flag: %w", err)
	}

	if len(entries) == 0 || merged {
		if merged && len(entries) > 0 {
			r.logger.Info("Local cart already merged, skipping", zap.Int("entries", len(entries)))
		}
		r.setState(enum.SyncStateSynced)
		return nil
	}

	r.setState(enum.SyncStatePendingSync)

	failures := make([]models.EntryFailure, 0)
	for _, entry := range entries {
		err := r.mergeEntry(ctx, entry)
		if err == nil {
			continue
		}
		if errors.Is(err, models.ErrAuthRequired) {
			r.setState(enum.SyncStateAnonymous)
			return err
		}
		r.logger.Warn("Failed to merge cart entry",
			zap.Int64("product_id", entry.ProductID),
			zap.Int("quantity", entry.Quantity),
			zap.Error(err))
		failures = append(failures, models.EntryFailure{Entry: entry, Err: err})
	}

	if err = r.local.SetSyncFlag(ctx, true); err != nil {
		r.logger.Warn("Failed to mark local cart as merged", zap.Error(err))
	}
	if err = r.local.Clear(ctx); err != nil {
		r.logger.Warn("Failed to delete merged local entries", zap.Error(err))
	}
	r.setState(enum.SyncStateSynced)

	r.events.Emit(ctx, enum.EventTypeCartSynced, syncedPayload{Merged: len(entries) - len(failures)})
	if len(failures) == 0 {
		return nil
	}

	partial := &models.SyncPartialFailure{Failures: failures}
	r.events.Emit(ctx, enum.EventTypeCartSyncPartialFailure, syncFailurePayload{Failed: partial.FailedEntries()})
	return partial
}

func (r *Reconciler) mergeEntry(ctx context.Context, entry models.CartEntry) error {
	if err := r.remote.RemoveItem(ctx, entry.ProductID); err != nil {
		return err
	}
	return r.remote.SetQuantity(ctx, entry.ProductID, entry.Quantity)
}

// Logout returns the session to Anonymous and applies the logout policy to
// the local store. Under retain, lines (the synced cart at logout) become the
// local cart, marked as merged so an unchanged cart is not pushed back on
// the next login. Under clear, the local store is wiped.
func (r *Reconciler) Logout(ctx context.Context, lines []models.CartEntry) error {
	defer r.setState(enum.SyncStateAnonymous)

	// nothing was synced, the anonymous cart is already the one to keep
	if r.policy == enum.LogoutPolicyRetain && r.State() != enum.SyncStateSynced {
		r.events.Emit(ctx, enum.EventTypeCartLoggedOut, nil)
		return nil
	}

	if err := r.local.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear local cart on logout: %w", err)
	}

	merged := false
	if r.policy == enum.LogoutPolicyRetain {
		for _, entry := range lines {
			if err := r.local.Put(ctx, entry); err != nil {
				return fmt.Errorf("failed to retain cart entry %d on logout: %w", entry.ProductID, err)
			}
		}
		merged = len(lines) > 0
	}

	if err := r.local.SetSyncFlag(ctx, merged); err != nil {
		return fmt.Errorf("failed to write sync flag on logout: %w", err)
	}
	r.events.Emit(ctx, enum.EventTypeCartLoggedOut, nil)
	return nil
}

// LocalChanged re-arms the merge after an anonymous mutation that follows a
// completed one.
func (r *Reconciler) LocalChanged(ctx context.Context) error {
	merged, err := r.local.SyncFlag(ctx)
	if err != nil {
		return err
	}
	if !merged {
		return nil
	}
	return r.local.SetSyncFlag(ctx, false)
}
