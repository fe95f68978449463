package cartsync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/cartsync/cart"
	"goflare.io/cartsync/models"
	"goflare.io/cartsync/models/enum"
	"goflare.io/cartsync/remote"
)

type reconcilerFixture struct {
	local     cart.LocalStore
	remote    *fakeRemote
	publisher *MockPublisher
	r         *Reconciler
}

func newReconcilerFixture(t *testing.T, policy enum.LogoutPolicy) *reconcilerFixture {
	local, _ := setupLocalStore(t)
	fake := newFakeRemote()
	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)

	events := NewEventManager(publisher, "device-1", zap.NewNop())
	return &reconcilerFixture{
		local:     local,
		remote:    fake,
		publisher: publisher,
		r:         NewReconciler(local, fake, policy, events, zap.NewNop()),
	}
}

func (f *reconcilerFixture) seed(t *testing.T, entries ...models.CartEntry) {
	for _, entry := range entries {
		require.NoError(t, f.local.Put(context.Background(), entry))
	}
}

func TestReconciler_LoginMergesLocalEntries(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t, enum.LogoutPolicyClear)
	f.seed(t, models.CartEntry{ProductID: 1, Quantity: 2}, models.CartEntry{ProductID: 5, Quantity: 1})

	require.NoError(t, f.r.Login(ctx))

	assert.Equal(t, enum.SyncStateSynced, f.r.State())
	assert.Equal(t, map[int64]int{1: 2, 5: 1}, f.remote.remoteLines())
	assert.Equal(t, []string{"remove:1", "set:1", "remove:5", "set:5"}, f.remote.callLog())

	merged, err := f.local.SyncFlag(ctx)
	require.NoError(t, err)
	assert.True(t, merged)

	entries, err := f.local.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.Equal(t, []enum.EventType{enum.EventTypeCartSynced}, f.publisher.types())
}

func TestReconciler_LoginOverwritesRemoteLines(t *testing.T) {
	f := newReconcilerFixture(t, enum.LogoutPolicyClear)
	f.remote.lines[1] = 7
	f.remote.lines[7] = 1
	f.seed(t, models.CartEntry{ProductID: 1, Quantity: 2})

	require.NoError(t, f.r.Login(context.Background()))

	// the local quantity wins, it is not added on top
	assert.Equal(t, map[int64]int{1: 2, 7: 1}, f.remote.remoteLines())
}

func TestReconciler_LoginSkipsWhenAlreadyMerged(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t, enum.LogoutPolicyClear)
	f.seed(t, models.CartEntry{ProductID: 1, Quantity: 2})
	require.NoError(t, f.local.SetSyncFlag(ctx, true))

	require.NoError(t, f.r.Login(ctx))

	assert.Equal(t, enum.SyncStateSynced, f.r.State())
	assert.Empty(t, f.remote.callLog())
	assert.Empty(t, f.remote.remoteLines())
}

func TestReconciler_LoginWithEmptyLocalCart(t *testing.T) {
	f := newReconcilerFixture(t, enum.LogoutPolicyClear)

	require.NoError(t, f.r.Login(context.Background()))

	assert.Equal(t, enum.SyncStateSynced, f.r.State())
	assert.Empty(t, f.remote.callLog())
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestReconciler_LoginIsNoopOnceSynced(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t, enum.LogoutPolicyClear)
	f.seed(t, models.CartEntry{ProductID: 1, Quantity: 2})
	require.NoError(t, f.r.Login(ctx))
	f.remote.resetCalls()

	f.seed(t, models.CartEntry{ProductID: 5, Quantity: 1})
	require.NoError(t, f.r.Login(ctx))

	assert.Empty(t, f.remote.callLog())
}

func TestReconciler_LoginPartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t, enum.LogoutPolicyClear)
	f.remote.failWith("set", 5, &models.StockExceededError{ProductID: 5, Requested: 9, Available: 3})
	f.seed(t, models.CartEntry{ProductID: 1, Quantity: 2}, models.CartEntry{ProductID: 5, Quantity: 9})

	err := f.r.Login(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrSyncPartialFailure)
	assert.ErrorIs(t, err, models.ErrStockExceeded)

	var partial *models.SyncPartialFailure
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, []models.CartEntry{{ProductID: 5, Quantity: 9}}, partial.FailedEntries())

	assert.Equal(t, enum.SyncStateSynced, f.r.State())
	assert.Equal(t, map[int64]int{1: 2}, f.remote.remoteLines())

	entries, err := f.local.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.Equal(t, []enum.EventType{enum.EventTypeCartSynced, enum.EventTypeCartSyncPartialFailure}, f.publisher.types())
}

func TestReconciler_LoginAbortsOnAuthFailure(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t, enum.LogoutPolicyClear)
	f.remote.failWith("remove", 1, &models.AuthRequiredError{Op: "remove_item"})
	f.seed(t, models.CartEntry{ProductID: 1, Quantity: 2})

	err := f.r.Login(ctx)

	assert.ErrorIs(t, err, models.ErrAuthRequired)
	assert.Equal(t, enum.SyncStateAnonymous, f.r.State())

	entries, err := f.local.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.CartEntry{{ProductID: 1, Quantity: 2}}, entries)

	merged, err := f.local.SyncFlag(ctx)
	require.NoError(t, err)
	assert.False(t, merged)
}

func TestReconciler_LogoutClearPolicy(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t, enum.LogoutPolicyClear)
	require.NoError(t, f.r.Login(ctx))
	f.seed(t, models.CartEntry{ProductID: 7, Quantity: 1})
	require.NoError(t, f.local.SetSyncFlag(ctx, true))

	require.NoError(t, f.r.Logout(ctx, []models.CartEntry{{ProductID: 1, Quantity: 2}}))

	assert.Equal(t, enum.SyncStateAnonymous, f.r.State())
	entries, err := f.local.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	merged, err := f.local.SyncFlag(ctx)
	require.NoError(t, err)
	assert.False(t, merged)
	assert.Contains(t, f.publisher.types(), enum.EventTypeCartLoggedOut)
}

func TestReconciler_LogoutRetainPolicyKeepsSyncedCart(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t, enum.LogoutPolicyRetain)
	f.seed(t, models.CartEntry{ProductID: 1, Quantity: 2})
	require.NoError(t, f.r.Login(ctx))

	synced := []models.CartEntry{{ProductID: 1, Quantity: 2}, {ProductID: 7, Quantity: 1}}
	require.NoError(t, f.r.Logout(ctx, synced))

	assert.Equal(t, enum.SyncStateAnonymous, f.r.State())
	entries, err := f.local.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, synced, entries)

	merged, err := f.local.SyncFlag(ctx)
	require.NoError(t, err)
	assert.True(t, merged)

	// logging back in with the cart unchanged pushes nothing
	f.remote.resetCalls()
	require.NoError(t, f.r.Login(ctx))
	assert.Empty(t, f.remote.callLog())
}

func TestReconciler_LogoutRetainPolicyWhileAnonymous(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t, enum.LogoutPolicyRetain)
	f.seed(t, models.CartEntry{ProductID: 5, Quantity: 1})

	require.NoError(t, f.r.Logout(ctx, nil))

	entries, err := f.local.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.CartEntry{{ProductID: 5, Quantity: 1}}, entries)
}

func TestReconciler_LocalChangedRearmsMerge(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t, enum.LogoutPolicyRetain)
	require.NoError(t, f.local.SetSyncFlag(ctx, true))

	require.NoError(t, f.r.LocalChanged(ctx))

	merged, err := f.local.SyncFlag(ctx)
	require.NoError(t, err)
	assert.False(t, merged)

	// a second change leaves the flag alone
	require.NoError(t, f.r.LocalChanged(ctx))
	merged, err = f.local.SyncFlag(ctx)
	require.NoError(t, err)
	assert.False(t, merged)
}

func TestReconciler_PublishFailureDoesNotFailLogin(t *testing.T) {
	local, _ := setupLocalStore(t)
	fake := newFakeRemote()
	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("nats down"))
	r := NewReconciler(local, fake, "", NewEventManager(publisher, "device-1", zap.NewNop()), zap.NewNop())

	require.NoError(t, local.Put(context.Background(), models.CartEntry{ProductID: 1, Quantity: 1}))
	require.NoError(t, r.Login(context.Background()))
	assert.Equal(t, enum.SyncStateSynced, r.State())
	publisher.AssertNumberOfCalls(t, "Publish", 1)
}

func TestReconciler_LineRejectedByBackendIsReported(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	session := NewSession("device-1")
	session.setToken("token-1")
	client := remote.NewClient(remote.Config{BaseURL: srv.URL, Timeout: time.Second}, srv.Client(), session, zap.NewNop())

	local, _ := setupLocalStore(t)
	require.NoError(t, local.Put(ctx, models.CartEntry{ProductID: 1, Quantity: 2}))
	r := NewReconciler(local, client, enum.LogoutPolicyClear, nil, zap.NewNop())

	err := r.Login(ctx)

	var partial *models.SyncPartialFailure
	require.True(t, errors.As(err, &partial), "got %v", err)
	assert.Equal(t, []models.CartEntry{{ProductID: 1, Quantity: 2}}, partial.FailedEntries())
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Equal(t, enum.SyncStateSynced, r.State())
}
