package enum

// SyncState 表示購物車與遠端購物車的同步狀態
type SyncState string

const (
	SyncStateAnonymous   SyncState = "anonymous"
	SyncStatePendingSync SyncState = "pending_sync"
	SyncStateSynced      SyncState = "synced"
)

// LogoutPolicy decides what happens to the local cart when a session logs out.
type LogoutPolicy string

const (
	LogoutPolicyClear  LogoutPolicy = "clear"
	LogoutPolicyRetain LogoutPolicy = "retain"
)

// OverStockPolicy decides how SetQuantity treats a quantity above the available stock.
type OverStockPolicy string

const (
	OverStockPolicyReject OverStockPolicy = "reject"
	OverStockPolicyClamp  OverStockPolicy = "clamp"
)

// ShippingBasis is the amount compared against the free shipping threshold.
type ShippingBasis string

const (
	ShippingBasisSubtotal        ShippingBasis = "subtotal"
	ShippingBasisSubtotalPlusTax ShippingBasis = "subtotal_plus_tax"
)
