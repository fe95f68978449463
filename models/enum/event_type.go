package enum

// EventType 表示購物車事件的類型
type EventType string

const (
	EventTypeCartSynced             EventType = "cart.synced"
	EventTypeCartSyncPartialFailure EventType = "cart.sync_partial_failure"
	EventTypeCartCancelled          EventType = "cart.cancelled"
	EventTypeCartCheckedOut         EventType = "cart.checked_out"
	EventTypeCartLoggedOut          EventType = "cart.logged_out"
)
