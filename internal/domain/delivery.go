package domain

// Delivery is one notification pushed to a user for a tracked address.
// Corresponds to notification_deliveries table in ClickHouse.
type Delivery struct {
	DeliveryID  string // uuid
	UserID      int64
	Target      string // tracked address
	Signature   string // transaction signature
	Slot        int64
	DeliveredAt int64 // Unix timestamp in milliseconds
}
