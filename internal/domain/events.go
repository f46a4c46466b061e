package domain

import "time"

// Push-channel event names. These are the wire contract and must match
// the backend exactly.
const (
	EventNewOrder            = "new-order"
	EventOrderStatusChanged  = "order-status-changed"
	EventKitchenUpdate       = "kitchen-update"
	EventOrderReady          = "order-ready"
	EventOrderCancelled      = "order-cancelled"
	EventGuestServiceRequest = "guest-service-request"
	EventCustomerRequest     = "customer-request"
	EventTableStatusUpdate   = "table-status-update"
	EventMenuUpdated         = "menu-updated"
)

// NewOrderEvent is emitted after a successful submission so kitchen
// displays see the order without waiting for their own poll cycle.
type NewOrderEvent struct {
	Order       Order  `json:"order"`
	TableNumber int    `json:"tableNumber"`
	SessionID   string `json:"sessionId"`
}

type OrderStatusChangedEvent struct {
	OrderID   string      `json:"orderId"`
	Status    OrderStatus `json:"status"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// KitchenUpdateEvent carries sub-item progress; it never changes the
// order's own status.
type KitchenUpdateEvent struct {
	OrderID    string `json:"orderId"`
	MenuItemID string `json:"menuItemId"`
	ItemStatus string `json:"itemStatus"`
}

// OrderReadyEvent is notification-only; the state transition itself
// arrives as an order-status-changed event.
type OrderReadyEvent struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	TableNumber int    `json:"tableNumber"`
}

type OrderCancelledEvent struct {
	OrderID     string `json:"orderId"`
	TableNumber int    `json:"tableNumber"`
	SessionID   string `json:"sessionId"`
}

type ServiceRequestEvent struct {
	TableNumber int    `json:"tableNumber"`
	SessionID   string `json:"sessionId"`
	RequestType string `json:"requestType"` // water | assistance | bill
	Note        string `json:"note,omitempty"`
}

type TableStatusEvent struct {
	TableNumber int    `json:"tableNumber"`
	Status      string `json:"status"`
}
