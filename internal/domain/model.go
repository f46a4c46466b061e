package domain

import "time"

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusConfirmed OrderStatus = "confirmed"
	StatusPreparing OrderStatus = "preparing"
	StatusReady     OrderStatus = "ready"
	StatusServed    OrderStatus = "served"
	StatusPaid      OrderStatus = "paid"      // absorbing
	StatusCancelled OrderStatus = "cancelled" // absorbing
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// Rank orders the active statuses for the monotonicity rule. The two
// absorbing statuses sit outside the ladder: paid above everything,
// cancelled handled explicitly by the sync engine.
func (s OrderStatus) Rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusConfirmed:
		return 2
	case StatusPreparing:
		return 3
	case StatusReady:
		return 4
	case StatusServed:
		return 5
	case StatusPaid:
		return 6
	case StatusCancelled:
		return 0
	default:
		return -1
	}
}

// Progress is derived from status on every read, never stored.
func (s OrderStatus) Progress() int {
	switch s {
	case StatusPending:
		return 20
	case StatusConfirmed:
		return 40
	case StatusPreparing:
		return 60
	case StatusReady:
		return 80
	case StatusServed, StatusPaid:
		return 100
	default: // cancelled, unknown
		return 0
	}
}

func (s OrderStatus) Valid() bool { return s.Rank() >= 0 }

// Cancellable reports whether the guest may still cancel; later
// transitions are server-driven.
func (s OrderStatus) Cancellable() bool {
	return s == StatusPending || s == StatusConfirmed
}

type TenantScope struct {
	TenantID string `json:"tenantId"`
}

type GuestSession struct {
	SessionID     string    `json:"sessionId"`
	TableNumber   int       `json:"tableNumber"`
	TenantID      string    `json:"tenantId"`
	CustomerName  string    `json:"customerName"`
	CustomerPhone string    `json:"customerPhone,omitempty"`
	DeviceType    string    `json:"deviceType"` // tablet | phone | kiosk
	IsActive      bool      `json:"isActive"`
	StartTime     time.Time `json:"startTime"`
}

// CartLine is one cart entry. CartID is distinct from MenuItemID: two
// lines for the same menu item with different customizations coexist.
type CartLine struct {
	CartID          string            `json:"cartId"`
	MenuItemID      string            `json:"menuItemId"`
	Name            string            `json:"name"`
	Price           float64           `json:"price"`
	Quantity        int               `json:"quantity"`
	Customizations  map[string]string `json:"customizations,omitempty"`
	SpecialRequests string            `json:"specialRequests,omitempty"`
	// IsUpdating is an advisory soft lock: true while a quantity
	// mutation settles. Not a mutual-exclusion guard.
	IsUpdating bool `json:"isUpdating"`
}

type OrderItem struct {
	MenuItemID      string            `json:"menuItemId"`
	Name            string            `json:"name"`
	Price           float64           `json:"price"`
	Quantity        int               `json:"quantity"`
	Customizations  map[string]string `json:"customizations,omitempty"`
	SpecialRequests string            `json:"specialRequests,omitempty"`
	Status          string            `json:"status,omitempty"` // kitchen sub-item status
}

type Order struct {
	ID            string        `json:"id"`
	OrderNumber   string        `json:"orderNumber"`
	TableNumber   int           `json:"tableNumber"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	Items         []OrderItem   `json:"items"`
	Total         float64       `json:"total"`
	CreatedAt     time.Time     `json:"createdAt"`
}

type Totals struct {
	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total"`
}
