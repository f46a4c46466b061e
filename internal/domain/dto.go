package domain

// Wire shapes for the backend HTTP contract. Name and price are pinned
// into the order payload so totals stay what the guest actually saw,
// independent of menu price changes between browse and submit.

type CreateOrderItem struct {
	MenuItemID      string            `json:"menuItemId" validate:"required"`
	Quantity        int               `json:"quantity" validate:"required,gte=1"`
	Customizations  map[string]string `json:"customizations,omitempty"`
	SpecialRequests string            `json:"specialRequests,omitempty"`
	Name            string            `json:"name" validate:"required"`
	Price           float64           `json:"price" validate:"gte=0"`
}

type CreateOrderRequest struct {
	TableNumber       int               `json:"tableNumber" validate:"required,gte=1"`
	Items             []CreateOrderItem `json:"items" validate:"required,min=1,dive"`
	CustomerSessionID string            `json:"customerSessionId" validate:"required"`
	CustomerName      string            `json:"customerName,omitempty"`
	CustomerPhone     string            `json:"customerPhone,omitempty"`
}

type CreateOrderResponse struct {
	Order Order `json:"order"`
}

type UpdateStatusRequest struct {
	Status OrderStatus `json:"status"`
}

type PaymentRequest struct {
	OrderID string  `json:"orderId" validate:"required"`
	Method  string  `json:"method" validate:"required"`
	Amount  float64 `json:"amount" validate:"gte=0"`
	Tip     float64 `json:"tip" validate:"gte=0"`
}

// RemoteSession is the backend's view of the active session for a
// table, used to arbitrate resume-vs-restart across devices.
type RemoteSession struct {
	SessionID    string `json:"sessionId"`
	TableNumber  int    `json:"tableNumber"`
	CustomerName string `json:"customerName,omitempty"`
	DeviceType   string `json:"deviceType,omitempty"`
}
