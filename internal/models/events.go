package models

import "time"

// Event types
const (
	EventTypeReservationCreated   = "RESERVATION_CREATED"
	EventTypeReservationCancelled = "RESERVATION_CANCELLED"
	EventTypeOrderCreated         = "ORDER_CREATED"
	EventTypeOrderStatusChanged   = "ORDER_STATUS_CHANGED"
	EventTypeOrderCancelled       = "ORDER_CANCELLED"
	EventTypeStockBelowMinimum    = "STOCK_BELOW_MINIMUM"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// ReservationCreatedEvent published when a booking is accepted
type ReservationCreatedEvent struct {
	BaseEvent
	ReservationID int64     `json:"reservation_id"`
	TableNumber   int       `json:"table_number"`
	Date          string    `json:"date"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	PartySize     int       `json:"party_size"`
}

// ReservationCancelledEvent published when a reservation is cancelled
type ReservationCancelledEvent struct {
	BaseEvent
	ReservationID int64 `json:"reservation_id"`
	TableNumber   int   `json:"table_number"`
}

// OrderCreatedEvent published when a kitchen ticket is opened
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	TableNumber int             `json:"table_number"`
	TotalCents  int64           `json:"total_cents"`
	Items       []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published on every non-cancellation transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID     int64  `json:"order_id"`
	TableNumber int    `json:"table_number"`
	FromStatus  string `json:"from_status"`
	ToStatus    string `json:"to_status"`
}

// OrderCancelledEvent published when an order is cancelled and its stock
// released. Audited is false on the legacy unaudited path.
type OrderCancelledEvent struct {
	BaseEvent
	OrderID     int64  `json:"order_id"`
	TableNumber int    `json:"table_number"`
	Audited     bool   `json:"audited"`
	Reason      string `json:"reason,omitempty"`
}

// StockBelowMinimumEvent published when a reserve drops an ingredient
// under its configured threshold
type StockBelowMinimumEvent struct {
	BaseEvent
	IngredientID   int64   `json:"ingredient_id"`
	IngredientName string  `json:"ingredient_name"`
	Quantity       float64 `json:"quantity"`
	MinThreshold   float64 `json:"min_threshold"`
	Unit           string  `json:"unit"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	MenuItemID     int64  `json:"menu_item_id"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}
