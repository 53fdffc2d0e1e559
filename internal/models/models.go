package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Table represents a physical table in the dining room. Status is advisory
// only; the authoritative occupancy state lives in reservations.
type Table struct {
	Number    int       `db:"number" json:"number"`
	Capacity  int       `db:"capacity" json:"capacity"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Table statuses (advisory)
const (
	TableStatusAvailable = "AVAILABLE"
	TableStatusReserved  = "RESERVED"
	TableStatusOccupied  = "OCCUPIED"
	TableStatusCleaning  = "CLEANING"
)

// Reservation is a promise to occupy one table for a fixed-duration
// interval on one date.
type Reservation struct {
	ID            int64      `db:"id" json:"id"`
	TableNumber   int        `db:"table_number" json:"table_number"`
	RequesterID   string     `db:"requester_id" json:"requester_id"`
	RequesterName string     `db:"requester_name" json:"requester_name"`
	Date          time.Time  `db:"date" json:"date"`
	StartTime     time.Time  `db:"start_time" json:"start_time"`
	EndTime       time.Time  `db:"end_time" json:"end_time"`
	PartySize     int        `db:"party_size" json:"party_size"`
	Status        string     `db:"status" json:"status"`
	Note          string     `db:"note" json:"note,omitempty"`
	DeletedAt     *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Reservation statuses
const (
	ReservationStatusPending   = "PENDING"
	ReservationStatusConfirmed = "CONFIRMED"
	ReservationStatusActive    = "ACTIVE"
	ReservationStatusCompleted = "COMPLETED"
	ReservationStatusCancelled = "CANCELLED"
)

// LiveReservationStatuses are the statuses that count toward conflict
// detection. Cancelled and soft-deleted reservations never conflict;
// completed ones have vacated the table.
var LiveReservationStatuses = []string{
	ReservationStatusPending,
	ReservationStatusConfirmed,
	ReservationStatusActive,
}

// IsTerminalReservationStatus reports whether no further status change is
// allowed from s.
func IsTerminalReservationStatus(s string) bool {
	return s == ReservationStatusCompleted || s == ReservationStatusCancelled
}

// Overlaps reports whether the [start, end) interval collides with the
// reservation's own half-open interval. Touching endpoints do not overlap,
// so back-to-back bookings are allowed.
func (r *Reservation) Overlaps(start, end time.Time) bool {
	return start.Before(r.EndTime) && end.After(r.StartTime)
}

// QueryMode selects whether soft-deleted rows are visible to a query.
type QueryMode int

const (
	ActiveOnly QueryMode = iota
	IncludingDeleted
)

// Ingredient is a perishable stock item. Quantity is mutated only through
// the stock ledger's reserve/release operations and administrative restock.
type Ingredient struct {
	ID           int64     `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Quantity     float64   `db:"quantity" json:"quantity"`
	MinThreshold float64   `db:"min_threshold" json:"min_threshold"`
	Unit         string    `db:"unit" json:"unit"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// BelowMinimum reports whether available stock has dropped under the
// configured threshold.
func (i *Ingredient) BelowMinimum() bool {
	return i.Quantity < i.MinThreshold
}

// RecipeLine declares how much of one ingredient one unit of a menu item
// consumes. Read-only during order processing.
type RecipeLine struct {
	MenuItemID   int64   `db:"menu_item_id" json:"menu_item_id"`
	IngredientID int64   `db:"ingredient_id" json:"ingredient_id"`
	Quantity     float64 `db:"quantity" json:"quantity"`
}

// MenuItem is a sellable dish. Available is a convenience projection
// derived from current stock, not authoritative inventory.
type MenuItem struct {
	ID         int64     `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	PriceCents int64     `db:"price_cents" json:"price_cents"`
	Available  bool      `db:"available" json:"available"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// StockNeed is a scaled ingredient requirement for one order.
type StockNeed struct {
	IngredientID int64
	Quantity     float64
}

// Order is a kitchen ticket for one table.
type Order struct {
	ID            int64      `db:"id" json:"id"`
	TableNumber   int        `db:"table_number" json:"table_number"`
	ReservationID *int64     `db:"reservation_id" json:"reservation_id,omitempty"`
	RequesterID   *string    `db:"requester_id" json:"requester_id,omitempty"`
	RequesterName *string    `db:"requester_name" json:"requester_name,omitempty"`
	Status        string     `db:"status" json:"status"`
	Note          string     `db:"note" json:"note,omitempty"`
	ReadyAt       *time.Time `db:"ready_at" json:"ready_at,omitempty"`
	DeliveredAt   *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// OrderItem is one ordered line. UnitPriceCents is snapshotted at order
// creation and never recomputed from the menu.
type OrderItem struct {
	ID             int64  `db:"id" json:"id"`
	OrderID        int64  `db:"order_id" json:"order_id"`
	MenuItemID     int64  `db:"menu_item_id" json:"menu_item_id"`
	Name           string `db:"name" json:"name"`
	Quantity       int    `db:"quantity" json:"quantity"`
	UnitPriceCents int64  `db:"unit_price_cents" json:"unit_price_cents"`
	Note           string `db:"note" json:"note,omitempty"`
}

// Order statuses
const (
	OrderStatusCreated   = "CREATED"
	OrderStatusUrgent    = "URGENT"
	OrderStatusPreparing = "PREPARING"
	OrderStatusReady     = "READY"
	OrderStatusDelivered = "DELIVERED"
	OrderStatusCancelled = "CANCELLED"
)

// orderTransitions is the allowed status graph. Anything not listed is
// rejected; DELIVERED and CANCELLED have no outgoing edges.
var orderTransitions = map[string][]string{
	OrderStatusCreated:   {OrderStatusPreparing, OrderStatusUrgent, OrderStatusCancelled},
	OrderStatusUrgent:    {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing: {OrderStatusReady, OrderStatusCancelled},
	OrderStatusReady:     {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered: {},
	OrderStatusCancelled: {},
}

// CanTransitionOrder reports whether the status graph permits from -> to.
func CanTransitionOrder(from, to string) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalOrderStatus reports whether s has no outgoing transitions.
func IsTerminalOrderStatus(s string) bool {
	next, ok := orderTransitions[s]
	return ok && len(next) == 0
}

// ValidOrderStatus reports whether s is a known order status.
func ValidOrderStatus(s string) bool {
	_, ok := orderTransitions[s]
	return ok
}

// OrderTotalCents sums quantity times the snapshotted unit price across
// all lines.
func OrderTotalCents(items []OrderItem) int64 {
	var total int64
	for _, it := range items {
		total += int64(it.Quantity) * it.UnitPriceCents
	}
	return total
}

// AuditItem is an immutable per-line snapshot inside a cancellation audit.
type AuditItem struct {
	MenuItemID     int64  `json:"menu_item_id"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	SubtotalCents  int64  `json:"subtotal_cents"`
}

// AuditItemList is stored as a jsonb column.
type AuditItemList []AuditItem

func (l AuditItemList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *AuditItemList) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	case nil:
		*l = nil
		return nil
	default:
		return fmt.Errorf("unsupported audit item list type %T", src)
	}
}

// CancellationAudit is written once per audited cancellation. The snapshot
// columns deliberately duplicate order and menu data so the record stays
// truthful after the referenced rows change or disappear.
type CancellationAudit struct {
	ID             int64         `db:"id" json:"id"`
	OrderID        int64         `db:"order_id" json:"order_id"`
	ActorID        *string       `db:"actor_id" json:"actor_id,omitempty"`
	ActorName      *string       `db:"actor_name" json:"actor_name,omitempty"`
	Reason         string        `db:"reason" json:"reason"`
	TableNumber    int           `db:"table_number" json:"table_number"`
	RequesterName  string        `db:"requester_name" json:"requester_name"`
	TotalCents     int64         `db:"total_cents" json:"total_cents"`
	ProductSummary string        `db:"product_summary" json:"product_summary"`
	Items          AuditItemList `db:"items" json:"items"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}

// CancelledOrder pairs a cancelled order with its audit entry, if any.
// Audit is nil for legacy unaudited cancellations.
type CancelledOrder struct {
	Order Order              `json:"order"`
	Audit *CancellationAudit `json:"audit,omitempty"`
}
