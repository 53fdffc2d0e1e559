package service

import (
	"context"
	"time"

	"restaurant-service/internal/models"
)

// The services depend on narrow store interfaces so business rules can be
// exercised against in-memory fakes. *store.Store satisfies all of them.

// TableStore provides table lookups and advisory status writes.
type TableStore interface {
	GetTable(ctx context.Context, number int) (*models.Table, error)
	UpdateTableStatus(ctx context.Context, number int, status string) error
}

// ReservationStore persists reservations. CreateReservation re-checks
// conflicts under a per-table lock inside the insert transaction.
type ReservationStore interface {
	ListLiveReservations(ctx context.Context, tableNumber int, date time.Time) ([]models.Reservation, error)
	CreateReservation(ctx context.Context, r *models.Reservation) error
	GetReservation(ctx context.Context, id int64) (*models.Reservation, error)
	UpdateReservationStatus(ctx context.Context, id int64, status string) error
	SetReservationDeleted(ctx context.Context, id int64, deletedAt *time.Time) error
	ListReservations(ctx context.Context, tableNumber int, from, to time.Time, mode models.QueryMode) ([]models.Reservation, error)
}

// StockStore is the ledger's persistence. ReserveStock is all-or-nothing
// across the needs it is given, with deterministic lock ordering.
type StockStore interface {
	GetIngredient(ctx context.Context, id int64) (*models.Ingredient, error)
	ListIngredients(ctx context.Context) ([]models.Ingredient, error)
	GetIngredientsByIDs(ctx context.Context, ids []int64) ([]models.Ingredient, error)
	ReserveStock(ctx context.Context, needs []models.StockNeed) error
	ReleaseStock(ctx context.Context, needs []models.StockNeed) error
}

// MenuStore is the read-only recipe index plus the availability
// projection flag.
type MenuStore interface {
	GetMenuItemsByIDs(ctx context.Context, ids []int64) ([]models.MenuItem, error)
	GetRecipeLines(ctx context.Context, menuItemIDs []int64) ([]models.RecipeLine, error)
	GetMenuItemIDsUsingIngredients(ctx context.Context, ingredientIDs []int64) ([]int64, error)
	SetMenuItemAvailability(ctx context.Context, id int64, available bool) error
}

// OrderStore persists orders. Status writes compare-and-swap on the
// status the caller read and report a ConflictError when the row moved
// on concurrently. CancelOrder releases stock, flips the status and
// writes the audit row in one transaction.
type OrderStore interface {
	InsertOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, order *models.Order, from string) error
	CancelOrder(ctx context.Context, order *models.Order, needs []models.StockNeed, audit *models.CancellationAudit) error
	ListOrdersByStatus(ctx context.Context, status string) ([]models.Order, error)
	KitchenQueue(ctx context.Context) ([]models.Order, error)
	ListCancelledOrders(ctx context.Context) ([]models.CancelledOrder, error)
}

// EventPublisher emits domain events. Implemented by broker.EventPublisher.
type EventPublisher interface {
	PublishReservationCreated(ctx context.Context, event *models.ReservationCreatedEvent) error
	PublishReservationCancelled(ctx context.Context, event *models.ReservationCancelledEvent) error
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishStockBelowMinimum(ctx context.Context, event *models.StockBelowMinimumEvent) error
}

// StockMirror is the advisory Redis fast path. ReserveStock is the
// scripted pre-check decrement; the database stays authoritative and the
// ledger compensates the mirror when the two disagree. A nil mirror
// degrades to database-only operation.
type StockMirror interface {
	ReserveStock(ctx context.Context, ingredientID int64, quantity float64) (bool, error)
	ReleaseStock(ctx context.Context, ingredientID int64, quantity float64) error
	SetStock(ctx context.Context, ingredientID int64, quantity float64) error
	SetItemAvailability(ctx context.Context, menuItemID int64, available bool) error
	GetItemAvailability(ctx context.Context, menuItemID int64) (bool, error)
}
