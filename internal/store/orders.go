package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"restaurant-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// InsertOrder persists an order and its lines in one transaction. Stock
// has already been reserved by the ledger; the caller compensates with a
// release if this insert fails.
func (s *Store) InsertOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders
			(table_number, reservation_id, requester_id, requester_name, status, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	row := tx.QueryRowxContext(ctx, query,
		order.TableNumber, order.ReservationID, order.RequesterID,
		order.RequesterName, order.Status, order.Note)
	if err := row.Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO order_items (order_id, menu_item_id, name, quantity, unit_price_cents, note)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			items[i].OrderID, items[i].MenuItemID, items[i].Name,
			items[i].Quantity, items[i].UnitPriceCents, items[i].Note,
		).Scan(&items[i].ID)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrder retrieves an order by ID
func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Resource: "order", Ref: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItems retrieves all lines for an order
func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// UpdateOrderStatus persists a non-cancellation transition along with the
// ready/delivered timestamp bookkeeping already applied on the model. The
// write compares-and-swaps on the status the caller read; a row that
// moved on since then is left alone and reported as a conflict.
func (s *Store) UpdateOrderStatus(ctx context.Context, order *models.Order, from string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, ready_at = $2, delivered_at = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5`,
		order.Status, order.ReadyAt, order.DeliveredAt, order.ID, from)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.orderWriteConflict(ctx, order.ID, from)
	}
	return nil
}

// orderWriteConflict classifies a zero-row status write: the order either
// never existed or changed status under the caller.
func (s *Store) orderWriteConflict(ctx context.Context, id int64, expected string) error {
	var current string
	err := s.db.GetContext(ctx, &current, "SELECT status FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return &models.NotFoundError{Resource: "order", Ref: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return err
	}
	return &models.ConflictError{
		Message: fmt.Sprintf("order %d is %s, not %s; status changed concurrently", id, current, expected),
	}
}

// CancelOrder releases the order's stock, marks it cancelled and writes
// the audit entry (when present) in a single transaction. A crash can
// never leave the order cancelled with stock still held, or stock
// released while the order still shows an active status. The status flip
// compares-and-swaps on the status the caller read, so a concurrent
// cancellation of the same order releases the stock exactly once.
func (s *Store) CancelOrder(ctx context.Context, order *models.Order, needs []models.StockNeed, audit *models.CancellationAudit) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// The guarded flip comes first: its row lock serializes racing
	// cancels, and a lost race aborts before any stock is touched.
	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		models.OrderStatusCancelled, order.ID, order.Status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.orderWriteConflict(ctx, order.ID, order.Status)
	}

	if err := releaseStockTx(ctx, tx, needs); err != nil {
		return err
	}

	if audit != nil {
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO cancellation_audits
				(order_id, actor_id, actor_name, reason, table_number, requester_name,
				 total_cents, product_summary, items)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id, created_at`,
			audit.OrderID, audit.ActorID, audit.ActorName, audit.Reason,
			audit.TableNumber, audit.RequesterName, audit.TotalCents,
			audit.ProductSummary, audit.Items,
		).Scan(&audit.ID, &audit.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert cancellation audit: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	order.Status = models.OrderStatusCancelled
	return nil
}

// ListOrdersByStatus retrieves orders in one status, oldest first.
func (s *Store) ListOrdersByStatus(ctx context.Context, status string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE status = $1 ORDER BY created_at", status)
	return orders, err
}

// KitchenQueue retrieves the open tickets the kitchen should work on:
// urgent orders first, then oldest first.
func (s *Store) KitchenQueue(ctx context.Context) ([]models.Order, error) {
	query, args, err := sqlx.In(`
		SELECT * FROM orders
		WHERE status IN (?)
		ORDER BY (status = ?) DESC, created_at`,
		[]string{models.OrderStatusCreated, models.OrderStatusUrgent, models.OrderStatusPreparing},
		models.OrderStatusUrgent)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var orders []models.Order
	err = s.db.SelectContext(ctx, &orders, query, args...)
	return orders, err
}

// ListCancelledOrders retrieves cancelled orders with their audit entries.
// Orders cancelled through the legacy unaudited path come back with a nil
// audit.
func (s *Store) ListCancelledOrders(ctx context.Context) ([]models.CancelledOrder, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE status = $1 ORDER BY updated_at DESC",
		models.OrderStatusCancelled)
	if err != nil {
		return nil, err
	}

	result := make([]models.CancelledOrder, 0, len(orders))
	for _, order := range orders {
		var audit models.CancellationAudit
		err := s.db.GetContext(ctx, &audit,
			"SELECT * FROM cancellation_audits WHERE order_id = $1", order.ID)
		switch {
		case err == sql.ErrNoRows:
			result = append(result, models.CancelledOrder{Order: order})
		case err != nil:
			return nil, err
		default:
			result = append(result, models.CancelledOrder{Order: order, Audit: &audit})
		}
	}

	return result, nil
}

// GetCancellationAudit retrieves the audit entry for one order
func (s *Store) GetCancellationAudit(ctx context.Context, orderID int64) (*models.CancellationAudit, error) {
	var audit models.CancellationAudit
	err := s.db.GetContext(ctx, &audit,
		"SELECT * FROM cancellation_audits WHERE order_id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Resource: "cancellation audit", Ref: strconv.FormatInt(orderID, 10)}
	}
	if err != nil {
		return nil, err
	}
	return &audit, nil
}
