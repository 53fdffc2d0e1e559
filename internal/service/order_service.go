package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"restaurant-service/config"
	"restaurant-service/internal/models"
	"restaurant-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderService is the order fulfillment engine: it resolves recipes,
// reserves stock through the ledger and drives the order state machine.
type OrderService struct {
	orders    OrderStore
	tables    TableStore
	menu      MenuStore
	ledger    *StockLedger
	publisher EventPublisher
	policy    config.BusinessConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(
	orders OrderStore,
	tables TableStore,
	menu MenuStore,
	ledger *StockLedger,
	publisher EventPublisher,
	policy config.BusinessConfig,
) *OrderService {
	return &OrderService{
		orders:    orders,
		tables:    tables,
		menu:      menu,
		ledger:    ledger,
		publisher: publisher,
		policy:    policy,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// CreateOrderRequest represents a request to open a kitchen ticket
type CreateOrderRequest struct {
	TableNumber   int                `json:"table_number" binding:"required"`
	ReservationID *int64             `json:"reservation_id,omitempty"`
	RequesterID   *string            `json:"requester_id,omitempty"`
	RequesterName *string            `json:"requester_name,omitempty"`
	Note          string             `json:"note"`
	Lines         []OrderLineRequest `json:"lines" binding:"required,min=1"`
}

// OrderLineRequest represents one ordered line
type OrderLineRequest struct {
	MenuItemID int64  `json:"menu_item_id" binding:"required"`
	Quantity   int    `json:"quantity" binding:"required,min=1"`
	Note       string `json:"note"`
}

// Actor identifies who performed a mutation. Opaque to the core; supplied
// by the caller's identity layer.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateOrder reserves stock for every line across the whole order, then
// persists the order with each line's unit price snapshotted from the
// menu's current price. If any ingredient falls short nothing is
// reserved; if the insert fails after reservation, the reserve is
// compensated with a release.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, []models.OrderItem, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if err := s.validateCreateRequest(req); err != nil {
		util.OrdersFailedTotal.WithLabelValues("validation").Inc()
		return nil, nil, err
	}

	if _, err := s.tables.GetTable(ctx, req.TableNumber); err != nil {
		util.OrdersFailedTotal.WithLabelValues("not_found").Inc()
		return nil, nil, err
	}

	items, itemIDs, err := s.resolveMenuItems(ctx, req.Lines)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("not_found").Inc()
		return nil, nil, err
	}

	quantities := make(map[int64]int, len(req.Lines))
	for _, line := range req.Lines {
		quantities[line.MenuItemID] += line.Quantity
	}
	needs, err := s.resolveStockNeeds(ctx, itemIDs, quantities)
	if err != nil {
		return nil, nil, err
	}

	if err := s.ledger.Reserve(ctx, needs); err != nil {
		util.OrdersFailedTotal.WithLabelValues("insufficient_stock").Inc()
		return nil, nil, err
	}

	order := &models.Order{
		TableNumber:   req.TableNumber,
		ReservationID: req.ReservationID,
		RequesterID:   req.RequesterID,
		RequesterName: req.RequesterName,
		Status:        models.OrderStatusCreated,
		Note:          req.Note,
	}

	orderItems := make([]models.OrderItem, 0, len(req.Lines))
	for _, line := range req.Lines {
		item := items[line.MenuItemID]
		orderItems = append(orderItems, models.OrderItem{
			MenuItemID:     line.MenuItemID,
			Name:           item.Name,
			Quantity:       line.Quantity,
			UnitPriceCents: item.PriceCents,
			Note:           line.Note,
		})
	}

	if err := s.orders.InsertOrder(ctx, order, orderItems); err != nil {
		s.logger.Error("Order insert failed after stock reserve, compensating",
			zap.Int("table", req.TableNumber),
			zap.Error(err))
		if relErr := s.ledger.Release(ctx, needs); relErr != nil {
			s.logger.Error("Failed to compensate stock reservation", zap.Error(relErr))
		}
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int("table", order.TableNumber))

	eventItems := make([]models.OrderItemData, 0, len(orderItems))
	for _, item := range orderItems {
		eventItems = append(eventItems, models.OrderItemData{
			MenuItemID:     item.MenuItemID,
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}
	event := &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			Timestamp: s.now().UTC(),
		},
		OrderID:     order.ID,
		TableNumber: order.TableNumber,
		TotalCents:  models.OrderTotalCents(orderItems),
		Items:       eventItems,
	}
	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}

	return order, orderItems, nil
}

func (s *OrderService) validateCreateRequest(req *CreateOrderRequest) error {
	if len(req.Lines) == 0 {
		return &models.ValidationError{Field: "lines", Message: "at least one line is required"}
	}
	if len(req.Note) > s.policy.NoteMaxLen {
		return &models.ValidationError{
			Field:   "note",
			Message: fmt.Sprintf("must be at most %d characters", s.policy.NoteMaxLen),
		}
	}
	for i, line := range req.Lines {
		if line.Quantity < 1 {
			return &models.ValidationError{
				Field:   fmt.Sprintf("lines[%d].quantity", i),
				Message: "must be at least 1",
			}
		}
		if len(line.Note) > s.policy.NoteMaxLen {
			return &models.ValidationError{
				Field:   fmt.Sprintf("lines[%d].note", i),
				Message: fmt.Sprintf("must be at most %d characters", s.policy.NoteMaxLen),
			}
		}
	}
	return nil
}

func (s *OrderService) resolveMenuItems(ctx context.Context, lines []OrderLineRequest) (map[int64]models.MenuItem, []int64, error) {
	itemIDs := make([]int64, 0, len(lines))
	seen := make(map[int64]bool, len(lines))
	for _, line := range lines {
		if !seen[line.MenuItemID] {
			seen[line.MenuItemID] = true
			itemIDs = append(itemIDs, line.MenuItemID)
		}
	}

	menuItems, err := s.menu.GetMenuItemsByIDs(ctx, itemIDs)
	if err != nil {
		return nil, nil, err
	}

	items := make(map[int64]models.MenuItem, len(menuItems))
	for _, item := range menuItems {
		items[item.ID] = item
	}
	for _, id := range itemIDs {
		if _, ok := items[id]; !ok {
			return nil, nil, &models.NotFoundError{Resource: "menu item", Ref: fmt.Sprintf("%d", id)}
		}
	}

	return items, itemIDs, nil
}

// resolveStockNeeds scales every recipe line by the ordered quantity and
// aggregates per ingredient. The ledger locks in ascending ingredient ID
// order, so the aggregation order here carries no meaning.
func (s *OrderService) resolveStockNeeds(ctx context.Context, itemIDs []int64, quantities map[int64]int) ([]models.StockNeed, error) {
	recipes, err := s.menu.GetRecipeLines(ctx, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipes: %w", err)
	}

	totals := make(map[int64]float64)
	order := make([]int64, 0, len(recipes))
	for _, line := range recipes {
		scaled := line.Quantity * float64(quantities[line.MenuItemID])
		if scaled == 0 {
			continue
		}
		if _, ok := totals[line.IngredientID]; !ok {
			order = append(order, line.IngredientID)
		}
		totals[line.IngredientID] += scaled
	}

	needs := make([]models.StockNeed, 0, len(order))
	for _, id := range order {
		needs = append(needs, models.StockNeed{IngredientID: id, Quantity: totals[id]})
	}
	return needs, nil
}

// ChangeStatus validates the transition against the order graph and
// persists it with the timestamp bookkeeping. Cancellation releases the
// order's stock and, when an actor is supplied, writes the audit entry —
// all inside one store transaction.
func (s *OrderService) ChangeStatus(ctx context.Context, orderID int64, newStatus string, actor *Actor, reason string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ChangeStatus")
	defer span.End()

	if !models.ValidOrderStatus(newStatus) {
		return nil, &models.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", newStatus)}
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !models.CanTransitionOrder(order.Status, newStatus) {
		return nil, &models.ConflictError{
			Message: fmt.Sprintf("cannot transition order %d from %s to %s", orderID, order.Status, newStatus),
		}
	}

	if newStatus == models.OrderStatusCancelled {
		return s.cancel(ctx, order, actor, reason)
	}

	now := s.now().UTC()
	switch newStatus {
	case models.OrderStatusReady:
		if order.ReadyAt == nil {
			order.ReadyAt = &now
		}
	case models.OrderStatusDelivered:
		order.DeliveredAt = &now
		if order.ReadyAt == nil {
			order.ReadyAt = &now
		}
	}

	from := order.Status
	order.Status = newStatus
	if err := s.orders.UpdateOrderStatus(ctx, order, from); err != nil {
		return nil, err
	}

	util.OrderTransitionsTotal.WithLabelValues(newStatus).Inc()

	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: now,
		},
		OrderID:     order.ID,
		TableNumber: order.TableNumber,
		FromStatus:  from,
		ToStatus:    newStatus,
	}
	if err := s.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}

	return order, nil
}

// cancel handles the CANCELLED transition: reason validation happens
// before any mutation; stock release, status flip and audit insert share
// one transaction.
func (s *OrderService) cancel(ctx context.Context, order *models.Order, actor *Actor, reason string) (*models.Order, error) {
	audited := actor != nil
	reason = strings.TrimSpace(reason)

	if audited && len(reason) < s.policy.MinAuditReasonLen {
		return nil, &models.ValidationError{
			Field:   "reason",
			Message: fmt.Sprintf("must be at least %d characters when an actor is supplied", s.policy.MinAuditReasonLen),
		}
	}

	items, err := s.orders.GetOrderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	itemIDs := make([]int64, 0, len(items))
	quantities := make(map[int64]int, len(items))
	for _, item := range items {
		if _, ok := quantities[item.MenuItemID]; !ok {
			itemIDs = append(itemIDs, item.MenuItemID)
		}
		quantities[item.MenuItemID] += item.Quantity
	}
	needs, err := s.resolveStockNeeds(ctx, itemIDs, quantities)
	if err != nil {
		return nil, err
	}

	var audit *models.CancellationAudit
	if audited {
		audit = s.buildAudit(order, items, actor, reason)
	} else {
		s.logger.Warn("Unaudited order cancellation",
			zap.Int64("order_id", order.ID))
	}

	if err := s.orders.CancelOrder(ctx, order, needs, audit); err != nil {
		return nil, err
	}

	s.ledger.SyncAfterChange(ctx, ingredientIDs(needs))

	auditedLabel := "false"
	if audited {
		auditedLabel = "true"
	}
	util.OrdersCancelledTotal.WithLabelValues(auditedLabel).Inc()
	s.logger.Info("Order cancelled",
		zap.Int64("order_id", order.ID),
		zap.Bool("audited", audited))

	event := &models.OrderCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCancelled,
			Timestamp: s.now().UTC(),
		},
		OrderID:     order.ID,
		TableNumber: order.TableNumber,
		Audited:     audited,
		Reason:      reason,
	}
	if err := s.publisher.PublishOrderCancelled(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
	}

	return order, nil
}

// buildAudit snapshots everything the audit must stay truthful about
// after the order or menu changes.
func (s *OrderService) buildAudit(order *models.Order, items []models.OrderItem, actor *Actor, reason string) *models.CancellationAudit {
	auditItems := make(models.AuditItemList, 0, len(items))
	for _, item := range items {
		auditItems = append(auditItems, models.AuditItem{
			MenuItemID:     item.MenuItemID,
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			SubtotalCents:  int64(item.Quantity) * item.UnitPriceCents,
		})
	}

	requesterName := ""
	if order.RequesterName != nil {
		requesterName = *order.RequesterName
	}

	if len(reason) > s.policy.ReasonMaxLen {
		cut := s.policy.ReasonMaxLen
		for cut > 0 && !utf8.RuneStart(reason[cut]) {
			cut--
		}
		reason = reason[:cut]
	}

	return &models.CancellationAudit{
		OrderID:        order.ID,
		ActorID:        &actor.ID,
		ActorName:      &actor.Name,
		Reason:         reason,
		TableNumber:    order.TableNumber,
		RequesterName:  requesterName,
		TotalCents:     models.OrderTotalCents(items),
		ProductSummary: buildProductSummary(items, s.policy.SummaryMaxLen),
		Items:          auditItems,
	}
}

// buildProductSummary renders a human-readable line like
// "2x Salad, 1x Soup", truncated to maxLen with a count of the lines
// that did not fit.
func buildProductSummary(items []models.OrderItem, maxLen int) string {
	var b strings.Builder
	for i, item := range items {
		part := fmt.Sprintf("%dx %s", item.Quantity, item.Name)
		if i > 0 {
			part = ", " + part
		}
		if b.Len()+len(part) > maxLen {
			return b.String() + fmt.Sprintf(" (+%d more)", len(items)-i)
		}
		b.WriteString(part)
	}
	return b.String()
}

// GetOrder retrieves an order with its lines
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	items, err := s.orders.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	return order, items, nil
}

// KitchenQueue lists the open tickets, urgent first then oldest first.
func (s *OrderService) KitchenQueue(ctx context.Context) ([]models.Order, error) {
	return s.orders.KitchenQueue(ctx)
}

// ListByStatus lists orders in one status, oldest first.
func (s *OrderService) ListByStatus(ctx context.Context, status string) ([]models.Order, error) {
	if !models.ValidOrderStatus(status) {
		return nil, &models.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}
	return s.orders.ListOrdersByStatus(ctx, status)
}

// ListCancelled lists cancelled orders with their audit entries.
func (s *OrderService) ListCancelled(ctx context.Context) ([]models.CancelledOrder, error) {
	return s.orders.ListCancelledOrders(ctx)
}
