package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"restaurant-service/internal/models"
)

// Map-backed fakes for the store interfaces. They reproduce the atomic
// contracts of the real store (overlap re-check on insert, all-or-nothing
// reserve, single-step cancel) so the services can be exercised without a
// database.

type fakeTableStore struct {
	mu     sync.Mutex
	tables map[int]*models.Table
}

func newFakeTableStore(tables ...models.Table) *fakeTableStore {
	f := &fakeTableStore{tables: make(map[int]*models.Table)}
	for i := range tables {
		t := tables[i]
		f.tables[t.Number] = &t
	}
	return f
}

func (f *fakeTableStore) GetTable(ctx context.Context, number int) (*models.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[number]
	if !ok {
		return nil, &models.NotFoundError{Resource: "table", Ref: strconv.Itoa(number)}
	}
	copied := *t
	return &copied, nil
}

func (f *fakeTableStore) UpdateTableStatus(ctx context.Context, number int, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[number]
	if !ok {
		return &models.NotFoundError{Resource: "table", Ref: strconv.Itoa(number)}
	}
	t.Status = status
	return nil
}

type fakeReservationStore struct {
	mu           sync.Mutex
	nextID       int64
	reservations map[int64]*models.Reservation
	CreateFunc   func(ctx context.Context, r *models.Reservation) error
}

func newFakeReservationStore() *fakeReservationStore {
	return &fakeReservationStore{reservations: make(map[int64]*models.Reservation)}
}

func isLiveStatus(status string) bool {
	for _, s := range models.LiveReservationStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (f *fakeReservationStore) ListLiveReservations(ctx context.Context, tableNumber int, date time.Time) ([]models.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.liveLocked(tableNumber, date), nil
}

func (f *fakeReservationStore) liveLocked(tableNumber int, date time.Time) []models.Reservation {
	var out []models.Reservation
	for _, r := range f.reservations {
		if r.TableNumber == tableNumber && r.Date.Equal(date) && r.DeletedAt == nil && isLiveStatus(r.Status) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (f *fakeReservationStore) CreateReservation(ctx context.Context, r *models.Reservation) error {
	if f.CreateFunc != nil {
		return f.CreateFunc(ctx, r)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.liveLocked(r.TableNumber, r.Date) {
		if existing.Overlaps(r.StartTime, r.EndTime) {
			return &models.ConflictError{
				Message: fmt.Sprintf("table %d is already reserved from %s to %s",
					r.TableNumber,
					existing.StartTime.Format("15:04"),
					existing.EndTime.Format("15:04")),
				ConflictStart: existing.StartTime,
				ConflictEnd:   existing.EndTime,
			}
		}
	}

	f.nextID++
	r.ID = f.nextID
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	copied := *r
	f.reservations[r.ID] = &copied
	return nil
}

func (f *fakeReservationStore) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok {
		return nil, &models.NotFoundError{Resource: "reservation", Ref: strconv.FormatInt(id, 10)}
	}
	copied := *r
	return &copied, nil
}

func (f *fakeReservationStore) UpdateReservationStatus(ctx context.Context, id int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok {
		return &models.NotFoundError{Resource: "reservation", Ref: strconv.FormatInt(id, 10)}
	}
	r.Status = status
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeReservationStore) SetReservationDeleted(ctx context.Context, id int64, deletedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok {
		return &models.NotFoundError{Resource: "reservation", Ref: strconv.FormatInt(id, 10)}
	}
	r.DeletedAt = deletedAt
	return nil
}

func (f *fakeReservationStore) ListReservations(ctx context.Context, tableNumber int, from, to time.Time, mode models.QueryMode) ([]models.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Reservation
	for _, r := range f.reservations {
		if r.TableNumber != tableNumber || r.Date.Before(from) || r.Date.After(to) {
			continue
		}
		if mode == models.ActiveOnly && r.DeletedAt != nil {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

type fakeStockStore struct {
	mu          sync.Mutex
	ingredients map[int64]*models.Ingredient
}

func newFakeStockStore(ingredients ...models.Ingredient) *fakeStockStore {
	f := &fakeStockStore{ingredients: make(map[int64]*models.Ingredient)}
	for i := range ingredients {
		ing := ingredients[i]
		f.ingredients[ing.ID] = &ing
	}
	return f
}

func (f *fakeStockStore) GetIngredient(ctx context.Context, id int64) (*models.Ingredient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ing, ok := f.ingredients[id]
	if !ok {
		return nil, &models.NotFoundError{Resource: "ingredient", Ref: strconv.FormatInt(id, 10)}
	}
	copied := *ing
	return &copied, nil
}

func (f *fakeStockStore) ListIngredients(ctx context.Context) ([]models.Ingredient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Ingredient
	for _, ing := range f.ingredients {
		out = append(out, *ing)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStockStore) GetIngredientsByIDs(ctx context.Context, ids []int64) ([]models.Ingredient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Ingredient
	for _, id := range ids {
		if ing, ok := f.ingredients[id]; ok {
			out = append(out, *ing)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ReserveStock mirrors the real store: ascending ID order, first
// shortfall wins, nothing is decremented on failure.
func (f *fakeStockStore) ReserveStock(ctx context.Context, needs []models.StockNeed) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	sorted := make([]models.StockNeed, len(needs))
	copy(sorted, needs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].IngredientID < sorted[j].IngredientID })

	for _, need := range sorted {
		ing, ok := f.ingredients[need.IngredientID]
		if !ok {
			return &models.NotFoundError{Resource: "ingredient", Ref: strconv.FormatInt(need.IngredientID, 10)}
		}
		if ing.Quantity < need.Quantity {
			return &models.InsufficientStockError{
				IngredientID:   ing.ID,
				IngredientName: ing.Name,
				Unit:           ing.Unit,
				Available:      ing.Quantity,
				Required:       need.Quantity,
			}
		}
	}
	for _, need := range sorted {
		f.ingredients[need.IngredientID].Quantity -= need.Quantity
	}
	return nil
}

func (f *fakeStockStore) ReleaseStock(ctx context.Context, needs []models.StockNeed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releaseLocked(needs)
}

func (f *fakeStockStore) releaseLocked(needs []models.StockNeed) error {
	for _, need := range needs {
		ing, ok := f.ingredients[need.IngredientID]
		if !ok {
			return &models.NotFoundError{Resource: "ingredient", Ref: strconv.FormatInt(need.IngredientID, 10)}
		}
		ing.Quantity += need.Quantity
	}
	return nil
}

func (f *fakeStockStore) quantity(id int64) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ingredients[id].Quantity
}

type fakeMenuStore struct {
	mu           sync.Mutex
	items        map[int64]*models.MenuItem
	recipes      []models.RecipeLine
	availability map[int64]bool
}

func newFakeMenuStore(items []models.MenuItem, recipes []models.RecipeLine) *fakeMenuStore {
	f := &fakeMenuStore{
		items:        make(map[int64]*models.MenuItem),
		recipes:      recipes,
		availability: make(map[int64]bool),
	}
	for i := range items {
		it := items[i]
		f.items[it.ID] = &it
	}
	return f
}

func (f *fakeMenuStore) GetMenuItemsByIDs(ctx context.Context, ids []int64) ([]models.MenuItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.MenuItem
	for _, id := range ids {
		if it, ok := f.items[id]; ok {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (f *fakeMenuStore) GetRecipeLines(ctx context.Context, menuItemIDs []int64) ([]models.RecipeLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[int64]bool, len(menuItemIDs))
	for _, id := range menuItemIDs {
		wanted[id] = true
	}
	var out []models.RecipeLine
	for _, line := range f.recipes {
		if wanted[line.MenuItemID] {
			out = append(out, line)
		}
	}
	return out, nil
}

func (f *fakeMenuStore) GetMenuItemIDsUsingIngredients(ctx context.Context, ingredientIDs []int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[int64]bool, len(ingredientIDs))
	for _, id := range ingredientIDs {
		wanted[id] = true
	}
	seen := make(map[int64]bool)
	var out []int64
	for _, line := range f.recipes {
		if wanted[line.IngredientID] && !seen[line.MenuItemID] {
			seen[line.MenuItemID] = true
			out = append(out, line.MenuItemID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (f *fakeMenuStore) SetMenuItemAvailability(ctx context.Context, id int64, available bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if it, ok := f.items[id]; ok {
		it.Available = available
	}
	f.availability[id] = available
	return nil
}

func (f *fakeMenuStore) setPrice(id, priceCents int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[id].PriceCents = priceCents
}

type fakeOrderStore struct {
	mu           sync.Mutex
	nextID       int64
	orders       map[int64]*models.Order
	items        map[int64][]models.OrderItem
	audits       map[int64]*models.CancellationAudit
	stock        *fakeStockStore
	GetOrderFunc func(ctx context.Context, id int64) (*models.Order, error)
}

func newFakeOrderStore(stock *fakeStockStore) *fakeOrderStore {
	return &fakeOrderStore{
		orders: make(map[int64]*models.Order),
		items:  make(map[int64][]models.OrderItem),
		audits: make(map[int64]*models.CancellationAudit),
		stock:  stock,
	}
}

func (f *fakeOrderStore) InsertOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	order.ID = f.nextID
	order.CreatedAt = time.Now().UTC()
	order.UpdatedAt = order.CreatedAt
	copied := *order
	f.orders[order.ID] = &copied
	stored := make([]models.OrderItem, len(items))
	copy(stored, items)
	for i := range stored {
		stored[i].OrderID = order.ID
		stored[i].ID = int64(i + 1)
	}
	f.items[order.ID] = stored
	return nil
}

func (f *fakeOrderStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	if f.GetOrderFunc != nil {
		return f.GetOrderFunc(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, &models.NotFoundError{Resource: "order", Ref: strconv.FormatInt(id, 10)}
	}
	copied := *o
	return &copied, nil
}

func (f *fakeOrderStore) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.items[orderID]
	out := make([]models.OrderItem, len(items))
	copy(out, items)
	return out, nil
}

// UpdateOrderStatus compares-and-swaps on the status the caller read,
// like the real store.
func (f *fakeOrderStore) UpdateOrderStatus(ctx context.Context, order *models.Order, from string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.orders[order.ID]
	if !ok {
		return &models.NotFoundError{Resource: "order", Ref: strconv.FormatInt(order.ID, 10)}
	}
	if stored.Status != from {
		return &models.ConflictError{
			Message: fmt.Sprintf("order %d is %s, not %s; status changed concurrently", order.ID, stored.Status, from),
		}
	}
	stored.Status = order.Status
	stored.ReadyAt = order.ReadyAt
	stored.DeliveredAt = order.DeliveredAt
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

// CancelOrder mirrors the real store's single transaction: the guarded
// status flip, stock release and audit insert happen under one lock, and
// a row that moved on since the caller's read aborts before any release.
func (f *fakeOrderStore) CancelOrder(ctx context.Context, order *models.Order, needs []models.StockNeed, audit *models.CancellationAudit) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored, ok := f.orders[order.ID]
	if !ok {
		return &models.NotFoundError{Resource: "order", Ref: strconv.FormatInt(order.ID, 10)}
	}
	if stored.Status != order.Status {
		return &models.ConflictError{
			Message: fmt.Sprintf("order %d is %s, not %s; status changed concurrently", order.ID, stored.Status, order.Status),
		}
	}

	f.stock.mu.Lock()
	err := f.stock.releaseLocked(needs)
	f.stock.mu.Unlock()
	if err != nil {
		return err
	}

	stored.Status = models.OrderStatusCancelled
	stored.UpdatedAt = time.Now().UTC()
	order.Status = models.OrderStatusCancelled

	if audit != nil {
		audit.ID = int64(len(f.audits) + 1)
		audit.CreatedAt = time.Now().UTC()
		copied := *audit
		f.audits[order.ID] = &copied
	}
	return nil
}

func (f *fakeOrderStore) ListOrdersByStatus(ctx context.Context, status string) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.Status == status {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeOrderStore) KitchenQueue(ctx context.Context) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		switch o.Status {
		case models.OrderStatusCreated, models.OrderStatusUrgent, models.OrderStatusPreparing:
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		iUrgent := out[i].Status == models.OrderStatusUrgent
		jUrgent := out[j].Status == models.OrderStatusUrgent
		if iUrgent != jUrgent {
			return iUrgent
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeOrderStore) ListCancelledOrders(ctx context.Context) ([]models.CancelledOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CancelledOrder
	for _, o := range f.orders {
		if o.Status != models.OrderStatusCancelled {
			continue
		}
		entry := models.CancelledOrder{Order: *o}
		if audit, ok := f.audits[o.ID]; ok {
			copied := *audit
			entry.Audit = &copied
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order.ID < out[j].Order.ID })
	return out, nil
}

type fakePublisher struct {
	mu                    sync.Mutex
	reservationsCreated   []*models.ReservationCreatedEvent
	reservationsCancelled []*models.ReservationCancelledEvent
	ordersCreated         []*models.OrderCreatedEvent
	statusChanges         []*models.OrderStatusChangedEvent
	ordersCancelled       []*models.OrderCancelledEvent
	lowStock              []*models.StockBelowMinimumEvent
}

func (p *fakePublisher) PublishReservationCreated(ctx context.Context, e *models.ReservationCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reservationsCreated = append(p.reservationsCreated, e)
	return nil
}

func (p *fakePublisher) PublishReservationCancelled(ctx context.Context, e *models.ReservationCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reservationsCancelled = append(p.reservationsCancelled, e)
	return nil
}

func (p *fakePublisher) PublishOrderCreated(ctx context.Context, e *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ordersCreated = append(p.ordersCreated, e)
	return nil
}

func (p *fakePublisher) PublishOrderStatusChanged(ctx context.Context, e *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusChanges = append(p.statusChanges, e)
	return nil
}

func (p *fakePublisher) PublishOrderCancelled(ctx context.Context, e *models.OrderCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ordersCancelled = append(p.ordersCancelled, e)
	return nil
}

func (p *fakePublisher) PublishStockBelowMinimum(ctx context.Context, e *models.StockBelowMinimumEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lowStock = append(p.lowStock, e)
	return nil
}

type fakeMirror struct {
	mu           sync.Mutex
	stock        map[int64]float64
	availability map[int64]bool
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{
		stock:        make(map[int64]float64),
		availability: make(map[int64]bool),
	}
}

// ReserveStock mimics the Lua fast path: a missing key is an error (cold
// mirror), a short quantity answers false without decrementing.
func (m *fakeMirror) ReserveStock(ctx context.Context, ingredientID int64, quantity float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.stock[ingredientID]
	if !ok {
		return false, fmt.Errorf("stock mirror missing for ingredient %d", ingredientID)
	}
	if current < quantity {
		return false, nil
	}
	m.stock[ingredientID] = current - quantity
	return true, nil
}

func (m *fakeMirror) ReleaseStock(ctx context.Context, ingredientID int64, quantity float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[ingredientID] += quantity
	return nil
}

func (m *fakeMirror) SetStock(ctx context.Context, ingredientID int64, quantity float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[ingredientID] = quantity
	return nil
}

// GetItemAvailability reads missing keys as available, like the client.
func (m *fakeMirror) GetItemAvailability(ctx context.Context, menuItemID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	available, ok := m.availability[menuItemID]
	if !ok {
		return true, nil
	}
	return available, nil
}

func (m *fakeMirror) SetItemAvailability(ctx context.Context, menuItemID int64, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.availability[menuItemID] = available
	return nil
}
