package service

import (
	"context"
	"fmt"
	"time"

	"restaurant-service/internal/models"
	"restaurant-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StockLedger is the only mutation entry point for ingredient quantities.
// The database is authoritative; the Redis mirror and the menu
// availability projection are refreshed after every change and degrade to
// warnings on failure.
type StockLedger struct {
	stock     StockStore
	menu      MenuStore
	mirror    StockMirror
	publisher EventPublisher
	logger    *zap.Logger
}

// NewStockLedger creates a new stock ledger
func NewStockLedger(
	stock StockStore,
	menu MenuStore,
	mirror StockMirror,
	publisher EventPublisher,
) *StockLedger {
	return &StockLedger{
		stock:     stock,
		menu:      menu,
		mirror:    mirror,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// Reserve atomically decrements every ingredient in needs, or none of
// them. The mirror runs first as a scripted fast-path decrement; a clean
// mirror rejection short-circuits before any database row lock is taken.
// The database reserve remains the authority: a mirror that disagrees
// with it is resynced and overruled, and a database failure after a
// mirror decrement is compensated with a mirror add-back. On shortfall
// the error names the ingredient and both amounts.
func (l *StockLedger) Reserve(ctx context.Context, needs []models.StockNeed) error {
	ctx, span := util.StartSpan(ctx, "StockLedger.Reserve")
	defer span.End()

	start := time.Now()
	defer func() {
		util.StockReserveLatency.Observe(time.Since(start).Seconds())
	}()

	applied, short := l.mirrorReserve(ctx, needs)
	if short != nil {
		reject, err := l.confirmShortfall(ctx, short)
		if err != nil {
			return err
		}
		if reject != nil {
			util.StockReservationsFailed.WithLabelValues("insufficient_stock").Inc()
			return reject
		}
		// The mirror was stale-low; the database overrules it below and
		// SyncAfterChange rewrites the mirrored quantity.
		l.logger.Warn("Stock mirror diverged from database, overruling",
			zap.Int64("ingredient_id", short.IngredientID))
	}

	if err := l.stock.ReserveStock(ctx, needs); err != nil {
		l.mirrorRelease(ctx, applied)
		switch err.(type) {
		case *models.InsufficientStockError:
			util.StockReservationsFailed.WithLabelValues("insufficient_stock").Inc()
		case *models.NotFoundError:
			util.StockReservationsFailed.WithLabelValues("not_found").Inc()
		default:
			util.StockReservationsFailed.WithLabelValues("error").Inc()
		}
		return err
	}

	l.SyncAfterChange(ctx, ingredientIDs(needs))
	return nil
}

// mirrorReserve runs the fast-path decrement for every need, returning
// the needs actually applied so a later failure can be compensated. A
// mirror error (cold key, connection loss) skips that need and leaves
// the decision to the database; a clean "insufficient" answer stops the
// loop, rolls back the applied decrements and reports the short need.
func (l *StockLedger) mirrorReserve(ctx context.Context, needs []models.StockNeed) (applied []models.StockNeed, short *models.StockNeed) {
	if l.mirror == nil {
		return nil, nil
	}

	for _, need := range needs {
		ok, err := l.mirror.ReserveStock(ctx, need.IngredientID, need.Quantity)
		if err != nil {
			l.logger.Warn("Stock mirror reserve failed, deferring to database",
				zap.Int64("ingredient_id", need.IngredientID),
				zap.Error(err))
			continue
		}
		if !ok {
			l.mirrorRelease(ctx, applied)
			n := need
			return nil, &n
		}
		applied = append(applied, need)
	}
	return applied, nil
}

// mirrorRelease adds fast-path decrements back. Best effort; the next
// SyncAfterChange overwrites the mirror with authoritative values anyway.
func (l *StockLedger) mirrorRelease(ctx context.Context, needs []models.StockNeed) {
	if l.mirror == nil {
		return
	}
	for _, need := range needs {
		if err := l.mirror.ReleaseStock(ctx, need.IngredientID, need.Quantity); err != nil {
			l.logger.Warn("Failed to compensate stock mirror",
				zap.Int64("ingredient_id", need.IngredientID),
				zap.Error(err))
		}
	}
}

// confirmShortfall checks a mirror rejection against the authoritative
// quantity. It returns the error to surface when the database agrees the
// stock is short, and nil when the mirror was stale and the reserve
// should proceed.
func (l *StockLedger) confirmShortfall(ctx context.Context, short *models.StockNeed) (*models.InsufficientStockError, error) {
	ing, err := l.stock.GetIngredient(ctx, short.IngredientID)
	if err != nil {
		return nil, err
	}
	if ing.Quantity < short.Quantity {
		return &models.InsufficientStockError{
			IngredientID:   ing.ID,
			IngredientName: ing.Name,
			Unit:           ing.Unit,
			Available:      ing.Quantity,
			Required:       short.Quantity,
		}, nil
	}
	return nil, nil
}

// Release adds the quantities back. It always succeeds at the ledger
// level; there is no ceiling to validate against.
func (l *StockLedger) Release(ctx context.Context, needs []models.StockNeed) error {
	ctx, span := util.StartSpan(ctx, "StockLedger.Release")
	defer span.End()

	if err := l.stock.ReleaseStock(ctx, needs); err != nil {
		return err
	}

	l.SyncAfterChange(ctx, ingredientIDs(needs))
	return nil
}

// Restock is the administrative add-to-stock path.
func (l *StockLedger) Restock(ctx context.Context, ingredientID int64, quantity float64) (*models.Ingredient, error) {
	ctx, span := util.StartSpan(ctx, "StockLedger.Restock")
	defer span.End()

	if quantity <= 0 {
		return nil, &models.ValidationError{Field: "quantity", Message: "must be positive"}
	}
	if _, err := l.stock.GetIngredient(ctx, ingredientID); err != nil {
		return nil, err
	}

	if err := l.stock.ReleaseStock(ctx, []models.StockNeed{{IngredientID: ingredientID, Quantity: quantity}}); err != nil {
		return nil, err
	}

	l.SyncAfterChange(ctx, []int64{ingredientID})
	return l.stock.GetIngredient(ctx, ingredientID)
}

// GetIngredient retrieves one ingredient
func (l *StockLedger) GetIngredient(ctx context.Context, id int64) (*models.Ingredient, error) {
	return l.stock.GetIngredient(ctx, id)
}

// ListIngredients retrieves all ingredients
func (l *StockLedger) ListIngredients(ctx context.Context) ([]models.Ingredient, error) {
	return l.stock.ListIngredients(ctx)
}

// SyncAfterChange re-reads the authoritative quantities for the touched
// ingredients, pushes them to the mirror, raises below-minimum events and
// refreshes the availability projection of every menu item whose recipe
// uses them. Failures here are logged, never surfaced: the ledger change
// has already committed.
func (l *StockLedger) SyncAfterChange(ctx context.Context, touched []int64) {
	if len(touched) == 0 {
		return
	}

	ingredients, err := l.stock.GetIngredientsByIDs(ctx, touched)
	if err != nil {
		l.logger.Error("Failed to re-read ingredients after stock change", zap.Error(err))
		return
	}

	for i := range ingredients {
		ing := &ingredients[i]

		if l.mirror != nil {
			if err := l.mirror.SetStock(ctx, ing.ID, ing.Quantity); err != nil {
				l.logger.Warn("Failed to sync stock mirror",
					zap.Int64("ingredient_id", ing.ID),
					zap.Error(err))
			}
		}

		if ing.BelowMinimum() {
			util.StockBelowMinimumTotal.Inc()
			event := &models.StockBelowMinimumEvent{
				BaseEvent: models.BaseEvent{
					EventID:   uuid.New().String(),
					EventType: models.EventTypeStockBelowMinimum,
					Timestamp: time.Now().UTC(),
				},
				IngredientID:   ing.ID,
				IngredientName: ing.Name,
				Quantity:       ing.Quantity,
				MinThreshold:   ing.MinThreshold,
				Unit:           ing.Unit,
			}
			if err := l.publisher.PublishStockBelowMinimum(ctx, event); err != nil {
				l.logger.Error("Failed to publish StockBelowMinimum event", zap.Error(err))
			}
		}
	}

	itemIDs, err := l.menu.GetMenuItemIDsUsingIngredients(ctx, touched)
	if err != nil {
		l.logger.Error("Failed to find menu items for availability refresh", zap.Error(err))
		return
	}
	if err := l.RefreshAvailability(ctx, itemIDs); err != nil {
		l.logger.Error("Failed to refresh menu availability", zap.Error(err))
	}
}

// RefreshAvailability recomputes whether each menu item's full recipe is
// satisfiable from current stock and writes the flag to the database and
// the mirror. This is a convenience projection, not authoritative
// inventory.
func (l *StockLedger) RefreshAvailability(ctx context.Context, menuItemIDs []int64) error {
	if len(menuItemIDs) == 0 {
		return nil
	}

	lines, err := l.menu.GetRecipeLines(ctx, menuItemIDs)
	if err != nil {
		return fmt.Errorf("failed to load recipe lines: %w", err)
	}

	ingIDs := make([]int64, 0, len(lines))
	seen := make(map[int64]bool)
	for _, line := range lines {
		if !seen[line.IngredientID] {
			seen[line.IngredientID] = true
			ingIDs = append(ingIDs, line.IngredientID)
		}
	}

	ingredients, err := l.stock.GetIngredientsByIDs(ctx, ingIDs)
	if err != nil {
		return fmt.Errorf("failed to load ingredients: %w", err)
	}
	quantities := make(map[int64]float64, len(ingredients))
	for _, ing := range ingredients {
		quantities[ing.ID] = ing.Quantity
	}

	for _, itemID := range menuItemIDs {
		available := true
		for _, line := range lines {
			if line.MenuItemID != itemID {
				continue
			}
			if quantities[line.IngredientID] < line.Quantity {
				available = false
				break
			}
		}

		if err := l.menu.SetMenuItemAvailability(ctx, itemID, available); err != nil {
			l.logger.Error("Failed to write menu availability",
				zap.Int64("menu_item_id", itemID),
				zap.Error(err))
		}
		if l.mirror != nil {
			if err := l.mirror.SetItemAvailability(ctx, itemID, available); err != nil {
				l.logger.Warn("Failed to mirror menu availability",
					zap.Int64("menu_item_id", itemID),
					zap.Error(err))
			}
		}
	}

	return nil
}

// ItemAvailable answers the menu availability question from the mirror
// when it can, falling back to the database projection flag.
func (l *StockLedger) ItemAvailable(ctx context.Context, menuItemID int64) (bool, error) {
	if l.mirror != nil {
		available, err := l.mirror.GetItemAvailability(ctx, menuItemID)
		if err == nil {
			return available, nil
		}
		l.logger.Warn("Failed to read menu availability from mirror",
			zap.Int64("menu_item_id", menuItemID),
			zap.Error(err))
	}

	items, err := l.menu.GetMenuItemsByIDs(ctx, []int64{menuItemID})
	if err != nil {
		return false, err
	}
	if len(items) == 0 {
		return false, &models.NotFoundError{Resource: "menu item", Ref: fmt.Sprintf("%d", menuItemID)}
	}
	return items[0].Available, nil
}

// SyncMirror seeds the Redis mirror from the database. Called once on
// startup.
func (l *StockLedger) SyncMirror(ctx context.Context) error {
	if l.mirror == nil {
		return nil
	}

	l.logger.Info("Starting stock mirror sync")

	ingredients, err := l.stock.ListIngredients(ctx)
	if err != nil {
		return fmt.Errorf("failed to list ingredients: %w", err)
	}

	for _, ing := range ingredients {
		if err := l.mirror.SetStock(ctx, ing.ID, ing.Quantity); err != nil {
			l.logger.Error("Failed to seed stock mirror",
				zap.Int64("ingredient_id", ing.ID),
				zap.Error(err))
		}
	}

	l.logger.Info("Stock mirror sync completed", zap.Int("count", len(ingredients)))
	return nil
}

func ingredientIDs(needs []models.StockNeed) []int64 {
	ids := make([]int64, len(needs))
	for i, n := range needs {
		ids[i] = n.IngredientID
	}
	return ids
}
