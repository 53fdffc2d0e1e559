package store

import (
	"context"
	"database/sql"
	"strconv"

	"restaurant-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetMenuItem retrieves a menu item by ID
func (s *Store) GetMenuItem(ctx context.Context, id int64) (*models.MenuItem, error) {
	var item models.MenuItem
	err := s.db.GetContext(ctx, &item, "SELECT * FROM menu_items WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Resource: "menu item", Ref: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetMenuItemsByIDs retrieves multiple menu items by ID
func (s *Store) GetMenuItemsByIDs(ctx context.Context, ids []int64) ([]models.MenuItem, error) {
	if len(ids) == 0 {
		return []models.MenuItem{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM menu_items WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var items []models.MenuItem
	err = s.db.SelectContext(ctx, &items, query, args...)
	return items, err
}

// GetRecipeLines retrieves the recipe lines for a set of menu items
func (s *Store) GetRecipeLines(ctx context.Context, menuItemIDs []int64) ([]models.RecipeLine, error) {
	if len(menuItemIDs) == 0 {
		return []models.RecipeLine{}, nil
	}

	query, args, err := sqlx.In(
		"SELECT * FROM recipe_lines WHERE menu_item_id IN (?) ORDER BY menu_item_id, ingredient_id",
		menuItemIDs)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var lines []models.RecipeLine
	err = s.db.SelectContext(ctx, &lines, query, args...)
	return lines, err
}

// GetMenuItemIDsUsingIngredients returns the menu items whose recipes
// touch any of the given ingredients. Used to refresh the availability
// projection after stock moves.
func (s *Store) GetMenuItemIDsUsingIngredients(ctx context.Context, ingredientIDs []int64) ([]int64, error) {
	if len(ingredientIDs) == 0 {
		return []int64{}, nil
	}

	query, args, err := sqlx.In(
		"SELECT DISTINCT menu_item_id FROM recipe_lines WHERE ingredient_id IN (?)",
		ingredientIDs)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var ids []int64
	err = s.db.SelectContext(ctx, &ids, query, args...)
	return ids, err
}

// SetMenuItemAvailability writes the derived availability flag
func (s *Store) SetMenuItemAvailability(ctx context.Context, id int64, available bool) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE menu_items SET available = $1 WHERE id = $2", available, id)
	return err
}
