package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"time"

	"restaurant-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetTable retrieves a table by its number
func (s *Store) GetTable(ctx context.Context, number int) (*models.Table, error) {
	var table models.Table
	err := s.db.GetContext(ctx, &table, "SELECT * FROM tables WHERE number = $1", number)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Resource: "table", Ref: strconv.Itoa(number)}
	}
	if err != nil {
		return nil, err
	}
	return &table, nil
}

// ListTables retrieves all tables
func (s *Store) ListTables(ctx context.Context) ([]models.Table, error) {
	var tables []models.Table
	err := s.db.SelectContext(ctx, &tables, "SELECT * FROM tables ORDER BY number")
	return tables, err
}

// UpdateTableStatus sets the advisory table status
func (s *Store) UpdateTableStatus(ctx context.Context, number int, status string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE tables SET status = $1 WHERE number = $2", status, number)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &models.NotFoundError{Resource: "table", Ref: strconv.Itoa(number)}
	}
	return nil
}

// GetIngredient retrieves an ingredient by ID
func (s *Store) GetIngredient(ctx context.Context, id int64) (*models.Ingredient, error) {
	var ing models.Ingredient
	err := s.db.GetContext(ctx, &ing, "SELECT * FROM ingredients WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Resource: "ingredient", Ref: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return nil, err
	}
	return &ing, nil
}

// ListIngredients retrieves all ingredients
func (s *Store) ListIngredients(ctx context.Context) ([]models.Ingredient, error) {
	var ings []models.Ingredient
	err := s.db.SelectContext(ctx, &ings, "SELECT * FROM ingredients ORDER BY id")
	return ings, err
}

// GetIngredientsByIDs retrieves multiple ingredients by ID
func (s *Store) GetIngredientsByIDs(ctx context.Context, ids []int64) ([]models.Ingredient, error) {
	if len(ids) == 0 {
		return []models.Ingredient{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM ingredients WHERE id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var ings []models.Ingredient
	err = s.db.SelectContext(ctx, &ings, query, args...)
	return ings, err
}

// ReserveStock decrements every requested ingredient inside one
// transaction, or none of them. Rows are locked FOR UPDATE in ascending
// ingredient ID order so two orders competing for the same ingredients
// never deadlock, and concurrent reserves serialize instead of reading
// stale availability.
func (s *Store) ReserveStock(ctx context.Context, needs []models.StockNeed) error {
	if len(needs) == 0 {
		return nil
	}

	sorted := make([]models.StockNeed, len(needs))
	copy(sorted, needs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].IngredientID < sorted[j].IngredientID })

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, need := range sorted {
		var ing models.Ingredient
		err := tx.GetContext(ctx, &ing,
			"SELECT * FROM ingredients WHERE id = $1 FOR UPDATE", need.IngredientID)
		if err == sql.ErrNoRows {
			return &models.NotFoundError{Resource: "ingredient", Ref: strconv.FormatInt(need.IngredientID, 10)}
		}
		if err != nil {
			return fmt.Errorf("failed to lock ingredient %d: %w", need.IngredientID, err)
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

		_, err = tx.ExecContext(ctx,
			"UPDATE ingredients SET quantity = quantity - $1, updated_at = NOW() WHERE id = $2",
			need.Quantity, need.IngredientID)
		if err != nil {
			return fmt.Errorf("failed to reserve stock for ingredient %d: %w", need.IngredientID, err)
		}
	}

	return tx.Commit()
}

// ReleaseStock adds the quantities back. No ceiling is enforced; the model
// tracks a minimum threshold only.
func (s *Store) ReleaseStock(ctx context.Context, needs []models.StockNeed) error {
	if len(needs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := releaseStockTx(ctx, tx, needs); err != nil {
		return err
	}

	return tx.Commit()
}

// releaseStockTx applies the add-backs within the caller's transaction,
// in ascending ingredient ID order.
func releaseStockTx(ctx context.Context, tx *sqlx.Tx, needs []models.StockNeed) error {
	sorted := make([]models.StockNeed, len(needs))
	copy(sorted, needs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].IngredientID < sorted[j].IngredientID })

	for _, need := range sorted {
		_, err := tx.ExecContext(ctx,
			"UPDATE ingredients SET quantity = quantity + $1, updated_at = NOW() WHERE id = $2",
			need.Quantity, need.IngredientID)
		if err != nil {
			return fmt.Errorf("failed to release stock for ingredient %d: %w", need.IngredientID, err)
		}
	}
	return nil
}
