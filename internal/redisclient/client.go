package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/reserve_stock.lua
var reserveStockScript string

//go:embed scripts/release_stock.lua
var releaseStockScript string

// Client mirrors ingredient stock and menu availability into Redis as a
// fast advisory read path. The database is authoritative; callers treat
// every operation here as best-effort.
type Client struct {
	rdb           *redis.Client
	reserveScript *redis.Script
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		reserveScript: redis.NewScript(reserveStockScript),
		releaseScript: redis.NewScript(releaseStockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(ingredientID int64) string {
	return fmt.Sprintf("stock:%d", ingredientID)
}

func availabilityKey(menuItemID int64) string {
	return fmt.Sprintf("menu:available:%d", menuItemID)
}

// ReserveStock atomically decrements the mirrored quantity via Lua.
// Returns false if the mirror shows insufficient stock. Quantities are
// fractional, so they travel as formatted strings.
func (c *Client) ReserveStock(ctx context.Context, ingredientID int64, quantity float64) (bool, error) {
	result, err := c.reserveScript.Run(ctx, c.rdb,
		[]string{stockKey(ingredientID)},
		strconv.FormatFloat(quantity, 'f', -1, 64)).Result()
	if err != nil {
		return false, fmt.Errorf("reserve stock script failed: %w", err)
	}

	success, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	if success == -1 {
		return false, fmt.Errorf("stock mirror missing for ingredient %d", ingredientID)
	}

	return success == 1, nil
}

// ReleaseStock atomically adds the quantity back to the mirror
func (c *Client) ReleaseStock(ctx context.Context, ingredientID int64, quantity float64) error {
	_, err := c.releaseScript.Run(ctx, c.rdb,
		[]string{stockKey(ingredientID)},
		strconv.FormatFloat(quantity, 'f', -1, 64)).Result()
	if err != nil {
		return fmt.Errorf("release stock script failed: %w", err)
	}

	return nil
}

// SetStock overwrites the mirrored quantity with the authoritative value
func (c *Client) SetStock(ctx context.Context, ingredientID int64, quantity float64) error {
	return c.rdb.Set(ctx, stockKey(ingredientID),
		strconv.FormatFloat(quantity, 'f', -1, 64), 0).Err()
}

// SetItemAvailability writes the menu availability projection flag
func (c *Client) SetItemAvailability(ctx context.Context, menuItemID int64, available bool) error {
	val := "0"
	if available {
		val = "1"
	}
	return c.rdb.Set(ctx, availabilityKey(menuItemID), val, 0).Err()
}

// GetItemAvailability reads the projection flag. Missing keys read as
// available so a cold mirror never hides the whole menu.
func (c *Client) GetItemAvailability(ctx context.Context, menuItemID int64) (bool, error) {
	val, err := c.rdb.Get(ctx, availabilityKey(menuItemID)).Result()
	if err == redis.Nil {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return val == "1", nil
}
