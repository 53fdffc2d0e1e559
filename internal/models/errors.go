package models

import (
	"fmt"
	"time"
)

// ValidationError reports malformed input: a missing required field or an
// out-of-range value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError reports an unknown table/order/reservation/ingredient
// reference.
type NotFoundError struct {
	Resource string
	Ref      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Ref)
}

// ConflictError reports a reservation overlap or an invalid state
// transition. For overlaps, the conflicting window is populated so callers
// can render the specific interval that blocked the request.
type ConflictError struct {
	Message       string
	ConflictStart time.Time
	ConflictEnd   time.Time
}

func (e *ConflictError) Error() string {
	return e.Message
}

// InsufficientStockError reports a stock shortfall, naming the ingredient
// and both amounts so the caller can render a specific message.
type InsufficientStockError struct {
	IngredientID   int64
	IngredientName string
	Unit           string
	Available      float64
	Required       float64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available=%.3f %s, required=%.3f %s",
		e.IngredientName, e.Available, e.Unit, e.Required, e.Unit)
}
