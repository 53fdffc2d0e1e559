package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"restaurant-service/internal/broker"
	"restaurant-service/internal/models"
	"restaurant-service/internal/service"
	"restaurant-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// StockAlertWorker consumes StockBelowMinimum events and raises low-stock
// alerts. Delivery (email/push) is out of scope; the alert surface here
// is the log and the metrics.
type StockAlertWorker struct {
	consumer *broker.Consumer
	logger   *zap.Logger
}

// NewStockAlertWorker creates a new stock alert worker
func NewStockAlertWorker(consumer *broker.Consumer) *StockAlertWorker {
	return &StockAlertWorker{
		consumer: consumer,
		logger:   util.Named("stock-alerts"),
	}
}

// Start starts the worker
func (w *StockAlertWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting stock alert worker")

	return w.consumer.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
		var base models.BaseEvent
		if err := json.Unmarshal(msg.Value, &base); err != nil {
			return fmt.Errorf("failed to unmarshal base event: %w", err)
		}

		if base.EventType != models.EventTypeStockBelowMinimum {
			return nil
		}

		var event models.StockBelowMinimumEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("failed to unmarshal StockBelowMinimum event: %w", err)
		}

		w.logger.Warn("Ingredient below minimum threshold",
			zap.Int64("ingredient_id", event.IngredientID),
			zap.String("name", event.IngredientName),
			zap.Float64("quantity", event.Quantity),
			zap.Float64("min_threshold", event.MinThreshold),
			zap.String("unit", event.Unit))
		return nil
	})
}

// Stop stops the worker
func (w *StockAlertWorker) Stop() error {
	w.logger.Info("Stopping stock alert worker")
	return w.consumer.Close()
}

// KitchenWorker consumes order lifecycle events and maintains the
// advisory table status. Conflict detection never reads this status.
type KitchenWorker struct {
	consumer *broker.Consumer
	tables   service.TableStore
	logger   *zap.Logger
}

// NewKitchenWorker creates a new kitchen worker
func NewKitchenWorker(consumer *broker.Consumer, tables service.TableStore) *KitchenWorker {
	return &KitchenWorker{
		consumer: consumer,
		tables:   tables,
		logger:   util.Named("kitchen"),
	}
}

// Start starts the kitchen worker
func (w *KitchenWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting kitchen worker")

	return w.consumer.StartConsuming(ctx, w.handleMessage)
}

func (w *KitchenWorker) handleMessage(ctx context.Context, msg kafka.Message) error {
	var base models.BaseEvent
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch base.EventType {
	case models.EventTypeOrderCreated:
		var event models.OrderCreatedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("failed to unmarshal OrderCreated event: %w", err)
		}
		return w.setTableStatus(ctx, event.TableNumber, models.TableStatusOccupied)

	case models.EventTypeOrderStatusChanged:
		var event models.OrderStatusChangedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("failed to unmarshal OrderStatusChanged event: %w", err)
		}
		if event.ToStatus == models.OrderStatusDelivered {
			return w.setTableStatus(ctx, event.TableNumber, models.TableStatusCleaning)
		}
		return nil

	case models.EventTypeOrderCancelled:
		var event models.OrderCancelledEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("failed to unmarshal OrderCancelled event: %w", err)
		}
		return w.setTableStatus(ctx, event.TableNumber, models.TableStatusCleaning)

	case models.EventTypeReservationCreated:
		var event models.ReservationCreatedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("failed to unmarshal ReservationCreated event: %w", err)
		}
		return w.setTableStatus(ctx, event.TableNumber, models.TableStatusReserved)
	}

	return nil
}

func (w *KitchenWorker) setTableStatus(ctx context.Context, tableNumber int, status string) error {
	if err := w.tables.UpdateTableStatus(ctx, tableNumber, status); err != nil {
		w.logger.Error("Failed to update advisory table status",
			zap.Int("table", tableNumber),
			zap.String("status", status),
			zap.Error(err))
	}
	return nil
}

// Stop stops the kitchen worker
func (w *KitchenWorker) Stop() error {
	w.logger.Info("Stopping kitchen worker")
	return w.consumer.Close()
}
