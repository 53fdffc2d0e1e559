package broker

import (
	"context"
	"fmt"

	"restaurant-service/internal/models"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishReservationCreated publishes ReservationCreated event
func (ep *EventPublisher) PublishReservationCreated(ctx context.Context, event *models.ReservationCreatedEvent) error {
	key := fmt.Sprintf("table-%d", event.TableNumber)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishReservationCancelled publishes ReservationCancelled event
func (ep *EventPublisher) PublishReservationCancelled(ctx context.Context, event *models.ReservationCancelledEvent) error {
	key := fmt.Sprintf("table-%d", event.TableNumber)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishOrderStatusChanged publishes OrderStatusChanged event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishOrderCancelled publishes OrderCancelled event
func (ep *EventPublisher) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishStockBelowMinimum publishes StockBelowMinimum event
func (ep *EventPublisher) PublishStockBelowMinimum(ctx context.Context, event *models.StockBelowMinimumEvent) error {
	key := fmt.Sprintf("ingredient-%d", event.IngredientID)
	return ep.producer.PublishEvent(ctx, key, event)
}
