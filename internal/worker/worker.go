package worker

import (
	"context"
	"errors"

	"perfume-store/internal/broker"
	"perfume-store/internal/models"
	"perfume-store/internal/service"
	"perfume-store/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StatusUpdater applies an order status change
type StatusUpdater interface {
	TransitionStatus(ctx context.Context, orderID int64, to models.OrderStatus, paidAmount *decimal.Decimal) (*models.Order, error)
}

// FulfillmentWorker applies fulfillment updates from the warehouse and
// payment systems to orders
type FulfillmentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	orders       StatusUpdater
	logger       *zap.Logger
}

// NewFulfillmentWorker creates a new fulfillment worker
func NewFulfillmentWorker(consumer *broker.Consumer, orders StatusUpdater) *FulfillmentWorker {
	w := &FulfillmentWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		orders:       orders,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnFulfillmentStatus(w.HandleFulfillmentStatus)
	return w
}

// Start consumes until ctx is cancelled
func (w *FulfillmentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting fulfillment worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *FulfillmentWorker) Stop() error {
	w.logger.Info("Stopping fulfillment worker")
	return w.consumer.Close()
}

// HandleFulfillmentStatus applies one event. Updates the order state
// machine rejects are logged and dropped. Any other error is returned so
// the consumer retries the message.
func (w *FulfillmentWorker) HandleFulfillmentStatus(ctx context.Context, event *models.FulfillmentStatusEvent) error {
	_, err := w.orders.TransitionStatus(ctx, event.OrderID, event.Status, event.PaidAmount)

	var validationErr *service.ValidationError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrNotFound),
		errors.As(err, &validationErr):
		w.logger.Warn("Dropping fulfillment update",
			zap.Int64("order_id", event.OrderID),
			zap.String("status", string(event.Status)),
			zap.Error(err))
		return nil
	default:
		return err
	}
}
