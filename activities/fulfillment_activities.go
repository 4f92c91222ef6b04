package activities

import (
	"context"
	"errors"
	"fmt"

	"temporal-fulfillment/audit"
	"temporal-fulfillment/models"
	"temporal-fulfillment/resource"
	"temporal-fulfillment/saga"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

// Activities contains every downstream call the fulfillment saga makes
type Activities struct {
	gateway *resource.Gateway
	sink    *audit.Sink
}

// NewActivities creates a new Activities instance
func NewActivities(gateway *resource.Gateway, sink *audit.Sink) *Activities {
	return &Activities{gateway: gateway, sink: sink}
}

// FetchOrder reads the current order through the cache
func (a *Activities) FetchOrder(ctx context.Context, orderID models.ID) (models.Order, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Fetching order", "order_id", orderID)

	order, err := a.gateway.GetOrder(ctx, orderID)
	if err != nil {
		logger.Warn("Failed to fetch order", "order_id", orderID, "error", err)
		return models.Order{}, classify(fmt.Sprintf("fetch order #%s", orderID), err)
	}
	return order, nil
}

// FindShipment returns the order's shipment, or nil when there is none
func (a *Activities) FindShipment(ctx context.Context, orderID models.ID) (*models.Shipment, error) {
	logger := activity.GetLogger(ctx)

	shipment, err := a.gateway.FindShipment(ctx, orderID)
	if err != nil {
		logger.Warn("Failed to look up shipment", "order_id", orderID, "error", err)
		return nil, classify(fmt.Sprintf("look up shipment of order #%s", orderID), err)
	}
	logger.Info("Shipment lookup", "order_id", orderID, "found", shipment != nil)
	return shipment, nil
}

// FetchCustomer returns the customer, or nil when it does not exist
func (a *Activities) FetchCustomer(ctx context.Context, customerID models.ID) (*models.Customer, error) {
	customer, err := a.gateway.GetCustomer(ctx, customerID)
	if err != nil {
		activity.GetLogger(ctx).Warn("Failed to fetch customer", "customer_id", customerID, "error", err)
		return nil, classify(fmt.Sprintf("fetch customer #%s", customerID), err)
	}
	return customer, nil
}

// UpdateOrder writes a partial order update
func (a *Activities) UpdateOrder(ctx context.Context, orderID models.ID, update models.OrderUpdate) (models.Order, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Updating order", "order_id", orderID,
		"order_status", update.OrderStatus, "payment_status", update.PaymentStatus)

	order, err := a.gateway.UpdateOrder(ctx, orderID, update)
	if err != nil {
		logger.Error("Failed to update order", "order_id", orderID, "error", err)
		return models.Order{}, classify(fmt.Sprintf("update order #%s", orderID), err)
	}
	return order, nil
}

// RecordPayment creates the payment record of a decision
func (a *Activities) RecordPayment(ctx context.Context, payment models.Payment) (models.Payment, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Recording payment", "order_id", payment.OrderID, "status", payment.Status, "amount", payment.Amount.String())

	created, err := a.gateway.RecordPayment(ctx, payment)
	if err != nil {
		logger.Error("Failed to record payment", "order_id", payment.OrderID, "error", err)
		return models.Payment{}, classify(fmt.Sprintf("record payment of order #%s", payment.OrderID), err)
	}
	return created, nil
}

// CreateShipment creates a shipment
func (a *Activities) CreateShipment(ctx context.Context, shipment models.ShipmentCreate) (models.Shipment, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Creating shipment", "order_id", shipment.OrderID, "status", shipment.Status)

	created, err := a.gateway.CreateShipment(ctx, shipment)
	if err != nil {
		logger.Error("Failed to create shipment", "order_id", shipment.OrderID, "error", err)
		return models.Shipment{}, classify(fmt.Sprintf("create shipment for order #%s", shipment.OrderID), err)
	}
	logger.Info("Shipment created", "order_id", shipment.OrderID, "shipment_id", created.ID)
	return created, nil
}

// UpdateShipment writes a partial shipment update
func (a *Activities) UpdateShipment(ctx context.Context, shipmentID models.ID, update models.ShipmentUpdate) (models.Shipment, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Updating shipment", "shipment_id", shipmentID, "status", update.Status)

	shipment, err := a.gateway.UpdateShipment(ctx, shipmentID, update)
	if err != nil {
		logger.Error("Failed to update shipment", "shipment_id", shipmentID, "error", err)
		return models.Shipment{}, classify(fmt.Sprintf("update shipment #%s", shipmentID), err)
	}
	return shipment, nil
}

// RecordAudit appends an audit record. It only fails when ctx is done.
func (a *Activities) RecordAudit(ctx context.Context, rec audit.Record) (audit.Record, error) {
	if err := ctx.Err(); err != nil {
		return audit.Record{}, err
	}
	return a.sink.Append(ctx, rec), nil
}

// classify converts a gateway failure into an application error whose type
// is the saga error kind. Only unavailability is retried by Temporal.
func classify(action string, err error) error {
	msg := fmt.Sprintf("failed to %s: %v", action, err)
	switch {
	case errors.Is(err, resource.ErrNotFound):
		return temporal.NewNonRetryableApplicationError(msg, string(saga.KindNotFound), err)
	case errors.Is(err, resource.ErrUnavailable):
		return temporal.NewApplicationErrorWithCause(msg, string(saga.KindUnavailable), err)
	case errors.Is(err, resource.ErrRejected):
		return temporal.NewNonRetryableApplicationError(msg, string(saga.KindRejected), err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return temporal.NewNonRetryableApplicationError(msg, string(saga.KindInternal), err)
}
