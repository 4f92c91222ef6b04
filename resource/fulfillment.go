package resource

import (
	"context"
	"errors"
	"net/url"

	"temporal-fulfillment/models"
)

// GetOrder fetches one order
func (g *Gateway) GetOrder(ctx context.Context, id models.ID) (models.Order, error) {
	var order models.Order
	err := g.Get(ctx, Orders, id.String(), &order)
	return order, err
}

// ListOrders fetches orders matching query
func (g *Gateway) ListOrders(ctx context.Context, query url.Values) ([]models.Order, error) {
	var orders []models.Order
	err := g.List(ctx, Orders, query, &orders)
	return orders, err
}

// UpdateOrder applies a partial update to an order
func (g *Gateway) UpdateOrder(ctx context.Context, id models.ID, update models.OrderUpdate) (models.Order, error) {
	var order models.Order
	err := g.Update(ctx, Orders, id.String(), update, &order)
	return order, err
}

// GetCustomer fetches a customer. A missing customer returns (nil, nil).
func (g *Gateway) GetCustomer(ctx context.Context, id models.ID) (*models.Customer, error) {
	if id.IsZero() {
		return nil, nil
	}
	var customer models.Customer
	if err := g.Get(ctx, Customers, id.String(), &customer); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

// GetProduct fetches a product. A missing product returns (nil, nil).
func (g *Gateway) GetProduct(ctx context.Context, id models.ID) (*models.Product, error) {
	var product models.Product
	if err := g.Get(ctx, Products, id.String(), &product); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &product, nil
}

// RecordPayment creates a payment record
func (g *Gateway) RecordPayment(ctx context.Context, payment models.Payment) (models.Payment, error) {
	var created models.Payment
	err := g.Create(ctx, Payments, payment, &created)
	return created, err
}

// ListShipments fetches shipments matching query
func (g *Gateway) ListShipments(ctx context.Context, query url.Values) ([]models.Shipment, error) {
	var shipments []models.Shipment
	err := g.List(ctx, Shipments, query, &shipments)
	return shipments, err
}

// FindShipment returns the shipment of an order, or nil when it has none.
// The order_id filter is sent to the shipments service and applied again
// here, so a service that ignores the parameter still yields a correct answer.
func (g *Gateway) FindShipment(ctx context.Context, orderID models.ID) (*models.Shipment, error) {
	shipments, err := g.ListShipments(ctx, url.Values{"order_id": {orderID.String()}})
	if err != nil {
		return nil, err
	}
	for i := range shipments {
		if shipments[i].OrderID == orderID {
			return &shipments[i], nil
		}
	}
	return nil, nil
}

// CreateShipment creates a shipment
func (g *Gateway) CreateShipment(ctx context.Context, shipment models.ShipmentCreate) (models.Shipment, error) {
	var created models.Shipment
	err := g.Create(ctx, Shipments, shipment, &created)
	return created, err
}

// UpdateShipment applies a partial update to a shipment
func (g *Gateway) UpdateShipment(ctx context.Context, id models.ID, update models.ShipmentUpdate) (models.Shipment, error) {
	var shipment models.Shipment
	err := g.Update(ctx, Shipments, id.String(), update, &shipment)
	return shipment, err
}
