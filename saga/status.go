package saga

import (
	"fmt"
	"time"

	"temporal-fulfillment/models"
)

const (
	// DefaultCarrier is set on shipments that have none when they ship
	DefaultCarrier = "Standard Delivery"
	// TimestampLayout is the naive UTC format the shipments service stores
	TimestampLayout = "2006-01-02T15:04:05.000000"
)

// StatusChange moves an order to a new order_status
type StatusChange struct {
	OrderID models.ID          `json:"order_id"`
	Status  models.OrderStatus `json:"order_status"`
	Actor   string             `json:"actor"`
}

// Validate checks the request shape before anything is read
func (c StatusChange) Validate() error {
	if c.OrderID.IsZero() {
		return Errorf(KindBadRequest, "order id is required")
	}
	if !c.Status.Valid() {
		return Errorf(KindBadRequest, "unknown order status %q", c.Status)
	}
	return nil
}

// ShipmentAction is the shipment side effect of a status change
type ShipmentAction int

const (
	ShipmentNone ShipmentAction = iota
	ShipmentCreate
	ShipmentUpdate
)

func (a ShipmentAction) String() string {
	switch a {
	case ShipmentCreate:
		return "create"
	case ShipmentUpdate:
		return "update"
	}
	return "none"
}

// ShipmentPlan describes the shipment write a status change requires
type ShipmentPlan struct {
	Action     ShipmentAction
	ShipmentID models.ID
	// Create is set for ShipmentCreate; its address is filled in by the caller
	Create models.ShipmentCreate
	// Update is set for ShipmentUpdate and only carries fields to change
	Update models.ShipmentUpdate
	// Detail is the audit description of the shipment write
	Detail string
}

// TrackingNumber derives the tracking number of a shipment shipped at now
func TrackingNumber(orderID models.ID, now time.Time) string {
	return fmt.Sprintf("TRK%s%d", orderID, now.Unix())
}

// FormatTimestamp renders t the way the shipments service stores it
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// GuardsOnShipment reports whether the guards of moving an order to target
// read its current shipment. For every other target the shipment write is a
// best effort side effect.
func GuardsOnShipment(target models.OrderStatus) bool {
	return target == models.OrderStatusShipped || target == models.OrderStatusDelivered
}

// PlanStatusChange evaluates the guards of moving order to target given its
// current shipment, which may be nil. A guard failure is returned as an
// Error and means nothing may be written.
func PlanStatusChange(order models.Order, shipment *models.Shipment, target models.OrderStatus, now time.Time) (ShipmentPlan, error) {
	switch target {
	case models.OrderStatusShipped:
		return planShipped(order, shipment, now)
	case models.OrderStatusDelivered:
		return planDelivered(order, shipment, now)
	case models.OrderStatusUndelivered, models.OrderStatusCancelled:
		return planCancelled(order, shipment, target)
	case models.OrderStatusPending, models.OrderStatusProcessing:
		return ShipmentPlan{}, nil
	}
	return ShipmentPlan{}, Errorf(KindBadRequest, "unknown order status %q", target)
}

func planShipped(order models.Order, shipment *models.Shipment, now time.Time) (ShipmentPlan, error) {
	if order.PaymentStatus != models.PaymentStatusCompleted {
		return ShipmentPlan{}, Errorf(KindGuardViolation,
			"cannot ship order #%s: payment not completed (status: %s)", order.ID, order.PaymentStatus)
	}

	if shipment == nil {
		return ShipmentPlan{
			Action: ShipmentCreate,
			Create: models.ShipmentCreate{
				OrderID:    order.ID,
				CustomerID: order.CustomerID,
				Items:      order.Items,
				Status:     models.ShipmentStatusInTransit,
				Carrier:    DefaultCarrier,
				TrackingNo: TrackingNumber(order.ID, now),
				ShippedAt:  FormatTimestamp(now),
			},
			Detail: fmt.Sprintf("Shipment created for order #%s", order.ID),
		}, nil
	}

	if shipment.Status.Terminal() {
		return ShipmentPlan{}, Errorf(KindGuardViolation,
			"cannot ship order #%s: shipment #%s is already %s", order.ID, shipment.ID, shipment.Status)
	}

	// Backfill only what is blank; values set at approval are kept.
	update := models.ShipmentUpdate{Status: models.ShipmentStatusInTransit}
	if shipment.TrackingNo == "" {
		update.TrackingNo = TrackingNumber(order.ID, now)
	}
	if shipment.Carrier == "" {
		update.Carrier = DefaultCarrier
	}
	if shipment.ShippedAt == "" {
		update.ShippedAt = FormatTimestamp(now)
	}
	return ShipmentPlan{
		Action:     ShipmentUpdate,
		ShipmentID: shipment.ID,
		Update:     update,
		Detail:     fmt.Sprintf("Shipment moved to IN_TRANSIT for order #%s", order.ID),
	}, nil
}

func planDelivered(order models.Order, shipment *models.Shipment, now time.Time) (ShipmentPlan, error) {
	if shipment == nil {
		return ShipmentPlan{}, Errorf(KindGuardViolation, "cannot deliver order #%s: it has no shipment", order.ID)
	}
	if shipment.Status != models.ShipmentStatusInTransit && shipment.Status != models.ShipmentStatusPending {
		return ShipmentPlan{}, Errorf(KindGuardViolation,
			"cannot deliver order #%s: shipment #%s is %s", order.ID, shipment.ID, shipment.Status)
	}
	return ShipmentPlan{
		Action:     ShipmentUpdate,
		ShipmentID: shipment.ID,
		Update: models.ShipmentUpdate{
			Status:      models.ShipmentStatusDelivered,
			DeliveredAt: FormatTimestamp(now),
		},
		Detail: fmt.Sprintf("Shipment delivered for order #%s", order.ID),
	}, nil
}

func planCancelled(order models.Order, shipment *models.Shipment, target models.OrderStatus) (ShipmentPlan, error) {
	if shipment == nil || shipment.Status.Terminal() {
		return ShipmentPlan{}, nil
	}
	detail := fmt.Sprintf("Shipment cancelled for order #%s", order.ID)
	if target == models.OrderStatusUndelivered {
		detail = fmt.Sprintf("Shipment cancelled (undelivered) for order #%s", order.ID)
	}
	return ShipmentPlan{
		Action:     ShipmentUpdate,
		ShipmentID: shipment.ID,
		Update:     models.ShipmentUpdate{Status: models.ShipmentStatusCancelled},
		Detail:     detail,
	}, nil
}
