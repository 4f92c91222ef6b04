package saga

import (
	"fmt"
	"strings"

	"temporal-fulfillment/models"
)

// Action is the admin's payment decision
type Action string

const (
	ActionApprove Action = "approve"
	ActionDecline Action = "decline"
)

// PaymentMethod tags payments recorded by an admin decision
const PaymentMethod = "admin_review"

// PaymentDecision approves or declines the pending payment of an order
type PaymentDecision struct {
	OrderID   models.ID `json:"order_id"`
	Action    Action    `json:"action"`
	PaymentID string    `json:"payment_id,omitempty"`
	ReceiptID string    `json:"receipt_id,omitempty"`
	Actor     string    `json:"actor"`
}

// Validate checks the request shape before anything is read
func (d PaymentDecision) Validate() error {
	if d.OrderID.IsZero() {
		return Errorf(KindBadRequest, "order id is required")
	}
	if d.Action != ActionApprove && d.Action != ActionDecline {
		return Errorf(KindBadRequest, "action must be %q or %q, got %q", ActionApprove, ActionDecline, d.Action)
	}
	return nil
}

// GuardPaymentDecision rejects a decision on an order whose payment is
// already COMPLETED or FAILED. Finalized payment fields never change again.
func GuardPaymentDecision(order models.Order) error {
	if order.PaymentStatus.Finalized() {
		return Errorf(KindAlreadyFinalized, "payment for order #%s is already %s", order.ID, order.PaymentStatus)
	}
	return nil
}

// OrderUpdate is the "prepare" write of the decision
func (d PaymentDecision) OrderUpdate() models.OrderUpdate {
	if d.Action == ActionDecline {
		return models.OrderUpdate{
			OrderStatus:   models.OrderStatusCancelled,
			PaymentStatus: models.PaymentStatusFailed,
		}
	}
	return models.OrderUpdate{
		OrderStatus:   models.OrderStatusProcessing,
		PaymentStatus: models.PaymentStatusCompleted,
		PaymentID:     d.PaymentID,
		ReceiptID:     d.ReceiptID,
	}
}

// Payment is the immutable payment record of the decision
func (d PaymentDecision) Payment(order models.Order) models.Payment {
	reference := d.PaymentID
	if reference == "" {
		reference = d.ReceiptID
	}
	if reference == "" {
		reference = fmt.Sprintf("ADMIN-%s-%s", strings.ToUpper(string(d.Action)), order.ID)
	}
	return models.Payment{
		OrderID:   order.ID,
		Amount:    order.Total,
		Method:    PaymentMethod,
		Status:    d.OrderUpdate().PaymentStatus,
		Reference: reference,
	}
}

// Message describes the decision for the caller and the audit feed
func (d PaymentDecision) Message(shipmentID models.ID) string {
	if d.Action == ActionDecline {
		return fmt.Sprintf("Payment declined for order #%s", d.OrderID)
	}
	msg := fmt.Sprintf("Payment approved for order #%s", d.OrderID)
	if !shipmentID.IsZero() {
		msg += fmt.Sprintf(" | Shipment #%s created", shipmentID)
	}
	return msg
}

// AddressNotProvided is shipped to when the customer has no address on file
var AddressNotProvided = models.ShippingAddress{
	Street:  "Address Not Provided",
	City:    "N/A",
	State:   "N/A",
	ZipCode: "00000",
	Country: "USA",
}

// ShippingAddress copies the customer's address, or returns
// AddressNotProvided when the customer or its street is missing.
func ShippingAddress(customer *models.Customer) models.ShippingAddress {
	if customer == nil || customer.AddressStreet == "" {
		return AddressNotProvided
	}
	country := customer.AddressCountry
	if country == "" {
		country = "USA"
	}
	return models.ShippingAddress{
		Street:  customer.AddressStreet,
		City:    customer.AddressCity,
		State:   customer.AddressState,
		ZipCode: customer.AddressZip,
		Country: country,
	}
}

// PendingShipment is the shipment created when a payment is approved
func PendingShipment(order models.Order, address models.ShippingAddress) models.ShipmentCreate {
	return models.ShipmentCreate{
		OrderID:         order.ID,
		CustomerID:      order.CustomerID,
		Items:           order.Items,
		ShippingAddress: address,
		Status:          models.ShipmentStatusPending,
	}
}
