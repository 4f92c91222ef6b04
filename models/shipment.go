package models

import "github.com/shopspring/decimal"

// Shipment belongs to exactly one order
type Shipment struct {
	ID          ID             `json:"id"`
	OrderID     ID             `json:"order_id"`
	Carrier     string         `json:"carrier,omitempty"`
	Status      ShipmentStatus `json:"status"`
	TrackingNo  string         `json:"tracking_no,omitempty"`
	ShippedAt   string         `json:"shipped_at,omitempty"`
	DeliveredAt *string        `json:"delivered_at"`
}

// ShipmentStatus represents the lifecycle of a shipment
type ShipmentStatus string

const (
	ShipmentStatusPending   ShipmentStatus = "PENDING"
	ShipmentStatusInTransit ShipmentStatus = "IN_TRANSIT"
	ShipmentStatusDelivered ShipmentStatus = "DELIVERED"
	ShipmentStatusCancelled ShipmentStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed
func (s ShipmentStatus) Terminal() bool {
	return s == ShipmentStatusDelivered || s == ShipmentStatusCancelled
}

// ShipmentCreate is the body of POST /shipments/
type ShipmentCreate struct {
	OrderID         ID              `json:"order_id"`
	CustomerID      ID              `json:"customer_id,omitempty"`
	Items           []OrderItem     `json:"items,omitempty"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	Status          ShipmentStatus  `json:"status"`
	Carrier         string          `json:"carrier,omitempty"`
	TrackingNo      string          `json:"tracking_no,omitempty"`
	ShippedAt       string          `json:"shipped_at,omitempty"`
	DeliveredAt     *string         `json:"delivered_at"`
}

// ShipmentUpdate is the partial body of PUT /shipments/{id}
type ShipmentUpdate struct {
	Status      ShipmentStatus `json:"status,omitempty"`
	Carrier     string         `json:"carrier,omitempty"`
	TrackingNo  string         `json:"tracking_no,omitempty"`
	ShippedAt   string         `json:"shipped_at,omitempty"`
	DeliveredAt string         `json:"delivered_at,omitempty"`
}

// ShippingAddress is copied from the customer at shipment creation
type ShippingAddress struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
	Country string `json:"country"`
}

// Payment records one approval or decline decision. Payments are never
// mutated after creation.
type Payment struct {
	ID        ID              `json:"id,omitempty"`
	OrderID   ID              `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Status    PaymentStatus   `json:"status"`
	Reference string          `json:"reference"`
}
