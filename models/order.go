package models

import (
	"github.com/shopspring/decimal"
)

// Order represents an order as owned by the orders service
type Order struct {
	ID            ID              `json:"id"`
	OrderNumber   string          `json:"order_number,omitempty"`
	CustomerID    ID              `json:"customer_id"`
	OrderStatus   OrderStatus     `json:"order_status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	Total         decimal.Decimal `json:"order_total"`
	PaymentID     string          `json:"payment_id,omitempty"`
	ReceiptID     string          `json:"receipt_id,omitempty"`
	CreatedAt     string          `json:"created_at,omitempty"`
	Items         []OrderItem     `json:"items"`

	// Customer snapshot captured at order creation time
	CustomerNameSnapshot  string `json:"customer_name_snapshot,omitempty"`
	CustomerEmailSnapshot string `json:"customer_email_snapshot,omitempty"`
	CustomerPhoneSnapshot string `json:"customer_phone_snapshot,omitempty"`
}

// OrderItem represents a single line item in an order. The snapshot fields
// are written once by the orders service and never change afterwards.
type OrderItem struct {
	ID                      ID              `json:"id,omitempty"`
	ProductID               ID              `json:"product_id"`
	SKU                     string          `json:"sku,omitempty"`
	Quantity                int             `json:"quantity"`
	UnitPrice               decimal.Decimal `json:"unit_price"`
	ProductNameSnapshot     string          `json:"product_name_snapshot,omitempty"`
	ProductCategorySnapshot string          `json:"product_category_snapshot,omitempty"`
}

// LineTotal returns quantity * unit price
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ItemsTotal sums the line totals of all items
func (o Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// OrderUpdate is the partial update accepted by PUT /orders/{id}.
// Empty fields are omitted so the orders service leaves them untouched.
type OrderUpdate struct {
	OrderStatus   OrderStatus   `json:"order_status,omitempty"`
	PaymentStatus PaymentStatus `json:"payment_status,omitempty"`
	PaymentID     string        `json:"payment_id,omitempty"`
	ReceiptID     string        `json:"receipt_id,omitempty"`
}

// OrderStatus represents the current status of an order
type OrderStatus string

const (
	OrderStatusPending     OrderStatus = "PENDING"
	OrderStatusProcessing  OrderStatus = "PROCESSING"
	OrderStatusShipped     OrderStatus = "SHIPPED"
	OrderStatusDelivered   OrderStatus = "DELIVERED"
	OrderStatusUndelivered OrderStatus = "UNDELIVERED"
	OrderStatusCancelled   OrderStatus = "CANCELLED"
)

// Valid reports whether s is one of the known order statuses
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusUndelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// PaymentStatus is shared by orders and payments
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// Finalized reports whether the payment has reached COMPLETED or FAILED.
// Finalized payment fields are immutable.
func (s PaymentStatus) Finalized() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}
