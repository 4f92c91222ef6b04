package models

import "github.com/shopspring/decimal"

// Customer as served by the customers service
type Customer struct {
	ID             ID     `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone,omitempty"`
	AddressStreet  string `json:"address_street,omitempty"`
	AddressCity    string `json:"address_city,omitempty"`
	AddressState   string `json:"address_state,omitempty"`
	AddressZip     string `json:"address_zip,omitempty"`
	AddressCountry string `json:"address_country,omitempty"`
}

// Product as served by the products service
type Product struct {
	ID       ID              `json:"id"`
	SKU      string          `json:"sku"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Price    decimal.Decimal `json:"price"`
	IsActive bool            `json:"is_active"`
}

// SnapshotStatus describes how a snapshot relates to the live record
type SnapshotStatus string

const (
	SnapshotCurrent  SnapshotStatus = "current"
	SnapshotModified SnapshotStatus = "modified"
	SnapshotDeleted  SnapshotStatus = "deleted"
)

// CompareItemSnapshot diffs an order item snapshot against the current product.
// A nil product means it no longer exists. The diff is computed on read and
// never written back to the order.
func CompareItemSnapshot(item OrderItem, current *Product) SnapshotStatus {
	if current == nil {
		return SnapshotDeleted
	}
	if current.Name != item.ProductNameSnapshot || !current.Price.Equal(item.UnitPrice) {
		return SnapshotModified
	}
	return SnapshotCurrent
}

// CompareCustomerSnapshot diffs the order's customer snapshot against the
// current customer record.
func CompareCustomerSnapshot(order Order, current *Customer) SnapshotStatus {
	if current == nil {
		return SnapshotDeleted
	}
	if current.Name != order.CustomerNameSnapshot || current.Email != order.CustomerEmailSnapshot {
		return SnapshotModified
	}
	return SnapshotCurrent
}
