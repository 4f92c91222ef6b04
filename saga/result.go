package saga

import "temporal-fulfillment/models"

// Result is what a saga invocation reports to its trigger. Rejections and
// downstream failures are results with Success unset, not errors.
type Result struct {
	Success        bool                  `json:"success"`
	Message        string                `json:"message,omitempty"`
	Error          string                `json:"error,omitempty"`
	Kind           Kind                  `json:"kind,omitempty"`
	Retriable      bool                  `json:"retriable,omitempty"`
	OrderID        models.ID             `json:"order_id"`
	OrderStatus    models.OrderStatus    `json:"order_status,omitempty"`
	PaymentStatus  models.PaymentStatus  `json:"payment_status,omitempty"`
	ShipmentID     models.ID             `json:"shipment_id,omitempty"`
	ShipmentStatus models.ShipmentStatus `json:"shipment_status,omitempty"`
	Steps          []Outcome             `json:"steps,omitempty"`
	Warnings       []string              `json:"warnings,omitempty"`
}

// Fail turns the aborting error of report into a failed Result
func Fail(orderID models.ID, report Report) Result {
	kind := KindOf(report.Err)
	msg := ""
	if report.Err != nil {
		msg = report.Err.Error()
	}
	return Result{
		Error:     msg,
		Kind:      kind,
		Retriable: kind.Retriable(),
		OrderID:   orderID,
		Steps:     report.Outcomes,
		Warnings:  report.Warnings,
	}
}
