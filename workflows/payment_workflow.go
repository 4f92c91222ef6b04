package workflows

import (
	"fmt"

	"temporal-fulfillment/audit"
	"temporal-fulfillment/models"
	"temporal-fulfillment/saga"

	"go.temporal.io/sdk/workflow"
)

// PaymentDecisionWorkflow applies an admin's approve or decline decision to
// an order's pending payment. An approval also creates the order's PENDING
// shipment; a shipment failure is reported as a warning and the approval
// stands.
func PaymentDecisionWorkflow(ctx workflow.Context, decision saga.PaymentDecision) (saga.Result, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("PaymentDecisionWorkflow started", "order_id", decision.OrderID, "action", decision.Action)

	if err := decision.Validate(); err != nil {
		return rejected(decision.OrderID, err), nil
	}

	r, err := newRun(ctx, decision.OrderID, decision.Actor)
	if err != nil {
		return saga.Result{}, err
	}

	var (
		order        models.Order
		updated      models.Order
		payment      models.Payment
		existing     *models.Shipment
		lookupFailed bool
		customer     *models.Customer
		created      models.Shipment
	)

	steps := []saga.Step{
		{Name: "fetch_order", OnFailure: saga.Abort, Run: func() error {
			return r.read(act.FetchOrder, &order, decision.OrderID)
		}},
		{Name: "guard_payment", OnFailure: saga.Abort, Run: func() error {
			return saga.GuardPaymentDecision(order)
		}},
		{Name: "update_order", OnFailure: saga.Abort, Run: func() error {
			return r.write(act.UpdateOrder, &updated, order.ID, decision.OrderUpdate())
		}},
		{Name: "record_payment", OnFailure: saga.Continue, Run: func() error {
			return r.write(act.RecordPayment, &payment, decision.Payment(order))
		}},
	}

	if decision.Action == saga.ActionApprove {
		needsShipment := func() bool { return existing == nil && !lookupFailed }
		steps = append(steps,
			saga.Step{Name: "find_shipment", OnFailure: saga.Continue, Run: func() error {
				if err := r.read(act.FindShipment, &existing, order.ID); err != nil {
					// Without the lookup a second shipment could be created.
					lookupFailed = true
					return err
				}
				return nil
			}},
			saga.Step{Name: "fetch_customer", OnFailure: saga.Continue, Run: func() error {
				if !needsShipment() {
					return saga.ErrSkip
				}
				return r.read(act.FetchCustomer, &customer, order.CustomerID)
			}},
			saga.Step{Name: "create_shipment", OnFailure: saga.Continue, Run: func() error {
				if !needsShipment() {
					return saga.ErrSkip
				}
				return r.write(act.CreateShipment, &created, saga.PendingShipment(order, saga.ShippingAddress(customer)))
			}},
		)
	}

	steps = append(steps,
		saga.Step{Name: "audit_payment", OnFailure: saga.Continue, Run: func() error {
			return r.audit(audit.ActionPayment, audit.EntityOrder, order.ID, decision.Message(created.ID), map[string]any{
				"action":         string(decision.Action),
				"order_status":   string(updated.OrderStatus),
				"payment_status": string(updated.PaymentStatus),
				"payment_id":     payment.ID.String(),
			})
		}},
		saga.Step{Name: "audit_shipment", OnFailure: saga.Continue, Run: func() error {
			if created.ID.IsZero() {
				return saga.ErrSkip
			}
			return r.audit(audit.ActionCreate, audit.EntityShipment, created.ID,
				fmt.Sprintf("Shipment created for order #%s", order.ID), map[string]any{
					"order_id": order.ID.String(),
					"status":   string(created.Status),
				})
		}},
	)

	report := saga.Execute(steps, r.observe)
	if report.Err != nil {
		logger.Warn("PaymentDecisionWorkflow rejected", "order_id", decision.OrderID, "kind", saga.KindOf(report.Err), "error", report.Err)
		return saga.Fail(decision.OrderID, report), nil
	}

	result := saga.Result{
		Success:       true,
		Message:       decision.Message(created.ID),
		OrderID:       order.ID,
		OrderStatus:   updated.OrderStatus,
		PaymentStatus: updated.PaymentStatus,
		Steps:         report.Outcomes,
		Warnings:      report.Warnings,
	}
	switch {
	case !created.ID.IsZero():
		result.ShipmentID, result.ShipmentStatus = created.ID, created.Status
	case existing != nil:
		result.ShipmentID, result.ShipmentStatus = existing.ID, existing.Status
	}

	if report.Partial() {
		logger.Warn("PaymentDecisionWorkflow completed with warnings; manual reconciliation needed",
			"order_id", order.ID, "warnings", report.Warnings)
	} else {
		logger.Info("PaymentDecisionWorkflow completed", "order_id", order.ID, "action", decision.Action)
	}
	return result, nil
}
