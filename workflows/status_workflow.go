package workflows

import (
	"fmt"

	"temporal-fulfillment/audit"
	"temporal-fulfillment/models"
	"temporal-fulfillment/saga"

	"go.temporal.io/sdk/workflow"
)

// OrderStatusWorkflow moves an order to a new status and applies the
// shipment side effect the transition needs. Shipment writes that fail are
// reported as warnings and the order update still happens, always last.
func OrderStatusWorkflow(ctx workflow.Context, change saga.StatusChange) (saga.Result, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("OrderStatusWorkflow started", "order_id", change.OrderID, "order_status", change.Status)

	if err := change.Validate(); err != nil {
		return rejected(change.OrderID, err), nil
	}

	r, err := newRun(ctx, change.OrderID, change.Actor)
	if err != nil {
		return saga.Result{}, err
	}

	var (
		order    models.Order
		existing *models.Shipment
		plan     saga.ShipmentPlan
		customer *models.Customer
		shipment models.Shipment
		updated  models.Order

		lookupFailed bool
	)

	// Only the SHIPPED and DELIVERED guards need the shipment; for the other
	// targets a failed lookup must not block the order update.
	lookupPolicy := saga.Continue
	if saga.GuardsOnShipment(change.Status) {
		lookupPolicy = saga.Abort
	}

	steps := []saga.Step{
		{Name: "fetch_order", OnFailure: saga.Abort, Run: func() error {
			return r.read(act.FetchOrder, &order, change.OrderID)
		}},
		{Name: "find_shipment", OnFailure: lookupPolicy, Run: func() error {
			if err := r.read(act.FindShipment, &existing, order.ID); err != nil {
				lookupFailed = true
				return err
			}
			return nil
		}},
		{Name: "plan", OnFailure: saga.Abort, Run: func() error {
			if lookupFailed {
				// The shipment is unknown; leave it for reconciliation.
				return saga.ErrSkip
			}
			var err error
			plan, err = saga.PlanStatusChange(order, existing, change.Status, workflow.Now(ctx))
			return err
		}},
		{Name: "fetch_customer", OnFailure: saga.Continue, Run: func() error {
			if plan.Action != saga.ShipmentCreate {
				return saga.ErrSkip
			}
			return r.read(act.FetchCustomer, &customer, order.CustomerID)
		}},
		{Name: "write_shipment", OnFailure: saga.Continue, Run: func() error {
			switch plan.Action {
			case saga.ShipmentCreate:
				create := plan.Create
				create.ShippingAddress = saga.ShippingAddress(customer)
				return r.write(act.CreateShipment, &shipment, create)
			case saga.ShipmentUpdate:
				return r.write(act.UpdateShipment, &shipment, plan.ShipmentID, plan.Update)
			}
			return saga.ErrSkip
		}},
		{Name: "update_order", OnFailure: saga.Abort, Run: func() error {
			return r.write(act.UpdateOrder, &updated, order.ID, models.OrderUpdate{OrderStatus: change.Status})
		}},
		{Name: "audit_order", OnFailure: saga.Continue, Run: func() error {
			return r.audit(audit.ActionUpdate, audit.EntityOrder, order.ID,
				fmt.Sprintf("Updated order status to %s", change.Status), map[string]any{
					"previous_status": string(order.OrderStatus),
					"order_status":    string(change.Status),
				})
		}},
		{Name: "audit_shipment", OnFailure: saga.Continue, Run: func() error {
			if shipment.ID.IsZero() {
				return saga.ErrSkip
			}
			action := audit.ActionUpdate
			if plan.Action == saga.ShipmentCreate {
				action = audit.ActionCreate
			}
			return r.audit(action, audit.EntityShipment, shipment.ID, plan.Detail, map[string]any{
				"order_id": order.ID.String(),
				"status":   string(shipment.Status),
			})
		}},
	}

	report := saga.Execute(steps, r.observe)
	if report.Err != nil {
		logger.Warn("OrderStatusWorkflow rejected", "order_id", change.OrderID, "kind", saga.KindOf(report.Err), "error", report.Err)
		return saga.Fail(change.OrderID, report), nil
	}

	result := saga.Result{
		Success:       true,
		Message:       fmt.Sprintf("Order #%s status updated to %s", order.ID, updated.OrderStatus),
		OrderID:       order.ID,
		OrderStatus:   updated.OrderStatus,
		PaymentStatus: updated.PaymentStatus,
		Steps:         report.Outcomes,
		Warnings:      report.Warnings,
	}
	switch {
	case !shipment.ID.IsZero():
		result.ShipmentID, result.ShipmentStatus = shipment.ID, shipment.Status
	case existing != nil:
		result.ShipmentID, result.ShipmentStatus = existing.ID, existing.Status
	}

	if report.Partial() {
		logger.Warn("OrderStatusWorkflow completed with warnings; manual reconciliation needed",
			"order_id", order.ID, "warnings", report.Warnings)
	} else {
		logger.Info("OrderStatusWorkflow completed", "order_id", order.ID, "order_status", updated.OrderStatus)
	}
	return result, nil
}
