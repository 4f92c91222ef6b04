package saga

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"temporal-fulfillment/models"
)

var shippedAt = time.Date(2025, 5, 4, 10, 30, 0, 0, time.UTC)

func TestExecutePolicies(t *testing.T) {
	var ran []string
	step := func(name string, policy FailurePolicy, err error) Step {
		return Step{Name: name, OnFailure: policy, Run: func() error {
			ran = append(ran, name)
			return err
		}}
	}

	var observed []Outcome
	report := Execute([]Step{
		step("fetch", Abort, nil),
		step("lookup", Abort, ErrSkip),
		step("notify", Continue, errors.New("smtp down")),
		step("write", Abort, Errorf(KindUnavailable, "orders unavailable")),
		step("audit", Continue, nil),
	}, func(o Outcome) { observed = append(observed, o) })

	assert.Equal(t, []string{"fetch", "lookup", "notify", "write"}, ran)
	require.Len(t, report.Outcomes, 5)
	assert.Equal(t, report.Outcomes, observed)
	assert.Equal(t, StepSucceeded, report.Outcomes[0].Status)
	assert.Equal(t, StepSkipped, report.Outcomes[1].Status)
	assert.Equal(t, StepFailed, report.Outcomes[2].Status)
	assert.Equal(t, KindInternal, report.Outcomes[2].Kind)
	assert.Equal(t, KindUnavailable, report.Outcomes[3].Kind)
	assert.Equal(t, StepNotRun, report.Outcomes[4].Status)

	assert.Equal(t, []string{"notify failed: smtp down"}, report.Warnings)
	assert.Equal(t, KindUnavailable, KindOf(report.Err))
	assert.False(t, report.Partial())
	assert.True(t, report.Succeeded("fetch"))
	assert.False(t, report.Succeeded("lookup"))

	result := Fail("7", report)
	assert.False(t, result.Success)
	assert.True(t, result.Retriable)
	assert.Equal(t, "orders unavailable", result.Error)
}

func TestExecutePartial(t *testing.T) {
	report := Execute([]Step{
		{Name: "update_order", Run: func() error { return nil }},
		{Name: "create_shipment", OnFailure: Continue, Run: func() error { return errors.New("boom") }},
	}, nil)

	require.NoError(t, report.Err)
	assert.True(t, report.Partial())
}

func TestKindRetriable(t *testing.T) {
	assert.True(t, KindUnavailable.Retriable())
	assert.True(t, KindConflict.Retriable())
	assert.False(t, KindGuardViolation.Retriable())
	assert.False(t, KindAlreadyFinalized.Retriable())
	assert.False(t, KindNotFound.Retriable())
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestPaymentDecision(t *testing.T) {
	assert.Equal(t, KindBadRequest, KindOf(PaymentDecision{Action: ActionApprove}.Validate()))
	assert.Equal(t, KindBadRequest, KindOf(PaymentDecision{OrderID: "1", Action: "refund"}.Validate()))
	assert.NoError(t, PaymentDecision{OrderID: "1", Action: ActionDecline}.Validate())

	for _, status := range []models.PaymentStatus{models.PaymentStatusCompleted, models.PaymentStatusFailed} {
		err := GuardPaymentDecision(models.Order{ID: "1", PaymentStatus: status})
		assert.Equal(t, KindAlreadyFinalized, KindOf(err), status)
	}
	assert.NoError(t, GuardPaymentDecision(models.Order{ID: "1", PaymentStatus: models.PaymentStatusPending}))

	approve := PaymentDecision{OrderID: "1", Action: ActionApprove, PaymentID: "pay_1", ReceiptID: "rcpt_1"}
	assert.Equal(t, models.OrderUpdate{
		OrderStatus:   models.OrderStatusProcessing,
		PaymentStatus: models.PaymentStatusCompleted,
		PaymentID:     "pay_1",
		ReceiptID:     "rcpt_1",
	}, approve.OrderUpdate())
	assert.Equal(t, "pay_1", approve.Payment(models.Order{ID: "1"}).Reference)
	assert.Equal(t, "Payment approved for order #1 | Shipment #9 created", approve.Message("9"))

	decline := PaymentDecision{OrderID: "1", Action: ActionDecline, PaymentID: "ignored"}
	assert.Equal(t, models.OrderUpdate{
		OrderStatus:   models.OrderStatusCancelled,
		PaymentStatus: models.PaymentStatusFailed,
	}, decline.OrderUpdate())
	payment := decline.Payment(models.Order{ID: "1"})
	assert.Equal(t, models.PaymentStatusFailed, payment.Status)
	assert.Equal(t, "Payment declined for order #1", decline.Message(""))
}

func TestShippingAddressFallback(t *testing.T) {
	assert.Equal(t, AddressNotProvided, ShippingAddress(nil))
	assert.Equal(t, AddressNotProvided, ShippingAddress(&models.Customer{AddressCity: "Oslo"}))

	addr := ShippingAddress(&models.Customer{AddressStreet: "1 Main St", AddressCity: "Springfield", AddressZip: "12345"})
	assert.Equal(t, "1 Main St", addr.Street)
	assert.Equal(t, "12345", addr.ZipCode)
	assert.Equal(t, "USA", addr.Country)
}

func TestPlanShipped(t *testing.T) {
	paid := models.Order{ID: "4", CustomerID: "2", OrderStatus: models.OrderStatusProcessing, PaymentStatus: models.PaymentStatusCompleted}

	t.Run("payment pending is rejected", func(t *testing.T) {
		unpaid := paid
		unpaid.PaymentStatus = models.PaymentStatusPending
		plan, err := PlanStatusChange(unpaid, nil, models.OrderStatusShipped, shippedAt)
		assert.Equal(t, KindGuardViolation, KindOf(err))
		assert.Equal(t, ShipmentNone, plan.Action)
	})

	t.Run("creates in transit shipment", func(t *testing.T) {
		plan, err := PlanStatusChange(paid, nil, models.OrderStatusShipped, shippedAt)
		require.NoError(t, err)
		assert.Equal(t, ShipmentCreate, plan.Action)
		assert.Equal(t, models.ShipmentStatusInTransit, plan.Create.Status)
		assert.Equal(t, "TRK41746354600", plan.Create.TrackingNo)
		assert.Equal(t, DefaultCarrier, plan.Create.Carrier)
		assert.Equal(t, "2025-05-04T10:30:00.000000", plan.Create.ShippedAt)
		assert.Nil(t, plan.Create.DeliveredAt)
	})

	t.Run("backfills blank fields only", func(t *testing.T) {
		existing := &models.Shipment{ID: "8", OrderID: "4", Status: models.ShipmentStatusPending, Carrier: "DHL"}
		plan, err := PlanStatusChange(paid, existing, models.OrderStatusShipped, shippedAt)
		require.NoError(t, err)
		assert.Equal(t, ShipmentUpdate, plan.Action)
		assert.Equal(t, models.ID("8"), plan.ShipmentID)
		assert.Equal(t, models.ShipmentUpdate{
			Status:     models.ShipmentStatusInTransit,
			TrackingNo: "TRK41746354600",
			ShippedAt:  "2025-05-04T10:30:00.000000",
		}, plan.Update)
	})

	t.Run("terminal shipment is rejected", func(t *testing.T) {
		existing := &models.Shipment{ID: "8", Status: models.ShipmentStatusDelivered}
		_, err := PlanStatusChange(paid, existing, models.OrderStatusShipped, shippedAt)
		assert.Equal(t, KindGuardViolation, KindOf(err))
	})
}

func TestPlanDelivered(t *testing.T) {
	order := models.Order{ID: "4", PaymentStatus: models.PaymentStatusCompleted}

	tests := []struct {
		name     string
		shipment *models.Shipment
		wantErr  bool
	}{
		{name: "no shipment", shipment: nil, wantErr: true},
		{name: "in transit", shipment: &models.Shipment{ID: "1", Status: models.ShipmentStatusInTransit}},
		{name: "pending", shipment: &models.Shipment{ID: "1", Status: models.ShipmentStatusPending}},
		{name: "cancelled", shipment: &models.Shipment{ID: "1", Status: models.ShipmentStatusCancelled}, wantErr: true},
		{name: "delivered", shipment: &models.Shipment{ID: "1", Status: models.ShipmentStatusDelivered}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := PlanStatusChange(order, tt.shipment, models.OrderStatusDelivered, shippedAt)
			if tt.wantErr {
				assert.Equal(t, KindGuardViolation, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.ShipmentStatusDelivered, plan.Update.Status)
			assert.Equal(t, "2025-05-04T10:30:00.000000", plan.Update.DeliveredAt)
		})
	}
}

func TestPlanCancelled(t *testing.T) {
	order := models.Order{ID: "4"}

	plan, err := PlanStatusChange(order, &models.Shipment{ID: "1", Status: models.ShipmentStatusInTransit}, models.OrderStatusUndelivered, shippedAt)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentStatusCancelled, plan.Update.Status)
	assert.Contains(t, plan.Detail, "undelivered")

	plan, err = PlanStatusChange(order, &models.Shipment{ID: "1", Status: models.ShipmentStatusDelivered}, models.OrderStatusCancelled, shippedAt)
	require.NoError(t, err)
	assert.Equal(t, ShipmentNone, plan.Action, "terminal shipments stay put")

	plan, err = PlanStatusChange(order, nil, models.OrderStatusCancelled, shippedAt)
	require.NoError(t, err)
	assert.Equal(t, ShipmentNone, plan.Action)
}

func TestPlanUnknownStatus(t *testing.T) {
	_, err := PlanStatusChange(models.Order{ID: "4"}, nil, "LOST", shippedAt)
	assert.Equal(t, KindBadRequest, KindOf(err))
	assert.Equal(t, KindBadRequest, KindOf(StatusChange{OrderID: "4", Status: "LOST"}.Validate()))
}

func TestGuardsOnShipment(t *testing.T) {
	for status, want := range map[models.OrderStatus]bool{
		models.OrderStatusShipped:     true,
		models.OrderStatusDelivered:   true,
		models.OrderStatusCancelled:   false,
		models.OrderStatusUndelivered: false,
		models.OrderStatusPending:     false,
		models.OrderStatusProcessing:  false,
	} {
		assert.Equal(t, want, GuardsOnShipment(status), status)
	}
}
