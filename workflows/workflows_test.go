package workflows

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/testsuite"

	"temporal-fulfillment/activities"
	"temporal-fulfillment/audit"
	"temporal-fulfillment/cache"
	"temporal-fulfillment/crudtest"
	"temporal-fulfillment/models"
	"temporal-fulfillment/resource"
	"temporal-fulfillment/saga"
)

type fixture struct {
	srv  *crudtest.Server
	acts *activities.Activities
	sink *audit.Sink
	runs int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := crudtest.New(t)
	var clients []*resource.Client
	for _, name := range []string{resource.Customers, resource.Orders, resource.Payments, resource.Shipments} {
		clients = append(clients, resource.NewClient(name, srv.URL, srv.Client(), resource.DefaultTimeouts()))
	}
	gateway := resource.NewGateway(clients, cache.New(cache.NewLocal(128, time.Minute, nil)))
	sink := audit.NewSink(nil, nil, nil, nil)
	return &fixture{srv: srv, acts: activities.NewActivities(gateway, sink), sink: sink}
}

func (f *fixture) seedOrder(paymentStatus models.PaymentStatus, orderStatus models.OrderStatus) models.ID {
	return models.ID(f.srv.Seed(resource.Orders, crudtest.Object{
		"customer_id":    1,
		"order_status":   string(orderStatus),
		"payment_status": string(paymentStatus),
		"order_total":    99.5,
		"items": []any{
			map[string]any{"product_id": 3, "quantity": 2, "unit_price": 49.75},
		},
	}))
}

func (f *fixture) seedCustomer() {
	f.srv.Seed(resource.Customers, crudtest.Object{
		"id": 1, "name": "Ada", "email": "ada@example.com",
		"address_street": "1 Loop Rd", "address_city": "Springfield", "address_state": "IL", "address_zip": "62701",
	})
}

func (f *fixture) execute(t *testing.T, workflow any, arg any) (saga.Result, Progress) {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	f.runs++
	env.SetStartWorkflowOptions(client.StartWorkflowOptions{ID: fmt.Sprintf("fulfillment-test-%d", f.runs)})
	env.RegisterActivity(f.acts)

	env.ExecuteWorkflow(workflow, arg)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result saga.Result
	require.NoError(t, env.GetWorkflowResult(&result))

	var progress Progress
	val, err := env.QueryWorkflow(QueryProgress)
	if err == nil {
		require.NoError(t, val.Get(&progress))
	}
	return result, progress
}

func (f *fixture) approve(t *testing.T, id models.ID) saga.Result {
	result, _ := f.execute(t, PaymentDecisionWorkflow, saga.PaymentDecision{OrderID: id, Action: saga.ActionApprove, Actor: "admin"})
	return result
}

func (f *fixture) changeStatus(t *testing.T, id models.ID, status models.OrderStatus) saga.Result {
	result, _ := f.execute(t, OrderStatusWorkflow, saga.StatusChange{OrderID: id, Status: status, Actor: "admin"})
	return result
}

func TestApproveShipDeliver(t *testing.T) {
	f := newFixture(t)
	f.seedCustomer()
	id := f.seedOrder(models.PaymentStatusPending, models.OrderStatusPending)

	// A: approval finalizes the payment and creates a PENDING shipment.
	result := f.approve(t, id)
	require.True(t, result.Success, result.Error)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, models.OrderStatusProcessing, result.OrderStatus)
	assert.Equal(t, models.PaymentStatusCompleted, result.PaymentStatus)
	assert.Equal(t, fmt.Sprintf("Payment approved for order #%s | Shipment #%s created", id, result.ShipmentID), result.Message)

	order := f.srv.Object(resource.Orders, id.String())
	assert.Equal(t, "PROCESSING", order["order_status"])
	assert.Equal(t, "COMPLETED", order["payment_status"])

	shipments := f.srv.All(resource.Shipments)
	require.Len(t, shipments, 1)
	assert.Equal(t, "PENDING", shipments[0]["status"])
	address := shipments[0]["shipping_address"].(map[string]any)
	assert.Equal(t, "1 Loop Rd", address["street"])
	assert.Equal(t, "USA", address["country"])

	payments := f.srv.All(resource.Payments)
	require.Len(t, payments, 1)
	assert.Equal(t, "COMPLETED", payments[0]["status"])
	assert.Equal(t, "99.5", payments[0]["amount"])
	assert.Equal(t, "ADMIN-APPROVE-"+id.String(), payments[0]["reference"])

	recent := f.sink.Recent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, audit.ActionCreate, recent[0].Action)
	assert.Equal(t, audit.EntityShipment, recent[0].EntityType)
	assert.Equal(t, audit.ActionPayment, recent[1].Action)
	assert.Equal(t, "admin", recent[1].Actor)

	// B: shipping moves the existing shipment to IN_TRANSIT.
	result = f.changeStatus(t, id, models.OrderStatusShipped)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, models.ShipmentStatusInTransit, result.ShipmentStatus)

	shipments = f.srv.All(resource.Shipments)
	require.Len(t, shipments, 1, "no duplicate shipment")
	assert.Equal(t, "IN_TRANSIT", shipments[0]["status"])
	assert.NotEmpty(t, shipments[0]["shipped_at"])
	assert.True(t, strings.HasPrefix(shipments[0]["tracking_no"].(string), "TRK"+id.String()))
	assert.Equal(t, saga.DefaultCarrier, shipments[0]["carrier"])
	assert.Equal(t, "SHIPPED", f.srv.Object(resource.Orders, id.String())["order_status"])

	// C: delivery completes the shipment.
	result = f.changeStatus(t, id, models.OrderStatusDelivered)
	require.True(t, result.Success, result.Error)

	shipments = f.srv.All(resource.Shipments)
	require.Len(t, shipments, 1)
	assert.Equal(t, "DELIVERED", shipments[0]["status"])
	assert.NotEmpty(t, shipments[0]["delivered_at"])
	assert.Equal(t, "DELIVERED", f.srv.Object(resource.Orders, id.String())["order_status"])

	recent = f.sink.Recent(0)
	require.Len(t, recent, 6)
	assert.Equal(t, "Updated order status to DELIVERED", recent[1].Description)
	assert.Equal(t, "Shipment delivered for order #"+id.String(), recent[0].Description)
}

func TestApproveTwiceIsRejected(t *testing.T) {
	f := newFixture(t)
	f.seedCustomer()
	id := f.seedOrder(models.PaymentStatusPending, models.OrderStatusPending)

	require.True(t, f.approve(t, id).Success)
	result := f.approve(t, id)

	assert.False(t, result.Success)
	assert.Equal(t, saga.KindAlreadyFinalized, result.Kind)
	assert.False(t, result.Retriable)
	assert.Len(t, f.srv.All(resource.Shipments), 1)
	assert.Len(t, f.srv.All(resource.Payments), 1)
	assert.Equal(t, 1, f.srv.Calls(http.MethodPut, resource.Orders))
}

func TestShipWithPendingPaymentIsRejected(t *testing.T) {
	f := newFixture(t)
	id := f.seedOrder(models.PaymentStatusPending, models.OrderStatusPending)

	result := f.changeStatus(t, id, models.OrderStatusShipped)

	assert.False(t, result.Success)
	assert.Equal(t, saga.KindGuardViolation, result.Kind)
	assert.Contains(t, result.Error, "payment not completed")
	assert.Empty(t, f.srv.All(resource.Shipments))
	assert.Equal(t, "PENDING", f.srv.Object(resource.Orders, id.String())["order_status"])
	assert.Zero(t, f.srv.Calls(http.MethodPut, resource.Orders))
	assert.Empty(t, f.sink.Recent(0))
}

func TestDecline(t *testing.T) {
	f := newFixture(t)
	id := f.seedOrder(models.PaymentStatusPending, models.OrderStatusPending)

	result, _ := f.execute(t, PaymentDecisionWorkflow, saga.PaymentDecision{OrderID: id, Action: saga.ActionDecline, Actor: "admin"})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "Payment declined for order #"+id.String(), result.Message)
	order := f.srv.Object(resource.Orders, id.String())
	assert.Equal(t, "CANCELLED", order["order_status"])
	assert.Equal(t, "FAILED", order["payment_status"])
	assert.Empty(t, f.srv.All(resource.Shipments))
	assert.Zero(t, f.srv.Calls(http.MethodGet, resource.Shipments))

	payments := f.srv.All(resource.Payments)
	require.Len(t, payments, 1)
	assert.Equal(t, "FAILED", payments[0]["status"])
}

func TestApproveShipmentFailureKeepsApproval(t *testing.T) {
	f := newFixture(t)
	f.seedCustomer()
	id := f.seedOrder(models.PaymentStatusPending, models.OrderStatusPending)
	f.srv.Fail(http.MethodPost, resource.Shipments, http.StatusServiceUnavailable)

	result, progress := f.execute(t, PaymentDecisionWorkflow, saga.PaymentDecision{OrderID: id, Action: saga.ActionApprove, Actor: "admin"})

	require.True(t, result.Success)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "create_shipment failed")
	assert.True(t, result.ShipmentID.IsZero())
	assert.Equal(t, "COMPLETED", f.srv.Object(resource.Orders, id.String())["payment_status"])
	assert.Equal(t, 3, f.srv.Calls(http.MethodPost, resource.Shipments), "unavailability is retried")

	recent := f.sink.Recent(0)
	require.Len(t, recent, 1)
	assert.Equal(t, true, recent[0].Metadata["reconcile"])

	if len(progress.Steps) > 0 {
		assert.Equal(t, len(result.Steps), len(progress.Steps))
	}
}

func TestApproveWithoutCustomerUsesPlaceholderAddress(t *testing.T) {
	f := newFixture(t)
	id := f.seedOrder(models.PaymentStatusPending, models.OrderStatusPending)

	result := f.approve(t, id)
	require.True(t, result.Success, result.Error)
	assert.Empty(t, result.Warnings)

	shipments := f.srv.All(resource.Shipments)
	require.Len(t, shipments, 1)
	address := shipments[0]["shipping_address"].(map[string]any)
	assert.Equal(t, saga.AddressNotProvided.Street, address["street"])
}

func TestApproveSkipsShipmentWhenLookupFails(t *testing.T) {
	f := newFixture(t)
	id := f.seedOrder(models.PaymentStatusPending, models.OrderStatusPending)
	f.srv.Fail(http.MethodGet, resource.Shipments, http.StatusServiceUnavailable)

	result := f.approve(t, id)

	require.True(t, result.Success)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "find_shipment failed")
	assert.Zero(t, f.srv.Calls(http.MethodPost, resource.Shipments))
}

func TestApproveOrdersServiceDown(t *testing.T) {
	f := newFixture(t)
	id := f.seedOrder(models.PaymentStatusPending, models.OrderStatusPending)
	f.srv.Fail(http.MethodPut, resource.Orders, http.StatusServiceUnavailable)

	result := f.approve(t, id)

	assert.False(t, result.Success)
	assert.Equal(t, saga.KindUnavailable, result.Kind)
	assert.True(t, result.Retriable)
	assert.Empty(t, f.srv.All(resource.Payments))
	assert.Empty(t, f.srv.All(resource.Shipments))
}

func TestOrderNotFound(t *testing.T) {
	f := newFixture(t)

	result := f.approve(t, "404")

	assert.False(t, result.Success)
	assert.Equal(t, saga.KindNotFound, result.Kind)
	assert.False(t, result.Retriable)
	assert.Equal(t, 1, f.srv.Calls(http.MethodGet, resource.Orders), "not found is not retried")
}

func TestInvalidRequests(t *testing.T) {
	f := newFixture(t)

	result := f.changeStatus(t, "1", models.OrderStatus("LOST"))
	assert.Equal(t, saga.KindBadRequest, result.Kind)

	result, _ = f.execute(t, PaymentDecisionWorkflow, saga.PaymentDecision{OrderID: "1", Action: "refund"})
	assert.Equal(t, saga.KindBadRequest, result.Kind)
	assert.Zero(t, f.srv.Calls(http.MethodGet, resource.Orders))
}

func TestShipWithoutShipmentCreatesOne(t *testing.T) {
	f := newFixture(t)
	f.seedCustomer()
	id := f.seedOrder(models.PaymentStatusCompleted, models.OrderStatusProcessing)

	result := f.changeStatus(t, id, models.OrderStatusShipped)
	require.True(t, result.Success, result.Error)

	shipments := f.srv.All(resource.Shipments)
	require.Len(t, shipments, 1)
	assert.Equal(t, "IN_TRANSIT", shipments[0]["status"])
	assert.Equal(t, saga.DefaultCarrier, shipments[0]["carrier"])
	assert.Equal(t, "Springfield", shipments[0]["shipping_address"].(map[string]any)["city"])

	recent := f.sink.Recent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, audit.ActionCreate, recent[0].Action)
	assert.Equal(t, "Shipment created for order #"+id.String(), recent[0].Description)
}

func TestDeliverWithoutShipmentIsRejected(t *testing.T) {
	f := newFixture(t)
	id := f.seedOrder(models.PaymentStatusCompleted, models.OrderStatusShipped)

	result := f.changeStatus(t, id, models.OrderStatusDelivered)

	assert.False(t, result.Success)
	assert.Equal(t, saga.KindGuardViolation, result.Kind)
	assert.Equal(t, "SHIPPED", f.srv.Object(resource.Orders, id.String())["order_status"])
}

func TestCancelCancelsShipment(t *testing.T) {
	f := newFixture(t)
	id := f.seedOrder(models.PaymentStatusCompleted, models.OrderStatusProcessing)
	f.srv.Seed(resource.Shipments, crudtest.Object{"order_id": 1, "status": "PENDING"})

	result := f.changeStatus(t, id, models.OrderStatusUndelivered)
	require.True(t, result.Success, result.Error)

	shipments := f.srv.All(resource.Shipments)
	require.Len(t, shipments, 1)
	assert.Equal(t, "CANCELLED", shipments[0]["status"])
	assert.Equal(t, "UNDELIVERED", f.srv.Object(resource.Orders, id.String())["order_status"])
	assert.Contains(t, f.sink.Recent(1)[0].Description, "(undelivered)")
}

func TestShipmentWriteFailureStillUpdatesOrder(t *testing.T) {
	f := newFixture(t)
	id := f.seedOrder(models.PaymentStatusCompleted, models.OrderStatusProcessing)
	f.srv.Seed(resource.Shipments, crudtest.Object{"order_id": 1, "status": "PENDING"})
	f.srv.Fail(http.MethodPut, resource.Shipments, http.StatusBadRequest)

	result := f.changeStatus(t, id, models.OrderStatusShipped)

	require.True(t, result.Success)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "write_shipment failed")
	assert.Equal(t, 1, f.srv.Calls(http.MethodPut, resource.Shipments), "rejections are not retried")
	assert.Equal(t, "SHIPPED", f.srv.Object(resource.Orders, id.String())["order_status"])
	assert.Equal(t, "PENDING", f.srv.All(resource.Shipments)[0]["status"])
}

func TestCancelSucceedsWhenShipmentLookupFails(t *testing.T) {
	f := newFixture(t)
	id := f.seedOrder(models.PaymentStatusPending, models.OrderStatusPending)
	f.srv.Fail(http.MethodGet, resource.Shipments, http.StatusServiceUnavailable)

	result := f.changeStatus(t, id, models.OrderStatusCancelled)

	require.True(t, result.Success, result.Error)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "find_shipment failed")
	assert.Equal(t, "CANCELLED", f.srv.Object(resource.Orders, id.String())["order_status"])
	assert.Zero(t, f.srv.Calls(http.MethodPut, resource.Shipments))

	recent := f.sink.Recent(0)
	require.Len(t, recent, 1)
	assert.Equal(t, audit.EntityOrder, recent[0].EntityType)
	assert.Equal(t, true, recent[0].Metadata["reconcile"])
}

func TestShipAbortsWhenShipmentLookupFails(t *testing.T) {
	f := newFixture(t)
	id := f.seedOrder(models.PaymentStatusCompleted, models.OrderStatusProcessing)
	f.srv.Fail(http.MethodGet, resource.Shipments, http.StatusServiceUnavailable)

	result := f.changeStatus(t, id, models.OrderStatusShipped)

	assert.False(t, result.Success)
	assert.Equal(t, saga.KindUnavailable, result.Kind)
	assert.True(t, result.Retriable)
	assert.Zero(t, f.srv.Calls(http.MethodPut, resource.Orders))
	assert.Equal(t, "PROCESSING", f.srv.Object(resource.Orders, id.String())["order_status"])
}

func TestWorkflowID(t *testing.T) {
	assert.Equal(t, "fulfillment-42", WorkflowID("42"))
}
