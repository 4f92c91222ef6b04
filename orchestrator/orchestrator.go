// Package orchestrator starts fulfillment sagas on Temporal and waits for
// their result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"temporal-fulfillment/models"
	"temporal-fulfillment/saga"
	"temporal-fulfillment/workflows"
)

// Trigger runs one saga invocation per call
type Trigger interface {
	DecidePayment(ctx context.Context, decision saga.PaymentDecision) (saga.Result, error)
	ChangeStatus(ctx context.Context, change saga.StatusChange) (saga.Result, error)
}

// Temporal is the Trigger backed by a Temporal client
type Temporal struct {
	client    client.Client
	taskQueue string
	timeout   time.Duration
	logger    *slog.Logger
}

var _ Trigger = (*Temporal)(nil)

// New creates a Temporal trigger. A zero timeout waits as long as ctx allows.
func New(c client.Client, taskQueue string, timeout time.Duration, logger *slog.Logger) *Temporal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Temporal{client: c, taskQueue: taskQueue, timeout: timeout, logger: logger}
}

// DecidePayment runs PaymentDecisionWorkflow
func (t *Temporal) DecidePayment(ctx context.Context, decision saga.PaymentDecision) (saga.Result, error) {
	return t.execute(ctx, decision.OrderID, workflows.PaymentDecisionWorkflow, decision)
}

// ChangeStatus runs OrderStatusWorkflow
func (t *Temporal) ChangeStatus(ctx context.Context, change saga.StatusChange) (saga.Result, error) {
	return t.execute(ctx, change.OrderID, workflows.OrderStatusWorkflow, change)
}

// Progress queries the step outcomes of the order's latest saga
func (t *Temporal) Progress(ctx context.Context, orderID models.ID) (workflows.Progress, error) {
	var progress workflows.Progress
	val, err := t.client.QueryWorkflow(ctx, workflows.WorkflowID(orderID), "", workflows.QueryProgress)
	if err != nil {
		return progress, fmt.Errorf("failed to query saga of order #%s: %w", orderID, err)
	}
	if err := val.Get(&progress); err != nil {
		return progress, fmt.Errorf("failed to decode saga progress: %w", err)
	}
	return progress, nil
}

func (t *Temporal) execute(ctx context.Context, orderID models.ID, workflow any, arg any) (saga.Result, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	options := client.StartWorkflowOptions{
		ID:        workflows.WorkflowID(orderID),
		TaskQueue: t.taskQueue,
		// A saga already running for the order is reported, not joined.
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}

	run, err := t.client.ExecuteWorkflow(ctx, options, workflow, arg)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			t.logger.Warn("saga already running", "order_id", orderID, "workflow_id", options.ID)
			return saga.Result{
				Error:     fmt.Sprintf("a fulfillment saga is already running for order #%s", orderID),
				Kind:      saga.KindConflict,
				Retriable: saga.KindConflict.Retriable(),
				OrderID:   orderID,
			}, nil
		}
		return saga.Result{}, fmt.Errorf("failed to start saga for order #%s: %w", orderID, err)
	}

	t.logger.Info("saga started", "order_id", orderID, "workflow_id", run.GetID(), "run_id", run.GetRunID())

	var result saga.Result
	if err := run.Get(ctx, &result); err != nil {
		return saga.Result{}, fmt.Errorf("saga for order #%s did not complete: %w", orderID, err)
	}
	return result, nil
}
