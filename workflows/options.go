package workflows

import (
	"errors"
	"fmt"
	"time"

	"temporal-fulfillment/activities"
	"temporal-fulfillment/audit"
	"temporal-fulfillment/models"
	"temporal-fulfillment/saga"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	PaymentDecisionWorkflowName = "PaymentDecisionWorkflow"
	OrderStatusWorkflowName     = "OrderStatusWorkflow"
	QueryProgress               = "progress"
)

// Activity timeouts per call class
const (
	ReadTimeout  = 5 * time.Second
	WriteTimeout = 10 * time.Second
	AuditTimeout = 5 * time.Second
)

// WorkflowID is the id of the saga of an order. At most one saga runs per
// order at a time.
func WorkflowID(orderID models.ID) string {
	return "fulfillment-" + orderID.String()
}

// Progress is returned by the progress query
type Progress struct {
	OrderID  models.ID      `json:"order_id"`
	Steps    []saga.Outcome `json:"steps"`
	Warnings []string       `json:"warnings,omitempty"`
}

func retryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:    1 * time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    10 * time.Second,
		MaximumAttempts:    3,
		NonRetryableErrorTypes: []string{
			string(saga.KindNotFound),
			string(saga.KindRejected),
			string(saga.KindGuardViolation),
			string(saga.KindAlreadyFinalized),
		},
	}
}

func withTimeout(ctx workflow.Context, timeout time.Duration) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         retryPolicy(),
	})
}

// run carries the per-execution state shared by the steps of one saga
type run struct {
	ctx      workflow.Context
	reads    workflow.Context
	writes   workflow.Context
	audits   workflow.Context
	actor    string
	runID    string
	seq      int
	progress Progress
}

var act *activities.Activities

func newRun(ctx workflow.Context, orderID models.ID, actor string) (*run, error) {
	info := workflow.GetInfo(ctx)
	r := &run{
		ctx:      ctx,
		reads:    withTimeout(ctx, ReadTimeout),
		writes:   withTimeout(ctx, WriteTimeout),
		audits:   withTimeout(ctx, AuditTimeout),
		actor:    actor,
		runID:    info.WorkflowExecution.ID + "/" + info.WorkflowExecution.RunID,
		progress: Progress{OrderID: orderID, Steps: []saga.Outcome{}},
	}

	err := workflow.SetQueryHandler(ctx, QueryProgress, func() (Progress, error) {
		return r.progress, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set query handler: %w", err)
	}
	return r, nil
}

// observe records an outcome for the progress query and the audit metadata
func (r *run) observe(o saga.Outcome) {
	r.progress.Steps = append(r.progress.Steps, o)
	logger := workflow.GetLogger(r.ctx)
	if o.Status == saga.StepFailed {
		r.progress.Warnings = append(r.progress.Warnings, fmt.Sprintf("%s failed: %s", o.Step, o.Error))
		logger.Warn("Saga step failed", "order_id", r.progress.OrderID, "step", o.Step, "kind", o.Kind, "error", o.Error)
		return
	}
	logger.Debug("Saga step finished", "order_id", r.progress.OrderID, "step", o.Step, "status", o.Status)
}

// read executes a read activity and stores its result in out
func (r *run) read(activity any, out any, args ...any) error {
	return kindOf(workflow.ExecuteActivity(r.reads, activity, args...).Get(r.reads, out))
}

// write executes a mutating activity and stores its result in out
func (r *run) write(activity any, out any, args ...any) error {
	return kindOf(workflow.ExecuteActivity(r.writes, activity, args...).Get(r.writes, out))
}

// audit appends a record whose id is stable across activity retries
func (r *run) audit(action audit.Action, entityType string, entityID models.ID, description string, metadata map[string]any) error {
	rec := audit.Record{
		ID:          audit.StableID(r.runID, r.seq),
		Timestamp:   workflow.Now(r.ctx),
		Action:      action,
		EntityType:  entityType,
		EntityID:    entityID.String(),
		Actor:       r.actor,
		Description: description,
		Metadata:    metadata,
	}
	r.seq++

	if len(r.progress.Warnings) > 0 {
		if rec.Metadata == nil {
			rec.Metadata = map[string]any{}
		}
		rec.Metadata["warnings"] = append([]string(nil), r.progress.Warnings...)
		rec.Metadata["reconcile"] = true
	}
	return kindOf(workflow.ExecuteActivity(r.audits, act.RecordAudit, rec).Get(r.audits, nil))
}

// kindOf converts an activity failure into a classified saga error
func kindOf(err error) error {
	if err == nil {
		return nil
	}

	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		switch kind := saga.Kind(appErr.Type()); kind {
		case saga.KindNotFound, saga.KindUnavailable, saga.KindRejected, saga.KindConflict,
			saga.KindBadRequest, saga.KindGuardViolation, saga.KindAlreadyFinalized:
			return &saga.Error{Kind: kind, Message: appErr.Message()}
		}
		return saga.Errorf(saga.KindInternal, "%s", appErr.Message())
	}

	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		return saga.Errorf(saga.KindUnavailable, "downstream call timed out: %v", err)
	}
	return saga.Errorf(saga.KindInternal, "%v", err)
}

// rejected is the result of a request that failed validation
func rejected(orderID models.ID, err error) saga.Result {
	kind := saga.KindOf(err)
	return saga.Result{Error: err.Error(), Kind: kind, Retriable: kind.Retriable(), OrderID: orderID}
}
