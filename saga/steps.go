package saga

import (
	"errors"
	"fmt"
)

// FailurePolicy decides what a failed step does to the rest of the plan
type FailurePolicy int

const (
	// Abort stops the plan; later steps are not run.
	Abort FailurePolicy = iota
	// Continue records a warning and runs the next step. Used for steps whose
	// failure leaves a state that can be reconciled by hand.
	Continue
)

func (p FailurePolicy) String() string {
	if p == Continue {
		return "continue"
	}
	return "abort"
}

// StepStatus is the outcome of one step
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepNotRun    StepStatus = "not_run"
)

// ErrSkip is returned by a step that found nothing to do
var ErrSkip = errors.New("step skipped")

// Step is one downstream read, guard or write
type Step struct {
	Name      string
	OnFailure FailurePolicy
	Run       func() error
}

// Outcome records what happened to a step
type Outcome struct {
	Step   string     `json:"step"`
	Status StepStatus `json:"status"`
	Kind   Kind       `json:"kind,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// Report is the result of running a plan
type Report struct {
	Outcomes []Outcome `json:"outcomes"`
	Warnings []string  `json:"warnings,omitempty"`
	// Err is the failure of the aborting step, nil when the plan completed
	Err error `json:"-"`
}

// Succeeded reports whether the named step ran to completion
func (r Report) Succeeded(step string) bool {
	for _, o := range r.Outcomes {
		if o.Step == step {
			return o.Status == StepSucceeded
		}
	}
	return false
}

// Partial reports whether the plan completed with at least one failed step
func (r Report) Partial() bool {
	return r.Err == nil && len(r.Warnings) > 0
}

// Execute runs steps in order. A step failing under Abort stops the plan and
// marks the remaining steps not_run; under Continue the failure becomes a
// warning. observe, when set, sees every outcome as it is produced.
func Execute(steps []Step, observe func(Outcome)) Report {
	report := Report{Outcomes: make([]Outcome, 0, len(steps))}
	emit := func(o Outcome) {
		report.Outcomes = append(report.Outcomes, o)
		if observe != nil {
			observe(o)
		}
	}

	for i, step := range steps {
		err := step.Run()
		switch {
		case err == nil:
			emit(Outcome{Step: step.Name, Status: StepSucceeded})
			continue
		case errors.Is(err, ErrSkip):
			emit(Outcome{Step: step.Name, Status: StepSkipped})
			continue
		}

		emit(Outcome{Step: step.Name, Status: StepFailed, Kind: KindOf(err), Error: err.Error()})
		if step.OnFailure == Continue {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s failed: %v", step.Name, err))
			continue
		}

		report.Err = err
		for _, rest := range steps[i+1:] {
			emit(Outcome{Step: rest.Name, Status: StepNotRun})
		}
		break
	}
	return report
}
