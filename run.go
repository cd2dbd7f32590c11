package workflow

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// RunStatus is the lifecycle state of a run. Terminal statuses never
// transition again; attempting to do so fails with ErrInvalidTransition and
// is logged, never silently swallowed.
type RunStatus int

const (
	RunStatusUnknown   RunStatus = 0
	RunStatusRunning   RunStatus = 1
	RunStatusWaiting   RunStatus = 2
	RunStatusSucceeded RunStatus = 3
	RunStatusFailed    RunStatus = 4
	RunStatusCanceled  RunStatus = 5
	runStatusSentinel  RunStatus = 6
)

func (rs RunStatus) String() string {
	switch rs {
	case RunStatusUnknown:
		return "Unknown"
	case RunStatusRunning:
		return "Running"
	case RunStatusWaiting:
		return "Waiting"
	case RunStatusSucceeded:
		return "Succeeded"
	case RunStatusFailed:
		return "Failed"
	case RunStatusCanceled:
		return "Canceled"
	default:
		return fmt.Sprintf("RunStatus(%d)", rs)
	}
}

func (rs RunStatus) Valid() bool {
	return rs > RunStatusUnknown && rs < runStatusSentinel
}

func (rs RunStatus) Terminal() bool {
	switch rs {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCanceled:
		return true
	default:
		return false
	}
}

// Active reports whether the run counts towards a version's concurrency
// limit.
func (rs RunStatus) Active() bool {
	return rs == RunStatusRunning || rs == RunStatusWaiting
}

// runTransitions is the full transition table. Everything else is illegal.
var runTransitions = map[RunStatus][]RunStatus{
	RunStatusRunning: {RunStatusWaiting, RunStatusSucceeded, RunStatusFailed, RunStatusCanceled},
	RunStatusWaiting: {RunStatusRunning, RunStatusFailed, RunStatusCanceled},
}

func validTransition(from, to RunStatus) bool {
	for _, t := range runTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Run is one execution instance of a published workflow version. It owns an
// append-only step-execution log and at most one open Wait. Runs are never
// physically deleted; the history backs audit and dead-letter triage.
type Run struct {
	ID          string
	WorkflowID  string
	WorkflowKey string
	Version     int
	Status      RunStatus
	// TriggerPayload is the payload the run was started with, after schema
	// validation (or the raw payload for runs failed at validation).
	TriggerPayload map[string]any
	// Vars accumulates saveAs step outputs plus the definition's initial
	// vars.
	Vars           map[string]any
	CorrelationKey string
	// ParentRunID is set when the run was started by a control.callWorkflow
	// step of another run.
	ParentRunID string
	// MaxAttempts is the highest attempt count recorded on the run's
	// terminal step; the dead-letter view filters on it.
	MaxAttempts int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StepExecution is one record in a run's append-only execution log: step
// attempts, audit entries for operator calls, and validation failures. Prior
// records are never mutated or removed.
type StepExecution struct {
	RunID    string
	Seq      int
	StepPath string
	Kind     StepKind
	Attempt  int
	Input    map[string]any
	Output   any
	// ErrorMessage is set when the attempt failed; the run only fails once
	// the retry budget is exhausted.
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   time.Time
}

func (e *StepExecution) Failed() bool {
	return e.ErrorMessage != ""
}

func uuidString() (string, error) {
	uid, err := uuid.NewUUID()
	if err != nil {
		return "", err
	}
	return uid.String(), nil
}

// IdempotencyKey derives the key passed to action implementations so that
// re-invocation of the same (run, step path, attempt) triple does not
// re-apply side effects.
func IdempotencyKey(runID, stepPath string, attempt int) string {
	return runID + "/" + stepPath + "/" + strconv.Itoa(attempt)
}

// transitionRun validates and applies a status change on the in-memory run.
// Callers persist afterwards. The caller must hold the run's lock.
func (e *Engine) transitionRun(ctx context.Context, run *Run, to RunStatus) error {
	if !validTransition(run.Status, to) {
		err := errors.Wrap(ErrInvalidTransition, "", j.MKV{
			"run_id": run.ID,
			"from":   run.Status.String(),
			"to":     to.String(),
		})
		e.logger.Error(ctx, err)
		return err
	}

	run.Status = to
	run.UpdatedAt = e.clock.Now()
	return nil
}
