package workflow

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// Operator calls mutate runs from outside the engine's own processing. Every
// call requires a reason of at least three characters and appends an audit
// record to the run's execution log before taking effect.

const minReasonLength = 3

func validReason(reason string) error {
	if len(reason) < minReasonLength {
		return errors.Wrap(ErrValidation, "operator reason must be at least 3 characters", j.MKV{
			"reason": reason,
		})
	}
	return nil
}

// Signal manually resolves a run's open wait with the given payload, as if a
// matching event had arrived. The run must be WAITING on an event wait.
func (e *Engine) Signal(ctx context.Context, runID string, payload map[string]any, reason string) error {
	if err := validReason(reason); err != nil {
		return err
	}

	wait, err := e.store.LookupOpenWait(ctx, runID)
	if err != nil {
		return err
	}
	if wait.Type != WaitTypeEvent {
		return errors.Wrap(ErrValidation, "run is not waiting on an event", j.MKV{
			"run_id":    runID,
			"wait_type": wait.Type.String(),
		})
	}

	err = e.store.ResolveWait(ctx, wait.ID, WaitStatusResolved, payload)
	if err != nil {
		return err
	}

	err = e.appendAudit(ctx, runID, "signal", reason)
	if err != nil {
		return err
	}

	return e.completeWait(ctx, *wait, payload)
}

// Resume replays a FAILED run from its failed step. The resume audit record
// resets the failure bookkeeping, so the replay re-executes the failed step
// with a fresh retry budget while completed steps stay completed. This is
// the one sanctioned exception to terminal-status immutability and exists
// for dead-letter triage.
func (e *Engine) Resume(ctx context.Context, runID string, reason string) error {
	if err := validReason(reason); err != nil {
		return err
	}

	e.runLocks.Lock(runID)
	defer e.runLocks.Unlock(runID)

	run, err := e.store.LookupRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != RunStatusFailed {
		return errors.Wrap(ErrInvalidTransition, "only failed runs can be resumed", j.MKV{
			"run_id": runID,
			"status": run.Status.String(),
		})
	}

	err = e.appendAudit(ctx, runID, "resume", reason)
	if err != nil {
		return err
	}

	run.Status = RunStatusRunning
	run.MaxAttempts = 0
	run.UpdatedAt = e.clock.Now()
	err = e.store.UpdateRun(ctx, run)
	if err != nil {
		return err
	}

	e.logger.Debug(ctx, "run resumed by operator", MKV{
		"run_id": runID,
		"reason": reason,
	})

	return e.enqueueRun(ctx, runID)
}

// Cancel terminates an active run. Cancellation is cooperative: in-flight
// step executions finish, but no further step starts and later wait
// resolutions are dropped. An open wait is closed so it can no longer match
// events.
func (e *Engine) Cancel(ctx context.Context, runID string, reason string) error {
	if err := validReason(reason); err != nil {
		return err
	}

	e.runLocks.Lock(runID)
	defer e.runLocks.Unlock(runID)

	run, err := e.store.LookupRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return errors.Wrap(ErrInvalidTransition, "run already terminal", j.MKV{
			"run_id": runID,
			"status": run.Status.String(),
		})
	}

	err = e.appendAudit(ctx, runID, "cancel", reason)
	if err != nil {
		return err
	}

	wait, err := e.store.LookupOpenWait(ctx, runID)
	if err == nil {
		err = e.store.ResolveWait(ctx, wait.ID, WaitStatusResolved, nil)
		if errors.Is(err, ErrWaitAlreadyResolved) {
			// NoReturnErr: a concurrent resolution lost to the cancel; its
			// resume will see the terminal run and drop.
		} else if err != nil {
			return err
		}
	} else if !errors.Is(err, ErrWaitNotFound) {
		return err
	}

	err = e.finishRun(ctx, run, RunStatusCanceled)
	if err != nil {
		return err
	}

	e.logger.Debug(ctx, "run canceled by operator", MKV{
		"run_id": runID,
		"reason": reason,
	})
	return nil
}

func (e *Engine) appendAudit(ctx context.Context, runID, op, reason string) error {
	now := e.clock.Now()
	return e.store.AppendStepExecution(ctx, &StepExecution{
		RunID:      runID,
		StepPath:   "operator",
		Kind:       StepKindAudit,
		Attempt:    1,
		Input:      map[string]any{"op": op, "reason": reason},
		StartedAt:  now,
		FinishedAt: now,
	})
}
