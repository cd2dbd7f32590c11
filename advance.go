package workflow

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/nine-minds/alga-workflow/expression"
	"github.com/nine-minds/alga-workflow/internal/metrics"
)

// Advance executes the next unexecuted step of the run, under the per-run
// lock. A run in a terminal status no-ops: cancellation is cooperative and
// observed here. Step execution is idempotent per (run_id, step_path,
// attempt); a completed step is never re-executed and produces no duplicate
// log entry.
func (e *Engine) Advance(ctx context.Context, runID string) error {
	_, _, err := e.advanceOnce(ctx, runID)
	return err
}

// advanceUntilBlocked drives a run forward until it waits, terminates or
// schedules a retry. Retry delays are honoured with the injected clock so
// they remain testable.
func (e *Engine) advanceUntilBlocked(ctx context.Context, runID string) error {
	for {
		more, delay, err := e.advanceOnce(ctx, runID)
		if err != nil {
			return err
		}
		if delay > 0 {
			err = e.sleep(ctx, delay)
			if err != nil {
				return err
			}
			continue
		}
		if !more {
			return nil
		}
	}
}

func (e *Engine) advanceOnce(ctx context.Context, runID string) (more bool, retryIn time.Duration, err error) {
	e.runLocks.Lock(runID)
	defer e.runLocks.Unlock(runID)

	run, err := e.store.LookupRun(ctx, runID)
	if err != nil {
		return false, 0, err
	}

	if run.Status.Terminal() {
		// Nothing left to execute. A just-terminated child still owes its
		// parent a wait resolution, which is idempotent.
		return false, 0, e.notifyParent(ctx, run)
	}
	if run.Status == RunStatusWaiting {
		return false, 0, nil
	}

	version, err := e.store.LookupVersion(ctx, run.WorkflowID, run.Version)
	if err != nil {
		return false, 0, err
	}

	execs, err := e.store.ListStepExecutions(ctx, run.ID)
	if err != nil {
		return false, 0, err
	}
	prog := buildProgress(execs)

	next, err := e.findNext(version.Definition.Steps, "steps", prog, stepScope{})
	if err != nil {
		return false, 0, err
	}

	if next == nil {
		err = e.finishRun(ctx, run, RunStatusSucceeded)
		if err != nil {
			return false, 0, err
		}
		return false, 0, nil
	}

	return e.executeStep(ctx, run, version, prog, next)
}

// stepScope carries loop-variable bindings and, inside a catch scope, the
// error context that exposes the 'error' expression root.
type stepScope struct {
	vars   map[string]any
	errCtx map[string]any
}

func (s stepScope) withLoopVar(step *Step, item any, index int) stepScope {
	vars := make(map[string]any, len(s.vars)+2)
	for k, v := range s.vars {
		vars[k] = v
	}
	if step.ItemVar != "" {
		vars[step.ItemVar] = item
	}
	if step.IndexVar != "" {
		vars[step.IndexVar] = float64(index)
	}
	return stepScope{vars: vars, errCtx: s.errCtx}
}

type pendingStep struct {
	path  string
	step  *Step
	scope stepScope
}

// runProgress is the replay view of the append-only execution log:
// completions per step path, failed-attempt counts and the latest failure
// per path. An operator resume audit record resets the failure bookkeeping
// so dead-lettered runs can be replayed from their failed step.
type runProgress struct {
	completions map[string]*StepExecution
	attempts    map[string]int
	lastFailure map[string]*StepExecution
}

func buildProgress(execs []StepExecution) *runProgress {
	prog := &runProgress{
		completions: make(map[string]*StepExecution),
		attempts:    make(map[string]int),
		lastFailure: make(map[string]*StepExecution),
	}

	for i := range execs {
		exec := &execs[i]
		if exec.Kind == StepKindAudit {
			if op, _ := exec.Input["op"].(string); op == "resume" {
				prog.attempts = make(map[string]int)
				prog.lastFailure = make(map[string]*StepExecution)
			}
			continue
		}

		if exec.Failed() {
			// A single record may account for several attempts: deterministic
			// failures are stamped with the full budget at once.
			n := prog.attempts[exec.StepPath] + 1
			if exec.Attempt > n {
				n = exec.Attempt
			}
			prog.attempts[exec.StepPath] = n
			prog.lastFailure[exec.StepPath] = exec
			continue
		}
		prog.completions[exec.StepPath] = exec
	}
	return prog
}

// findNext walks the step tree in execution order and returns the first
// step without a completion record. Branch choices and loop collections are
// read back from recorded outputs so replay is deterministic.
func (e *Engine) findNext(steps []Step, base string, prog *runProgress, scope stepScope) (*pendingStep, error) {
	for i := range steps {
		step := &steps[i]
		path := fmt.Sprintf("%s[%d]", base, i)
		comp := prog.completions[path]

		switch step.Kind {
		case StepKindAction:
			if comp != nil {
				continue
			}
			policy := e.effectiveRetry(step)
			if prog.attempts[path] >= policy.MaxAttempts {
				// Retry budget exhausted. With a catch scope the failure is
				// handled inline; without one the run is already FAILED.
				if len(step.Catch) == 0 {
					continue
				}
				failure := prog.lastFailure[path]
				catchScope := scope
				catchScope.errCtx = map[string]any{
					"message":  failure.ErrorMessage,
					"stepPath": path,
					"attempt":  float64(failure.Attempt),
				}
				next, err := e.findNext(step.Catch, path+".catch", prog, catchScope)
				if next != nil || err != nil {
					return next, err
				}
				continue
			}
			return &pendingStep{path: path, step: step, scope: scope}, nil

		case StepKindCondition:
			if comp == nil {
				return &pendingStep{path: path, step: step, scope: scope}, nil
			}
			branchSteps := step.Then
			branchPath := path + ".then"
			if branch, _ := outputMap(comp.Output)["branch"].(string); branch == "else" {
				branchSteps = step.Else
				branchPath = path + ".else"
			}
			next, err := e.findNext(branchSteps, branchPath, prog, scope)
			if next != nil || err != nil {
				return next, err
			}

		case StepKindForEach:
			if comp == nil {
				return &pendingStep{path: path, step: step, scope: scope}, nil
			}
			items, _ := outputMap(comp.Output)["items"].([]any)
			for j, item := range items {
				iterBase := fmt.Sprintf("%s.body.%d", path, j)
				next, err := e.findNext(step.Body, iterBase, prog, scope.withLoopVar(step, item, j))
				if next != nil || err != nil {
					return next, err
				}
			}

		case StepKindCallWorkflow, StepKindWaitForEvent, StepKindWaitForTimer:
			// The completion record for these is appended when their wait
			// resolves.
			if comp == nil {
				return &pendingStep{path: path, step: step, scope: scope}, nil
			}

		default:
			return nil, errors.Wrap(ErrValidation, "unknown step kind in published definition", j.MKV{
				"kind": string(step.Kind),
				"path": path,
			})
		}
	}
	return nil, nil
}

func outputMap(output any) map[string]any {
	m, _ := output.(map[string]any)
	return m
}

func (e *Engine) executeStep(
	ctx context.Context,
	run *Run,
	version *Version,
	prog *runProgress,
	next *pendingStep,
) (more bool, retryIn time.Duration, err error) {
	ectx := expression.Context{
		Payload: run.TriggerPayload,
		Vars:    run.Vars,
		Meta: map[string]any{
			"runId":       run.ID,
			"workflowId":  run.WorkflowID,
			"workflowKey": run.WorkflowKey,
			"version":     float64(run.Version),
			"stepPath":    next.path,
		},
		Error:     next.scope.errCtx,
		ScopeVars: next.scope.vars,
	}

	switch next.step.Kind {
	case StepKindAction:
		return e.executeAction(ctx, run, prog, next, ectx)
	case StepKindCondition:
		return e.executeCondition(ctx, run, next, ectx)
	case StepKindForEach:
		return e.executeForEach(ctx, run, next, ectx)
	case StepKindWaitForEvent:
		return e.executeWaitForEvent(ctx, run, next, ectx)
	case StepKindWaitForTimer:
		return e.executeWaitForTimer(ctx, run, next)
	case StepKindCallWorkflow:
		return e.executeCallWorkflow(ctx, run, next, ectx)
	}

	return false, 0, errors.Wrap(ErrValidation, "unexecutable step kind", j.MKV{"kind": string(next.step.Kind)})
}

func (e *Engine) executeAction(
	ctx context.Context,
	run *Run,
	prog *runProgress,
	next *pendingStep,
	ectx expression.Context,
) (bool, time.Duration, error) {
	step := next.step
	policy := e.effectiveRetry(step)
	attempt := prog.attempts[next.path] + 1
	started := e.clock.Now()

	input, err := resolveMapping(step.Input, ectx)
	if err != nil {
		// Expression failures are deterministic; retrying cannot help, so
		// the budget is treated as exhausted immediately.
		return e.failStep(ctx, run, next, policy.MaxAttempts, nil, errors.Wrap(ErrEvaluation, err.Error()))
	}
	inputObj, _ := input.(map[string]any)

	fn, ok := e.actions.Resolve(step.ActionType)
	if !ok {
		// Publish validates action types; losing one at run time is an
		// engine configuration error, not a retryable action failure.
		return e.failStep(ctx, run, next, policy.MaxAttempts, inputObj, errors.Wrap(ErrValidation, "action type not registered", j.MKV{
			"action_type": step.ActionType,
		}))
	}

	output, err := fn(ctx, IdempotencyKey(run.ID, next.path, attempt), inputObj)
	metrics.StepLatency.WithLabelValues(run.WorkflowKey, string(step.Kind)).Observe(e.clock.Since(started).Seconds())
	if err != nil {
		metrics.StepErrors.WithLabelValues(run.WorkflowKey, string(step.Kind)).Inc()
		actionErr := errors.Wrap(ErrAction, err.Error(), j.MKV{"action_type": step.ActionType})

		if attempt < policy.MaxAttempts {
			execErr := e.appendExecution(ctx, run, &StepExecution{
				RunID:        run.ID,
				StepPath:     next.path,
				Kind:         step.Kind,
				Attempt:      attempt,
				Input:        inputObj,
				ErrorMessage: actionErr.Error(),
				StartedAt:    started,
			})
			if execErr != nil {
				return false, 0, execErr
			}
			err = e.store.UpdateRun(ctx, run)
			if err != nil {
				return false, 0, err
			}
			return false, backoffDelay(policy, attempt), nil
		}

		return e.failStep(ctx, run, next, attempt, inputObj, actionErr)
	}

	err = e.appendExecution(ctx, run, &StepExecution{
		RunID:     run.ID,
		StepPath:  next.path,
		Kind:      step.Kind,
		Attempt:   attempt,
		Input:     inputObj,
		Output:    output,
		StartedAt: started,
	})
	if err != nil {
		return false, 0, err
	}

	e.saveOutput(run, step, output)
	err = e.store.UpdateRun(ctx, run)
	if err != nil {
		return false, 0, err
	}

	return true, 0, nil
}

// failStep records the terminal failure of a step. With a catch scope the
// run keeps running and the next advance descends into it; otherwise the
// run transitions to FAILED and becomes dead-letter eligible.
func (e *Engine) failStep(
	ctx context.Context,
	run *Run,
	next *pendingStep,
	attempt int,
	input map[string]any,
	cause error,
) (bool, time.Duration, error) {
	err := e.appendExecution(ctx, run, &StepExecution{
		RunID:        run.ID,
		StepPath:     next.path,
		Kind:         next.step.Kind,
		Attempt:      attempt,
		Input:        input,
		ErrorMessage: cause.Error(),
	})
	if err != nil {
		return false, 0, err
	}

	if next.step.Kind == StepKindAction && len(next.step.Catch) > 0 {
		err = e.store.UpdateRun(ctx, run)
		if err != nil {
			return false, 0, err
		}
		return true, 0, nil
	}

	err = e.finishRun(ctx, run, RunStatusFailed)
	if err != nil {
		return false, 0, err
	}

	e.logger.Debug(ctx, "run failed", MKV{
		"run_id":    run.ID,
		"step_path": next.path,
		"attempt":   strconv.Itoa(attempt),
	})
	return false, 0, nil
}

func (e *Engine) executeCondition(
	ctx context.Context,
	run *Run,
	next *pendingStep,
	ectx expression.Context,
) (bool, time.Duration, error) {
	result, err := expression.Evaluate(next.step.Condition, ectx)
	if err != nil {
		return e.failStep(ctx, run, next, 1, nil, errors.Wrap(ErrEvaluation, err.Error()))
	}

	branch := "else"
	if expression.Truthy(result) {
		branch = "then"
	}

	err = e.appendExecution(ctx, run, &StepExecution{
		RunID:    run.ID,
		StepPath: next.path,
		Kind:     next.step.Kind,
		Attempt:  1,
		Output:   map[string]any{"branch": branch},
	})
	if err != nil {
		return false, 0, err
	}
	err = e.store.UpdateRun(ctx, run)
	if err != nil {
		return false, 0, err
	}
	return true, 0, nil
}

func (e *Engine) executeForEach(
	ctx context.Context,
	run *Run,
	next *pendingStep,
	ectx expression.Context,
) (bool, time.Duration, error) {
	value, err := expression.Evaluate(next.step.Items, ectx)
	if err != nil {
		return e.failStep(ctx, run, next, 1, nil, errors.Wrap(ErrEvaluation, err.Error()))
	}
	items, ok := value.([]any)
	if !ok && value != nil {
		return e.failStep(ctx, run, next, 1, nil, errors.Wrap(ErrEvaluation, "forEach items must evaluate to an array"))
	}

	// The collection is snapshotted in the output so later replays iterate
	// the exact same items regardless of how vars change.
	err = e.appendExecution(ctx, run, &StepExecution{
		RunID:    run.ID,
		StepPath: next.path,
		Kind:     next.step.Kind,
		Attempt:  1,
		Output:   map[string]any{"items": items, "count": float64(len(items))},
	})
	if err != nil {
		return false, 0, err
	}
	err = e.store.UpdateRun(ctx, run)
	if err != nil {
		return false, 0, err
	}
	return true, 0, nil
}

func (e *Engine) executeWaitForEvent(
	ctx context.Context,
	run *Run,
	next *pendingStep,
	ectx expression.Context,
) (bool, time.Duration, error) {
	correlationKey := run.CorrelationKey
	if next.step.CorrelationKeyExpr != "" {
		v, err := expression.Evaluate(next.step.CorrelationKeyExpr, ectx)
		if err != nil {
			return e.failStep(ctx, run, next, 1, nil, errors.Wrap(ErrEvaluation, err.Error()))
		}
		correlationKey = expression.Stringify(v)
	}

	wait := &Wait{
		RunID:          run.ID,
		Type:           WaitTypeEvent,
		StepPath:       next.path,
		EventName:      next.step.EventName,
		CorrelationKey: correlationKey,
	}
	if next.step.TimeoutMillis > 0 {
		wait.TimeoutAt = e.clock.Now().Add(time.Duration(next.step.TimeoutMillis) * time.Millisecond)
	}

	return false, 0, e.suspendOnWait(ctx, run, wait)
}

func (e *Engine) executeWaitForTimer(ctx context.Context, run *Run, next *pendingStep) (bool, time.Duration, error) {
	wait := &Wait{
		RunID:     run.ID,
		Type:      WaitTypeTimer,
		StepPath:  next.path,
		TimeoutAt: e.clock.Now().Add(time.Duration(next.step.TimeoutMillis) * time.Millisecond),
	}
	return false, 0, e.suspendOnWait(ctx, run, wait)
}

func (e *Engine) executeCallWorkflow(
	ctx context.Context,
	run *Run,
	next *pendingStep,
	ectx expression.Context,
) (bool, time.Duration, error) {
	step := next.step

	child, err := e.store.LookupWorkflowByKey(ctx, step.WorkflowKey)
	if err != nil {
		return false, 0, err
	}
	childVersion, err := e.store.LookupVersion(ctx, child.ID, step.WorkflowVersion)
	if err != nil {
		return false, 0, err
	}

	limit := childVersion.Definition.ConcurrencyLimit
	if limit > 0 {
		active, err := e.store.CountActiveRuns(ctx, child.ID, childVersion.Version)
		if err != nil {
			return false, 0, err
		}
		if active >= limit {
			// Back off and try to start the child again later.
			return false, backoffDelay(e.opts.defaultRetry, 1), nil
		}
	}

	input, err := resolveMapping(step.Input, ectx)
	if err != nil {
		return e.failStep(ctx, run, next, 1, nil, errors.Wrap(ErrEvaluation, err.Error()))
	}
	payload, _ := input.(map[string]any)

	childRunID, err := uuidString()
	if err != nil {
		return false, 0, err
	}

	// The wait is created before the child starts so that a child failing
	// instantly (e.g. payload validation) still resolves it.
	wait := &Wait{
		RunID:      run.ID,
		Type:       WaitTypeSubWorkflow,
		StepPath:   next.path,
		ChildRunID: childRunID,
	}
	err = e.suspendOnWait(ctx, run, wait)
	if err != nil {
		return false, 0, err
	}

	_, err = e.startRun(ctx, child, childVersion, payload, startOptions{
		runID:       childRunID,
		parentRunID: run.ID,
	})
	if errors.Is(err, ErrConcurrencyLimit) {
		// Lost the pre-check race; surface the stall to operators via the
		// resolved wait rather than leaving the parent stuck. The caller
		// already holds the parent's run lock.
		payload := map[string]any{
			"status": "StartFailed",
			"error":  err.Error(),
		}
		resolveErr := e.store.ResolveWait(ctx, wait.ID, WaitStatusResolved, payload)
		if resolveErr != nil {
			return false, 0, resolveErr
		}
		return false, 0, e.completeWaitLocked(ctx, *wait, payload)
	} else if err != nil {
		return false, 0, err
	}

	return false, 0, nil
}

// suspendOnWait persists the wait and moves the run to WAITING. The caller
// must hold the run's lock. A run only ever holds one open wait: the walker
// cannot reach a second wait step while the first is unresolved.
func (e *Engine) suspendOnWait(ctx context.Context, run *Run, wait *Wait) error {
	id, err := uuidString()
	if err != nil {
		return err
	}
	wait.ID = id
	wait.Status = WaitStatusOpen
	wait.CreatedAt = e.clock.Now()

	err = e.store.CreateWait(ctx, wait)
	if err != nil {
		return err
	}

	err = e.transitionRun(ctx, run, RunStatusWaiting)
	if err != nil {
		return err
	}
	return e.store.UpdateRun(ctx, run)
}

// completeWait appends the completion record for a resolved wait's step and
// resumes the run. Called by the correlation engine, the timer poller and
// child-run completion.
func (e *Engine) completeWait(ctx context.Context, w Wait, payload map[string]any) error {
	e.runLocks.Lock(w.RunID)
	defer e.runLocks.Unlock(w.RunID)

	return e.completeWaitLocked(ctx, w, payload)
}

// completeWaitLocked is completeWait for callers already holding the run's
// lock. The lock is not reentrant, so code inside an advance of the same run
// must use this variant.
func (e *Engine) completeWaitLocked(ctx context.Context, w Wait, payload map[string]any) error {
	run, err := e.store.LookupRun(ctx, w.RunID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		// Cooperative cancellation: the resolution is dropped.
		return nil
	}

	version, err := e.store.LookupVersion(ctx, run.WorkflowID, run.Version)
	if err != nil {
		return err
	}

	kind := StepKindWaitForEvent
	switch w.Type {
	case WaitTypeTimer:
		kind = StepKindWaitForTimer
	case WaitTypeSubWorkflow:
		kind = StepKindCallWorkflow
	}

	var output any
	if payload != nil {
		output = payload
	} else {
		output = map[string]any{}
	}

	err = e.appendExecution(ctx, run, &StepExecution{
		RunID:    run.ID,
		StepPath: w.StepPath,
		Kind:     kind,
		Attempt:  1,
		Output:   output,
	})
	if err != nil {
		return err
	}

	if step, ok := stepByPath(version.Definition.Steps, w.StepPath); ok {
		e.saveOutput(run, step, output)
	}

	err = e.transitionRun(ctx, run, RunStatusRunning)
	if err != nil {
		return err
	}
	err = e.store.UpdateRun(ctx, run)
	if err != nil {
		return err
	}

	return e.enqueueRun(ctx, run.ID)
}

// finishRun transitions to a terminal status, persists and resolves the
// parent's sub-workflow wait when there is one. Caller holds the run lock.
func (e *Engine) finishRun(ctx context.Context, run *Run, to RunStatus) error {
	err := e.transitionRun(ctx, run, to)
	if err != nil {
		return err
	}
	err = e.store.UpdateRun(ctx, run)
	if err != nil {
		return err
	}
	e.recordRunFinished(run)
	return e.notifyParent(ctx, run)
}

// notifyParent resolves the parent's sub-workflow wait for a terminated
// child. Idempotent: once the wait is resolved further calls no-op.
func (e *Engine) notifyParent(ctx context.Context, child *Run) error {
	if child.ParentRunID == "" {
		return nil
	}

	wait, err := e.store.LookupOpenWait(ctx, child.ParentRunID)
	if errors.Is(err, ErrWaitNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	if wait.Type != WaitTypeSubWorkflow || wait.ChildRunID != child.ID {
		return nil
	}

	payload := map[string]any{
		"status": child.Status.String(),
		"vars":   child.Vars,
	}

	err = e.store.ResolveWait(ctx, wait.ID, WaitStatusResolved, payload)
	if errors.Is(err, ErrWaitAlreadyResolved) {
		return nil
	} else if err != nil {
		return err
	}

	return e.completeWait(ctx, *wait, payload)
}

// appendExecution stamps clock times and updates the run's terminal attempt
// high-water mark used by the dead-letter view.
func (e *Engine) appendExecution(ctx context.Context, run *Run, exec *StepExecution) error {
	if exec.StartedAt.IsZero() {
		exec.StartedAt = e.clock.Now()
	}
	exec.FinishedAt = e.clock.Now()

	err := e.store.AppendStepExecution(ctx, exec)
	if err != nil {
		return err
	}

	if exec.Attempt > run.MaxAttempts {
		run.MaxAttempts = exec.Attempt
	}
	return nil
}

func (e *Engine) saveOutput(run *Run, step *Step, output any) {
	if step.SaveAs == "" {
		return
	}
	if run.Vars == nil {
		run.Vars = make(map[string]any)
	}
	run.Vars[step.SaveAs] = output
}

// resolveMapping walks an input-mapping value, evaluating {"$expr": "..."}
// objects against the run context and recursing through containers.
func resolveMapping(value any, ectx expression.Context) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		if len(v) == 1 {
			if raw, ok := v["$expr"].(string); ok {
				return expression.Evaluate(raw, ectx)
			}
		}
		out := make(map[string]any, len(v))
		for k, nested := range v {
			resolved, err := resolveMapping(nested, ectx)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, nested := range v {
			resolved, err := resolveMapping(nested, ectx)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

// stepByPath resolves a step-execution path like
// "steps[1].then[0].body.3[2]" back to its definition step.
func stepByPath(steps []Step, path string) (*Step, bool) {
	rest := path
	current := steps
	var step *Step

	for rest != "" {
		open := -1
		for i := 0; i < len(rest); i++ {
			if rest[i] == '[' {
				open = i
				break
			}
		}
		if open < 0 {
			return nil, false
		}
		closeIdx := -1
		for i := open; i < len(rest); i++ {
			if rest[i] == ']' {
				closeIdx = i
				break
			}
		}
		if closeIdx < 0 {
			return nil, false
		}

		idx, err := strconv.Atoi(rest[open+1 : closeIdx])
		if err != nil || idx < 0 || idx >= len(current) {
			return nil, false
		}
		step = &current[idx]
		rest = rest[closeIdx+1:]

		if rest == "" {
			return step, true
		}

		switch {
		case hasPrefix(rest, ".then"):
			current = step.Then
			rest = rest[len(".then"):]
		case hasPrefix(rest, ".else"):
			current = step.Else
			rest = rest[len(".else"):]
		case hasPrefix(rest, ".catch"):
			current = step.Catch
			rest = rest[len(".catch"):]
		case hasPrefix(rest, ".body."):
			// Skip the iteration index; the body list is shared.
			current = step.Body
			rest = rest[len(".body."):]
			for rest != "" && rest[0] != '[' {
				rest = rest[1:]
			}
		default:
			return nil, false
		}
	}
	return step, step != nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
