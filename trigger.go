package workflow

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/nine-minds/alga-workflow/expression"
	"github.com/nine-minds/alga-workflow/internal/metrics"
)

// Start creates a run of the given workflow version with the given trigger
// payload. Version 0 selects the latest published version. A payload failing
// the version's schema snapshot still creates the run, immediately FAILED
// with the validation error on its execution log, so the failure is
// observable in the run browser rather than lost.
func (e *Engine) Start(ctx context.Context, workflowKey string, version int, payload map[string]any) (*Run, error) {
	if !e.calledRun {
		return nil, errors.Wrap(ErrEngineNotRunning, "")
	}

	meta, err := e.store.LookupWorkflowByKey(ctx, workflowKey)
	if err != nil {
		return nil, err
	}

	ver, err := e.resolveVersion(ctx, meta.ID, version)
	if err != nil {
		return nil, err
	}

	return e.startRun(ctx, meta, ver, payload, startOptions{})
}

// resolveVersion looks up a specific version, or the latest published one
// when version is 0.
func (e *Engine) resolveVersion(ctx context.Context, workflowID string, version int) (*Version, error) {
	if version > 0 {
		return e.store.LookupVersion(ctx, workflowID, version)
	}

	versions, err := e.store.ListVersions(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, errors.Wrap(ErrVersionNotFound, "workflow has no published versions", j.MKV{
			"workflow_id": workflowID,
		})
	}

	latest := &versions[0]
	for i := range versions {
		if versions[i].Version > latest.Version {
			latest = &versions[i]
		}
	}
	return latest, nil
}

type startOptions struct {
	// runID pre-assigns the run ID so a parent can create its sub-workflow
	// wait before the child exists.
	runID       string
	parentRunID string
	// correlationKey overrides derivation from the trigger binding.
	correlationKey string
}

func (e *Engine) startRun(
	ctx context.Context,
	meta *WorkflowMeta,
	version *Version,
	payload map[string]any,
	opts startOptions,
) (*Run, error) {
	def := version.Definition

	if def.ConcurrencyLimit > 0 {
		active, err := e.store.CountActiveRuns(ctx, meta.ID, version.Version)
		if err != nil {
			return nil, err
		}
		if active >= def.ConcurrencyLimit {
			return nil, errors.Wrap(ErrConcurrencyLimit, "", j.MKV{
				"workflow_key": meta.Key,
				"version":      version.Version,
				"limit":        def.ConcurrencyLimit,
			})
		}
	}

	runID := opts.runID
	if runID == "" {
		var err error
		runID, err = uuidString()
		if err != nil {
			return nil, err
		}
	}

	vars := make(map[string]any, len(def.Vars))
	for k, v := range def.Vars {
		vars[k] = v
	}

	now := e.clock.Now()
	run := &Run{
		ID:             runID,
		WorkflowID:     meta.ID,
		WorkflowKey:    meta.Key,
		Version:        version.Version,
		Status:         RunStatusRunning,
		TriggerPayload: payload,
		Vars:           vars,
		CorrelationKey: opts.correlationKey,
		ParentRunID:    opts.parentRunID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	validationErr := e.validateTriggerPayload(version, payload)

	if validationErr == nil && run.CorrelationKey == "" && def.Trigger != nil && def.Trigger.CorrelationKeyExpr != "" {
		key, err := expression.Evaluate(def.Trigger.CorrelationKeyExpr, expression.Context{Payload: payload})
		if err != nil {
			validationErr = errors.Wrap(ErrEvaluation, err.Error(), j.MKV{
				"expr": def.Trigger.CorrelationKeyExpr,
			})
		} else {
			run.CorrelationKey = expression.Stringify(key)
		}
	}

	if validationErr != nil {
		run.Status = RunStatusFailed
		run.MaxAttempts = 1
	}

	err := e.store.CreateRun(ctx, run)
	if err != nil {
		return nil, err
	}
	metrics.RunsStarted.WithLabelValues(meta.Key).Inc()

	if validationErr != nil {
		err = e.store.AppendStepExecution(ctx, &StepExecution{
			RunID:        run.ID,
			StepPath:     "trigger",
			Kind:         StepKindAudit,
			Attempt:      1,
			Input:        map[string]any{"op": "start"},
			ErrorMessage: validationErr.Error(),
			StartedAt:    now,
			FinishedAt:   now,
		})
		if err != nil {
			return nil, err
		}
		e.recordRunFinished(run)
		e.logger.Debug(ctx, "run failed trigger validation", MKV{
			"run_id":       run.ID,
			"workflow_key": meta.Key,
		})
	}

	// Enqueue even a failed run: the advancer's terminal branch settles the
	// parent's sub-workflow wait when there is one.
	err = e.enqueueRun(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	return run, nil
}

func (e *Engine) validateTriggerPayload(version *Version, payload map[string]any) error {
	if version.PayloadSchemaSnapshot == nil {
		return nil
	}
	return validateAgainstSchema(payload, version.PayloadSchemaSnapshot)
}

// triggerRunsForEvent starts a run of every workflow whose latest published
// version binds its trigger to the event's name. Start failures are shed
// per workflow so one misconfigured binding does not block the others.
func (e *Engine) triggerRunsForEvent(ctx context.Context, ev *Event) error {
	workflows, err := e.store.ListWorkflows(ctx)
	if err != nil {
		return err
	}

	for i := range workflows {
		meta := &workflows[i]

		version, err := e.resolveVersion(ctx, meta.ID, 0)
		if errors.Is(err, ErrVersionNotFound) {
			// NoReturnErr: never-published workflows cannot be triggered.
			continue
		} else if err != nil {
			return err
		}

		trigger := version.Definition.Trigger
		if trigger == nil || trigger.EventName != ev.Name {
			continue
		}

		_, err = e.startRun(ctx, meta, version, ev.Payload, startOptions{
			correlationKey: ev.CorrelationKey,
		})
		if errors.Is(err, ErrConcurrencyLimit) {
			// NoReturnErr: the limit sheds triggered load for this workflow
			// only.
			e.logger.Debug(ctx, "trigger shed by concurrency limit", MKV{
				"workflow_key": meta.Key,
				"event_id":     ev.ID,
			})
			continue
		} else if err != nil {
			return err
		}
	}
	return nil
}
