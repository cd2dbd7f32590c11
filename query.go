package workflow

import (
	"context"

	"github.com/luno/jettison/errors"
)

// The read surface backing the operations UI: workflow browsing, run
// inspection and event history. All calls are read-only pass-throughs over
// the store with derived detail assembled here.

func (e *Engine) Workflow(ctx context.Context, workflowID string) (*WorkflowMeta, error) {
	return e.store.LookupWorkflow(ctx, workflowID)
}

func (e *Engine) WorkflowByKey(ctx context.Context, key string) (*WorkflowMeta, error) {
	return e.store.LookupWorkflowByKey(ctx, key)
}

func (e *Engine) Workflows(ctx context.Context) ([]WorkflowMeta, error) {
	return e.store.ListWorkflows(ctx)
}

func (e *Engine) Draft(ctx context.Context, workflowID string) (*Draft, error) {
	return e.store.LookupDraft(ctx, workflowID)
}

func (e *Engine) Version(ctx context.Context, workflowID string, version int) (*Version, error) {
	return e.resolveVersion(ctx, workflowID, version)
}

func (e *Engine) Versions(ctx context.Context, workflowID string) ([]Version, error) {
	return e.store.ListVersions(ctx, workflowID)
}

func (e *Engine) Runs(ctx context.Context, filter RunFilter) ([]Run, error) {
	return e.store.ListRuns(ctx, filter)
}

// RunDetail is a run with its full execution log and open wait, if any.
type RunDetail struct {
	Run        Run
	Executions []StepExecution
	OpenWait   *Wait
}

func (e *Engine) RunByID(ctx context.Context, runID string) (*RunDetail, error) {
	run, err := e.store.LookupRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	execs, err := e.store.ListStepExecutions(ctx, runID)
	if err != nil {
		return nil, err
	}

	detail := &RunDetail{Run: *run, Executions: execs}

	wait, err := e.store.LookupOpenWait(ctx, runID)
	if err == nil {
		detail.OpenWait = wait
	} else if !errors.Is(err, ErrWaitNotFound) {
		return nil, err
	}

	return detail, nil
}

// RunSummary returns per-status run counts for a workflow across all
// versions.
func (e *Engine) RunSummary(ctx context.Context, workflowID string) (map[RunStatus]int64, error) {
	return e.store.CountRunsByStatus(ctx, workflowID)
}

func (e *Engine) Events(ctx context.Context, filter EventFilter) ([]Event, error) {
	return e.store.ListEvents(ctx, filter)
}

func (e *Engine) EventByID(ctx context.Context, eventID string) (*Event, error) {
	return e.store.LookupEvent(ctx, eventID)
}
