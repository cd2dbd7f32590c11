package workflow_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/stretchr/testify/require"

	workflow "github.com/nine-minds/alga-workflow"
	"github.com/nine-minds/alga-workflow/adapters/memstore"
	"github.com/nine-minds/alga-workflow/adapters/memstreamer"
)

func TestCallWorkflow(t *testing.T) {
	e := newTestEngine(t, map[string]workflow.ActionFunc{
		"child.work": func(ctx context.Context, key string, input map[string]any) (any, error) {
			return map[string]any{"handled": input["ticket"]}, nil
		},
	})
	ctx := context.Background()

	publishWorkflow(t, e, "sample.child", workflow.Definition{
		Steps: []workflow.Step{
			{
				ID: "work", Kind: workflow.StepKindAction, ActionType: "child.work",
				Input:  map[string]any{"ticket": map[string]any{"$expr": "payload.ticketId"}},
				SaveAs: "result",
			},
		},
	})

	publishWorkflow(t, e, "sample.parent", workflow.Definition{
		Steps: []workflow.Step{
			{
				ID: "delegate", Kind: workflow.StepKindCallWorkflow,
				WorkflowKey:     "sample.child",
				WorkflowVersion: 1,
				Input:           map[string]any{"ticketId": map[string]any{"$expr": "payload.id"}},
				SaveAs:          "child",
			},
		},
	})

	parent, err := e.Start(ctx, "sample.parent", 0, map[string]any{"id": "T-3"})
	require.NoError(t, err)
	final := awaitStatus(t, e, parent.ID, workflow.RunStatusSucceeded)

	child, ok := final.Vars["child"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "Succeeded", child["status"])
	childVars, ok := child["vars"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, map[string]any{"handled": "T-3"}, childVars["result"])

	// The child run is a first-class run linked back to its parent.
	childMeta, err := e.WorkflowByKey(ctx, "sample.child")
	require.NoError(t, err)
	childRuns, err := e.Runs(ctx, workflow.RunFilter{WorkflowID: childMeta.ID})
	require.NoError(t, err)
	require.Len(t, childRuns, 1)
	require.Equal(t, parent.ID, childRuns[0].ParentRunID)
	require.Equal(t, map[string]any{"ticketId": "T-3"}, childRuns[0].TriggerPayload)
	require.Equal(t, workflow.RunStatusSucceeded, childRuns[0].Status)

	detail, err := e.RunByID(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, detail.Executions, 1)
	require.Equal(t, "steps[0]", detail.Executions[0].StepPath)
	require.Equal(t, workflow.StepKindCallWorkflow, detail.Executions[0].Kind)
}

func TestCallWorkflowChildFailure(t *testing.T) {
	e := newTestEngine(t, map[string]workflow.ActionFunc{
		"child.fails": func(ctx context.Context, key string, input map[string]any) (any, error) {
			return nil, errors.New("child broke")
		},
		"parent.after": func(ctx context.Context, key string, input map[string]any) (any, error) {
			return input, nil
		},
	})
	ctx := context.Background()

	publishWorkflow(t, e, "sample.fragile-child", workflow.Definition{
		Steps: []workflow.Step{
			{ID: "boom", Kind: workflow.StepKindAction, ActionType: "child.fails"},
		},
	})

	// The parent observes the child's outcome as data, not as its own
	// failure: a condition routes on it.
	publishWorkflow(t, e, "sample.observer", workflow.Definition{
		Steps: []workflow.Step{
			{
				ID: "delegate", Kind: workflow.StepKindCallWorkflow,
				WorkflowKey:     "sample.fragile-child",
				WorkflowVersion: 1,
				SaveAs:          "child",
			},
			{
				ID: "route", Kind: workflow.StepKindCondition,
				Condition: "vars.child.status == 'Succeeded'",
				Else: []workflow.Step{
					{
						ID: "note", Kind: workflow.StepKindAction, ActionType: "parent.after",
						Input:  map[string]any{"childStatus": map[string]any{"$expr": "vars.child.status"}},
						SaveAs: "note",
					},
				},
			},
		},
	})

	parent, err := e.Start(ctx, "sample.observer", 0, nil)
	require.NoError(t, err)
	final := awaitStatus(t, e, parent.ID, workflow.RunStatusSucceeded)

	note, ok := final.Vars["note"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "Failed", note["childStatus"])
}

// undercountStore reports zero active runs once when armed, so the
// callWorkflow pre-check passes and the child start itself hits the limit.
type undercountStore struct {
	workflow.Store
	lie int32
}

func (s *undercountStore) CountActiveRuns(ctx context.Context, workflowID string, version int) (int, error) {
	if atomic.CompareAndSwapInt32(&s.lie, 1, 0) {
		return 0, nil
	}
	return s.Store.CountActiveRuns(ctx, workflowID, version)
}

func TestCallWorkflowLostConcurrencyRace(t *testing.T) {
	store := &undercountStore{Store: memstore.New()}
	e := workflow.New(
		store,
		memstreamer.New(),
		&workflow.StaticActionRegistry{Actions: noopActions()},
		testCatalog(),
		workflow.WithPollingFrequency(time.Millisecond),
		workflow.WithErrBackOff(time.Millisecond),
		workflow.WithDefaultRetry(workflow.RetryPolicy{
			MaxAttempts:    2,
			Backoff:        workflow.BackoffFixed,
			IntervalMillis: 1,
		}),
	)
	e.Run(context.Background())
	t.Cleanup(e.Stop)
	ctx := context.Background()

	publishWorkflow(t, e, "sample.busy-child", workflow.Definition{
		ConcurrencyLimit: 1,
		Steps: []workflow.Step{
			{
				ID: "gate", Kind: workflow.StepKindWaitForEvent,
				EventName:          "gate.open",
				CorrelationKeyExpr: "payload.id",
			},
		},
	})
	publishWorkflow(t, e, "sample.racer", workflow.Definition{
		Steps: []workflow.Step{
			{
				ID: "delegate", Kind: workflow.StepKindCallWorkflow,
				WorkflowKey:     "sample.busy-child",
				WorkflowVersion: 1,
				SaveAs:          "child",
			},
		},
	})

	// Saturate the child's limit, then lie once so the parent's pre-check
	// passes and the start itself is rejected.
	occupier, err := e.Start(ctx, "sample.busy-child", 0, map[string]any{"id": "A"})
	require.NoError(t, err)
	awaitStatus(t, e, occupier.ID, workflow.RunStatusWaiting)
	atomic.StoreInt32(&store.lie, 1)

	parent, err := e.Start(ctx, "sample.racer", 0, nil)
	require.NoError(t, err)
	final := awaitStatus(t, e, parent.ID, workflow.RunStatusSucceeded)

	child, ok := final.Vars["child"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "StartFailed", child["status"])
	require.Contains(t, child["error"], "concurrency limit")

	detail, err := e.RunByID(ctx, parent.ID)
	require.NoError(t, err)
	require.Nil(t, detail.OpenWait)

	// The advancer survived the rejected start: unrelated runs keep moving.
	publishWorkflow(t, e, "sample.bystander", workflow.Definition{
		Steps: []workflow.Step{
			{ID: "work", Kind: workflow.StepKindAction, ActionType: "noop"},
		},
	})
	bystander, err := e.Start(ctx, "sample.bystander", 0, nil)
	require.NoError(t, err)
	awaitStatus(t, e, bystander.ID, workflow.RunStatusSucceeded)
}

func TestCallWorkflowChildValidationFailure(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	publishWorkflow(t, e, "sample.picky-child", workflow.Definition{
		PayloadSchemaRef: "schema.ticket",
		Steps: []workflow.Step{
			{
				ID: "wait", Kind: workflow.StepKindWaitForEvent,
				EventName:          "never",
				CorrelationKeyExpr: "payload.id",
			},
		},
	})

	publishWorkflow(t, e, "sample.sloppy-parent", workflow.Definition{
		Steps: []workflow.Step{
			{
				ID: "delegate", Kind: workflow.StepKindCallWorkflow,
				WorkflowKey:     "sample.picky-child",
				WorkflowVersion: 1,
				Input:           map[string]any{"nope": true},
				SaveAs:          "child",
			},
		},
	})

	// The child fails trigger validation instantly; the parent's wait is
	// still resolved rather than left hanging.
	parent, err := e.Start(ctx, "sample.sloppy-parent", 0, nil)
	require.NoError(t, err)
	final := awaitStatus(t, e, parent.ID, workflow.RunStatusSucceeded)

	child, ok := final.Vars["child"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "Failed", child["status"])
}
