package workflow_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/luno/jettison/errors"
	"github.com/stretchr/testify/require"

	workflow "github.com/nine-minds/alga-workflow"
	"github.com/nine-minds/alga-workflow/adapters/memstore"
	"github.com/nine-minds/alga-workflow/adapters/memstreamer"
)

func TestConditionBranches(t *testing.T) {
	var (
		mu     sync.Mutex
		marked []string
	)
	mark := func(label string) workflow.ActionFunc {
		return func(ctx context.Context, key string, input map[string]any) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			marked = append(marked, label)
			return nil, nil
		}
	}

	e := newTestEngine(t, map[string]workflow.ActionFunc{
		"mark.big":   mark("big"),
		"mark.small": mark("small"),
	})
	ctx := context.Background()

	publishWorkflow(t, e, "sample.branchy", workflow.Definition{
		Steps: []workflow.Step{
			{
				ID: "size", Kind: workflow.StepKindCondition,
				Condition: "payload.total > 10",
				Then:      []workflow.Step{{ID: "big", Kind: workflow.StepKindAction, ActionType: "mark.big"}},
				Else:      []workflow.Step{{ID: "small", Kind: workflow.StepKindAction, ActionType: "mark.small"}},
			},
		},
	})

	big, err := e.Start(ctx, "sample.branchy", 0, map[string]any{"total": float64(20)})
	require.NoError(t, err)
	awaitStatus(t, e, big.ID, workflow.RunStatusSucceeded)

	small, err := e.Start(ctx, "sample.branchy", 0, map[string]any{"total": float64(5)})
	require.NoError(t, err)
	awaitStatus(t, e, small.ID, workflow.RunStatusSucceeded)

	mu.Lock()
	require.Equal(t, []string{"big", "small"}, marked)
	mu.Unlock()

	detail, err := e.RunByID(ctx, big.ID)
	require.NoError(t, err)
	require.Len(t, detail.Executions, 2)
	require.Equal(t, "steps[0]", detail.Executions[0].StepPath)
	require.Equal(t, map[string]any{"branch": "then"}, detail.Executions[0].Output)
	require.Equal(t, "steps[0].then[0]", detail.Executions[1].StepPath)

	detail, err = e.RunByID(ctx, small.ID)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"branch": "else"}, detail.Executions[0].Output)
	require.Equal(t, "steps[0].else[0]", detail.Executions[1].StepPath)
}

func TestForEachIteratesPerItem(t *testing.T) {
	var (
		mu     sync.Mutex
		inputs []map[string]any
	)
	e := newTestEngine(t, map[string]workflow.ActionFunc{
		"ship": func(ctx context.Context, key string, input map[string]any) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			inputs = append(inputs, input)
			return nil, nil
		},
	})
	ctx := context.Background()

	publishWorkflow(t, e, "sample.loopy", workflow.Definition{
		Steps: []workflow.Step{
			{
				ID: "each", Kind: workflow.StepKindForEach,
				Items:    "payload.items",
				ItemVar:  "item",
				IndexVar: "i",
				Body: []workflow.Step{
					{
						ID: "ship", Kind: workflow.StepKindAction, ActionType: "ship",
						Input: map[string]any{
							"sku": map[string]any{"$expr": "item.sku"},
							"pos": map[string]any{"$expr": "i"},
						},
					},
				},
			},
		},
	})

	run, err := e.Start(ctx, "sample.loopy", 0, map[string]any{
		"items": []any{
			map[string]any{"sku": "a"},
			map[string]any{"sku": "b"},
		},
	})
	require.NoError(t, err)
	awaitStatus(t, e, run.ID, workflow.RunStatusSucceeded)

	mu.Lock()
	require.Equal(t, []map[string]any{
		{"sku": "a", "pos": float64(0)},
		{"sku": "b", "pos": float64(1)},
	}, inputs)
	mu.Unlock()

	detail, err := e.RunByID(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, detail.Executions, 3)
	require.Equal(t, "steps[0]", detail.Executions[0].StepPath)
	require.Equal(t, float64(2), detail.Executions[0].Output.(map[string]any)["count"])
	require.Equal(t, "steps[0].body.0[0]", detail.Executions[1].StepPath)
	require.Equal(t, "steps[0].body.1[0]", detail.Executions[2].StepPath)
}

func TestAdvanceReplayIsIdempotent(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)
	store := memstore.New()
	e := workflow.New(
		store,
		memstreamer.New(),
		&workflow.StaticActionRegistry{Actions: map[string]workflow.ActionFunc{
			"record": echoAction(&mu, &keys),
		}},
		testCatalog(),
	)
	ctx := context.Background()

	meta := publishWorkflow(t, e, "sample.replayed", workflow.Definition{
		Steps: []workflow.Step{
			{ID: "one", Kind: workflow.StepKindAction, ActionType: "record"},
			{ID: "two", Kind: workflow.StepKindAction, ActionType: "record"},
		},
	})

	// Driving Advance by hand stands in for at-least-once queue redelivery.
	run := &workflow.Run{
		ID:          "run-replay",
		WorkflowID:  meta.ID,
		WorkflowKey: meta.Key,
		Version:     1,
		Status:      workflow.RunStatusRunning,
	}
	require.NoError(t, store.CreateRun(ctx, run))

	require.NoError(t, e.Advance(ctx, run.ID))
	detail, err := e.RunByID(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, workflow.RunStatusRunning, detail.Run.Status)
	require.Len(t, detail.Executions, 1)
	require.Equal(t, "steps[0]", detail.Executions[0].StepPath)

	// A redelivered advance mid-run does not re-execute the completed step.
	require.NoError(t, e.Advance(ctx, run.ID))
	detail, err = e.RunByID(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, workflow.RunStatusRunning, detail.Run.Status)
	require.Len(t, detail.Executions, 2)
	require.Equal(t, "steps[0]", detail.Executions[0].StepPath)
	require.Equal(t, "steps[1]", detail.Executions[1].StepPath)

	require.NoError(t, e.Advance(ctx, run.ID))
	detail, err = e.RunByID(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, workflow.RunStatusSucceeded, detail.Run.Status)
	require.Len(t, detail.Executions, 2)

	mu.Lock()
	require.Equal(t, []string{
		workflow.IdempotencyKey(run.ID, "steps[0]", 1),
		workflow.IdempotencyKey(run.ID, "steps[1]", 1),
	}, keys)
	mu.Unlock()
}

func TestRetryThenCatch(t *testing.T) {
	var (
		mu       sync.Mutex
		caught   map[string]any
		attempts int32
	)
	e := newTestEngine(t, map[string]workflow.ActionFunc{
		"always.fails": func(ctx context.Context, key string, input map[string]any) (any, error) {
			atomic.AddInt32(&attempts, 1)
			return nil, errors.New("boom")
		},
		"handle": func(ctx context.Context, key string, input map[string]any) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			caught = input
			return nil, nil
		},
	})
	ctx := context.Background()

	publishWorkflow(t, e, "sample.catchy", workflow.Definition{
		Steps: []workflow.Step{
			{
				ID: "risky", Kind: workflow.StepKindAction, ActionType: "always.fails",
				Catch: []workflow.Step{
					{
						ID: "handle", Kind: workflow.StepKindAction, ActionType: "handle",
						Input: map[string]any{
							"msg":     map[string]any{"$expr": "error.message"},
							"at":      map[string]any{"$expr": "error.stepPath"},
							"attempt": map[string]any{"$expr": "error.attempt"},
						},
					},
				},
			},
		},
	})

	run, err := e.Start(ctx, "sample.catchy", 0, nil)
	require.NoError(t, err)
	awaitStatus(t, e, run.ID, workflow.RunStatusSucceeded)

	// Two attempts per the default budget, then the catch handled it.
	require.Equal(t, int32(2), atomic.LoadInt32(&attempts))

	mu.Lock()
	require.Contains(t, caught["msg"], "boom")
	require.Equal(t, "steps[0]", caught["at"])
	require.Equal(t, float64(2), caught["attempt"])
	mu.Unlock()

	detail, err := e.RunByID(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, detail.Executions, 3)
	require.Equal(t, 1, detail.Executions[0].Attempt)
	require.NotEmpty(t, detail.Executions[0].ErrorMessage)
	require.Equal(t, 2, detail.Executions[1].Attempt)
	require.NotEmpty(t, detail.Executions[1].ErrorMessage)
	require.Equal(t, "steps[0].catch[0]", detail.Executions[2].StepPath)
}

func TestRetryExhaustedFailsRun(t *testing.T) {
	e := newTestEngine(t, map[string]workflow.ActionFunc{
		"always.fails": func(ctx context.Context, key string, input map[string]any) (any, error) {
			return nil, errors.New("downstream unavailable")
		},
	})
	ctx := context.Background()

	publishWorkflow(t, e, "sample.doomed", workflow.Definition{
		Steps: []workflow.Step{
			{ID: "risky", Kind: workflow.StepKindAction, ActionType: "always.fails"},
		},
	})

	run, err := e.Start(ctx, "sample.doomed", 0, nil)
	require.NoError(t, err)
	final := awaitStatus(t, e, run.ID, workflow.RunStatusFailed)
	require.Equal(t, 2, final.MaxAttempts)

	detail, err := e.RunByID(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, detail.Executions, 2)
	for _, exec := range detail.Executions {
		require.Contains(t, exec.ErrorMessage, "downstream unavailable")
	}
}

func TestStepRetryPolicyOverride(t *testing.T) {
	var attempts int32
	e := newTestEngine(t, map[string]workflow.ActionFunc{
		"flaky": func(ctx context.Context, key string, input map[string]any) (any, error) {
			if atomic.AddInt32(&attempts, 1) < 4 {
				return nil, errors.New("not yet")
			}
			return map[string]any{"ok": true}, nil
		},
	})
	ctx := context.Background()

	publishWorkflow(t, e, "sample.persistent", workflow.Definition{
		Steps: []workflow.Step{
			{
				ID: "flaky", Kind: workflow.StepKindAction, ActionType: "flaky",
				Retry: &workflow.RetryPolicy{
					MaxAttempts:    5,
					Backoff:        workflow.BackoffExponential,
					IntervalMillis: 1,
				},
			},
		},
	})

	run, err := e.Start(ctx, "sample.persistent", 0, nil)
	require.NoError(t, err)
	awaitStatus(t, e, run.ID, workflow.RunStatusSucceeded)
	require.Equal(t, int32(4), atomic.LoadInt32(&attempts))
}

func TestEvaluationFailureIsNotRetried(t *testing.T) {
	var attempts int32
	e := newTestEngine(t, map[string]workflow.ActionFunc{
		"noop": func(ctx context.Context, key string, input map[string]any) (any, error) {
			atomic.AddInt32(&attempts, 1)
			return nil, nil
		},
	})
	ctx := context.Background()

	publishWorkflow(t, e, "sample.badmath", workflow.Definition{
		Steps: []workflow.Step{
			{
				ID: "div", Kind: workflow.StepKindAction, ActionType: "noop",
				Input: map[string]any{"n": map[string]any{"$expr": "1 / payload.zero"}},
			},
		},
	})

	run, err := e.Start(ctx, "sample.badmath", 0, map[string]any{"zero": float64(0)})
	require.NoError(t, err)
	awaitStatus(t, e, run.ID, workflow.RunStatusFailed)

	// Deterministic failures consume the whole budget at once: exactly one
	// failure record and the action itself never invoked.
	require.Equal(t, int32(0), atomic.LoadInt32(&attempts))
	detail, err := e.RunByID(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, detail.Executions, 1)
	require.Contains(t, detail.Executions[0].ErrorMessage, "division by zero")
}

func TestEvaluationFailureWithCatch(t *testing.T) {
	var (
		mu     sync.Mutex
		caught map[string]any
	)
	e := newTestEngine(t, map[string]workflow.ActionFunc{
		"noop": func(ctx context.Context, key string, input map[string]any) (any, error) {
			return nil, nil
		},
		"handle": func(ctx context.Context, key string, input map[string]any) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			caught = input
			return nil, nil
		},
	})
	ctx := context.Background()

	publishWorkflow(t, e, "sample.badmath-caught", workflow.Definition{
		Steps: []workflow.Step{
			{
				ID: "div", Kind: workflow.StepKindAction, ActionType: "noop",
				Input: map[string]any{"n": map[string]any{"$expr": "1 / payload.zero"}},
				Catch: []workflow.Step{
					{
						ID: "handle", Kind: workflow.StepKindAction, ActionType: "handle",
						Input: map[string]any{
							"msg":     map[string]any{"$expr": "error.message"},
							"attempt": map[string]any{"$expr": "error.attempt"},
						},
					},
				},
			},
		},
	})

	run, err := e.Start(ctx, "sample.badmath-caught", 0, map[string]any{"zero": float64(0)})
	require.NoError(t, err)
	awaitStatus(t, e, run.ID, workflow.RunStatusSucceeded)

	// The single failure record already carries the whole budget; the
	// expression is not re-evaluated before the catch runs.
	detail, err := e.RunByID(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, detail.Executions, 2)
	require.Equal(t, "steps[0]", detail.Executions[0].StepPath)
	require.Equal(t, 2, detail.Executions[0].Attempt)
	require.Contains(t, detail.Executions[0].ErrorMessage, "division by zero")
	require.Equal(t, "steps[0].catch[0]", detail.Executions[1].StepPath)

	mu.Lock()
	require.Contains(t, caught["msg"], "division by zero")
	require.Equal(t, float64(2), caught["attempt"])
	mu.Unlock()
}
