package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	workflow "github.com/nine-minds/alga-workflow"
)

func TestWaitForEventMatch(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	publishWorkflow(t, e, "sample.approval", workflow.Definition{
		Steps: []workflow.Step{
			{
				ID: "wait", Kind: workflow.StepKindWaitForEvent,
				EventName:          "ticket.approved",
				CorrelationKeyExpr: "payload.ticketId",
				SaveAs:             "approval",
			},
		},
	})

	run, err := e.Start(ctx, "sample.approval", 0, map[string]any{"ticketId": "T-7"})
	require.NoError(t, err)
	awaitStatus(t, e, run.ID, workflow.RunStatusWaiting)

	detail, err := e.RunByID(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, detail.OpenWait)
	require.Equal(t, workflow.WaitTypeEvent, detail.OpenWait.Type)
	require.Equal(t, "ticket.approved", detail.OpenWait.EventName)
	require.Equal(t, "T-7", detail.OpenWait.CorrelationKey)

	// A different correlation key does not match.
	miss, err := e.Ingest(ctx, "ticket.approved", "T-other", nil, "")
	require.NoError(t, err)
	require.Equal(t, workflow.EventStatusUnmatched, miss.Status)

	ev, err := e.Ingest(ctx, "ticket.approved", "T-7", map[string]any{"by": "ada"}, "")
	require.NoError(t, err)
	require.Equal(t, workflow.EventStatusMatched, ev.Status)
	require.Equal(t, run.ID, ev.MatchedRunID)
	require.NotEmpty(t, ev.MatchedWaitID)

	final := awaitStatus(t, e, run.ID, workflow.RunStatusSucceeded)
	require.Equal(t, map[string]any{"by": "ada"}, final.Vars["approval"])

	// The wait is closed: a repeat delivery goes unmatched.
	repeat, err := e.Ingest(ctx, "ticket.approved", "T-7", nil, "")
	require.NoError(t, err)
	require.Equal(t, workflow.EventStatusUnmatched, repeat.Status)
}

func TestConcurrentIngestMatchesOnce(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	publishWorkflow(t, e, "sample.race", workflow.Definition{
		Steps: []workflow.Step{
			{
				ID: "wait", Kind: workflow.StepKindWaitForEvent,
				EventName:          "payment.settled",
				CorrelationKeyExpr: "payload.ref",
			},
		},
	})

	run, err := e.Start(ctx, "sample.race", 0, map[string]any{"ref": "P-1"})
	require.NoError(t, err)
	awaitStatus(t, e, run.ID, workflow.RunStatusWaiting)

	const n = 4
	results := make([]*workflow.Event, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.Ingest(ctx, "payment.settled", "P-1", nil, "")
		}(i)
	}
	wg.Wait()

	var matched int
	for i, ev := range results {
		require.NoError(t, errs[i])
		if ev.Status == workflow.EventStatusMatched {
			matched++
			require.Equal(t, run.ID, ev.MatchedRunID)
		} else {
			require.Equal(t, workflow.EventStatusUnmatched, ev.Status)
		}
	}
	require.Equal(t, 1, matched)

	awaitStatus(t, e, run.ID, workflow.RunStatusSucceeded)
}

func TestEventWaitTimeout(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	meta := publishWorkflow(t, e, "sample.impatient", workflow.Definition{
		Steps: []workflow.Step{
			{
				ID: "wait", Kind: workflow.StepKindWaitForEvent,
				EventName:          "never.arrives",
				CorrelationKeyExpr: "payload.id",
				TimeoutMillis:      20,
			},
		},
	})

	run, err := e.Start(ctx, "sample.impatient", 0, map[string]any{"id": "X"})
	require.NoError(t, err)
	awaitStatus(t, e, run.ID, workflow.RunStatusFailed)

	letters, err := e.ListDeadLetters(ctx, workflow.DeadLetterFilter{WorkflowID: meta.ID})
	require.NoError(t, err)
	require.Len(t, letters, 1)
	require.Equal(t, run.ID, letters[0].Run.ID)
	require.Equal(t, "steps[0]", letters[0].FailedStepPath)
	require.Equal(t, "wait timed out with no matching event", letters[0].LastError)

	// The timed-out wait no longer matches late events.
	late, err := e.Ingest(ctx, "never.arrives", "X", nil, "")
	require.NoError(t, err)
	require.Equal(t, workflow.EventStatusUnmatched, late.Status)
}

func TestWaitForTimerResumes(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)
	e := newTestEngine(t, map[string]workflow.ActionFunc{
		"after": echoAction(&mu, &keys),
	})
	ctx := context.Background()

	publishWorkflow(t, e, "sample.delayed", workflow.Definition{
		Steps: []workflow.Step{
			{
				ID: "nap", Kind: workflow.StepKindWaitForTimer,
				TimeoutMillis: 20,
			},
			{ID: "after", Kind: workflow.StepKindAction, ActionType: "after"},
		},
	})

	start := time.Now()
	run, err := e.Start(ctx, "sample.delayed", 0, nil)
	require.NoError(t, err)
	awaitStatus(t, e, run.ID, workflow.RunStatusWaiting)

	final := awaitStatus(t, e, run.ID, workflow.RunStatusSucceeded)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	require.Equal(t, workflow.RunStatusSucceeded, final.Status)

	mu.Lock()
	require.Len(t, keys, 1)
	mu.Unlock()
}

func TestEventTriggersRun(t *testing.T) {
	e := newTestEngine(t, map[string]workflow.ActionFunc{
		"noop": func(ctx context.Context, key string, input map[string]any) (any, error) {
			return nil, nil
		},
	})
	ctx := context.Background()

	meta := publishWorkflow(t, e, "sample.triggered", workflow.Definition{
		Trigger: &workflow.TriggerBinding{
			EventName:          "ticket.created",
			CorrelationKeyExpr: "payload.id",
		},
		Steps: []workflow.Step{
			{ID: "only", Kind: workflow.StepKindAction, ActionType: "noop"},
		},
	})

	ev, err := e.Ingest(ctx, "ticket.created", "T-9", map[string]any{"id": "T-9"}, "schema.ticket")
	require.NoError(t, err)
	// No run was waiting, so the event itself is unmatched; triggering is a
	// separate concern from correlation.
	require.Equal(t, workflow.EventStatusUnmatched, ev.Status)

	runs, err := e.Runs(ctx, workflow.RunFilter{WorkflowID: meta.ID})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "T-9", runs[0].CorrelationKey)
	require.Equal(t, map[string]any{"id": "T-9"}, runs[0].TriggerPayload)
	awaitStatus(t, e, runs[0].ID, workflow.RunStatusSucceeded)
}

func TestIngestSchemaDrift(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	// "ticket.created" is registered against schema.ticket; declaring another
	// ref is annotated but never blocks ingestion.
	ev, err := e.Ingest(ctx, "ticket.created", "T-1", map[string]any{"id": "T-1"}, "schema.legacy")
	require.NoError(t, err)
	require.Equal(t, workflow.EventStatusUnmatched, ev.Status)
	require.Contains(t, ev.SchemaConflict, "schema.legacy")
	require.Contains(t, ev.SchemaConflict, "schema.ticket")

	// A matching declared ref carries no conflict note.
	ev, err = e.Ingest(ctx, "ticket.created", "T-2", map[string]any{"id": "T-2"}, "schema.ticket")
	require.NoError(t, err)
	require.Empty(t, ev.SchemaConflict)
}

func TestIngestPayloadValidationError(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	ev, err := e.Ingest(ctx, "ticket.created", "T-1", map[string]any{"wrong": true}, "schema.ticket")
	require.NoError(t, err)
	require.Equal(t, workflow.EventStatusError, ev.Status)
	require.NotEmpty(t, ev.ErrorMessage)
	require.Empty(t, ev.MatchedRunID)

	// The errored event is persisted for the event browser.
	got, err := e.EventByID(ctx, ev.ID)
	require.NoError(t, err)
	require.Equal(t, workflow.EventStatusError, got.Status)

	// Later events keep flowing.
	ok, err := e.Ingest(ctx, "ticket.created", "T-2", map[string]any{"id": "T-2"}, "schema.ticket")
	require.NoError(t, err)
	require.Equal(t, workflow.EventStatusUnmatched, ok.Status)

	_, err = e.Ingest(ctx, "", "T-3", nil, "")
	require.ErrorIs(t, err, workflow.ErrValidation)
}
