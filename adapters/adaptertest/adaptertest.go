// Package adaptertest runs the workflow.Store contract against an adapter.
// Every store adapter should pass RunStoreTest with a factory returning a
// fresh, empty store per test.
package adaptertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	workflow "github.com/nine-minds/alga-workflow"
)

// base is an arbitrary fixed instant; adapters with datetime columns reject
// zero times, so every entity the suite writes carries explicit timestamps.
var base = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

func RunStoreTest(t *testing.T, factory func(t *testing.T) workflow.Store) {
	tests := []func(t *testing.T, store workflow.Store){
		testWorkflowLifecycle,
		testVersions,
		testDeleteWorkflowRetainsRuns,
		testRunLifecycle,
		testStepExecutionSeq,
		testListRunsFilter,
		testResolveWaitFirstCommitterWins,
		testLookupOpenWait,
		testFindOpenEventWaitOldestFirst,
		testListExpiredWaits,
		testEventLifecycle,
	}

	for _, test := range tests {
		test(t, factory(t))
	}
}

func createWorkflow(t *testing.T, s workflow.Store, id, key string) {
	t.Helper()
	err := s.CreateWorkflow(context.Background(),
		&workflow.WorkflowMeta{ID: id, Key: key, CreatedAt: base, UpdatedAt: base},
		&workflow.Draft{WorkflowID: id, UpdatedAt: base},
	)
	require.NoError(t, err)
}

func createRun(t *testing.T, s workflow.Store, run workflow.Run) {
	t.Helper()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = base
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = run.CreatedAt
	}
	require.NoError(t, s.CreateRun(context.Background(), &run))
}

func createWait(t *testing.T, s workflow.Store, wait workflow.Wait) {
	t.Helper()
	if wait.CreatedAt.IsZero() {
		wait.CreatedAt = base
	}
	require.NoError(t, s.CreateWait(context.Background(), &wait))
}

func testWorkflowLifecycle(t *testing.T, s workflow.Store) {
	t.Run("WorkflowLifecycle", func(t *testing.T) {
		ctx := context.Background()

		createWorkflow(t, s, "wf-1", "sample.one")

		err := s.CreateWorkflow(ctx,
			&workflow.WorkflowMeta{ID: "wf-2", Key: "sample.one", CreatedAt: base, UpdatedAt: base},
			&workflow.Draft{WorkflowID: "wf-2", UpdatedAt: base},
		)
		require.ErrorIs(t, err, workflow.ErrConflict)

		meta, err := s.LookupWorkflowByKey(ctx, "sample.one")
		require.NoError(t, err)
		require.Equal(t, "wf-1", meta.ID)

		meta, err = s.LookupWorkflow(ctx, "wf-1")
		require.NoError(t, err)
		require.Equal(t, "sample.one", meta.Key)

		_, err = s.LookupWorkflow(ctx, "missing")
		require.ErrorIs(t, err, workflow.ErrWorkflowNotFound)

		// The draft created alongside the workflow is saveable and loadable.
		draft, err := s.LookupDraft(ctx, "wf-1")
		require.NoError(t, err)
		draft.Definition = workflow.Definition{
			Steps: []workflow.Step{{ID: "only", Kind: workflow.StepKindAction, ActionType: "noop"}},
		}
		draft.UpdatedAt = base.Add(time.Minute)
		require.NoError(t, s.SaveDraft(ctx, draft))

		got, err := s.LookupDraft(ctx, "wf-1")
		require.NoError(t, err)
		require.Len(t, got.Definition.Steps, 1)
		require.Equal(t, "only", got.Definition.Steps[0].ID)

		all, err := s.ListWorkflows(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)

		require.NoError(t, s.DeleteWorkflow(ctx, "wf-1"))
		_, err = s.LookupWorkflowByKey(ctx, "sample.one")
		require.ErrorIs(t, err, workflow.ErrWorkflowNotFound)
		_, err = s.LookupDraft(ctx, "wf-1")
		require.ErrorIs(t, err, workflow.ErrDraftNotFound)

		// The key is free again after deletion.
		createWorkflow(t, s, "wf-3", "sample.one")
	})
}

func testVersions(t *testing.T, s workflow.Store) {
	t.Run("Versions", func(t *testing.T) {
		ctx := context.Background()

		createWorkflow(t, s, "wf-1", "sample.one")

		def := workflow.Definition{
			Steps: []workflow.Step{{ID: "only", Kind: workflow.StepKindAction, ActionType: "noop"}},
		}
		require.NoError(t, s.CreateVersion(ctx, &workflow.Version{
			WorkflowID: "wf-1", Version: 1, Definition: def, CreatedAt: base,
		}))

		err := s.CreateVersion(ctx, &workflow.Version{WorkflowID: "wf-1", Version: 1, CreatedAt: base})
		require.ErrorIs(t, err, workflow.ErrConflict)

		require.NoError(t, s.CreateVersion(ctx, &workflow.Version{
			WorkflowID: "wf-1", Version: 2, Definition: def, CreatedAt: base.Add(time.Minute),
		}))

		got, err := s.LookupVersion(ctx, "wf-1", 1)
		require.NoError(t, err)
		require.Len(t, got.Definition.Steps, 1)

		_, err = s.LookupVersion(ctx, "wf-1", 9)
		require.ErrorIs(t, err, workflow.ErrVersionNotFound)

		versions, err := s.ListVersions(ctx, "wf-1")
		require.NoError(t, err)
		require.Len(t, versions, 2)
		require.Equal(t, 1, versions[0].Version)
		require.Equal(t, 2, versions[1].Version)
	})
}

func testDeleteWorkflowRetainsRuns(t *testing.T, s workflow.Store) {
	t.Run("DeleteWorkflowRetainsRuns", func(t *testing.T) {
		ctx := context.Background()

		createWorkflow(t, s, "wf-1", "sample.one")
		createRun(t, s, workflow.Run{ID: "run-1", WorkflowID: "wf-1", Status: workflow.RunStatusSucceeded})

		require.NoError(t, s.DeleteWorkflow(ctx, "wf-1"))

		run, err := s.LookupRun(ctx, "run-1")
		require.NoError(t, err)
		require.Equal(t, workflow.RunStatusSucceeded, run.Status)
	})
}

func testRunLifecycle(t *testing.T, s workflow.Store) {
	t.Run("RunLifecycle", func(t *testing.T) {
		ctx := context.Background()

		createWorkflow(t, s, "wf-1", "sample.one")
		createRun(t, s, workflow.Run{
			ID: "run-1", WorkflowID: "wf-1", WorkflowKey: "sample.one", Version: 1,
			Status:         workflow.RunStatusRunning,
			TriggerPayload: map[string]any{"id": "T-1"},
			CorrelationKey: "T-1",
		})
		createRun(t, s, workflow.Run{ID: "run-2", WorkflowID: "wf-1", Version: 1, Status: workflow.RunStatusWaiting})
		createRun(t, s, workflow.Run{ID: "run-3", WorkflowID: "wf-1", Version: 2, Status: workflow.RunStatusRunning})

		err := s.CreateRun(ctx, &workflow.Run{ID: "run-1", WorkflowID: "wf-1", CreatedAt: base, UpdatedAt: base})
		require.ErrorIs(t, err, workflow.ErrConflict)

		got, err := s.LookupRun(ctx, "run-1")
		require.NoError(t, err)
		require.Equal(t, map[string]any{"id": "T-1"}, got.TriggerPayload)
		require.Equal(t, "T-1", got.CorrelationKey)

		// Only running and waiting runs count against the concurrency limit,
		// per version.
		n, err := s.CountActiveRuns(ctx, "wf-1", 1)
		require.NoError(t, err)
		require.Equal(t, 2, n)

		got.Status = workflow.RunStatusSucceeded
		got.Vars = map[string]any{"out": "done"}
		got.UpdatedAt = base.Add(time.Minute)
		require.NoError(t, s.UpdateRun(ctx, got))

		got, err = s.LookupRun(ctx, "run-1")
		require.NoError(t, err)
		require.Equal(t, workflow.RunStatusSucceeded, got.Status)
		require.Equal(t, map[string]any{"out": "done"}, got.Vars)

		n, err = s.CountActiveRuns(ctx, "wf-1", 1)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		counts, err := s.CountRunsByStatus(ctx, "wf-1")
		require.NoError(t, err)
		require.Equal(t, int64(1), counts[workflow.RunStatusSucceeded])
		require.Equal(t, int64(1), counts[workflow.RunStatusWaiting])
		require.Equal(t, int64(1), counts[workflow.RunStatusRunning])

		err = s.UpdateRun(ctx, &workflow.Run{ID: "missing", UpdatedAt: base})
		require.ErrorIs(t, err, workflow.ErrRunNotFound)
	})
}

func testStepExecutionSeq(t *testing.T, s workflow.Store) {
	t.Run("StepExecutionSeq", func(t *testing.T) {
		ctx := context.Background()

		createWorkflow(t, s, "wf-1", "sample.one")
		createRun(t, s, workflow.Run{ID: "run-1", WorkflowID: "wf-1", Status: workflow.RunStatusRunning})

		first := &workflow.StepExecution{
			RunID: "run-1", StepPath: "steps[0]", Kind: workflow.StepKindAction, Attempt: 1,
			Input:     map[string]any{"n": float64(1)},
			Output:    map[string]any{"ok": true},
			StartedAt: base, FinishedAt: base.Add(time.Second),
		}
		require.NoError(t, s.AppendStepExecution(ctx, first))
		require.Equal(t, 1, first.Seq)

		second := &workflow.StepExecution{
			RunID: "run-1", StepPath: "steps[1]", Kind: workflow.StepKindAction, Attempt: 1,
			StartedAt: base.Add(time.Second),
		}
		require.NoError(t, s.AppendStepExecution(ctx, second))
		require.Equal(t, 2, second.Seq)

		execs, err := s.ListStepExecutions(ctx, "run-1")
		require.NoError(t, err)
		require.Len(t, execs, 2)
		require.Equal(t, "steps[0]", execs[0].StepPath)
		require.Equal(t, map[string]any{"n": float64(1)}, execs[0].Input)
		require.Equal(t, map[string]any{"ok": true}, execs[0].Output)
		require.Equal(t, "steps[1]", execs[1].StepPath)
	})
}

func testListRunsFilter(t *testing.T, s workflow.Store) {
	t.Run("ListRunsFilter", func(t *testing.T) {
		ctx := context.Background()

		createWorkflow(t, s, "wf-1", "sample.one")
		createWorkflow(t, s, "wf-2", "sample.two")

		runs := []workflow.Run{
			{ID: "r1", WorkflowID: "wf-1", Status: workflow.RunStatusSucceeded, CreatedAt: base},
			{ID: "r2", WorkflowID: "wf-1", Status: workflow.RunStatusFailed, MaxAttempts: 3, CreatedAt: base.Add(time.Minute)},
			{ID: "r3", WorkflowID: "wf-1", Status: workflow.RunStatusFailed, MaxAttempts: 1, CreatedAt: base.Add(2 * time.Minute)},
			{ID: "r4", WorkflowID: "wf-2", Status: workflow.RunStatusRunning, CreatedAt: base.Add(3 * time.Minute)},
		}
		for _, run := range runs {
			createRun(t, s, run)
		}

		got, err := s.ListRuns(ctx, workflow.RunFilter{WorkflowID: "wf-1"})
		require.NoError(t, err)
		require.Len(t, got, 3)

		got, err = s.ListRuns(ctx, workflow.RunFilter{
			WorkflowID:  "wf-1",
			Statuses:    []workflow.RunStatus{workflow.RunStatusFailed},
			MinAttempts: 2,
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, "r2", got[0].ID)

		got, err = s.ListRuns(ctx, workflow.RunFilter{CreatedAfter: base.Add(90 * time.Second)})
		require.NoError(t, err)
		require.Len(t, got, 2)

		got, err = s.ListRuns(ctx, workflow.RunFilter{CreatedBefore: base.Add(90 * time.Second)})
		require.NoError(t, err)
		require.Len(t, got, 2)

		// Creation-ordered pagination.
		got, err = s.ListRuns(ctx, workflow.RunFilter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, got, 2)
		require.Equal(t, "r2", got[0].ID)
		require.Equal(t, "r3", got[1].ID)

		got, err = s.ListRuns(ctx, workflow.RunFilter{Offset: 10})
		require.NoError(t, err)
		require.Empty(t, got)
	})
}

func testResolveWaitFirstCommitterWins(t *testing.T, s workflow.Store) {
	t.Run("ResolveWaitFirstCommitterWins", func(t *testing.T) {
		ctx := context.Background()

		createWorkflow(t, s, "wf-1", "sample.one")
		createRun(t, s, workflow.Run{ID: "run-1", WorkflowID: "wf-1", Status: workflow.RunStatusWaiting})
		createWait(t, s, workflow.Wait{
			ID: "w1", RunID: "run-1", Type: workflow.WaitTypeEvent,
			StepPath: "steps[0]", EventName: "ev", CorrelationKey: "k",
			Status: workflow.WaitStatusOpen,
		})

		require.NoError(t, s.ResolveWait(ctx, "w1", workflow.WaitStatusResolved, map[string]any{"n": float64(1)}))

		err := s.ResolveWait(ctx, "w1", workflow.WaitStatusTimedOut, nil)
		require.ErrorIs(t, err, workflow.ErrWaitAlreadyResolved)

		err = s.ResolveWait(ctx, "missing", workflow.WaitStatusResolved, nil)
		require.ErrorIs(t, err, workflow.ErrWaitNotFound)

		got, err := s.LookupWait(ctx, "w1")
		require.NoError(t, err)
		require.Equal(t, workflow.WaitStatusResolved, got.Status)
		require.Equal(t, map[string]any{"n": float64(1)}, got.ResolvedPayload)
		require.False(t, got.ResolvedAt.IsZero())
	})
}

func testLookupOpenWait(t *testing.T, s workflow.Store) {
	t.Run("LookupOpenWait", func(t *testing.T) {
		ctx := context.Background()

		createWorkflow(t, s, "wf-1", "sample.one")
		createRun(t, s, workflow.Run{ID: "run-1", WorkflowID: "wf-1", Status: workflow.RunStatusWaiting})
		createWait(t, s, workflow.Wait{
			ID: "w1", RunID: "run-1", Type: workflow.WaitTypeTimer,
			StepPath: "steps[0]", Status: workflow.WaitStatusOpen,
			TimeoutAt: base.Add(time.Hour),
		})

		got, err := s.LookupOpenWait(ctx, "run-1")
		require.NoError(t, err)
		require.Equal(t, "w1", got.ID)

		require.NoError(t, s.ResolveWait(ctx, "w1", workflow.WaitStatusResolved, nil))

		_, err = s.LookupOpenWait(ctx, "run-1")
		require.ErrorIs(t, err, workflow.ErrWaitNotFound)
	})
}

func testFindOpenEventWaitOldestFirst(t *testing.T, s workflow.Store) {
	t.Run("FindOpenEventWaitOldestFirst", func(t *testing.T) {
		ctx := context.Background()

		createWorkflow(t, s, "wf-1", "sample.one")
		createRun(t, s, workflow.Run{ID: "run-1", WorkflowID: "wf-1", Status: workflow.RunStatusWaiting})
		createRun(t, s, workflow.Run{ID: "run-2", WorkflowID: "wf-1", Status: workflow.RunStatusWaiting})

		createWait(t, s, workflow.Wait{
			ID: "w1", RunID: "run-1", Type: workflow.WaitTypeEvent,
			EventName: "ev", CorrelationKey: "k", Status: workflow.WaitStatusOpen,
			CreatedAt: base,
		})
		createWait(t, s, workflow.Wait{
			ID: "w2", RunID: "run-2", Type: workflow.WaitTypeEvent,
			EventName: "ev", CorrelationKey: "k", Status: workflow.WaitStatusOpen,
			CreatedAt: base.Add(time.Second),
		})

		got, err := s.FindOpenEventWait(ctx, "ev", "k")
		require.NoError(t, err)
		require.Equal(t, "w1", got.ID)

		require.NoError(t, s.ResolveWait(ctx, "w1", workflow.WaitStatusResolved, nil))

		got, err = s.FindOpenEventWait(ctx, "ev", "k")
		require.NoError(t, err)
		require.Equal(t, "w2", got.ID)

		_, err = s.FindOpenEventWait(ctx, "ev", "other")
		require.ErrorIs(t, err, workflow.ErrWaitNotFound)
	})
}

func testListExpiredWaits(t *testing.T, s workflow.Store) {
	t.Run("ListExpiredWaits", func(t *testing.T) {
		ctx := context.Background()

		createWorkflow(t, s, "wf-1", "sample.one")
		createRun(t, s, workflow.Run{ID: "run-1", WorkflowID: "wf-1", Status: workflow.RunStatusWaiting})

		now := base.Add(time.Hour)
		waits := []workflow.Wait{
			{ID: "past", RunID: "run-1", Type: workflow.WaitTypeTimer, Status: workflow.WaitStatusOpen, TimeoutAt: now.Add(-time.Second)},
			{ID: "future", RunID: "run-1", Type: workflow.WaitTypeTimer, Status: workflow.WaitStatusOpen, TimeoutAt: now.Add(time.Hour)},
			{ID: "unbounded", RunID: "run-1", Type: workflow.WaitTypeEvent, Status: workflow.WaitStatusOpen},
		}
		for _, wait := range waits {
			createWait(t, s, wait)
		}

		expired, err := s.ListExpiredWaits(ctx, now)
		require.NoError(t, err)
		require.Len(t, expired, 1)
		require.Equal(t, "past", expired[0].ID)
	})
}

func testEventLifecycle(t *testing.T, s workflow.Store) {
	t.Run("EventLifecycle", func(t *testing.T) {
		ctx := context.Background()

		require.NoError(t, s.CreateEvent(ctx, &workflow.Event{
			ID: "ev-1", Name: "ticket.created", CorrelationKey: "T-1",
			Payload:          map[string]any{"id": "T-1"},
			PayloadSchemaRef: "schema.ticket",
			Status:           workflow.EventStatusUnmatched,
			CreatedAt:        base,
		}))
		require.NoError(t, s.CreateEvent(ctx, &workflow.Event{
			ID: "ev-2", Name: "ticket.closed", CorrelationKey: "T-1",
			Status:    workflow.EventStatusUnmatched,
			CreatedAt: base.Add(time.Second),
		}))

		err := s.CreateEvent(ctx, &workflow.Event{ID: "ev-1", Name: "dup", CreatedAt: base})
		require.ErrorIs(t, err, workflow.ErrConflict)

		got, err := s.LookupEvent(ctx, "ev-1")
		require.NoError(t, err)
		require.Equal(t, map[string]any{"id": "T-1"}, got.Payload)

		got.Status = workflow.EventStatusMatched
		got.MatchedRunID = "run-1"
		got.MatchedWaitID = "w1"
		require.NoError(t, s.UpdateEvent(ctx, got))

		got, err = s.LookupEvent(ctx, "ev-1")
		require.NoError(t, err)
		require.Equal(t, workflow.EventStatusMatched, got.Status)
		require.Equal(t, "run-1", got.MatchedRunID)

		err = s.UpdateEvent(ctx, &workflow.Event{ID: "missing"})
		require.ErrorIs(t, err, workflow.ErrEventNotFound)

		_, err = s.LookupEvent(ctx, "missing")
		require.ErrorIs(t, err, workflow.ErrEventNotFound)

		events, err := s.ListEvents(ctx, workflow.EventFilter{Name: "ticket.created"})
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.Equal(t, "ev-1", events[0].ID)

		events, err = s.ListEvents(ctx, workflow.EventFilter{
			CorrelationKey: "T-1",
			Statuses:       []workflow.EventStatus{workflow.EventStatusUnmatched},
		})
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.Equal(t, "ev-2", events[0].ID)
	})
}
