package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	clock_testing "k8s.io/utils/clock/testing"

	workflow "github.com/nine-minds/alga-workflow"
	"github.com/nine-minds/alga-workflow/adapters/adaptertest"
	"github.com/nine-minds/alga-workflow/adapters/memstore"
)

func TestStore(t *testing.T) {
	adaptertest.RunStoreTest(t, func(t *testing.T) workflow.Store {
		return memstore.New()
	})
}

func TestAppendStepExecutionUnknownRun(t *testing.T) {
	s := memstore.New()

	err := s.AppendStepExecution(context.Background(), &workflow.StepExecution{RunID: "missing"})
	require.ErrorIs(t, err, workflow.ErrRunNotFound)
}

func TestResolveWaitUsesClock(t *testing.T) {
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	s := memstore.New(memstore.WithClock(clock_testing.NewFakeClock(now)))
	ctx := context.Background()

	err := s.CreateWorkflow(ctx,
		&workflow.WorkflowMeta{ID: "wf-1", Key: "sample.one"},
		&workflow.Draft{WorkflowID: "wf-1"},
	)
	require.NoError(t, err)
	require.NoError(t, s.CreateRun(ctx, &workflow.Run{ID: "run-1", WorkflowID: "wf-1", Status: workflow.RunStatusWaiting}))
	require.NoError(t, s.CreateWait(ctx, &workflow.Wait{
		ID: "w1", RunID: "run-1", Type: workflow.WaitTypeTimer, Status: workflow.WaitStatusOpen,
	}))

	require.NoError(t, s.ResolveWait(ctx, "w1", workflow.WaitStatusResolved, nil))

	got, err := s.LookupWait(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, now, got.ResolvedAt)
}
