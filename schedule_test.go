package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	workflow "github.com/nine-minds/alga-workflow"
)

func TestSchedule(t *testing.T) {
	e := newTestEngine(t, noopActions())
	ctx := context.Background()

	meta := publishWorkflow(t, e, "sample.cronned", workflow.Definition{
		Steps: []workflow.Step{
			{ID: "work", Kind: workflow.StepKindAction, ActionType: "noop"},
		},
	})

	err := e.Schedule("@every 10ms", meta.Key, 0, map[string]any{"source": "cron"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		runs, err := e.Runs(ctx, workflow.RunFilter{WorkflowID: meta.ID})
		return err == nil && len(runs) >= 2
	}, 5*time.Second, 5*time.Millisecond)

	runs, err := e.Runs(ctx, workflow.RunFilter{WorkflowID: meta.ID})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"source": "cron"}, runs[0].TriggerPayload)
}

func TestScheduleInvalidSpec(t *testing.T) {
	e := newTestEngine(t, nil)

	err := e.Schedule("not a cron spec", "sample.cronned", 0, nil)
	require.ErrorIs(t, err, workflow.ErrValidation)

	err = e.Schedule("* * * * * *", "sample.cronned", 0, nil)
	require.ErrorIs(t, err, workflow.ErrValidation)
}
