package workflow

import (
	"context"
	"time"

	"github.com/nine-minds/alga-workflow/internal/metrics"
)

// DeadLetter is one entry of the dead-letter view: a FAILED run that
// exhausted its retry budget, annotated with where and why it failed. The
// view is derived from the run store on demand; there is no separate
// dead-letter queue to drift out of sync, and a resumed run drops out of the
// view by virtue of no longer being FAILED.
type DeadLetter struct {
	Run Run
	// FailedStepPath is the path of the last failed step execution.
	FailedStepPath string
	LastError      string
	FailedAt       time.Time
}

// DeadLetterFilter narrows the dead-letter view. MinAttempts defaults to the
// engine's default retry budget so only exhausted-retry failures show.
type DeadLetterFilter struct {
	WorkflowID    string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	// MinAttempts overrides the default threshold when positive.
	MinAttempts int
	Limit       int
	Offset      int
}

// ListDeadLetters returns FAILED runs whose terminal attempt count reached
// the threshold, newest failure first annotations included. Operators triage
// from here and replay with Resume.
func (e *Engine) ListDeadLetters(ctx context.Context, filter DeadLetterFilter) ([]DeadLetter, error) {
	minAttempts := filter.MinAttempts
	if minAttempts <= 0 {
		minAttempts = e.opts.defaultRetry.MaxAttempts
	}

	runs, err := e.store.ListRuns(ctx, RunFilter{
		WorkflowID:    filter.WorkflowID,
		Statuses:      []RunStatus{RunStatusFailed},
		CreatedAfter:  filter.CreatedAfter,
		CreatedBefore: filter.CreatedBefore,
		MinAttempts:   minAttempts,
		Limit:         filter.Limit,
		Offset:        filter.Offset,
	})
	if err != nil {
		return nil, err
	}

	letters := make([]DeadLetter, 0, len(runs))
	perWorkflow := make(map[string]int)
	for _, run := range runs {
		dl := DeadLetter{Run: run, FailedAt: run.UpdatedAt}

		execs, err := e.store.ListStepExecutions(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		for i := len(execs) - 1; i >= 0; i-- {
			if !execs[i].Failed() {
				continue
			}
			dl.FailedStepPath = execs[i].StepPath
			dl.LastError = execs[i].ErrorMessage
			dl.FailedAt = execs[i].FinishedAt
			break
		}

		letters = append(letters, dl)
		perWorkflow[run.WorkflowKey]++
	}

	for key, n := range perWorkflow {
		metrics.DeadLetteredRuns.WithLabelValues(key).Set(float64(n))
	}
	return letters, nil
}
