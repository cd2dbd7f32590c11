package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/luno/jettison/errors"
)

type WaitType int

const (
	WaitTypeUnknown     WaitType = 0
	WaitTypeEvent       WaitType = 1
	WaitTypeTimer       WaitType = 2
	WaitTypeSubWorkflow WaitType = 3
)

func (wt WaitType) String() string {
	switch wt {
	case WaitTypeEvent:
		return "Event"
	case WaitTypeTimer:
		return "Timer"
	case WaitTypeSubWorkflow:
		return "SubWorkflow"
	default:
		return fmt.Sprintf("WaitType(%d)", wt)
	}
}

type WaitStatus int

const (
	WaitStatusUnknown  WaitStatus = 0
	WaitStatusOpen     WaitStatus = 1
	WaitStatusResolved WaitStatus = 2
	WaitStatusTimedOut WaitStatus = 3
)

func (ws WaitStatus) String() string {
	switch ws {
	case WaitStatusOpen:
		return "Open"
	case WaitStatusResolved:
		return "Resolved"
	case WaitStatusTimedOut:
		return "TimedOut"
	default:
		return fmt.Sprintf("WaitStatus(%d)", ws)
	}
}

// Wait is a run's suspension point. A run holds at most one open Wait at a
// time and a Wait is never reused across runs. Resolution happens through a
// conditional Open -> Resolved/TimedOut store update so that concurrent
// resolvers serialize: exactly one committer wins.
type Wait struct {
	ID       string
	RunID    string
	Type     WaitType
	StepPath string
	// EventName and CorrelationKey bind an event wait; both must match an
	// inbound event exactly. Fuzzy matching is a design error, not a
	// runtime feature.
	EventName      string
	CorrelationKey string
	// ChildRunID links a sub-workflow wait to the child run it awaits.
	ChildRunID string
	// TimeoutAt bounds the wait; the zero value means no timeout. Timer
	// waits always carry one.
	TimeoutAt time.Time
	Status    WaitStatus
	// ResolvedPayload carries the matched event's payload (or the child
	// run's output) into the resumed run.
	ResolvedPayload map[string]any
	CreatedAt       time.Time
	ResolvedAt      time.Time
}

// pollExpiredWaits runs in the background and handles waits whose
// timeout_at passed: the wait is marked TimedOut and the owning run
// transitions to FAILED, making it dead-letter eligible. A timer wait
// expiring is normal progress instead: the run resumes.
func (e *Engine) pollExpiredWaits(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return errors.Wrap(ErrEngineShutdown, "")
		}

		expired, err := e.store.ListExpiredWaits(ctx, e.clock.Now())
		if err != nil {
			return err
		}

		for _, w := range expired {
			err := e.expireWait(ctx, w)
			if errors.Is(err, ErrWaitAlreadyResolved) {
				// NoReturnErr: Another path resolved the wait first; the
				// timeout no longer applies.
				continue
			} else if err != nil {
				return err
			}
		}

		err = e.sleep(ctx, e.opts.timeoutPollingFrequency)
		if err != nil {
			return err
		}
	}
}

func (e *Engine) expireWait(ctx context.Context, w Wait) error {
	if w.Type == WaitTypeTimer {
		// A timer firing resolves the wait and resumes the run.
		err := e.store.ResolveWait(ctx, w.ID, WaitStatusResolved, nil)
		if err != nil {
			return err
		}
		return e.completeWait(ctx, w, nil)
	}

	err := e.store.ResolveWait(ctx, w.ID, WaitStatusTimedOut, nil)
	if err != nil {
		return err
	}

	e.runLocks.Lock(w.RunID)
	defer e.runLocks.Unlock(w.RunID)

	run, err := e.store.LookupRun(ctx, w.RunID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return nil
	}

	// A timed-out event wait exhausts the run: the failure record carries
	// the default retry budget so the run shows up in the dead-letter view.
	err = e.appendExecution(ctx, run, &StepExecution{
		RunID:        run.ID,
		StepPath:     w.StepPath,
		Kind:         StepKindWaitForEvent,
		Attempt:      e.opts.defaultRetry.MaxAttempts,
		ErrorMessage: "wait timed out with no matching event",
	})
	if err != nil {
		return err
	}

	err = e.finishRun(ctx, run, RunStatusFailed)
	if err != nil {
		return err
	}

	e.logger.Debug(ctx, "run failed on wait timeout", MKV{
		"run_id":  run.ID,
		"wait_id": w.ID,
	})
	return nil
}
