package workflow

import (
	"context"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/nine-minds/alga-workflow/internal/cron"
)

// Schedule starts a run of the workflow on a cron cadence. The spec accepts
// the standard five-field crontab format plus @descriptors (@hourly, @daily,
// @every 10m). The scheduler is a background process of this engine
// instance; multi-instance deployments schedule on a single instance.
//
// A tick that finds the version's concurrency limit reached is skipped
// rather than queued behind it.
func (e *Engine) Schedule(spec, workflowKey string, version int, payload map[string]any) error {
	if !e.calledRun {
		return errors.Wrap(ErrEngineNotRunning, "")
	}

	schedule, err := cron.Parse(spec)
	if err != nil {
		return errors.Wrap(ErrValidation, "invalid cron spec", j.MKV{"spec": spec})
	}

	name := makeRole(workflowKey, "scheduler", spec)

	var lastRun time.Time

	e.track(func() {
		e.process(name, func(ctx context.Context) error {
			if lastRun.IsZero() {
				lastRun = e.clock.Now()
			}

			next, ok := schedule.Next(lastRun)
			if !ok {
				return errors.Wrap(ErrValidation, "no next activation for spec", j.MKV{"spec": spec})
			}

			err := e.waitUntil(ctx, next)
			if err != nil {
				return err
			}
			lastRun = e.clock.Now()

			_, err = e.Start(ctx, workflowKey, version, payload)
			if errors.Is(err, ErrConcurrencyLimit) {
				// NoReturnErr: skip the tick; the next activation tries again.
				e.logger.Debug(ctx, "scheduled start shed by concurrency limit", MKV{
					"workflow_key": workflowKey,
					"spec":         spec,
				})
				return nil
			} else if err != nil {
				return err
			}
			return nil
		}, e.opts.errBackOff)
	})

	e.launching.Wait()
	return nil
}

func (e *Engine) waitUntil(ctx context.Context, until time.Time) error {
	d := until.Sub(e.clock.Now())
	if d <= 0 {
		return nil
	}
	return e.sleep(ctx, d)
}
