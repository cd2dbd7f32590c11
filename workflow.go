// Package workflow implements the run engine at the core of the platform:
// versioned workflow definitions executed as long-lived resumable runs,
// asynchronous event correlation to paused runs, a small expression language
// for data mapping, and dead-letter triage of exhausted-retry runs.
package workflow

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/nine-minds/alga-workflow/internal/locks"
	"github.com/nine-minds/alga-workflow/internal/metrics"
)

const (
	defaultPollingFrequency = 250 * time.Millisecond
	defaultErrBackOff       = 500 * time.Millisecond
	defaultAdvancerCount    = 1
	defaultReconcile        = 30 * time.Second
	defaultMaxAttempts      = 3
)

type engineOptions struct {
	clock                   clock.Clock
	logger                  Logger
	advancerCount           int
	pollingFrequency        time.Duration
	timeoutPollingFrequency time.Duration
	reconcileInterval       time.Duration
	errBackOff              time.Duration
	// defaultRetry applies to action steps without an explicit policy.
	defaultRetry RetryPolicy
}

type EngineOption func(*engineOptions)

func WithClock(c clock.Clock) EngineOption {
	return func(o *engineOptions) { o.clock = c }
}

func WithLogger(l Logger) EngineOption {
	return func(o *engineOptions) { o.logger = l }
}

// WithAdvancerCount sets the number of concurrent advancer consumers pulling
// from the ready-run queue. Runs stay internally single-threaded regardless:
// the per-run lock serializes concurrent advances of the same run.
func WithAdvancerCount(n int) EngineOption {
	return func(o *engineOptions) { o.advancerCount = n }
}

func WithPollingFrequency(d time.Duration) EngineOption {
	return func(o *engineOptions) { o.pollingFrequency = d }
}

func WithErrBackOff(d time.Duration) EngineOption {
	return func(o *engineOptions) { o.errBackOff = d }
}

// WithDefaultRetry sets the retry policy applied to action steps that do not
// declare one.
func WithDefaultRetry(p RetryPolicy) EngineOption {
	return func(o *engineOptions) { o.defaultRetry = p }
}

func WithReconcileInterval(d time.Duration) EngineOption {
	return func(o *engineOptions) { o.reconcileInterval = d }
}

// Engine owns the run state machine, the correlation engine and the
// definition store operations. All collaborators are injected; there is no
// ambient global state, so tests construct engines with fakes.
type Engine struct {
	store    Store
	streamer EventStreamer
	actions  ActionRegistry
	schemas  SchemaCatalog

	clock  clock.Clock
	logger Logger
	opts   engineOptions

	runLocks  *locks.KeyedMutex
	draftLock *locks.KeyedMutex

	ctx       context.Context
	cancel    context.CancelFunc
	calledRun bool
	once      sync.Once
	launching sync.WaitGroup

	internalStateMu sync.Mutex
	internalState   map[string]State
}

func New(store Store, streamer EventStreamer, actions ActionRegistry, schemas SchemaCatalog, opts ...EngineOption) *Engine {
	opt := engineOptions{
		clock:                   clock.RealClock{},
		logger:                  noopLogger{},
		advancerCount:           defaultAdvancerCount,
		pollingFrequency:        defaultPollingFrequency,
		timeoutPollingFrequency: defaultPollingFrequency,
		reconcileInterval:       defaultReconcile,
		errBackOff:              defaultErrBackOff,
		defaultRetry: RetryPolicy{
			MaxAttempts:    defaultMaxAttempts,
			Backoff:        BackoffExponential,
			IntervalMillis: 1000,
			Jitter:         true,
		},
	}
	for _, o := range opts {
		o(&opt)
	}

	return &Engine{
		store:         store,
		streamer:      streamer,
		actions:       actions,
		schemas:       schemas,
		clock:         opt.clock,
		logger:        opt.logger,
		opts:          opt,
		runLocks:      locks.NewKeyedMutex(),
		draftLock:     locks.NewKeyedMutex(),
		internalState: make(map[string]State),
	}
}

// Run starts the background consumers: the advancers pulling from the
// ready-run queue, the wait-timeout poller and the reconciler. Run only
// needs to be called once; subsequent calls are safe no-ops.
func (e *Engine) Run(ctx context.Context) {
	e.once.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		e.ctx = ctx
		e.cancel = cancel
		e.calledRun = true

		for i := 1; i <= e.opts.advancerCount; i++ {
			name := makeRole("advancer", i, "of", e.opts.advancerCount)
			e.track(func() {
				e.process(name, e.advancerConsumer(name), e.opts.errBackOff)
			})
		}

		e.track(func() {
			e.process("wait-timeout-poller", e.pollExpiredWaits, e.opts.errBackOff)
		})

		e.track(func() {
			e.process("reconciler", e.reconcileForever, e.opts.errBackOff)
		})
	})

	e.launching.Wait()
}

// Stop tells the engine to shut down gracefully.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
}

func (e *Engine) track(fn func()) {
	e.launching.Add(1)
	go fn()
}

// process is the standardised way of running a blocking loop with built-in
// retry and state tracking, mirrored for every background consumer.
func (e *Engine) process(name string, fn func(ctx context.Context) error, errBackOff time.Duration) {
	e.updateState(name, StateIdle)
	defer e.updateState(name, StateShutdown)
	e.launching.Done()

	for {
		if e.ctx.Err() != nil {
			return
		}

		e.updateState(name, StateRunning)
		err := fn(e.ctx)
		if err != nil && e.ctx.Err() == nil {
			metrics.ProcessErrors.WithLabelValues(name).Inc()
			e.logger.Error(e.ctx, err)

			err = e.sleep(e.ctx, errBackOff)
			if err != nil {
				return
			}
			continue
		}

		if e.ctx.Err() != nil {
			e.logger.Debug(e.ctx, "shutting down process", MKV{"process_name": name})
			return
		}
	}
}

// advancerConsumer pulls ready run IDs off the queue and advances each run
// until it blocks, terminates or schedules a retry.
func (e *Engine) advancerConsumer(name string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		receiver, err := e.streamer.NewReceiver(
			ctx,
			TopicReadyRuns,
			name,
			WithReceiverPollFrequency(e.opts.pollingFrequency),
		)
		if err != nil {
			return err
		}
		defer receiver.Close()

		for {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			qe, ack, err := receiver.Recv(ctx)
			if err != nil {
				return err
			}

			err = e.advanceUntilBlocked(ctx, qe.RunID)
			if err != nil {
				return err
			}

			err = ack()
			if err != nil {
				return err
			}
		}
	}
}

// reconcileForever periodically re-enqueues RUNNING runs so that a run whose
// queue message was lost (or that was mid-advance during a crash) still
// makes eventual progress.
func (e *Engine) reconcileForever(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		runs, err := e.store.ListRuns(ctx, RunFilter{
			Statuses: []RunStatus{RunStatusRunning},
		})
		if err != nil {
			return err
		}

		for _, run := range runs {
			err = e.enqueueRun(ctx, run.ID)
			if err != nil {
				return err
			}
		}

		err = e.sleep(ctx, e.opts.reconcileInterval)
		if err != nil {
			return err
		}
	}
}

func (e *Engine) enqueueRun(ctx context.Context, runID string) error {
	sender, err := e.streamer.NewSender(ctx, TopicReadyRuns)
	if err != nil {
		return err
	}
	defer sender.Close()

	return sender.Send(ctx, runID)
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if d == 0 {
		return ctx.Err()
	}

	t := e.clock.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

func (e *Engine) recordRunFinished(run *Run) {
	metrics.RunsFinished.WithLabelValues(run.WorkflowKey, run.Status.String()).Inc()
}
