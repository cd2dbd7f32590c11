// Package memstore is the reference in-memory Store. It is the store used
// by the engine's own tests and is suitable for single-process deployments;
// adapters/sqlstore provides the durable MySQL implementation with the same
// semantics.
package memstore

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"k8s.io/utils/clock"

	workflow "github.com/nine-minds/alga-workflow"
)

func New(opts ...Option) *Store {
	opt := options{
		clock: clock.RealClock{},
	}
	for _, o := range opts {
		o(&opt)
	}

	return &Store{
		clock:     opt.clock,
		workflows: make(map[string]workflow.WorkflowMeta),
		keyIndex:  make(map[string]string),
		drafts:    make(map[string]workflow.Draft),
		versions:  make(map[string][]workflow.Version),
		runs:      make(map[string]workflow.Run),
		execs:     make(map[string][]workflow.StepExecution),
		waits:     make(map[string]workflow.Wait),
		events:    make(map[string]workflow.Event),
	}
}

type options struct {
	clock clock.Clock
}

type Option func(o *options)

func WithClock(clock clock.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

var _ workflow.Store = (*Store)(nil)

type Store struct {
	mu    sync.Mutex
	clock clock.Clock

	workflows map[string]workflow.WorkflowMeta
	keyIndex  map[string]string
	drafts    map[string]workflow.Draft
	versions  map[string][]workflow.Version

	runs     map[string]workflow.Run
	runOrder []string
	execs    map[string][]workflow.StepExecution

	waits     map[string]workflow.Wait
	waitOrder []string

	events     map[string]workflow.Event
	eventOrder []string
}

func (s *Store) CreateWorkflow(ctx context.Context, meta *workflow.WorkflowMeta, draft *workflow.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keyIndex[meta.Key]; ok {
		return errors.Wrap(workflow.ErrConflict, "", j.MKV{"key": meta.Key})
	}
	if _, ok := s.workflows[meta.ID]; ok {
		return errors.Wrap(workflow.ErrConflict, "duplicate workflow id", j.MKV{"workflow_id": meta.ID})
	}

	s.workflows[meta.ID] = *meta
	s.keyIndex[meta.Key] = meta.ID
	s.drafts[meta.ID] = *draft
	return nil
}

func (s *Store) LookupWorkflow(ctx context.Context, workflowID string) (*workflow.WorkflowMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.workflows[workflowID]
	if !ok {
		return nil, errors.Wrap(workflow.ErrWorkflowNotFound, "", j.MKV{"workflow_id": workflowID})
	}
	return &meta, nil
}

func (s *Store) LookupWorkflowByKey(ctx context.Context, key string) (*workflow.WorkflowMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.keyIndex[key]
	if !ok {
		return nil, errors.Wrap(workflow.ErrWorkflowNotFound, "", j.MKV{"key": key})
	}
	meta := s.workflows[id]
	return &meta, nil
}

func (s *Store) ListWorkflows(ctx context.Context) ([]workflow.WorkflowMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]workflow.WorkflowMeta, 0, len(s.workflows))
	for _, meta := range s.workflows {
		out = append(out, meta)
	}
	return out, nil
}

func (s *Store) DeleteWorkflow(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.workflows[workflowID]
	if !ok {
		return errors.Wrap(workflow.ErrWorkflowNotFound, "", j.MKV{"workflow_id": workflowID})
	}

	// Run history is intentionally retained.
	delete(s.workflows, workflowID)
	delete(s.keyIndex, meta.Key)
	delete(s.drafts, workflowID)
	delete(s.versions, workflowID)
	return nil
}

func (s *Store) SaveDraft(ctx context.Context, draft *workflow.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[draft.WorkflowID]; !ok {
		return errors.Wrap(workflow.ErrWorkflowNotFound, "", j.MKV{"workflow_id": draft.WorkflowID})
	}
	s.drafts[draft.WorkflowID] = *draft
	return nil
}

func (s *Store) LookupDraft(ctx context.Context, workflowID string) (*workflow.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft, ok := s.drafts[workflowID]
	if !ok {
		return nil, errors.Wrap(workflow.ErrDraftNotFound, "", j.MKV{"workflow_id": workflowID})
	}
	return &draft, nil
}

func (s *Store) CreateVersion(ctx context.Context, version *workflow.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[version.WorkflowID]; !ok {
		return errors.Wrap(workflow.ErrWorkflowNotFound, "", j.MKV{"workflow_id": version.WorkflowID})
	}
	for _, v := range s.versions[version.WorkflowID] {
		if v.Version == version.Version {
			return errors.Wrap(workflow.ErrConflict, "version already published", j.MKV{
				"workflow_id": version.WorkflowID,
				"version":     strconv.Itoa(version.Version),
			})
		}
	}

	s.versions[version.WorkflowID] = append(s.versions[version.WorkflowID], *version)
	return nil
}

func (s *Store) LookupVersion(ctx context.Context, workflowID string, version int) (*workflow.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.versions[workflowID] {
		if v.Version == version {
			out := v
			return &out, nil
		}
	}
	return nil, errors.Wrap(workflow.ErrVersionNotFound, "", j.MKV{
		"workflow_id": workflowID,
		"version":     strconv.Itoa(version),
	})
}

func (s *Store) ListVersions(ctx context.Context, workflowID string) ([]workflow.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]workflow.Version{}, s.versions[workflowID]...), nil
}

func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return errors.Wrap(workflow.ErrConflict, "duplicate run id", j.MKV{"run_id": run.ID})
	}
	s.runs[run.ID] = *run
	s.runOrder = append(s.runOrder, run.ID)
	return nil
}

func (s *Store) LookupRun(ctx context.Context, runID string) (*workflow.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, errors.Wrap(workflow.ErrRunNotFound, "", j.MKV{"run_id": runID})
	}
	return &run, nil
}

func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return errors.Wrap(workflow.ErrRunNotFound, "", j.MKV{"run_id": run.ID})
	}
	s.runs[run.ID] = *run
	return nil
}

func (s *Store) ListRuns(ctx context.Context, filter workflow.RunFilter) ([]workflow.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []workflow.Run
	for _, id := range s.runOrder {
		run := s.runs[id]
		if !filter.Matches(&run) {
			continue
		}
		matched = append(matched, run)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *Store) CountRunsByStatus(ctx context.Context, workflowID string) (map[workflow.RunStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[workflow.RunStatus]int64)
	for _, run := range s.runs {
		if run.WorkflowID != workflowID {
			continue
		}
		counts[run.Status]++
	}
	return counts, nil
}

func (s *Store) CountActiveRuns(ctx context.Context, workflowID string, version int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, run := range s.runs {
		if run.WorkflowID != workflowID || run.Version != version {
			continue
		}
		if run.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (s *Store) AppendStepExecution(ctx context.Context, exec *workflow.StepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[exec.RunID]; !ok {
		return errors.Wrap(workflow.ErrRunNotFound, "", j.MKV{"run_id": exec.RunID})
	}

	exec.Seq = len(s.execs[exec.RunID]) + 1
	s.execs[exec.RunID] = append(s.execs[exec.RunID], *exec)
	return nil
}

func (s *Store) ListStepExecutions(ctx context.Context, runID string) ([]workflow.StepExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]workflow.StepExecution{}, s.execs[runID]...), nil
}

func (s *Store) CreateWait(ctx context.Context, wait *workflow.Wait) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.waits[wait.ID]; ok {
		return errors.Wrap(workflow.ErrConflict, "duplicate wait id", j.MKV{"wait_id": wait.ID})
	}
	s.waits[wait.ID] = *wait
	s.waitOrder = append(s.waitOrder, wait.ID)
	return nil
}

func (s *Store) LookupWait(ctx context.Context, waitID string) (*workflow.Wait, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wait, ok := s.waits[waitID]
	if !ok {
		return nil, errors.Wrap(workflow.ErrWaitNotFound, "", j.MKV{"wait_id": waitID})
	}
	return &wait, nil
}

func (s *Store) LookupOpenWait(ctx context.Context, runID string) (*workflow.Wait, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.waitOrder {
		wait := s.waits[id]
		if wait.RunID == runID && wait.Status == workflow.WaitStatusOpen {
			return &wait, nil
		}
	}
	return nil, errors.Wrap(workflow.ErrWaitNotFound, "no open wait", j.MKV{"run_id": runID})
}

func (s *Store) FindOpenEventWait(ctx context.Context, eventName, correlationKey string) (*workflow.Wait, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// waitOrder is insertion order, so the first match is the oldest.
	for _, id := range s.waitOrder {
		wait := s.waits[id]
		if wait.Status != workflow.WaitStatusOpen || wait.Type != workflow.WaitTypeEvent {
			continue
		}
		if wait.EventName != eventName || wait.CorrelationKey != correlationKey {
			continue
		}
		return &wait, nil
	}
	return nil, errors.Wrap(workflow.ErrWaitNotFound, "no matching open wait", j.MKV{
		"event_name":      eventName,
		"correlation_key": correlationKey,
	})
}

func (s *Store) ResolveWait(ctx context.Context, waitID string, to workflow.WaitStatus, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wait, ok := s.waits[waitID]
	if !ok {
		return errors.Wrap(workflow.ErrWaitNotFound, "", j.MKV{"wait_id": waitID})
	}
	// The conditional update is the first-committer-wins primitive.
	if wait.Status != workflow.WaitStatusOpen {
		return errors.Wrap(workflow.ErrWaitAlreadyResolved, "", j.MKV{
			"wait_id": waitID,
			"status":  wait.Status.String(),
		})
	}

	wait.Status = to
	wait.ResolvedPayload = payload
	wait.ResolvedAt = s.clock.Now()
	s.waits[waitID] = wait
	return nil
}

func (s *Store) ListExpiredWaits(ctx context.Context, now time.Time) ([]workflow.Wait, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []workflow.Wait
	for _, id := range s.waitOrder {
		wait := s.waits[id]
		if wait.Status != workflow.WaitStatusOpen || wait.TimeoutAt.IsZero() {
			continue
		}
		if wait.TimeoutAt.After(now) {
			continue
		}
		expired = append(expired, wait)
	}
	return expired, nil
}

func (s *Store) CreateEvent(ctx context.Context, event *workflow.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[event.ID]; ok {
		return errors.Wrap(workflow.ErrConflict, "duplicate event id", j.MKV{"event_id": event.ID})
	}
	s.events[event.ID] = *event
	s.eventOrder = append(s.eventOrder, event.ID)
	return nil
}

func (s *Store) UpdateEvent(ctx context.Context, event *workflow.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[event.ID]; !ok {
		return errors.Wrap(workflow.ErrEventNotFound, "", j.MKV{"event_id": event.ID})
	}
	s.events[event.ID] = *event
	return nil
}

func (s *Store) LookupEvent(ctx context.Context, eventID string) (*workflow.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[eventID]
	if !ok {
		return nil, errors.Wrap(workflow.ErrEventNotFound, "", j.MKV{"event_id": eventID})
	}
	return &event, nil
}

func (s *Store) ListEvents(ctx context.Context, filter workflow.EventFilter) ([]workflow.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []workflow.Event
	for _, id := range s.eventOrder {
		event := s.events[id]
		if !filter.Matches(&event) {
			continue
		}
		matched = append(matched, event)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}
