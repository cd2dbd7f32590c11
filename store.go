package workflow

import (
	"context"
	"time"
)

// Store is the persistence port for all engine entities. Implementations
// must be transactional and durable; adapters/memstore provides the
// reference in-memory implementation and adapters/sqlstore the MySQL one.
//
// Conditional updates (ResolveWait) are the synchronization primitive the
// correlation engine relies on and must be atomic first-committer-wins.
type Store interface {
	// CreateWorkflow atomically creates the workflow identity with an empty
	// draft.
	CreateWorkflow(ctx context.Context, meta *WorkflowMeta, draft *Draft) error
	LookupWorkflow(ctx context.Context, workflowID string) (*WorkflowMeta, error)
	LookupWorkflowByKey(ctx context.Context, key string) (*WorkflowMeta, error)
	ListWorkflows(ctx context.Context) ([]WorkflowMeta, error)
	// DeleteWorkflow removes the workflow, its draft and versions. Only
	// force imports use it; run history is retained.
	DeleteWorkflow(ctx context.Context, workflowID string) error

	SaveDraft(ctx context.Context, draft *Draft) error
	LookupDraft(ctx context.Context, workflowID string) (*Draft, error)

	// CreateVersion persists an immutable published snapshot.
	CreateVersion(ctx context.Context, version *Version) error
	LookupVersion(ctx context.Context, workflowID string, version int) (*Version, error)
	ListVersions(ctx context.Context, workflowID string) ([]Version, error)

	CreateRun(ctx context.Context, run *Run) error
	LookupRun(ctx context.Context, runID string) (*Run, error)
	UpdateRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	// CountRunsByStatus backs the UI summary aggregation.
	CountRunsByStatus(ctx context.Context, workflowID string) (map[RunStatus]int64, error)
	// CountActiveRuns backs per-version concurrency limits.
	CountActiveRuns(ctx context.Context, workflowID string, version int) (int, error)

	// AppendStepExecution assigns the next sequence number and appends. The
	// log is append-only and totally ordered per run; prior records are
	// never mutated or removed.
	AppendStepExecution(ctx context.Context, exec *StepExecution) error
	ListStepExecutions(ctx context.Context, runID string) ([]StepExecution, error)

	CreateWait(ctx context.Context, wait *Wait) error
	LookupWait(ctx context.Context, waitID string) (*Wait, error)
	// LookupOpenWait returns the run's single open wait, or ErrWaitNotFound.
	LookupOpenWait(ctx context.Context, runID string) (*Wait, error)
	// FindOpenEventWait returns the oldest open event wait exactly matching
	// the name and key, or ErrWaitNotFound.
	FindOpenEventWait(ctx context.Context, eventName, correlationKey string) (*Wait, error)
	// ResolveWait conditionally moves an Open wait to the given status,
	// returning ErrWaitAlreadyResolved if it is no longer open.
	ResolveWait(ctx context.Context, waitID string, to WaitStatus, payload map[string]any) error
	// ListExpiredWaits returns open waits whose timeout_at is at or before
	// now.
	ListExpiredWaits(ctx context.Context, now time.Time) ([]Wait, error)

	CreateEvent(ctx context.Context, event *Event) error
	UpdateEvent(ctx context.Context, event *Event) error
	LookupEvent(ctx context.Context, eventID string) (*Event, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]Event, error)
}

// RunFilter narrows ListRuns. Zero values mean "any". It backs both the UI
// run browser and the dead-letter view.
type RunFilter struct {
	WorkflowID     string
	Version        int
	Statuses       []RunStatus
	CorrelationKey string
	CreatedAfter   time.Time
	CreatedBefore  time.Time
	// MinAttempts filters on the run's terminal attempt count; the
	// dead-letter view uses it to select exhausted-retry failures.
	MinAttempts int
	Limit       int
	Offset      int
}

func (f RunFilter) MatchesStatus(status RunStatus) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (f RunFilter) Matches(run *Run) bool {
	if f.WorkflowID != "" && run.WorkflowID != f.WorkflowID {
		return false
	}
	if f.Version != 0 && run.Version != f.Version {
		return false
	}
	if !f.MatchesStatus(run.Status) {
		return false
	}
	if f.CorrelationKey != "" && run.CorrelationKey != f.CorrelationKey {
		return false
	}
	if !f.CreatedAfter.IsZero() && run.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !run.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	if f.MinAttempts > 0 && run.MaxAttempts < f.MinAttempts {
		return false
	}
	return true
}

type EventFilter struct {
	Name           string
	CorrelationKey string
	Statuses       []EventStatus
	Limit          int
	Offset         int
}

func (f EventFilter) Matches(ev *Event) bool {
	if f.Name != "" && ev.Name != f.Name {
		return false
	}
	if f.CorrelationKey != "" && ev.CorrelationKey != f.CorrelationKey {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if s == ev.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
