package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/nine-minds/alga-workflow/internal/metrics"
)

// EventStatus is derived by the correlation engine when an event is
// processed. Unmatched is an explicit, non-error state: events may
// legitimately arrive with no listener.
type EventStatus string

const (
	EventStatusMatched   EventStatus = "matched"
	EventStatusUnmatched EventStatus = "unmatched"
	EventStatusError     EventStatus = "error"
)

// Event is an inbound external event, immutable once ingested apart from the
// derived matching fields. An event is processed for matching at most once.
type Event struct {
	ID               string
	Name             string
	CorrelationKey   string
	Payload          map[string]any
	PayloadSchemaRef string
	Status           EventStatus
	MatchedRunID     string
	MatchedWaitID    string
	// ErrorMessage is set when matching itself failed, e.g. a payload that
	// fails schema validation. Distinct from unmatched.
	ErrorMessage string
	// SchemaConflict annotates drift between the event's declared schema
	// ref and the catalog's registered ref for the event name. Surfaced to
	// operators, never blocks matching.
	SchemaConflict string
	CreatedAt      time.Time
}

// Ingest records an inbound event and attempts to correlate it to an open
// Wait. Matching is exact on (event name, correlation key); the first
// committer on the Wait's conditional status update wins, so concurrent
// deliveries of the same key resolve exactly one match. Ingestion of later
// events is never blocked by a failure on an earlier one.
func (e *Engine) Ingest(
	ctx context.Context,
	eventName string,
	correlationKey string,
	payload map[string]any,
	payloadSchemaRef string,
) (*Event, error) {
	if !e.calledRun {
		return nil, errors.Wrap(ErrEngineNotRunning, "")
	}
	if eventName == "" {
		return nil, errors.Wrap(ErrValidation, "event name is required")
	}

	uid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}

	ev := &Event{
		ID:               uid.String(),
		Name:             eventName,
		CorrelationKey:   correlationKey,
		Payload:          payload,
		PayloadSchemaRef: payloadSchemaRef,
		Status:           EventStatusUnmatched,
		CreatedAt:        e.clock.Now(),
	}

	e.annotateSchemaDrift(ctx, ev)

	if err := e.validateEventPayload(ctx, ev); err != nil {
		// Matching errors are recorded on the event, not raised; subsequent
		// events must keep flowing.
		ev.Status = EventStatusError
		ev.ErrorMessage = err.Error()
		if storeErr := e.store.CreateEvent(ctx, ev); storeErr != nil {
			return nil, storeErr
		}
		metrics.EventsIngested.WithLabelValues(string(EventStatusError)).Inc()
		return ev, nil
	}

	err = e.store.CreateEvent(ctx, ev)
	if err != nil {
		return nil, err
	}

	err = e.matchEvent(ctx, ev)
	if err != nil {
		return nil, err
	}

	err = e.triggerRunsForEvent(ctx, ev)
	if err != nil {
		return nil, err
	}

	metrics.EventsIngested.WithLabelValues(string(ev.Status)).Inc()
	return ev, nil
}

// annotateSchemaDrift stamps a conflict note when the event's declared
// schema ref differs from the catalog's registered ref for the event name.
func (e *Engine) annotateSchemaDrift(ctx context.Context, ev *Event) {
	if e.schemas == nil || ev.PayloadSchemaRef == "" {
		return
	}
	registered, ok := e.schemas.RegisteredRef(ev.Name)
	if !ok || registered == ev.PayloadSchemaRef {
		return
	}
	ev.SchemaConflict = "declared schema ref '" + ev.PayloadSchemaRef +
		"' differs from registered '" + registered + "'"
	e.logger.Debug(ctx, "event schema drift", MKV{
		"event_name": ev.Name,
		"declared":   ev.PayloadSchemaRef,
		"registered": registered,
	})
}

func (e *Engine) validateEventPayload(ctx context.Context, ev *Event) error {
	if e.schemas == nil || ev.PayloadSchemaRef == "" {
		return nil
	}
	schema, ok := e.schemas.Resolve(ev.PayloadSchemaRef)
	if !ok {
		// An unresolvable ref is drift, not a malformed payload.
		return nil
	}
	return validateAgainstSchema(ev.Payload, schema)
}

// matchEvent finds the oldest open event Wait bound to the same name and
// correlation key, resolves it, and resumes the owning run. Events for a
// given correlation key are matched in arrival order because ingestion
// resolves synchronously before returning.
func (e *Engine) matchEvent(ctx context.Context, ev *Event) error {
	for {
		wait, err := e.store.FindOpenEventWait(ctx, ev.Name, ev.CorrelationKey)
		if errors.Is(err, ErrWaitNotFound) {
			ev.Status = EventStatusUnmatched
			return e.store.UpdateEvent(ctx, ev)
		} else if err != nil {
			return err
		}

		err = e.store.ResolveWait(ctx, wait.ID, WaitStatusResolved, ev.Payload)
		if errors.Is(err, ErrWaitAlreadyResolved) {
			// NoReturnErr: Lost the race on this wait; look for another.
			continue
		} else if err != nil {
			return err
		}

		ev.Status = EventStatusMatched
		ev.MatchedRunID = wait.RunID
		ev.MatchedWaitID = wait.ID
		err = e.store.UpdateEvent(ctx, ev)
		if err != nil {
			return err
		}

		err = e.completeWait(ctx, *wait, ev.Payload)
		if err != nil {
			return errors.Wrap(err, "resuming matched run", j.MKV{
				"event_id": ev.ID,
				"run_id":   wait.RunID,
			})
		}

		e.logger.Debug(ctx, "event matched", MKV{
			"event_id":        ev.ID,
			"event_name":      ev.Name,
			"correlation_key": ev.CorrelationKey,
			"run_id":          wait.RunID,
			"wait_id":         wait.ID,
		})
		return nil
	}
}
