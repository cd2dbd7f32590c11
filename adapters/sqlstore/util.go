package sqlstore

import (
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/luno/jettison/errors"

	workflow "github.com/nine-minds/alga-workflow"
)

const (
	workflowSelectPrefix = "select id, workflow_key, metadata, created_at, updated_at " +
		"from workflows where "
	versionSelectPrefix = "select workflow_id, version, definition, payload_schema_snapshot, created_at " +
		"from workflow_versions where "
	runSelectPrefix = "select id, workflow_id, workflow_key, version, status, trigger_payload, vars, " +
		"correlation_key, parent_run_id, max_attempts, created_at, updated_at " +
		"from workflow_runs where "
	execSelectPrefix = "select run_id, seq, step_path, kind, attempt, input, output, error_message, " +
		"started_at, finished_at " +
		"from workflow_step_executions where "
	waitSelectPrefix = "select id, run_id, wait_type, step_path, event_name, correlation_key, child_run_id, " +
		"timeout_at, status, resolved_payload, created_at, resolved_at " +
		"from workflow_waits where "
	eventSelectPrefix = "select id, name, correlation_key, payload, payload_schema_ref, status, " +
		"matched_run_id, matched_wait_id, error_message, schema_conflict, created_at " +
		"from workflow_events where "
)

// row is a common interface for *sql.Rows and *sql.Row.
type row interface {
	Scan(dest ...any) error
}

func workflowScan(r row) (*workflow.WorkflowMeta, error) {
	var (
		meta     workflow.WorkflowMeta
		metadata []byte
	)
	err := r.Scan(&meta.ID, &meta.Key, &metadata, &meta.CreatedAt, &meta.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(workflow.ErrWorkflowNotFound, "")
	} else if err != nil {
		return nil, errors.Wrap(err, "scanning workflow")
	}

	err = unmarshalJSON(metadata, &meta.Metadata)
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

func versionScan(r row) (*workflow.Version, error) {
	var (
		v        workflow.Version
		def      []byte
		snapshot []byte
	)
	err := r.Scan(&v.WorkflowID, &v.Version, &def, &snapshot, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(workflow.ErrVersionNotFound, "")
	} else if err != nil {
		return nil, errors.Wrap(err, "scanning version")
	}

	err = unmarshalJSON(def, &v.Definition)
	if err != nil {
		return nil, err
	}
	err = unmarshalJSON(snapshot, &v.PayloadSchemaSnapshot)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func runScan(r row) (*workflow.Run, error) {
	var (
		run     workflow.Run
		status  int
		payload []byte
		vars    []byte
	)
	err := r.Scan(
		&run.ID, &run.WorkflowID, &run.WorkflowKey, &run.Version, &status, &payload,
		&vars, &run.CorrelationKey, &run.ParentRunID, &run.MaxAttempts, &run.CreatedAt, &run.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(workflow.ErrRunNotFound, "")
	} else if err != nil {
		return nil, errors.Wrap(err, "scanning run")
	}

	run.Status = workflow.RunStatus(status)
	err = unmarshalJSON(payload, &run.TriggerPayload)
	if err != nil {
		return nil, err
	}
	err = unmarshalJSON(vars, &run.Vars)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func execScan(r row) (*workflow.StepExecution, error) {
	var (
		exec     workflow.StepExecution
		kind     string
		input    []byte
		output   []byte
		started  sql.NullTime
		finished sql.NullTime
	)
	err := r.Scan(
		&exec.RunID, &exec.Seq, &exec.StepPath, &kind, &exec.Attempt, &input, &output,
		&exec.ErrorMessage, &started, &finished,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(workflow.ErrRunNotFound, "no step executions")
	} else if err != nil {
		return nil, errors.Wrap(err, "scanning step execution")
	}

	exec.Kind = workflow.StepKind(kind)
	exec.StartedAt = started.Time
	exec.FinishedAt = finished.Time
	err = unmarshalJSON(input, &exec.Input)
	if err != nil {
		return nil, err
	}
	err = unmarshalJSON(output, &exec.Output)
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

func waitScan(r row) (*workflow.Wait, error) {
	var (
		wait     workflow.Wait
		waitType int
		status   int
		timeout  sql.NullTime
		resolved []byte
		resAt    sql.NullTime
	)
	err := r.Scan(
		&wait.ID, &wait.RunID, &waitType, &wait.StepPath, &wait.EventName, &wait.CorrelationKey,
		&wait.ChildRunID, &timeout, &status, &resolved, &wait.CreatedAt, &resAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(workflow.ErrWaitNotFound, "")
	} else if err != nil {
		return nil, errors.Wrap(err, "scanning wait")
	}

	wait.Type = workflow.WaitType(waitType)
	wait.Status = workflow.WaitStatus(status)
	wait.TimeoutAt = timeout.Time
	wait.ResolvedAt = resAt.Time
	err = unmarshalJSON(resolved, &wait.ResolvedPayload)
	if err != nil {
		return nil, err
	}
	return &wait, nil
}

func eventScan(r row) (*workflow.Event, error) {
	var (
		event   workflow.Event
		status  string
		payload []byte
	)
	err := r.Scan(
		&event.ID, &event.Name, &event.CorrelationKey, &payload, &event.PayloadSchemaRef, &status,
		&event.MatchedRunID, &event.MatchedWaitID, &event.ErrorMessage, &event.SchemaConflict, &event.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(workflow.ErrEventNotFound, "")
	} else if err != nil {
		return nil, errors.Wrap(err, "scanning event")
	}

	event.Status = workflow.EventStatus(status)
	err = unmarshalJSON(payload, &event.Payload)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func runFilterClause(filter workflow.RunFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.WorkflowID != "" {
		clauses = append(clauses, "workflow_id=?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Version != 0 {
		clauses = append(clauses, "version=?")
		args = append(args, filter.Version)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, int(s))
		}
		clauses = append(clauses, "status in ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.CorrelationKey != "" {
		clauses = append(clauses, "correlation_key=?")
		args = append(args, filter.CorrelationKey)
	}
	if !filter.CreatedAfter.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filter.CreatedAfter)
	}
	if !filter.CreatedBefore.IsZero() {
		clauses = append(clauses, "created_at < ?")
		args = append(args, filter.CreatedBefore)
	}
	if filter.MinAttempts > 0 {
		clauses = append(clauses, "max_attempts >= ?")
		args = append(args, filter.MinAttempts)
	}
	if len(clauses) == 0 {
		clauses = append(clauses, "1=1")
	}

	where := strings.Join(clauses, " and ") + " order by created_at"
	where += limitClause(filter.Limit, filter.Offset)
	return where, args
}

func eventFilterClause(filter workflow.EventFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.Name != "" {
		clauses = append(clauses, "name=?")
		args = append(args, filter.Name)
	}
	if filter.CorrelationKey != "" {
		clauses = append(clauses, "correlation_key=?")
		args = append(args, filter.CorrelationKey)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(s))
		}
		clauses = append(clauses, "status in ("+strings.Join(placeholders, ", ")+")")
	}
	if len(clauses) == 0 {
		clauses = append(clauses, "1=1")
	}

	where := strings.Join(clauses, " and ") + " order by created_at"
	where += limitClause(filter.Limit, filter.Offset)
	return where, args
}

// limitClause inlines limit/offset; they are engine-derived ints, never user
// strings.
func limitClause(limit, offset int) string {
	var clause string
	if limit > 0 {
		clause += " limit " + strconv.Itoa(limit)
		if offset > 0 {
			clause += " offset " + strconv.Itoa(offset)
		}
	} else if offset > 0 {
		clause += " limit 18446744073709551615 offset " + strconv.Itoa(offset)
	}
	return clause
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling json column")
	}
	return b, nil
}

func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	err := json.Unmarshal(data, v)
	if err != nil {
		return errors.Wrap(err, "unmarshalling json column")
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
