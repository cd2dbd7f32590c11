// Package sqlstore is the MySQL Store. Entity payloads (definitions, vars,
// payloads) are stored as JSON columns; the schema is in schema.sql.
package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	workflow "github.com/nine-minds/alga-workflow"
)

type SQLStore struct {
	writer *sql.DB
	reader *sql.DB
}

func New(writer *sql.DB, reader *sql.DB) *SQLStore {
	return &SQLStore{
		writer: writer,
		reader: reader,
	}
}

var _ workflow.Store = (*SQLStore)(nil)

const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

func (s *SQLStore) CreateWorkflow(ctx context.Context, meta *workflow.WorkflowMeta, draft *workflow.Draft) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	metadata, err := marshalJSON(meta.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, "insert into workflows set "+
		" id=?, workflow_key=?, metadata=?, created_at=?, updated_at=? ",
		meta.ID, meta.Key, metadata, meta.CreatedAt, meta.UpdatedAt,
	)
	if isDuplicate(err) {
		return errors.Wrap(workflow.ErrConflict, "", j.MKV{"key": meta.Key})
	} else if err != nil {
		return errors.Wrap(err, "creating workflow")
	}

	def, err := marshalJSON(draft.Definition)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, "insert into workflow_drafts set "+
		" workflow_id=?, definition=?, updated_at=? ",
		draft.WorkflowID, def, draft.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "creating draft")
	}

	return tx.Commit()
}

func (s *SQLStore) LookupWorkflow(ctx context.Context, workflowID string) (*workflow.WorkflowMeta, error) {
	return workflowScan(s.reader.QueryRowContext(ctx,
		workflowSelectPrefix+"id=?", workflowID))
}

func (s *SQLStore) LookupWorkflowByKey(ctx context.Context, key string) (*workflow.WorkflowMeta, error) {
	return workflowScan(s.reader.QueryRowContext(ctx,
		workflowSelectPrefix+"workflow_key=?", key))
}

func (s *SQLStore) ListWorkflows(ctx context.Context) ([]workflow.WorkflowMeta, error) {
	rows, err := s.reader.QueryContext(ctx, workflowSelectPrefix+"1=1 order by created_at")
	if err != nil {
		return nil, errors.Wrap(err, "listing workflows")
	}
	defer rows.Close()

	var out []workflow.WorkflowMeta
	for rows.Next() {
		meta, err := workflowScan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *meta)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteWorkflow(ctx context.Context, workflowID string) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "delete from workflows where id=?", workflowID)
	if err != nil {
		return errors.Wrap(err, "deleting workflow")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrap(workflow.ErrWorkflowNotFound, "", j.MKV{"workflow_id": workflowID})
	}

	// Run history stays; only definitions go.
	_, err = tx.ExecContext(ctx, "delete from workflow_drafts where workflow_id=?", workflowID)
	if err != nil {
		return errors.Wrap(err, "deleting draft")
	}
	_, err = tx.ExecContext(ctx, "delete from workflow_versions where workflow_id=?", workflowID)
	if err != nil {
		return errors.Wrap(err, "deleting versions")
	}

	return tx.Commit()
}

func (s *SQLStore) SaveDraft(ctx context.Context, draft *workflow.Draft) error {
	def, err := marshalJSON(draft.Definition)
	if err != nil {
		return err
	}

	res, err := s.writer.ExecContext(ctx, "update workflow_drafts set "+
		" definition=?, updated_at=? where workflow_id=? ",
		def, draft.UpdatedAt, draft.WorkflowID,
	)
	if err != nil {
		return errors.Wrap(err, "saving draft")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Zero rows also means an unchanged definition; upsert to cover both.
		_, err = s.writer.ExecContext(ctx, "insert into workflow_drafts set "+
			" workflow_id=?, definition=?, updated_at=? "+
			" on duplicate key update definition=values(definition), updated_at=values(updated_at) ",
			draft.WorkflowID, def, draft.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, "upserting draft")
		}
	}
	return nil
}

func (s *SQLStore) LookupDraft(ctx context.Context, workflowID string) (*workflow.Draft, error) {
	row := s.reader.QueryRowContext(ctx,
		"select workflow_id, definition, updated_at from workflow_drafts where workflow_id=?",
		workflowID)

	var (
		draft workflow.Draft
		def   []byte
	)
	err := row.Scan(&draft.WorkflowID, &def, &draft.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(workflow.ErrDraftNotFound, "", j.MKV{"workflow_id": workflowID})
	} else if err != nil {
		return nil, errors.Wrap(err, "scanning draft")
	}

	err = unmarshalJSON(def, &draft.Definition)
	if err != nil {
		return nil, err
	}
	return &draft, nil
}

func (s *SQLStore) CreateVersion(ctx context.Context, version *workflow.Version) error {
	def, err := marshalJSON(version.Definition)
	if err != nil {
		return err
	}
	snapshot, err := marshalJSON(version.PayloadSchemaSnapshot)
	if err != nil {
		return err
	}

	_, err = s.writer.ExecContext(ctx, "insert into workflow_versions set "+
		" workflow_id=?, version=?, definition=?, payload_schema_snapshot=?, created_at=? ",
		version.WorkflowID, version.Version, def, snapshot, version.CreatedAt,
	)
	if isDuplicate(err) {
		return errors.Wrap(workflow.ErrConflict, "version already published", j.MKV{
			"workflow_id": version.WorkflowID,
		})
	} else if err != nil {
		return errors.Wrap(err, "creating version")
	}
	return nil
}

func (s *SQLStore) LookupVersion(ctx context.Context, workflowID string, version int) (*workflow.Version, error) {
	return versionScan(s.reader.QueryRowContext(ctx,
		versionSelectPrefix+"workflow_id=? and version=?", workflowID, version))
}

func (s *SQLStore) ListVersions(ctx context.Context, workflowID string) ([]workflow.Version, error) {
	rows, err := s.reader.QueryContext(ctx,
		versionSelectPrefix+"workflow_id=? order by version", workflowID)
	if err != nil {
		return nil, errors.Wrap(err, "listing versions")
	}
	defer rows.Close()

	var out []workflow.Version
	for rows.Next() {
		v, err := versionScan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (s *SQLStore) CreateRun(ctx context.Context, run *workflow.Run) error {
	payload, err := marshalJSON(run.TriggerPayload)
	if err != nil {
		return err
	}
	vars, err := marshalJSON(run.Vars)
	if err != nil {
		return err
	}

	_, err = s.writer.ExecContext(ctx, "insert into workflow_runs set "+
		" id=?, workflow_id=?, workflow_key=?, version=?, status=?, trigger_payload=?, "+
		" vars=?, correlation_key=?, parent_run_id=?, max_attempts=?, created_at=?, updated_at=? ",
		run.ID, run.WorkflowID, run.WorkflowKey, run.Version, int(run.Status), payload,
		vars, run.CorrelationKey, run.ParentRunID, run.MaxAttempts, run.CreatedAt, run.UpdatedAt,
	)
	if isDuplicate(err) {
		return errors.Wrap(workflow.ErrConflict, "duplicate run id", j.MKV{"run_id": run.ID})
	} else if err != nil {
		return errors.Wrap(err, "creating run")
	}
	return nil
}

func (s *SQLStore) LookupRun(ctx context.Context, runID string) (*workflow.Run, error) {
	return runScan(s.reader.QueryRowContext(ctx, runSelectPrefix+"id=?", runID))
}

func (s *SQLStore) UpdateRun(ctx context.Context, run *workflow.Run) error {
	vars, err := marshalJSON(run.Vars)
	if err != nil {
		return err
	}

	res, err := s.writer.ExecContext(ctx, "update workflow_runs set "+
		" status=?, vars=?, correlation_key=?, max_attempts=?, updated_at=? where id=? ",
		int(run.Status), vars, run.CorrelationKey, run.MaxAttempts, run.UpdatedAt, run.ID,
	)
	if err != nil {
		return errors.Wrap(err, "updating run")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Zero can also mean an identical row; existence decides.
		_, lookupErr := s.LookupRun(ctx, run.ID)
		if lookupErr != nil {
			return lookupErr
		}
	}
	return nil
}

func (s *SQLStore) ListRuns(ctx context.Context, filter workflow.RunFilter) ([]workflow.Run, error) {
	where, args := runFilterClause(filter)

	rows, err := s.reader.QueryContext(ctx, runSelectPrefix+where, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing runs")
	}
	defer rows.Close()

	var out []workflow.Run
	for rows.Next() {
		run, err := runScan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func (s *SQLStore) CountRunsByStatus(ctx context.Context, workflowID string) (map[workflow.RunStatus]int64, error) {
	rows, err := s.reader.QueryContext(ctx,
		"select status, count(*) from workflow_runs where workflow_id=? group by status",
		workflowID)
	if err != nil {
		return nil, errors.Wrap(err, "counting runs")
	}
	defer rows.Close()

	counts := make(map[workflow.RunStatus]int64)
	for rows.Next() {
		var (
			status int
			n      int64
		)
		err = rows.Scan(&status, &n)
		if err != nil {
			return nil, errors.Wrap(err, "scanning run count")
		}
		counts[workflow.RunStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *SQLStore) CountActiveRuns(ctx context.Context, workflowID string, version int) (int, error) {
	row := s.reader.QueryRowContext(ctx,
		"select count(*) from workflow_runs where workflow_id=? and version=? and status in (?, ?)",
		workflowID, version, int(workflow.RunStatusRunning), int(workflow.RunStatusWaiting))

	var n int
	err := row.Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "counting active runs")
	}
	return n, nil
}

func (s *SQLStore) AppendStepExecution(ctx context.Context, exec *workflow.StepExecution) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Sequence numbers are dense per run; the lock on the max row serializes
	// concurrent appends.
	row := tx.QueryRowContext(ctx,
		"select coalesce(max(seq), 0) from workflow_step_executions where run_id=? for update",
		exec.RunID)
	var maxSeq int
	err = row.Scan(&maxSeq)
	if err != nil {
		return errors.Wrap(err, "scanning max seq")
	}
	exec.Seq = maxSeq + 1

	input, err := marshalJSON(exec.Input)
	if err != nil {
		return err
	}
	output, err := marshalJSON(exec.Output)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, "insert into workflow_step_executions set "+
		" run_id=?, seq=?, step_path=?, kind=?, attempt=?, input=?, output=?, "+
		" error_message=?, started_at=?, finished_at=? ",
		exec.RunID, exec.Seq, exec.StepPath, string(exec.Kind), exec.Attempt, input, output,
		exec.ErrorMessage, nullTime(exec.StartedAt), nullTime(exec.FinishedAt),
	)
	if err != nil {
		return errors.Wrap(err, "appending step execution")
	}

	return tx.Commit()
}

func (s *SQLStore) ListStepExecutions(ctx context.Context, runID string) ([]workflow.StepExecution, error) {
	rows, err := s.reader.QueryContext(ctx,
		execSelectPrefix+"run_id=? order by seq", runID)
	if err != nil {
		return nil, errors.Wrap(err, "listing step executions")
	}
	defer rows.Close()

	var out []workflow.StepExecution
	for rows.Next() {
		exec, err := execScan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *exec)
	}
	return out, rows.Err()
}

func (s *SQLStore) CreateWait(ctx context.Context, wait *workflow.Wait) error {
	_, err := s.writer.ExecContext(ctx, "insert into workflow_waits set "+
		" id=?, run_id=?, wait_type=?, step_path=?, event_name=?, correlation_key=?, "+
		" child_run_id=?, timeout_at=?, status=?, created_at=? ",
		wait.ID, wait.RunID, int(wait.Type), wait.StepPath, wait.EventName, wait.CorrelationKey,
		wait.ChildRunID, nullTime(wait.TimeoutAt), int(wait.Status), wait.CreatedAt,
	)
	if isDuplicate(err) {
		return errors.Wrap(workflow.ErrConflict, "duplicate wait id", j.MKV{"wait_id": wait.ID})
	} else if err != nil {
		return errors.Wrap(err, "creating wait")
	}
	return nil
}

func (s *SQLStore) LookupWait(ctx context.Context, waitID string) (*workflow.Wait, error) {
	return waitScan(s.reader.QueryRowContext(ctx, waitSelectPrefix+"id=?", waitID))
}

func (s *SQLStore) LookupOpenWait(ctx context.Context, runID string) (*workflow.Wait, error) {
	return waitScan(s.reader.QueryRowContext(ctx,
		waitSelectPrefix+"run_id=? and status=? order by created_at limit 1",
		runID, int(workflow.WaitStatusOpen)))
}

func (s *SQLStore) FindOpenEventWait(ctx context.Context, eventName, correlationKey string) (*workflow.Wait, error) {
	return waitScan(s.reader.QueryRowContext(ctx,
		waitSelectPrefix+"wait_type=? and status=? and event_name=? and correlation_key=? "+
			"order by created_at limit 1",
		int(workflow.WaitTypeEvent), int(workflow.WaitStatusOpen), eventName, correlationKey))
}

func (s *SQLStore) ResolveWait(ctx context.Context, waitID string, to workflow.WaitStatus, payload map[string]any) error {
	resolved, err := marshalJSON(payload)
	if err != nil {
		return err
	}

	// The status guard in the where clause is the first-committer-wins
	// primitive the correlation engine depends on.
	res, err := s.writer.ExecContext(ctx,
		"update workflow_waits set status=?, resolved_payload=?, resolved_at=now() "+
			"where id=? and status=?",
		int(to), resolved, waitID, int(workflow.WaitStatusOpen),
	)
	if err != nil {
		return errors.Wrap(err, "resolving wait")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	_, err = s.LookupWait(ctx, waitID)
	if err != nil {
		return err
	}
	return errors.Wrap(workflow.ErrWaitAlreadyResolved, "", j.MKV{"wait_id": waitID})
}

func (s *SQLStore) ListExpiredWaits(ctx context.Context, now time.Time) ([]workflow.Wait, error) {
	rows, err := s.reader.QueryContext(ctx,
		waitSelectPrefix+"status=? and timeout_at is not null and timeout_at <= ? order by timeout_at",
		int(workflow.WaitStatusOpen), now)
	if err != nil {
		return nil, errors.Wrap(err, "listing expired waits")
	}
	defer rows.Close()

	var out []workflow.Wait
	for rows.Next() {
		wait, err := waitScan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *wait)
	}
	return out, rows.Err()
}

func (s *SQLStore) CreateEvent(ctx context.Context, event *workflow.Event) error {
	payload, err := marshalJSON(event.Payload)
	if err != nil {
		return err
	}

	_, err = s.writer.ExecContext(ctx, "insert into workflow_events set "+
		" id=?, name=?, correlation_key=?, payload=?, payload_schema_ref=?, status=?, "+
		" matched_run_id=?, matched_wait_id=?, error_message=?, schema_conflict=?, created_at=? ",
		event.ID, event.Name, event.CorrelationKey, payload, event.PayloadSchemaRef, string(event.Status),
		event.MatchedRunID, event.MatchedWaitID, event.ErrorMessage, event.SchemaConflict, event.CreatedAt,
	)
	if isDuplicate(err) {
		return errors.Wrap(workflow.ErrConflict, "duplicate event id", j.MKV{"event_id": event.ID})
	} else if err != nil {
		return errors.Wrap(err, "creating event")
	}
	return nil
}

func (s *SQLStore) UpdateEvent(ctx context.Context, event *workflow.Event) error {
	res, err := s.writer.ExecContext(ctx, "update workflow_events set "+
		" status=?, matched_run_id=?, matched_wait_id=?, error_message=? where id=? ",
		string(event.Status), event.MatchedRunID, event.MatchedWaitID, event.ErrorMessage, event.ID,
	)
	if err != nil {
		return errors.Wrap(err, "updating event")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		_, lookupErr := s.LookupEvent(ctx, event.ID)
		if lookupErr != nil {
			return lookupErr
		}
	}
	return nil
}

func (s *SQLStore) LookupEvent(ctx context.Context, eventID string) (*workflow.Event, error) {
	return eventScan(s.reader.QueryRowContext(ctx, eventSelectPrefix+"id=?", eventID))
}

func (s *SQLStore) ListEvents(ctx context.Context, filter workflow.EventFilter) ([]workflow.Event, error) {
	where, args := eventFilterClause(filter)

	rows, err := s.reader.QueryContext(ctx, eventSelectPrefix+where, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing events")
	}
	defer rows.Close()

	var out []workflow.Event
	for rows.Next() {
		event, err := eventScan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *event)
	}
	return out, rows.Err()
}
