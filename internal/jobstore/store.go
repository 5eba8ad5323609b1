// Package jobstore persists completed jobs and the mutations that
// accompany completion (args rewriting on preprocessor steps, the
// dedicated-worker config touch that forces a rebalance, log reads feeding
// the error normalizer) against PostgreSQL.
package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"

	"github.com/arcflow/jobresultproc/pkg/types"
)

// ErrJobNotFound is returned when a lookup by job id matches no row.
var ErrJobNotFound = errors.New("jobstore: job not found")

const (
	sqlAddCompletedJob = `
INSERT INTO v2_job_completed (job_id, workspace_id, success, result, mem_peak_kb, canceled_by, canceled_reason, duration_ms, result_columns)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	sqlUpdatePreprocessorDiscarded = `
UPDATE v2_job SET args = '{"reason":"PREPROCESSOR_ARGS_ARE_DISCARDED"}'::jsonb, preprocessed = TRUE
WHERE id = $1 AND preprocessed = FALSE`

	sqlUpdatePreprocessedArgs = `
UPDATE v2_job SET args = $2, preprocessed = TRUE WHERE id = $1`

	sqlTouchWorkerGroupConfig = `
UPDATE config SET config = config WHERE name = $1`

	sqlGetQueuedJob = `
SELECT id, workspace_id, parent_job_id, root_job_id, flow_innermost_root_job,
       flow_step_id, script_path, language, kind, tag, permissioned_as
FROM v2_job WHERE id = $1`

	sqlAppendLogs = `
INSERT INTO job_logs (job_id, workspace_id, logs) VALUES ($1, $2, $3)`

	sqlReadLogTail = `
SELECT right(logs, 600) FROM job_logs WHERE job_id = $1 AND workspace_id = $2
ORDER BY created_at DESC LIMIT 1`
)

// sanitizeErrorResult falls back to a "non serializable error" envelope
// when the caller's payload isn't valid JSON, matching the best-effort
// parse used when a completed-job-error row is written.
func sanitizeErrorResult(result json.RawMessage) json.RawMessage {
	if json.Valid(result) {
		return result
	}
	sanitized, _ := json.Marshal(map[string]string{
		"message": fmt.Sprintf("Non serializable error: %s", string(result)),
	})
	return sanitized
}

// Store is the Postgres-backed system of record for completed jobs.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres via the pgx stdlib driver and wraps the
// resulting *sql.DB with sqlx.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("jobstore: connecting: %w", err)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying *sql.DB, for callers (migrations, health
// checks) that need the unwrapped handle.
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// AddCompletedJob persists a successful or failed completion row. The
// caller is responsible for having already written to cache (when
// applicable) before calling this, per the ordering invariant that a
// cached result must be visible before the completion is visible.
func (s *Store) AddCompletedJob(ctx context.Context, jc types.JobCompletion) error {
	var canceledBy, canceledReason *string
	if jc.CanceledBy != nil {
		canceledBy = jc.CanceledBy.Username
		canceledReason = jc.CanceledBy.Reason
	}

	_, err := s.db.ExecContext(ctx, sqlAddCompletedJob,
		jc.Job.ID, jc.Job.WorkspaceID, jc.Success, []byte(jc.Result), jc.MemPeakKb, canceledBy, canceledReason, jc.DurationMs, jc.ResultColumns)
	if err != nil {
		return fmt.Errorf("jobstore: inserting completed job: %w", err)
	}
	return nil
}

// AddCompletedJobError persists a failure row wrapping the normalized
// error, falling back to a best-effort "non serializable error" envelope
// if the caller's payload isn't valid JSON.
func (s *Store) AddCompletedJobError(ctx context.Context, job *types.MiniPulledJob, result json.RawMessage) error {
	result = sanitizeErrorResult(result)

	_, err := s.db.ExecContext(ctx, sqlAddCompletedJob, job.ID, job.WorkspaceID, false, []byte(result), nil, nil, nil, nil, nil)
	if err != nil {
		return fmt.Errorf("jobstore: inserting completed job error: %w", err)
	}
	return nil
}

// DiscardPreprocessorArgs clears a preprocessor step's args to the fixed
// discard sentinel and marks it preprocessed, but only if it hasn't
// already been marked — the update is a no-op on a second delivery.
func (s *Store) DiscardPreprocessorArgs(ctx context.Context, jobID types.JobID) error {
	_, err := s.db.ExecContext(ctx, sqlUpdatePreprocessorDiscarded, jobID)
	if err != nil {
		return fmt.Errorf("jobstore: discarding preprocessor args: %w", err)
	}
	return nil
}

// SetPreprocessedArgs unconditionally overwrites a job's args with the
// values the preprocessor computed and marks it preprocessed.
func (s *Store) SetPreprocessedArgs(ctx context.Context, jobID types.JobID, args json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, sqlUpdatePreprocessedArgs, jobID, []byte(args))
	if err != nil {
		return fmt.Errorf("jobstore: setting preprocessed args: %w", err)
	}
	return nil
}

// TouchWorkerGroupConfig rewrites a worker group's config row to itself,
// which fires the downstream config-change notification that rebalances
// dedicated-worker assignment after a dependency job completes.
func (s *Store) TouchWorkerGroupConfig(ctx context.Context, workerGroup string) error {
	_, err := s.db.ExecContext(ctx, sqlTouchWorkerGroupConfig, "worker__"+workerGroup)
	if err != nil {
		return fmt.Errorf("jobstore: touching worker group config: %w", err)
	}
	return nil
}

// GetQueuedJob looks up a job still in the queue, used by the job-error
// handler's second-chance path to re-wrap a parent as a MiniPulledJob.
func (s *Store) GetQueuedJob(ctx context.Context, jobID types.JobID) (*types.MiniPulledJob, error) {
	var row struct {
		ID                   types.JobID `db:"id"`
		WorkspaceID          string      `db:"workspace_id"`
		ParentJobID          *types.JobID `db:"parent_job_id"`
		RootJobID            *types.JobID `db:"root_job_id"`
		FlowInnermostRootJob *types.JobID `db:"flow_innermost_root_job"`
		FlowStepID           *string     `db:"flow_step_id"`
		ScriptPath           *string     `db:"script_path"`
		Language             *string     `db:"language"`
		Kind                 string      `db:"kind"`
		Tag                  string      `db:"tag"`
		PermissionedAs       string      `db:"permissioned_as"`
	}

	if err := s.db.GetContext(ctx, &row, sqlGetQueuedJob, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("jobstore: fetching queued job: %w", err)
	}

	return &types.MiniPulledJob{
		ID:                   row.ID,
		WorkspaceID:          types.WorkspaceID(row.WorkspaceID),
		ParentJobID:          row.ParentJobID,
		RootJobID:            row.RootJobID,
		FlowInnermostRootJob: row.FlowInnermostRootJob,
		FlowStepID:           row.FlowStepID,
		ScriptPath:           row.ScriptPath,
		Language:             row.Language,
		Kind:                 types.JobKind(row.Kind),
		Tag:                  row.Tag,
		Permissioned:         row.PermissionedAs,
	}, nil
}

// AppendLogs records a log chunk for a job.
func (s *Store) AppendLogs(ctx context.Context, jobID types.JobID, workspaceID types.WorkspaceID, logs string) error {
	_, err := s.db.ExecContext(ctx, sqlAppendLogs, jobID, workspaceID, logs)
	if err != nil {
		return fmt.Errorf("jobstore: appending logs: %w", err)
	}
	return nil
}

// ReadLogTail returns the most recent 600 characters of a job's logs,
// satisfying errnorm.LogReader's DB-backed fallback read.
func (s *Store) ReadLogTail(ctx context.Context, jobID, workspaceID string) (string, error) {
	var tail sql.NullString
	if err := s.db.GetContext(ctx, &tail, sqlReadLogTail, jobID, workspaceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("jobstore: reading log tail: %w", err)
	}
	return tail.String, nil
}
