package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// timeLayout is fixed-width so created_at sorts lexically in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Queue struct {
	db *sql.DB
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if req.Operation == "" {
		return "", fmt.Errorf("operation is empty")
	}
	if req.TargetID == "" {
		return "", fmt.Errorf("target id is empty")
	}
	if req.UpdateID == "" {
		return "", fmt.Errorf("update id is empty")
	}
	if req.SubmittedBy == "" {
		return "", fmt.Errorf("submitted_by is empty")
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(timeLayout)

	var payload any
	if len(req.Payload) > 0 {
		payload = string(req.Payload)
	}

	_, err := q.db.ExecContext(ctx, `
INSERT INTO execution_queue(
  id, operation, target_kind, target_id, update_id, payload, status, submitted_by, created_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, req.Operation, req.TargetKind, req.TargetID, req.UpdateID, payload, StatusQueued, req.SubmittedBy, now)
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// Dequeue claims the oldest queued job and marks it running. Returns (nil, nil)
// if the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	nowS := time.Now().UTC().Format(timeLayout)

	row := q.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT id
  FROM execution_queue
  WHERE status = ?
  ORDER BY created_at ASC, rowid ASC
  LIMIT 1
)
UPDATE execution_queue
SET status = ?, started_at = ?
WHERE id IN (SELECT id FROM next)
RETURNING
  id, operation, target_kind, target_id, update_id, payload, status, submitted_by,
  created_at, started_at, completed_at, last_error;
`, StatusQueued, StatusRunning, nowS)

	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue job: %w", err)
	}
	return j, nil
}

// GetJobByID returns a job regardless of status.
func (q *Queue) GetJobByID(ctx context.Context, jobID string) (*Job, error) {
	row := q.db.QueryRowContext(ctx, `
SELECT
  id, operation, target_kind, target_id, update_id, payload, status, submitted_by,
  created_at, started_at, completed_at, last_error
FROM execution_queue
WHERE id = ?;
`, jobID)

	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// Depth returns the number of queued (unclaimed) jobs.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM execution_queue WHERE status = ?;`, StatusQueued).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// Complete marks a job terminal and appends a row to execution_log.
func (q *Queue) Complete(ctx context.Context, jobID string, status Status, lastError *string) error {
	if jobID == "" {
		return fmt.Errorf("jobID is empty")
	}
	if status != StatusSucceeded && status != StatusFailed {
		return fmt.Errorf("invalid terminal status: %q", status)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		operation   string
		targetKind  string
		targetID    string
		updateID    string
		submittedBy string
		createdAt   string
	)
	err = tx.QueryRowContext(ctx, `
SELECT operation, target_kind, target_id, update_id, submitted_by, created_at
FROM execution_queue
WHERE id = ?;
`, jobID).Scan(&operation, &targetKind, &targetID, &updateID, &submittedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("load job for completion: %w", err)
	}

	completedAt := time.Now().UTC().Format(timeLayout)

	if _, err := tx.ExecContext(ctx, `
UPDATE execution_queue
SET status = ?, completed_at = ?, last_error = ?
WHERE id = ?;
`, status, completedAt, lastError, jobID); err != nil {
		return fmt.Errorf("update job completion: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO execution_log(
  id, operation, target_kind, target_id, update_id, status, submitted_by, created_at, completed_at, last_error
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, jobID, operation, targetKind, targetID, updateID, status, submittedBy, createdAt, completedAt, lastError); err != nil {
		return fmt.Errorf("insert execution_log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func scanJob(row *sql.Row) (*Job, error) {
	var (
		j            Job
		payload      sql.NullString
		statusS      string
		createdAtS   string
		startedAtS   sql.NullString
		completedAtS sql.NullString
		lastError    sql.NullString
	)
	err := row.Scan(
		&j.ID, &j.Operation, &j.TargetKind, &j.TargetID, &j.UpdateID, &payload, &statusS, &j.SubmittedBy,
		&createdAtS, &startedAtS, &completedAtS, &lastError,
	)
	if err != nil {
		return nil, err
	}

	j.Status = Status(statusS)
	if payload.Valid {
		j.Payload = []byte(payload.String)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		j.CreatedAt = t
	}
	j.StartedAt = parseNullTime(startedAtS)
	j.CompletedAt = parseNullTime(completedAtS)
	if lastError.Valid {
		j.LastError = &lastError.String
	}
	return &j, nil
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
