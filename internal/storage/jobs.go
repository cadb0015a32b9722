package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Insight job lifecycle states.
const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusError   = "error"
)

// InsightJob is one queued analysis request. Result holds the
// serialized insight once the job is done; Error holds the failure
// message when it is not.
type InsightJob struct {
	ID        int64
	Status    string
	Result    string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateInsightJob enqueues a new pending job and returns its id.
func (r *SQLiteRepository) CreateInsightJob(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO insight_jobs (status) VALUES (?)`, JobStatusPending)
	if err != nil {
		return 0, fmt.Errorf("insert insight job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}

	slog.InfoContext(ctx, "Insight job created", "job_id", id)
	return id, nil
}

// GetInsightJob returns the job with the given id or ErrNotFound.
func (r *SQLiteRepository) GetInsightJob(ctx context.Context, id int64) (*InsightJob, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, status, result, error, created_at, updated_at FROM insight_jobs WHERE id = ?`, id)

	var (
		job       InsightJob
		result    sql.NullString
		jobErr    sql.NullString
		createdAt string
		updatedAt string
	)
	err := row.Scan(&job.ID, &job.Status, &result, &jobErr, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("insight job %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get insight job %d: %w", id, err)
	}
	job.Result = result.String
	job.Error = jobErr.String
	job.CreatedAt = parseTimestamp(createdAt)
	job.UpdatedAt = parseTimestamp(updatedAt)
	return &job, nil
}

// MarkJobRunning transitions a pending job to running. Only pending
// jobs transition, so two workers cannot both claim the same job.
func (r *SQLiteRepository) MarkJobRunning(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE insight_jobs SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = ?`,
		JobStatusRunning, id, JobStatusPending)
	if err != nil {
		return fmt.Errorf("mark job %d running: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("insight job %d not pending: %w", id, ErrNotFound)
	}
	return nil
}

// MarkJobDone stores the serialized insight and completes the job.
func (r *SQLiteRepository) MarkJobDone(ctx context.Context, id int64, result string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE insight_jobs SET status = ?, result = ?, error = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		JobStatusDone, result, id)
	if err != nil {
		return fmt.Errorf("mark job %d done: %w", id, err)
	}
	slog.InfoContext(ctx, "Insight job completed", "job_id", id)
	return nil
}

// MarkJobError records a failure message and ends the job.
func (r *SQLiteRepository) MarkJobError(ctx context.Context, id int64, msg string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE insight_jobs SET status = ?, error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		JobStatusError, msg, id)
	if err != nil {
		return fmt.Errorf("mark job %d error: %w", id, err)
	}
	slog.WarnContext(ctx, "Insight job failed", "job_id", id, "error", msg)
	return nil
}

// RequeueRunningJobs resets every running job back to pending and
// returns how many were reset. Only safe before a worker starts
// claiming: at that point a running row can only belong to a process
// that died between claiming and completing.
func (r *SQLiteRepository) RequeueRunningJobs(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE insight_jobs SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE status = ?`,
		JobStatusPending, JobStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("requeue running jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue running jobs: %w", err)
	}
	if n > 0 {
		slog.WarnContext(ctx, "Requeued jobs abandoned mid-run", "count", n)
	}
	return n, nil
}

// ListPendingJobs returns up to limit pending jobs, oldest first. The
// worker uses this as a backup sweep for jobs whose queue message was
// lost.
func (r *SQLiteRepository) ListPendingJobs(ctx context.Context, limit int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM insight_jobs WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		JobStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending jobs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending job: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending jobs: %w", err)
	}
	return ids, nil
}
