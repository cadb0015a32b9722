// Package worker runs queued insight analysis jobs: it loads the full
// revenue history, drives the generation pipeline, and stores the
// structured result on the job row.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"revlens/internal/amqp"
	"revlens/internal/core"
	"revlens/internal/insight"
	"revlens/internal/sheets"
	"revlens/internal/storage"
)

// InsightWorker processes insight jobs from AMQP and from the pending
// sweep.
type InsightWorker struct {
	storage   *storage.SQLiteRepository
	insights  *insight.Service
	reports   sheets.ReportWriter // nil when sheets export is disabled
	batchSize int
}

func NewInsightWorker(storage *storage.SQLiteRepository, insights *insight.Service, reports sheets.ReportWriter, batchSize int) *InsightWorker {
	return &InsightWorker{
		storage:   storage,
		insights:  insights,
		reports:   reports,
		batchSize: batchSize,
	}
}

// HandleJobMessage processes a single insight job message from AMQP.
// A job that fails inside the model pipeline is marked failed and the
// message is acked: requeueing would replay the same failure against a
// runtime that is not coming back.
func (w *InsightWorker) HandleJobMessage(ctx context.Context, msg *amqp.InsightJobMessage) error {
	slog.InfoContext(ctx, "Processing insight job message", "job_id", msg.ID)
	return w.runJob(ctx, msg.ID)
}

func (w *InsightWorker) runJob(ctx context.Context, id int64) error {
	if err := w.storage.MarkJobRunning(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Already claimed or deleted; nothing to do.
			slog.InfoContext(ctx, "Insight job not pending, skipping", "job_id", id)
			return nil
		}
		return fmt.Errorf("claim job: %w", err)
	}

	rows, err := w.storage.ListAllRevenueAsc(ctx)
	if err != nil {
		if markErr := w.storage.MarkJobError(ctx, id, err.Error()); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark job error", "job_id", id, "error", markErr)
		}
		return fmt.Errorf("load revenue records: %w", err)
	}

	records := make([]core.RevenueRecord, len(rows))
	for i, row := range rows {
		records[i] = row.Record
	}

	result, err := w.insights.AnalyzeRevenueTrends(ctx, records)
	if err != nil {
		slog.ErrorContext(ctx, "Insight analysis failed", "job_id", id, "error", err)
		if markErr := w.storage.MarkJobError(ctx, id, err.Error()); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark job error", "job_id", id, "error", markErr)
		}
		return nil
	}

	payload, err := json.Marshal(result)
	if err != nil {
		if markErr := w.storage.MarkJobError(ctx, id, err.Error()); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark job error", "job_id", id, "error", markErr)
		}
		return fmt.Errorf("marshal insight: %w", err)
	}

	if err := w.storage.MarkJobDone(ctx, id, string(payload)); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}

	w.exportReport(ctx, id, result)

	slog.InfoContext(ctx, "Insight job processed",
		"job_id", id,
		"records", len(records))
	return nil
}

// exportReport appends the completed insight to the configured
// spreadsheet. Export failures are logged, never fatal: the job result
// is already durable in SQLite.
func (w *InsightWorker) exportReport(ctx context.Context, id int64, result *insight.Insight) {
	if w.reports == nil {
		return
	}

	ref, err := w.reports.AppendInsight(ctx, sheets.InsightReport{
		JobID:       id,
		GeneratedAt: time.Now(),
		Insight:     *result,
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to export insight report", "job_id", id, "error", err)
		return
	}
	slog.InfoContext(ctx, "Insight report exported", "job_id", id, "ref", ref)
}

// ProcessPendingJobs runs any jobs still pending. This is a backup
// mechanism in case AMQP messages are lost.
func (w *InsightWorker) ProcessPendingJobs(ctx context.Context) error {
	pending, err := w.storage.ListPendingJobs(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending jobs: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending insight jobs", "count", len(pending))

	for _, id := range pending {
		if err := w.runJob(ctx, id); err != nil {
			slog.ErrorContext(ctx, "Failed to process pending job", "job_id", id, "error", err)
		}
	}

	return nil
}

// StartupCheck sweeps pending jobs at worker startup. Useful to
// recover from missed AMQP messages or worker downtime. Jobs a dead
// worker left in running are requeued first; this runs before message
// consumption starts, so no live worker can own a running row yet.
func (w *InsightWorker) StartupCheck(ctx context.Context) error {
	if _, err := w.storage.RequeueRunningJobs(ctx); err != nil {
		return fmt.Errorf("requeue stale running jobs: %w", err)
	}

	pending, err := w.storage.ListPendingJobs(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get pending jobs for startup check: %w", err)
	}

	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending insight jobs found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending insight jobs on startup, processing...",
		"count", len(pending))

	successCount := 0
	errorCount := 0

	for _, id := range pending {
		if err := w.runJob(ctx, id); err != nil {
			errorCount++
			slog.ErrorContext(ctx, "Failed to process job during startup", "job_id", id, "error", err)
			continue
		}
		successCount++
	}

	slog.InfoContext(ctx, "Startup job sweep completed",
		"total", len(pending),
		"processed", successCount,
		"errors", errorCount)

	return nil
}
