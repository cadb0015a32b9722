package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"revlens/internal/core"
	"revlens/internal/storage"
)

// handleRecommendations runs the full analysis pipeline synchronously.
// The model chain takes tens of seconds on CPU; callers that cannot
// wait should enqueue a job instead.
func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondAIError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx := r.Context()
	if s.generateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.generateTimeout)
		defer cancel()
	}

	rows, err := s.repo.ListAllRevenueAsc(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load revenue for analysis", "error", err)
		respondAIError(w, http.StatusInternalServerError, "failed to load revenue records")
		return
	}

	records := make([]core.RevenueRecord, len(rows))
	for i, row := range rows {
		records[i] = row.Record
	}

	result, err := s.insights.AnalyzeRevenueTrends(ctx, records)
	if err != nil {
		slog.ErrorContext(ctx, "Revenue analysis failed", "error", err)
		respondAIError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":                "success",
		"observations":          result.Observations,
		"price_recommendations": result.PriceRecommendations,
		"product_focus":         result.ProductFocus,
		"growth_strategies":     result.GrowthStrategies,
		"potential_issues":      result.PotentialIssues,
	})
}

func (s *Server) handleMarketingIdeas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondAIError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	businessType := sanitizeInput(r.URL.Query().Get("business_type"))
	if businessType == "" {
		businessType = "e-commerce"
	}
	targetAudience := sanitizeInput(r.URL.Query().Get("target_audience"))
	if targetAudience == "" {
		targetAudience = "general consumers"
	}

	ctx := r.Context()
	if s.generateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.generateTimeout)
		defer cancel()
	}

	ideas, err := s.insights.SuggestMarketing(ctx, businessType, targetAudience)
	if err != nil {
		slog.ErrorContext(ctx, "Marketing idea generation failed", "error", err)
		respondAIError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "success",
		"marketing_ideas": ideas,
	})
}

// handleCreateJob enqueues an analysis job. The job row in SQLite is
// the source of truth; the AMQP publish is a wakeup and its failure is
// tolerated because the worker sweeps pending jobs on a timer.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondAIError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id, err := s.repo.CreateInsightJob(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to create insight job", "error", err)
		respondAIError(w, http.StatusInternalServerError, "failed to create analysis job")
		return
	}

	if s.jobs != nil {
		if err := s.jobs.PublishInsightJob(r.Context(), id); err != nil {
			slog.WarnContext(r.Context(), "Failed to publish insight job, pending sweep will pick it up",
				"job_id", id, "error", err)
		}
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"status": "success",
		"job_id": id,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondAIError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/api/ai/recommendations/jobs/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		respondAIError(w, http.StatusNotFound, "analysis job not found")
		return
	}

	job, err := s.repo.GetInsightJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondAIError(w, http.StatusNotFound, "analysis job not found")
			return
		}
		slog.ErrorContext(r.Context(), "Failed to get insight job", "job_id", id, "error", err)
		respondAIError(w, http.StatusInternalServerError, "failed to load analysis job")
		return
	}

	payload := map[string]any{
		"job_id":     job.ID,
		"status":     job.Status,
		"created_at": job.CreatedAt.Format("2006-01-02 15:04:05"),
		"updated_at": job.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
	switch job.Status {
	case storage.JobStatusDone:
		// The stored result is already JSON; embed it rather than
		// re-serializing a string.
		payload["result"] = json.RawMessage(job.Result)
	case storage.JobStatusError:
		payload["error"] = job.Error
	}

	respondJSON(w, http.StatusOK, payload)
}
