package http

import (
	"log/slog"
	"net/http"
	"time"
)

const summaryCacheKey = "revenue-summary"

// summaryResponse carries parallel arrays keyed by month label, the
// shape charting libraries consume directly.
type summaryResponse struct {
	Months       []string             `json:"months"`
	Revenues     []float64            `json:"revenues"`
	Transactions []int64              `json:"transactions"`
	Categories   map[string][]float64 `json:"categories"`
}

// handleRevenueSummary returns per-month totals, transaction counts
// and a per-category breakdown. Results are cached briefly because
// dashboards poll this endpoint.
func (s *Server) handleRevenueSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if cached, ok := s.summaryCache.Get(summaryCacheKey); ok {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	monthly, err := s.repo.MonthlyRollup(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to compute monthly rollup", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to compute revenue summary")
		return
	}
	byCategory, err := s.repo.CategoryRollup(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to compute category rollup", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to compute revenue summary")
		return
	}

	summary := summaryResponse{
		Months:       make([]string, len(monthly)),
		Revenues:     make([]float64, len(monthly)),
		Transactions: make([]int64, len(monthly)),
		Categories:   map[string][]float64{},
	}

	monthIndex := make(map[string]int, len(monthly))
	for i, row := range monthly {
		monthIndex[row.Month] = i
		summary.Months[i] = monthLabel(row.Month)
		summary.Revenues[i] = float64(row.TotalCents) / 100.0
		summary.Transactions[i] = row.Count
	}

	for _, row := range byCategory {
		idx, ok := monthIndex[row.Month]
		if !ok {
			continue
		}
		series, exists := summary.Categories[row.Category]
		if !exists {
			series = make([]float64, len(monthly))
		}
		series[idx] = float64(row.TotalCents) / 100.0
		summary.Categories[row.Category] = series
	}

	s.summaryCache.Set(summaryCacheKey, summary)
	respondJSON(w, http.StatusOK, summary)
}

// monthLabel renders "2024-03" as "Mar 2024". An unparseable key is
// returned unchanged.
func monthLabel(yearMonth string) string {
	t, err := time.Parse("2006-01", yearMonth)
	if err != nil {
		return yearMonth
	}
	return t.Format("Jan 2006")
}
