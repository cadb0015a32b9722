package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"revlens/internal/core"
	"revlens/internal/storage"
)

// revenueResponse is the wire shape of a stored revenue record.
// Amount travels as decimal dollars, matching what clients chart.
type revenueResponse struct {
	ID          int64   `json:"id"`
	Date        string  `json:"date"`
	Amount      float64 `json:"amount"`
	Category    string  `json:"category,omitempty"`
	Description string  `json:"description,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

func toRevenueResponse(rev *storage.Revenue) revenueResponse {
	return revenueResponse{
		ID:          rev.ID,
		Date:        rev.Record.Date.ISO(),
		Amount:      rev.Record.Amount.Dollars(),
		Category:    rev.Record.Category,
		Description: rev.Record.Description,
		CreatedAt:   rev.CreatedAt.Format(time.RFC3339),
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// respondError is the error shape of the record endpoints.
func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// respondAIError is the error shape of the AI endpoints.
func respondAIError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"status": "error", "message": msg})
}

// sanitizeInput removes potentially dangerous characters and trims
// whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	result := strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
	return result
}

// parseDateParam parses an optional YYYY-MM-DD query parameter.
func parseDateParam(r *http.Request, name string) (*core.Date, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return nil, nil
	}
	d, err := core.ParseDate(v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
