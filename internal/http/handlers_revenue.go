package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"revlens/internal/core"
	"revlens/internal/storage"
)

// revenuePayload is the request body for create and update. Pointers
// distinguish "absent" from "zero" so updates can be partial.
type revenuePayload struct {
	Date        *string  `json:"date"`
	Amount      *float64 `json:"amount"`
	Category    *string  `json:"category"`
	Description *string  `json:"description"`
}

func (s *Server) handleRevenueCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listRevenue(w, r)
	case http.MethodPost:
		s.createRevenue(w, r)
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) listRevenue(w http.ResponseWriter, r *http.Request) {
	var filter storage.RevenueFilter

	from, err := parseDateParam(r, "start_date")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid data format")
		return
	}
	to, err := parseDateParam(r, "end_date")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid data format")
		return
	}
	filter.From = from
	filter.To = to
	filter.Category = sanitizeInput(r.URL.Query().Get("category"))

	records, err := s.repo.ListRevenue(r.Context(), filter)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list revenue", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list revenue records")
		return
	}

	out := make([]revenueResponse, len(records))
	for i := range records {
		out[i] = toRevenueResponse(&records[i])
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) createRevenue(w http.ResponseWriter, r *http.Request) {
	var payload revenuePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid data format")
		return
	}
	if payload.Date == nil || payload.Amount == nil {
		respondError(w, http.StatusBadRequest, "Missing required fields: date and amount")
		return
	}

	rec, err := recordFromPayload(payload, core.RevenueRecord{})
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid data format")
		return
	}

	created, err := s.repo.CreateRevenue(r.Context(), rec)
	if err != nil {
		if errors.Is(err, core.ErrInvalidDate) || errors.Is(err, core.ErrInvalidAmount) {
			respondError(w, http.StatusBadRequest, "Invalid data format")
			return
		}
		slog.ErrorContext(r.Context(), "Failed to create revenue", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to save revenue record")
		return
	}

	s.summaryCache.Delete(summaryCacheKey)
	respondJSON(w, http.StatusCreated, toRevenueResponse(created))
}

// handleRevenueItem serves GET, PUT and DELETE for a single record
// addressed as /api/revenue/{id}.
func (s *Server) handleRevenueItem(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/revenue/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusNotFound, "revenue record not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getRevenue(w, r, id)
	case http.MethodPut:
		s.updateRevenue(w, r, id)
	case http.MethodDelete:
		s.deleteRevenue(w, r, id)
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) getRevenue(w http.ResponseWriter, r *http.Request, id int64) {
	rev, err := s.repo.GetRevenue(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "revenue record not found")
			return
		}
		slog.ErrorContext(r.Context(), "Failed to get revenue", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load revenue record")
		return
	}
	respondJSON(w, http.StatusOK, toRevenueResponse(rev))
}

func (s *Server) updateRevenue(w http.ResponseWriter, r *http.Request, id int64) {
	existing, err := s.repo.GetRevenue(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "revenue record not found")
			return
		}
		slog.ErrorContext(r.Context(), "Failed to get revenue", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load revenue record")
		return
	}

	var payload revenuePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid data format")
		return
	}

	rec, err := recordFromPayload(payload, existing.Record)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid data format")
		return
	}

	updated, err := s.repo.UpdateRevenue(r.Context(), id, rec)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			respondError(w, http.StatusNotFound, "revenue record not found")
		case errors.Is(err, core.ErrInvalidDate), errors.Is(err, core.ErrInvalidAmount):
			respondError(w, http.StatusBadRequest, "Invalid data format")
		default:
			slog.ErrorContext(r.Context(), "Failed to update revenue", "id", id, "error", err)
			respondError(w, http.StatusInternalServerError, "failed to update revenue record")
		}
		return
	}

	s.summaryCache.Delete(summaryCacheKey)
	respondJSON(w, http.StatusOK, toRevenueResponse(updated))
}

func (s *Server) deleteRevenue(w http.ResponseWriter, r *http.Request, id int64) {
	if err := s.repo.DeleteRevenue(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "revenue record not found")
			return
		}
		slog.ErrorContext(r.Context(), "Failed to delete revenue", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to delete revenue record")
		return
	}

	s.summaryCache.Delete(summaryCacheKey)
	respondJSON(w, http.StatusOK, map[string]string{"message": "Revenue record deleted successfully"})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	categories, err := s.repo.ListCategories(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list categories", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}
	if categories == nil {
		categories = []string{}
	}
	respondJSON(w, http.StatusOK, categories)
}

// recordFromPayload overlays the provided payload fields on base.
func recordFromPayload(p revenuePayload, base core.RevenueRecord) (core.RevenueRecord, error) {
	rec := base
	if p.Date != nil {
		d, err := core.ParseDate(sanitizeInput(*p.Date))
		if err != nil {
			return core.RevenueRecord{}, err
		}
		rec.Date = d
	}
	if p.Amount != nil {
		rec.Amount = core.Money{Cents: core.CentsFromFloat(*p.Amount)}
	}
	if p.Category != nil {
		rec.Category = sanitizeInput(*p.Category)
	}
	if p.Description != nil {
		rec.Description = sanitizeInput(*p.Description)
	}
	return rec, rec.Validate()
}
