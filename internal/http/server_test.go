package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"revlens/internal/insight"
	"revlens/internal/llm"
	"revlens/internal/storage"
)

type scriptedGenerator struct {
	replies []string
	calls   int
	err     error
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string, maxNewTokens int, cfg llm.SamplingConfig) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	g.calls++
	if g.calls > len(g.replies) {
		return "", errors.New("unexpected generation call")
	}
	return g.replies[g.calls-1], nil
}

type recordingPublisher struct {
	published []int64
	err       error
}

func (p *recordingPublisher) PublishInsightJob(ctx context.Context, id int64) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, id)
	return nil
}

func newTestServer(t *testing.T, gen insight.Generator, jobs JobPublisher) (*Server, *storage.SQLiteRepository) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	s := NewServer(":0", repo, insight.NewService(gen), jobs, Options{})
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s, repo
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Server.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestRevenueCRUD(t *testing.T) {
	s, _ := newTestServer(t, &scriptedGenerator{}, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/revenue", map[string]any{
		"date":        "2024-03-15",
		"amount":      149.99,
		"category":    "Online",
		"description": "March storefront",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created revenueResponse
	decodeBody(t, rec, &created)
	if created.ID == 0 || created.Date != "2024-03-15" || created.Amount != 149.99 {
		t.Fatalf("created = %+v", created)
	}

	rec = doJSON(t, s, http.MethodGet, fmt.Sprintf("/api/revenue/%d", created.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	// Partial update keeps unspecified fields.
	rec = doJSON(t, s, http.MethodPut, fmt.Sprintf("/api/revenue/%d", created.ID), map[string]any{
		"amount": 175.50,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}
	var updated revenueResponse
	decodeBody(t, rec, &updated)
	if updated.Amount != 175.50 || updated.Category != "Online" || updated.Date != "2024-03-15" {
		t.Fatalf("updated = %+v", updated)
	}

	rec = doJSON(t, s, http.MethodDelete, fmt.Sprintf("/api/revenue/%d", created.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	var deleted map[string]string
	decodeBody(t, rec, &deleted)
	if deleted["message"] != "Revenue record deleted successfully" {
		t.Errorf("delete message = %q", deleted["message"])
	}

	rec = doJSON(t, s, http.MethodGet, fmt.Sprintf("/api/revenue/%d", created.ID), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rec.Code)
	}
}

func TestCreateRevenue_Validation(t *testing.T) {
	s, _ := newTestServer(t, &scriptedGenerator{}, nil)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing date", map[string]any{"amount": 10.0}, http.StatusBadRequest},
		{"missing amount", map[string]any{"date": "2024-01-01"}, http.StatusBadRequest},
		{"bad date", map[string]any{"date": "01/15/2024", "amount": 10.0}, http.StatusBadRequest},
		{"zero amount", map[string]any{"date": "2024-01-01", "amount": 0.0}, http.StatusBadRequest},
		{"not json", "not an object", http.StatusBadRequest},
		{"valid", map[string]any{"date": "2024-01-01", "amount": 10.0}, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/api/revenue", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestListRevenue_Filters(t *testing.T) {
	s, _ := newTestServer(t, &scriptedGenerator{}, nil)

	seed := []map[string]any{
		{"date": "2024-01-10", "amount": 100.0, "category": "Online"},
		{"date": "2024-02-10", "amount": 200.0, "category": "Retail"},
		{"date": "2024-03-10", "amount": 300.0, "category": "Online"},
	}
	for _, body := range seed {
		if rec := doJSON(t, s, http.MethodPost, "/api/revenue", body); rec.Code != http.StatusCreated {
			t.Fatalf("seed failed: %d %s", rec.Code, rec.Body.String())
		}
	}

	rec := doJSON(t, s, http.MethodGet, "/api/revenue?start_date=2024-02-01&end_date=2024-02-28", nil)
	var list []revenueResponse
	decodeBody(t, rec, &list)
	if len(list) != 1 || list[0].Category != "Retail" {
		t.Errorf("date filter result = %+v", list)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/revenue?category=Online", nil)
	decodeBody(t, rec, &list)
	if len(list) != 2 {
		t.Errorf("category filter returned %d records", len(list))
	}
	// Newest first.
	if len(list) == 2 && list[0].Date != "2024-03-10" {
		t.Errorf("list order: first date = %s", list[0].Date)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/revenue?start_date=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad start_date status = %d", rec.Code)
	}
}

func TestCategories(t *testing.T) {
	s, _ := newTestServer(t, &scriptedGenerator{}, nil)

	rec := doJSON(t, s, http.MethodGet, "/api/revenue/categories", nil)
	var categories []string
	decodeBody(t, rec, &categories)
	if len(categories) != 0 {
		t.Errorf("empty db categories = %v", categories)
	}

	doJSON(t, s, http.MethodPost, "/api/revenue", map[string]any{"date": "2024-01-01", "amount": 1.0, "category": "B"})
	doJSON(t, s, http.MethodPost, "/api/revenue", map[string]any{"date": "2024-01-02", "amount": 1.0, "category": "A"})
	doJSON(t, s, http.MethodPost, "/api/revenue", map[string]any{"date": "2024-01-03", "amount": 1.0})

	rec = doJSON(t, s, http.MethodGet, "/api/revenue/categories", nil)
	decodeBody(t, rec, &categories)
	if len(categories) != 2 || categories[0] != "A" || categories[1] != "B" {
		t.Errorf("categories = %v", categories)
	}
}

func TestRecommendations(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{
		"Observations:\nRevenue doubled between January and February.\n\nPrice:\nHold current pricing.",
		"Expand the Online channel.",
		"Concentration risk in a single category.",
	}}
	s, _ := newTestServer(t, gen, nil)

	doJSON(t, s, http.MethodPost, "/api/revenue", map[string]any{"date": "2024-01-01", "amount": 100.0, "category": "Online"})
	doJSON(t, s, http.MethodPost, "/api/revenue", map[string]any{"date": "2024-02-01", "amount": 200.0, "category": "Online"})

	rec := doJSON(t, s, http.MethodGet, "/api/ai/recommendations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["status"] != "success" {
		t.Errorf("status field = %q", body["status"])
	}
	if body["observations"] != "Revenue doubled between January and February." {
		t.Errorf("observations = %q", body["observations"])
	}
	if body["growth_strategies"] != "Expand the Online channel." {
		t.Errorf("growth_strategies = %q", body["growth_strategies"])
	}
	if gen.calls != 3 {
		t.Errorf("generator called %d times, want 3", gen.calls)
	}
}

func TestRecommendations_GeneratorFailure(t *testing.T) {
	gen := &scriptedGenerator{err: fmt.Errorf("generate: %w", llm.ErrNotLoaded)}
	s, _ := newTestServer(t, gen, nil)

	rec := doJSON(t, s, http.MethodGet, "/api/ai/recommendations", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["status"] != "error" || body["message"] == "" {
		t.Errorf("error body = %v", body)
	}
}

func TestMarketingIdeas_Defaults(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"1. Run a referral program."}}
	s, _ := newTestServer(t, gen, nil)

	rec := doJSON(t, s, http.MethodGet, "/api/ai/marketing-ideas", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["status"] != "success" || body["marketing_ideas"] != "1. Run a referral program." {
		t.Errorf("body = %v", body)
	}
}

func TestInsightJobs(t *testing.T) {
	pub := &recordingPublisher{}
	s, repo := newTestServer(t, &scriptedGenerator{}, pub)

	rec := doJSON(t, s, http.MethodPost, "/api/ai/recommendations/jobs", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create job status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Status string `json:"status"`
		JobID  int64  `json:"job_id"`
	}
	decodeBody(t, rec, &created)
	if created.JobID == 0 || created.Status != "success" {
		t.Fatalf("created = %+v", created)
	}
	if len(pub.published) != 1 || pub.published[0] != created.JobID {
		t.Errorf("published ids = %v", pub.published)
	}

	rec = doJSON(t, s, http.MethodGet, fmt.Sprintf("/api/ai/recommendations/jobs/%d", created.JobID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get job status = %d", rec.Code)
	}
	var pending map[string]any
	decodeBody(t, rec, &pending)
	if pending["status"] != storage.JobStatusPending {
		t.Errorf("job status = %v", pending["status"])
	}

	result, _ := json.Marshal(insight.Insight{Observations: "done deal"})
	if err := repo.MarkJobRunning(context.Background(), created.JobID); err != nil {
		t.Fatalf("claim job: %v", err)
	}
	if err := repo.MarkJobDone(context.Background(), created.JobID, string(result)); err != nil {
		t.Fatalf("complete job: %v", err)
	}

	rec = doJSON(t, s, http.MethodGet, fmt.Sprintf("/api/ai/recommendations/jobs/%d", created.JobID), nil)
	var done struct {
		Status string          `json:"status"`
		Result insight.Insight `json:"result"`
	}
	decodeBody(t, rec, &done)
	if done.Status != storage.JobStatusDone || done.Result.Observations != "done deal" {
		t.Errorf("done job = %+v", done)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/ai/recommendations/jobs/99999", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing job status = %d", rec.Code)
	}
}

func TestCreateJob_PublishFailureTolerated(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("circuit breaker is open")}
	s, repo := newTestServer(t, &scriptedGenerator{}, pub)

	rec := doJSON(t, s, http.MethodPost, "/api/ai/recommendations/jobs", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 despite publish failure", rec.Code)
	}

	pending, err := repo.ListPendingJobs(context.Background(), 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending jobs = %v, want the unpublished job", pending)
	}
}

func TestRevenueSummary(t *testing.T) {
	s, _ := newTestServer(t, &scriptedGenerator{}, nil)

	doJSON(t, s, http.MethodPost, "/api/revenue", map[string]any{"date": "2024-01-05", "amount": 100.0, "category": "Online"})
	doJSON(t, s, http.MethodPost, "/api/revenue", map[string]any{"date": "2024-01-20", "amount": 50.0, "category": "Retail"})
	doJSON(t, s, http.MethodPost, "/api/revenue", map[string]any{"date": "2024-02-05", "amount": 200.0, "category": "Online"})

	rec := doJSON(t, s, http.MethodGet, "/api/dashboard/revenue-summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var summary summaryResponse
	decodeBody(t, rec, &summary)

	if len(summary.Months) != 2 || summary.Months[0] != "Jan 2024" || summary.Months[1] != "Feb 2024" {
		t.Fatalf("months = %v", summary.Months)
	}
	if summary.Revenues[0] != 150.0 || summary.Revenues[1] != 200.0 {
		t.Errorf("revenues = %v", summary.Revenues)
	}
	if summary.Transactions[0] != 2 || summary.Transactions[1] != 1 {
		t.Errorf("transactions = %v", summary.Transactions)
	}
	online := summary.Categories["Online"]
	if len(online) != 2 || online[0] != 100.0 || online[1] != 200.0 {
		t.Errorf("Online series = %v", online)
	}
	retail := summary.Categories["Retail"]
	if len(retail) != 2 || retail[0] != 50.0 || retail[1] != 0.0 {
		t.Errorf("Retail series = %v", retail)
	}
}

func TestRevenueSummary_CacheInvalidation(t *testing.T) {
	s, _ := newTestServer(t, &scriptedGenerator{}, nil)

	doJSON(t, s, http.MethodPost, "/api/revenue", map[string]any{"date": "2024-01-05", "amount": 100.0})

	rec := doJSON(t, s, http.MethodGet, "/api/dashboard/revenue-summary", nil)
	var first summaryResponse
	decodeBody(t, rec, &first)
	if first.Revenues[0] != 100.0 {
		t.Fatalf("initial revenue = %v", first.Revenues)
	}

	// Mutation must evict the cached summary.
	doJSON(t, s, http.MethodPost, "/api/revenue", map[string]any{"date": "2024-01-10", "amount": 25.0})

	rec = doJSON(t, s, http.MethodGet, "/api/dashboard/revenue-summary", nil)
	var second summaryResponse
	decodeBody(t, rec, &second)
	if second.Revenues[0] != 125.0 {
		t.Errorf("post-mutation revenue = %v, cache was stale", second.Revenues)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "health.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	readyErr := errors.New("model not ready")
	s := NewServer(":0", repo, insight.NewService(&scriptedGenerator{}), nil, Options{
		Ready: func() error { return readyErr },
	})
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	rec := doJSON(t, s, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz status = %d, want 503", rec.Code)
	}

	readyErr = nil
	rec = doJSON(t, s, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("readyz status after recovery = %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, &scriptedGenerator{}, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPut, "/api/revenue"},
		{http.MethodPost, "/api/revenue/categories"},
		{http.MethodPost, "/api/ai/recommendations"},
		{http.MethodGet, "/api/ai/recommendations/jobs"},
		{http.MethodDelete, "/api/dashboard/revenue-summary"},
	} {
		rec := doJSON(t, s, tc.method, tc.path, nil)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s status = %d, want 405", tc.method, tc.path, rec.Code)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, &scriptedGenerator{}, nil)

	rec := doJSON(t, s, http.MethodOptions, "/api/revenue", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing CORS header")
	}
}
