package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"revlens/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "revlens.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func rec(date string, cents int64, category string) core.RevenueRecord {
	d, err := core.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return core.RevenueRecord{Date: d, Amount: core.Money{Cents: cents}, Category: category}
}

func TestRevenueCRUD(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.CreateRevenue(ctx, core.RevenueRecord{
		Date:        core.NewDate(2024, 1, 5),
		Amount:      core.Money{Cents: 123456},
		Category:    "Subscriptions",
		Description: "January renewals",
	})
	if err != nil {
		t.Fatalf("CreateRevenue failed: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("created record has no id")
	}

	got, err := repo.GetRevenue(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetRevenue failed: %v", err)
	}
	if got.Record.Amount.Cents != 123456 || got.Record.Category != "Subscriptions" {
		t.Errorf("got %+v", got.Record)
	}
	if got.Record.Date.ISO() != "2024-01-05" {
		t.Errorf("date = %s", got.Record.Date.ISO())
	}

	updated, err := repo.UpdateRevenue(ctx, created.ID, rec("2024-01-06", 200000, "Consulting"))
	if err != nil {
		t.Fatalf("UpdateRevenue failed: %v", err)
	}
	if updated.Record.Amount.Cents != 200000 || updated.Record.Category != "Consulting" {
		t.Errorf("updated = %+v", updated.Record)
	}

	if err := repo.DeleteRevenue(ctx, created.ID); err != nil {
		t.Fatalf("DeleteRevenue failed: %v", err)
	}
	if _, err := repo.GetRevenue(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete = %v, want ErrNotFound", err)
	}
	if err := repo.DeleteRevenue(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete = %v, want ErrNotFound", err)
	}
}

func TestRevenue_NotFound(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.GetRevenue(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRevenue = %v, want ErrNotFound", err)
	}
	if _, err := repo.UpdateRevenue(ctx, 999, rec("2024-01-01", 100, "")); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateRevenue = %v, want ErrNotFound", err)
	}
}

func TestListRevenue_Filters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seed := []core.RevenueRecord{
		rec("2024-01-05", 10000, "A"),
		rec("2024-01-20", 5000, "B"),
		rec("2024-02-01", 20000, "A"),
		rec("2024-03-15", 7500, ""),
	}
	for _, s := range seed {
		if _, err := repo.CreateRevenue(ctx, s); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	all, err := repo.ListRevenue(ctx, RevenueFilter{})
	if err != nil {
		t.Fatalf("ListRevenue failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("len = %d, want 4", len(all))
	}
	// Newest first.
	if all[0].Record.Date.ISO() != "2024-03-15" || all[3].Record.Date.ISO() != "2024-01-05" {
		t.Errorf("unexpected order: %s .. %s", all[0].Record.Date.ISO(), all[3].Record.Date.ISO())
	}

	from, _ := core.ParseDate("2024-01-10")
	to, _ := core.ParseDate("2024-02-28")
	ranged, err := repo.ListRevenue(ctx, RevenueFilter{From: &from, To: &to})
	if err != nil {
		t.Fatalf("ranged list failed: %v", err)
	}
	if len(ranged) != 2 {
		t.Fatalf("ranged len = %d, want 2", len(ranged))
	}

	byCat, err := repo.ListRevenue(ctx, RevenueFilter{Category: "A"})
	if err != nil {
		t.Fatalf("category list failed: %v", err)
	}
	if len(byCat) != 2 {
		t.Fatalf("category len = %d, want 2", len(byCat))
	}

	asc, err := repo.ListAllRevenueAsc(ctx)
	if err != nil {
		t.Fatalf("ListAllRevenueAsc failed: %v", err)
	}
	if asc[0].Record.Date.ISO() != "2024-01-05" {
		t.Errorf("ascending list starts at %s", asc[0].Record.Date.ISO())
	}
}

func TestListCategories(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, r := range []core.RevenueRecord{
		rec("2024-01-01", 100, "B"),
		rec("2024-01-02", 100, "A"),
		rec("2024-01-03", 100, "A"),
		rec("2024-01-04", 100, ""),
	} {
		if _, err := repo.CreateRevenue(ctx, r); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	cats, err := repo.ListCategories(ctx)
	if err != nil {
		t.Fatalf("ListCategories failed: %v", err)
	}
	if len(cats) != 2 || cats[0] != "A" || cats[1] != "B" {
		t.Errorf("categories = %v, want [A B]", cats)
	}
}

func TestMonthlyRollup(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, r := range []core.RevenueRecord{
		rec("2024-02-01", 20000, "A"),
		rec("2024-01-05", 10000, "A"),
		rec("2024-01-20", 5000, "B"),
		rec("2024-01-25", 2500, ""),
	} {
		if _, err := repo.CreateRevenue(ctx, r); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	months, err := repo.MonthlyRollup(ctx)
	if err != nil {
		t.Fatalf("MonthlyRollup failed: %v", err)
	}
	if len(months) != 2 {
		t.Fatalf("months = %d, want 2", len(months))
	}
	if months[0].Month != "2024-01" || months[0].TotalCents != 17500 || months[0].Count != 3 {
		t.Errorf("2024-01 rollup = %+v", months[0])
	}
	if months[1].Month != "2024-02" || months[1].TotalCents != 20000 {
		t.Errorf("2024-02 rollup = %+v", months[1])
	}

	cells, err := repo.CategoryRollup(ctx)
	if err != nil {
		t.Fatalf("CategoryRollup failed: %v", err)
	}
	// Uncategorized revenue stays out of the category split.
	if len(cells) != 3 {
		t.Fatalf("cells = %d, want 3: %+v", len(cells), cells)
	}
	if cells[0].Month != "2024-01" || cells[0].Category != "A" || cells[0].TotalCents != 10000 {
		t.Errorf("first cell = %+v", cells[0])
	}
}

func TestInsightJobLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.CreateInsightJob(ctx)
	if err != nil {
		t.Fatalf("CreateInsightJob failed: %v", err)
	}

	job, err := repo.GetInsightJob(ctx, id)
	if err != nil {
		t.Fatalf("GetInsightJob failed: %v", err)
	}
	if job.Status != JobStatusPending {
		t.Fatalf("status = %s, want pending", job.Status)
	}

	if err := repo.MarkJobRunning(ctx, id); err != nil {
		t.Fatalf("MarkJobRunning failed: %v", err)
	}
	// A second claim must not succeed.
	if err := repo.MarkJobRunning(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second claim = %v, want ErrNotFound", err)
	}

	if err := repo.MarkJobDone(ctx, id, `{"observations":"ok"}`); err != nil {
		t.Fatalf("MarkJobDone failed: %v", err)
	}
	job, err = repo.GetInsightJob(ctx, id)
	if err != nil {
		t.Fatalf("GetInsightJob failed: %v", err)
	}
	if job.Status != JobStatusDone || job.Result != `{"observations":"ok"}` {
		t.Errorf("job = %+v", job)
	}

	if _, err := repo.GetInsightJob(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing job = %v, want ErrNotFound", err)
	}
}

func TestInsightJob_ErrorPath(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.CreateInsightJob(ctx)
	if err != nil {
		t.Fatalf("CreateInsightJob failed: %v", err)
	}
	if err := repo.MarkJobRunning(ctx, id); err != nil {
		t.Fatalf("MarkJobRunning failed: %v", err)
	}
	if err := repo.MarkJobError(ctx, id, "model not loaded"); err != nil {
		t.Fatalf("MarkJobError failed: %v", err)
	}

	job, err := repo.GetInsightJob(ctx, id)
	if err != nil {
		t.Fatalf("GetInsightJob failed: %v", err)
	}
	if job.Status != JobStatusError || job.Error != "model not loaded" {
		t.Errorf("job = %+v", job)
	}
}

func TestRequeueRunningJobs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	running, err := repo.CreateInsightJob(ctx)
	if err != nil {
		t.Fatalf("CreateInsightJob failed: %v", err)
	}
	if err := repo.MarkJobRunning(ctx, running); err != nil {
		t.Fatalf("MarkJobRunning failed: %v", err)
	}
	done, err := repo.CreateInsightJob(ctx)
	if err != nil {
		t.Fatalf("CreateInsightJob failed: %v", err)
	}
	if err := repo.MarkJobRunning(ctx, done); err != nil {
		t.Fatalf("MarkJobRunning failed: %v", err)
	}
	if err := repo.MarkJobDone(ctx, done, `{}`); err != nil {
		t.Fatalf("MarkJobDone failed: %v", err)
	}

	n, err := repo.RequeueRunningJobs(ctx)
	if err != nil {
		t.Fatalf("RequeueRunningJobs failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("requeued = %d, want 1", n)
	}

	job, err := repo.GetInsightJob(ctx, running)
	if err != nil {
		t.Fatalf("GetInsightJob failed: %v", err)
	}
	if job.Status != JobStatusPending {
		t.Errorf("abandoned job status = %s, want pending", job.Status)
	}

	job, err = repo.GetInsightJob(ctx, done)
	if err != nil {
		t.Fatalf("GetInsightJob failed: %v", err)
	}
	if job.Status != JobStatusDone {
		t.Errorf("completed job status = %s, want done", job.Status)
	}
}

func TestListPendingJobs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := repo.CreateInsightJob(ctx)
		if err != nil {
			t.Fatalf("CreateInsightJob failed: %v", err)
		}
		ids = append(ids, id)
	}
	if err := repo.MarkJobRunning(ctx, ids[1]); err != nil {
		t.Fatalf("MarkJobRunning failed: %v", err)
	}

	pending, err := repo.ListPendingJobs(ctx, 10)
	if err != nil {
		t.Fatalf("ListPendingJobs failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %v, want the two unclaimed jobs", pending)
	}
}
