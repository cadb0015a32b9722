// Package storage persists revenue records and insight jobs in a
// local SQLite database.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"revlens/internal/core"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup by id matches nothing.
var ErrNotFound = errors.New("not found")

// Revenue is a stored revenue record with its database identity.
type Revenue struct {
	ID        int64
	Record    core.RevenueRecord
	CreatedAt time.Time
}

// RevenueFilter narrows ListRevenue. Zero values mean "no constraint".
type RevenueFilter struct {
	From     *core.Date
	To       *core.Date
	Category string
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// CreateRevenue inserts a record and returns it with its assigned id.
func (r *SQLiteRepository) CreateRevenue(ctx context.Context, rec core.RevenueRecord) (*Revenue, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO revenue (date, amount_cents, category, description) VALUES (?, ?, ?, ?)`,
		rec.Date.ISO(), rec.Amount.Cents, nullable(rec.Category), nullable(rec.Description))
	if err != nil {
		return nil, fmt.Errorf("insert revenue: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	slog.InfoContext(ctx, "Revenue record saved",
		"id", id,
		"date", rec.Date.ISO(),
		"amount_cents", rec.Amount.Cents,
		"category", rec.Category)

	return r.GetRevenue(ctx, id)
}

// GetRevenue returns the record with the given id or ErrNotFound.
func (r *SQLiteRepository) GetRevenue(ctx context.Context, id int64) (*Revenue, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, date, amount_cents, category, description, created_at FROM revenue WHERE id = ?`, id)
	rev, err := scanRevenue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("revenue %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get revenue %d: %w", id, err)
	}
	return rev, nil
}

// UpdateRevenue replaces the stored record and returns the new state.
func (r *SQLiteRepository) UpdateRevenue(ctx context.Context, id int64, rec core.RevenueRecord) (*Revenue, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE revenue SET date = ?, amount_cents = ?, category = ?, description = ? WHERE id = ?`,
		rec.Date.ISO(), rec.Amount.Cents, nullable(rec.Category), nullable(rec.Description), id)
	if err != nil {
		return nil, fmt.Errorf("update revenue %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("revenue %d: %w", id, ErrNotFound)
	}

	return r.GetRevenue(ctx, id)
}

// DeleteRevenue removes the record with the given id or ErrNotFound.
func (r *SQLiteRepository) DeleteRevenue(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM revenue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete revenue %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("revenue %d: %w", id, ErrNotFound)
	}
	slog.InfoContext(ctx, "Revenue record deleted", "id", id)
	return nil
}

// ListRevenue returns filtered records, newest date first.
func (r *SQLiteRepository) ListRevenue(ctx context.Context, f RevenueFilter) ([]Revenue, error) {
	query := `SELECT id, date, amount_cents, category, description, created_at FROM revenue`
	var conds []string
	var args []any
	if f.From != nil {
		conds = append(conds, "date >= ?")
		args = append(args, f.From.ISO())
	}
	if f.To != nil {
		conds = append(conds, "date <= ?")
		args = append(args, f.To.ISO())
	}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY date DESC, id DESC"

	return r.queryRevenue(ctx, query, args...)
}

// ListAllRevenueAsc returns every record in chronological order, the
// shape the analysis pipeline consumes.
func (r *SQLiteRepository) ListAllRevenueAsc(ctx context.Context) ([]Revenue, error) {
	return r.queryRevenue(ctx,
		`SELECT id, date, amount_cents, category, description, created_at FROM revenue ORDER BY date ASC, id ASC`)
}

func (r *SQLiteRepository) queryRevenue(ctx context.Context, query string, args ...any) ([]Revenue, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query revenue: %w", err)
	}
	defer rows.Close()

	var out []Revenue
	for rows.Next() {
		rev, err := scanRevenue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan revenue: %w", err)
		}
		out = append(out, *rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revenue: %w", err)
	}
	return out, nil
}

// ListCategories returns the distinct non-empty categories in use.
func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT category FROM revenue WHERE category IS NOT NULL AND category != '' ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return categories, nil
}

// MonthlyRollupRow is one month of the dashboard summary.
type MonthlyRollupRow struct {
	Month      string // YYYY-MM
	TotalCents int64
	Count      int64
}

// MonthlyRollup returns per-month revenue totals in chronological
// order, computed in SQL so the dashboard never loads raw rows.
func (r *SQLiteRepository) MonthlyRollup(ctx context.Context) ([]MonthlyRollupRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT substr(date, 1, 7) AS month, SUM(amount_cents), COUNT(*)
		 FROM revenue GROUP BY month ORDER BY month ASC`)
	if err != nil {
		return nil, fmt.Errorf("query monthly rollup: %w", err)
	}
	defer rows.Close()

	var out []MonthlyRollupRow
	for rows.Next() {
		var row MonthlyRollupRow
		if err := rows.Scan(&row.Month, &row.TotalCents, &row.Count); err != nil {
			return nil, fmt.Errorf("scan monthly rollup: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate monthly rollup: %w", err)
	}
	return out, nil
}

// CategoryRollupRow is one month/category cell of the dashboard
// summary.
type CategoryRollupRow struct {
	Month      string
	Category   string
	TotalCents int64
}

// CategoryRollup returns per-month per-category totals. Uncategorized
// revenue is excluded, matching the aggregation the analysis prompt
// uses.
func (r *SQLiteRepository) CategoryRollup(ctx context.Context) ([]CategoryRollupRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT substr(date, 1, 7) AS month, category, SUM(amount_cents)
		 FROM revenue WHERE category IS NOT NULL AND category != ''
		 GROUP BY month, category ORDER BY month ASC, category ASC`)
	if err != nil {
		return nil, fmt.Errorf("query category rollup: %w", err)
	}
	defer rows.Close()

	var out []CategoryRollupRow
	for rows.Next() {
		var row CategoryRollupRow
		if err := rows.Scan(&row.Month, &row.Category, &row.TotalCents); err != nil {
			return nil, fmt.Errorf("scan category rollup: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category rollup: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRevenue(s scanner) (*Revenue, error) {
	var (
		rev         Revenue
		date        string
		category    sql.NullString
		description sql.NullString
		createdAt   string
	)
	if err := s.Scan(&rev.ID, &date, &rev.Record.Amount.Cents, &category, &description, &createdAt); err != nil {
		return nil, err
	}

	d, err := core.ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("stored date %q: %w", date, err)
	}
	rev.Record.Date = d
	rev.Record.Category = category.String
	rev.Record.Description = description.String
	rev.CreatedAt = parseTimestamp(createdAt)
	return &rev, nil
}

// parseTimestamp reads the text timestamps SQLite produces. A zero
// time means the stored value was unreadable, which is harmless for a
// display-only column.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
