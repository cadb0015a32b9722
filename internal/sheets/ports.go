// Package sheets defines the outbound port for exporting completed
// insight reports to a spreadsheet.
package sheets

import (
	"context"
	"time"

	"revlens/internal/insight"
)

// InsightReport is one completed analysis ready for export.
type InsightReport struct {
	JobID       int64
	GeneratedAt time.Time
	Insight     insight.Insight
}

// ReportWriter appends an insight report and returns a reference to
// where it landed.
type ReportWriter interface {
	AppendInsight(ctx context.Context, report InsightReport) (rowRef string, err error)
}
