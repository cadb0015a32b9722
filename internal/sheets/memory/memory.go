// Package memory is an in-process ReportWriter used in tests and when
// no spreadsheet is configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	ports "revlens/internal/sheets"
)

type Store struct {
	mu      sync.Mutex
	reports []ports.InsightReport
}

var _ ports.ReportWriter = (*Store)(nil)

func New() *Store {
	return &Store{}
}

// AppendInsight stores the report and returns a synthetic row
// reference.
func (s *Store) AppendInsight(_ context.Context, report ports.InsightReport) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return fmt.Sprintf("mem:%d", len(s.reports)), nil
}

// Reports returns a copy of everything appended so far.
func (s *Store) Reports() []ports.InsightReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.InsightReport(nil), s.reports...)
}
