package core

import "sort"

// MonthlySummary is the aggregated view of one calendar month.
type MonthlySummary struct {
	Total      Money
	Count      int
	Categories map[string]Money
}

// AggregateMonthly groups records by calendar year-month. Totals and
// counts accumulate unconditionally; category buckets only for records
// with a non-empty category. Input order is irrelevant; use MonthKeys
// for chronological iteration. An empty input yields an empty map.
func AggregateMonthly(records []RevenueRecord) map[string]*MonthlySummary {
	months := make(map[string]*MonthlySummary)
	for _, rec := range records {
		key := rec.Date.MonthKey()
		m, ok := months[key]
		if !ok {
			m = &MonthlySummary{Categories: make(map[string]Money)}
			months[key] = m
		}
		m.Total.Cents += rec.Amount.Cents
		m.Count++
		if rec.Category != "" {
			sub := m.Categories[rec.Category]
			sub.Cents += rec.Amount.Cents
			m.Categories[rec.Category] = sub
		}
	}
	return months
}

// MonthKeys returns the summary keys in chronological order. The
// YYYY-MM form sorts lexicographically in date order.
func MonthKeys(months map[string]*MonthlySummary) []string {
	keys := make([]string, 0, len(months))
	for k := range months {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CategoryNames returns a summary's category names sorted, so one
// rendering pass is stable within a call.
func (m *MonthlySummary) CategoryNames() []string {
	names := make([]string, 0, len(m.Categories))
	for name := range m.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
