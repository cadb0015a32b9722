package core

import (
	"errors"
	"strings"
	"time"
)

type (
	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// RevenueRecord is a single dated revenue entry. Category and
	// Description are optional.
	RevenueRecord struct {
		Date        Date
		Amount      Money
		Category    string
		Description string
	}
)

var (
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidAmount = errors.New("invalid amount")
)

// DateLayout is the wire format for record dates.
const DateLayout = "2006-01-02"

// NewDate creates a Date from year, month, day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses an ISO-8601 calendar date (YYYY-MM-DD).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// MonthKey returns the calendar year-month bucket, e.g. "2024-01".
func (d Date) MonthKey() string {
	return d.Format("2006-01")
}

// ISO returns the date in YYYY-MM-DD form.
func (d Date) ISO() string {
	return d.Format(DateLayout)
}

func (r RevenueRecord) Validate() error {
	if err := r.Date.Validate(); err != nil {
		return err
	}
	// Refunds are negative; only a zero amount is meaningless.
	if r.Amount.Cents == 0 {
		return ErrInvalidAmount
	}
	if len(r.Description) > 500 {
		return errors.New("description too long (max 500 characters)")
	}
	if len(r.Category) > 100 {
		return errors.New("category too long (max 100 characters)")
	}
	return nil
}
