// Package recurrence expands a recurring booking request into the calendar
// dates of its occurrences.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Cadence is how often a series repeats.
type Cadence string

const (
	Weekly   Cadence = "weekly"
	Biweekly Cadence = "biweekly"
)

// ErrUnknownCadence is returned for cadences other than weekly/biweekly.
var ErrUnknownCadence = errors.New("recurrence: unknown cadence")

// ParseCadence normalizes a wire value into a Cadence.
func ParseCadence(raw string) (Cadence, error) {
	switch Cadence(strings.ToLower(strings.TrimSpace(raw))) {
	case Weekly:
		return Weekly, nil
	case Biweekly:
		return Biweekly, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCadence, raw)
	}
}

// StrideDays returns the number of days between two occurrences.
func (c Cadence) StrideDays() (int, error) {
	switch c {
	case Weekly:
		return 7, nil
	case Biweekly:
		return 14, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCadence, string(c))
	}
}

// Day truncates t to its calendar day in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Dates returns the ascending occurrence dates from start to end inclusive.
// A start after end yields an empty slice and no error.
func Dates(start, end time.Time, cadence Cadence) ([]time.Time, error) {
	stride, err := cadence.StrideDays()
	if err != nil {
		return nil, err
	}
	start, end = Day(start), Day(end)
	if start.After(end) {
		return []time.Time{}, nil
	}
	// AddDate keeps the walk on calendar days regardless of DST in the caller's zone.
	dates := make([]time.Time, 0, int(end.Sub(start).Hours()/24)/stride+1)
	for d := start; !d.After(end); d = d.AddDate(0, 0, stride) {
		dates = append(dates, d)
	}
	return dates, nil
}
