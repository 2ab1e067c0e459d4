package consumption

import (
	"encoding/json"
	"errors"
	"sort"
	"time"
)

var (
	// ErrNoData is returned when the API answered with an empty payload.
	ErrNoData = errors.New("No data returned from API")
	// ErrInvalidPeriod is returned for an out-of-range year or month.
	ErrInvalidPeriod = errors.New("consumption: invalid year or month")
	// ErrEmptyChargerID is returned when charger id is empty.
	ErrEmptyChargerID = errors.New("consumption: empty charger id")
)

// Reading is one normalized consumption entry.
type Reading struct {
	// Timestamp is the raw upstream value, echoed back to clients unchanged.
	Timestamp any
	// At is the parsed timestamp; zero when Timestamp is missing or unparsable.
	At  time.Time
	KWh float64
}

// Summary is the normalized result of one monthly consumption payload.
type Summary struct {
	Raw      json.RawMessage
	Readings []Reading
	TotalKWh float64
}

// Period identifies a calendar month.
type Period struct {
	Year  int
	Month time.Month
}

// NewPeriod validates year and month.
func NewPeriod(year, month int) (Period, error) {
	if year <= 0 || month < 1 || month > 12 {
		return Period{}, ErrInvalidPeriod
	}
	return Period{Year: year, Month: time.Month(month)}, nil
}

// ParsePeriod parses a YYYY-MM month.
func ParsePeriod(value string) (Period, error) {
	if value == "" {
		return Period{}, ErrInvalidPeriod
	}
	t, err := time.Parse("2006-01", value)
	if err != nil {
		return Period{}, ErrInvalidPeriod
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

// Start returns the first instant of the month in UTC.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// String formats the period as YYYY-MM.
func (p Period) String() string {
	return p.Start().Format("2006-01")
}

// Closed reports whether the month ended before now.
func (p Period) Closed(now time.Time) bool {
	return !p.Start().AddDate(0, 1, 0).After(now.UTC())
}

// DayTotal is consumption aggregated over one UTC day.
type DayTotal struct {
	DayStart time.Time
	KWh      float64
}

// DailyTotals groups readings by UTC day, ascending. Readings without a parsed
// timestamp are grouped under the zero day, which sorts first.
func DailyTotals(readings []Reading) []DayTotal {
	byDay := make(map[time.Time]float64)
	for _, r := range readings {
		var day time.Time
		if !r.At.IsZero() {
			at := r.At.UTC()
			day = time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
		}
		byDay[day] += r.KWh
	}
	result := make([]DayTotal, 0, len(byDay))
	for day, kwh := range byDay {
		result = append(result, DayTotal{DayStart: day, KWh: kwh})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DayStart.Before(result[j].DayStart)
	})
	return result
}
