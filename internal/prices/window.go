package prices

import (
	"fmt"
	"time"

	"github.com/andygrunwald/nordpool-prices/internal/models"
)

// DefaultDayOffsets surfaces today and tomorrow.
var DefaultDayOffsets = []int{0, 1}

// DayBucket holds the still-valid entries of one calendar day.
type DayBucket struct {
	// Date is local midnight of the day.
	Date time.Time `json:"date"`
	// Offset is the number of days after today.
	Offset  int                  `json:"offset"`
	Entries []models.HourlyEntry `json:"entries"`
}

// Label returns the heading used for the day.
func (b DayBucket) Label() string {
	switch b.Offset {
	case 0:
		return "Today"
	case 1:
		return "Tomorrow"
	default:
		return b.Date.Format("2006-01-02")
	}
}

// Window is the view of the hourly entries at a given instant.
type Window struct {
	// Valid holds entries whose end lies after now.
	Valid []models.HourlyEntry `json:"valid"`
	// ByDay holds one bucket per surfaced day that has entries.
	ByDay []DayBucket `json:"by_day"`
	// Current is the entry containing now, if any.
	Current *models.HourlyEntry `json:"current,omitempty"`
}

// Selector computes windows in a reference timezone.
type Selector struct {
	Location *time.Location
	// DayOffsets lists the days surfaced in ByDay, relative to today.
	DayOffsets []int
}

// NewSelector creates a Selector. An empty offsets list surfaces today and tomorrow.
func NewSelector(loc *time.Location, offsets []int) Selector {
	if len(offsets) == 0 {
		offsets = DefaultDayOffsets
	}
	return Selector{Location: loc, DayOffsets: offsets}
}

// Select filters entries to the ones still valid at now and partitions them
// by day. Input order is preserved.
func (s Selector) Select(entries []models.HourlyEntry, now time.Time) Window {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	offsets := s.DayOffsets
	if len(offsets) == 0 {
		offsets = DefaultDayOffsets
	}

	var w Window
	byDate := make(map[string][]models.HourlyEntry)
	for _, e := range entries {
		if !e.End.After(now) {
			continue
		}
		w.Valid = append(w.Valid, e)

		key := dayKey(e.Start, loc)
		byDate[key] = append(byDate[key], e)

		if w.Current == nil && e.Contains(now) {
			current := e
			w.Current = &current
		}
	}

	today := midnight(now, loc)
	for _, offset := range offsets {
		date := today.AddDate(0, 0, offset)
		dayEntries, ok := byDate[dayKey(date, loc)]
		if !ok {
			continue
		}
		w.ByDay = append(w.ByDay, DayBucket{Date: date, Offset: offset, Entries: dayEntries})
	}

	return w
}

// Day returns the bucket for the given offset, if surfaced.
func (w Window) Day(offset int) (DayBucket, bool) {
	for _, b := range w.ByDay {
		if b.Offset == offset {
			return b, true
		}
	}
	return DayBucket{}, false
}

func dayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

func midnight(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// FormatRange renders an entry's span as "HH:MM – HH:MM" in loc.
func FormatRange(e models.HourlyEntry, loc *time.Location) string {
	return fmt.Sprintf("%s – %s", e.Start.In(loc).Format("15:04"), e.End.In(loc).Format("15:04"))
}
