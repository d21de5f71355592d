// Package prices groups raw price intervals into hourly entries and selects
// the windows shown to the user.
package prices

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/andygrunwald/nordpool-prices/internal/models"
)

// HourStart returns the top of the local hour containing t in loc.
func HourStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	offset := time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second +
		time.Duration(local.Nanosecond())
	return local.Add(-offset)
}

type bucket struct {
	start time.Time
	sum   decimal.Decimal
	count int64
}

// Aggregate groups intervals by the local calendar date and hour of their
// start and averages the prices within each hour. The result is sorted by
// start; hours without any interval are not synthesized.
//
// The local hour repeated at the end of daylight saving time is a single
// entry starting at its first occurrence.
func Aggregate(intervals []models.PriceInterval, loc *time.Location) []models.HourlyEntry {
	if loc == nil {
		loc = time.UTC
	}

	buckets := make(map[string]*bucket)
	for _, interval := range intervals {
		start := HourStart(interval.Start, loc)
		key := start.Format("2006-01-02 15")

		b, ok := buckets[key]
		if !ok {
			b = &bucket{start: start}
			buckets[key] = b
		}
		if start.Before(b.start) {
			b.start = start
		}
		b.sum = b.sum.Add(interval.Price)
		b.count++
	}

	entries := make([]models.HourlyEntry, 0, len(buckets))
	for _, b := range buckets {
		entries = append(entries, models.HourlyEntry{
			Start: b.start,
			End:   b.start.Add(time.Hour),
			Price: b.sum.Div(decimal.NewFromInt(b.count)),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Start.Before(entries[j].Start)
	})

	return entries
}

// MarkRequested sets NotifyRequested on every entry whose start is in keys
// (epoch milliseconds) and clears it on all others.
func MarkRequested(entries []models.HourlyEntry, keys []int64) {
	active := make(map[int64]struct{}, len(keys))
	for _, k := range keys {
		active[k] = struct{}{}
	}
	for i := range entries {
		_, ok := active[entries[i].Start.UnixMilli()]
		entries[i].NotifyRequested = ok
	}
}
