package prices

import (
	"math/rand"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andygrunwald/nordpool-prices/internal/models"
)

func riga(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Riga")
	require.NoError(t, err)
	return loc
}

func interval(start time.Time, d time.Duration, price string) models.PriceInterval {
	return models.PriceInterval{Start: start, End: start.Add(d), Price: decimal.RequireFromString(price)}
}

func hourly(start time.Time, price string) models.HourlyEntry {
	return models.HourlyEntry{Start: start, End: start.Add(time.Hour), Price: decimal.RequireFromString(price)}
}

func TestAggregateQuarterHours(t *testing.T) {
	loc := riga(t)
	base := time.Date(2025, 10, 15, 14, 0, 0, 0, loc)

	intervals := []models.PriceInterval{
		interval(base, 15*time.Minute, "0.10"),
		interval(base.Add(15*time.Minute), 15*time.Minute, "0.12"),
		interval(base.Add(30*time.Minute), 15*time.Minute, "0.11"),
		interval(base.Add(45*time.Minute), 15*time.Minute, "0.13"),
	}

	entries := Aggregate(intervals, loc)
	require.Len(t, entries, 1)
	assert.True(t, base.Equal(entries[0].Start))
	assert.True(t, base.Add(time.Hour).Equal(entries[0].End))
	assert.True(t, decimal.RequireFromString("0.115").Equal(entries[0].Price), entries[0].Price.String())
	assert.False(t, entries[0].NotifyRequested)
}

func TestAggregateHourlyFeedKeepsShape(t *testing.T) {
	loc := riga(t)
	base := time.Date(2025, 10, 15, 22, 0, 0, 0, loc)

	intervals := []models.PriceInterval{
		interval(base, time.Hour, "0.20"),
		interval(base.Add(time.Hour), time.Hour, "0.05"),
		// Gap at 00:00 is not filled.
		interval(base.Add(3*time.Hour), time.Hour, "0.07"),
	}

	entries := Aggregate(intervals, loc)
	require.Len(t, entries, 3)
	assert.Equal(t, 22, entries[0].Start.In(loc).Hour())
	assert.Equal(t, 23, entries[1].Start.In(loc).Hour())
	assert.Equal(t, 1, entries[2].Start.In(loc).Hour())
	assert.Equal(t, 16, entries[2].Start.In(loc).Day())
	for _, e := range entries {
		assert.Equal(t, time.Hour, e.End.Sub(e.Start))
	}
}

func TestAggregateBucketsInReferenceTimezone(t *testing.T) {
	loc := riga(t)

	// 11:30 UTC is 14:30 in Riga (EEST, UTC+3).
	intervals := []models.PriceInterval{
		interval(time.Date(2025, 10, 15, 11, 30, 0, 0, time.UTC), 15*time.Minute, "0.30"),
		interval(time.Date(2025, 10, 15, 11, 0, 0, 0, time.UTC), 15*time.Minute, "0.10"),
	}

	entries := Aggregate(intervals, loc)
	require.Len(t, entries, 1)
	assert.Equal(t, 14, entries[0].Start.In(loc).Hour())
	assert.True(t, decimal.RequireFromString("0.2").Equal(entries[0].Price))
}

func TestAggregateOrderIndependentAndDeterministic(t *testing.T) {
	loc := riga(t)
	base := time.Date(2025, 10, 15, 0, 0, 0, 0, loc)

	var intervals []models.PriceInterval
	for i := 0; i < 48*4; i++ {
		price := decimal.NewFromInt(int64(i % 17)).Div(decimal.NewFromInt(100))
		intervals = append(intervals, models.PriceInterval{
			Start: base.Add(time.Duration(i) * 15 * time.Minute),
			End:   base.Add(time.Duration(i+1) * 15 * time.Minute),
			Price: price,
		})
	}

	expected := Aggregate(intervals, loc)
	require.Len(t, expected, 48)

	shuffled := append([]models.PriceInterval(nil), intervals...)
	rng := rand.New(rand.NewSource(42))
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	got := Aggregate(shuffled, loc)
	require.Len(t, got, len(expected))
	for i := range expected {
		assert.True(t, expected[i].Start.Equal(got[i].Start))
		assert.True(t, expected[i].Price.Equal(got[i].Price), "hour %d", i)
	}

	again := Aggregate(intervals, loc)
	require.Len(t, again, len(expected))
	for i := range expected {
		assert.True(t, expected[i].Start.Equal(again[i].Start))
		assert.True(t, expected[i].End.Equal(again[i].End))
		assert.True(t, expected[i].Price.Equal(again[i].Price))
	}
}

func TestAggregateEmpty(t *testing.T) {
	assert.Empty(t, Aggregate(nil, time.UTC))
}

func TestAggregateDaylightSavingEnd(t *testing.T) {
	loc := riga(t)

	// On 2025-10-26 the local hour 03:00 occurs twice in Riga.
	first := time.Date(2025, 10, 26, 0, 0, 0, 0, time.UTC)  // 03:00 EEST
	second := time.Date(2025, 10, 26, 1, 0, 0, 0, time.UTC) // 03:00 EET
	next := time.Date(2025, 10, 26, 2, 0, 0, 0, time.UTC)   // 04:00 EET

	entries := Aggregate([]models.PriceInterval{
		interval(second, time.Hour, "0.20"),
		interval(next, time.Hour, "0.30"),
		interval(first, time.Hour, "0.10"),
	}, loc)

	require.Len(t, entries, 2)
	assert.True(t, first.Equal(entries[0].Start), "the repeated hour starts at its first occurrence")
	assert.True(t, first.Add(time.Hour).Equal(entries[0].End))
	assert.True(t, decimal.RequireFromString("0.15").Equal(entries[0].Price))
	assert.Equal(t, "03:00", entries[0].Start.In(loc).Format("15:04"))
	assert.True(t, next.Equal(entries[1].Start))
}

func TestMarkRequested(t *testing.T) {
	base := time.Date(2025, 10, 15, 10, 0, 0, 0, time.UTC)
	entries := []models.HourlyEntry{
		hourly(base, "0.1"),
		hourly(base.Add(time.Hour), "0.1"),
	}
	entries[0].NotifyRequested = true

	MarkRequested(entries, []int64{base.Add(time.Hour).UnixMilli()})

	assert.False(t, entries[0].NotifyRequested)
	assert.True(t, entries[1].NotifyRequested)
}

func TestSelectValidExcludesElapsedHours(t *testing.T) {
	loc := riga(t)
	base := time.Date(2025, 10, 15, 12, 0, 0, 0, loc)
	entries := []models.HourlyEntry{
		hourly(base, "0.10"),
		hourly(base.Add(time.Hour), "0.11"),
		hourly(base.Add(2*time.Hour), "0.12"),
	}

	s := NewSelector(loc, nil)

	// Exactly at the end of the first hour: it is no longer valid.
	w := s.Select(entries, base.Add(time.Hour))
	require.Len(t, w.Valid, 2)
	assert.True(t, base.Add(time.Hour).Equal(w.Valid[0].Start))
	require.NotNil(t, w.Current)
	assert.True(t, base.Add(time.Hour).Equal(w.Current.Start))

	// In the middle of the second hour it is still valid and current.
	w = s.Select(entries, base.Add(90*time.Minute))
	require.Len(t, w.Valid, 2)
	require.NotNil(t, w.Current)
	assert.True(t, decimal.RequireFromString("0.11").Equal(w.Current.Price))
}

func TestSelectValidProperty(t *testing.T) {
	loc := riga(t)
	base := time.Date(2025, 10, 15, 0, 0, 0, 0, loc)

	var entries []models.HourlyEntry
	for i := 0; i < 48; i++ {
		entries = append(entries, hourly(base.Add(time.Duration(i)*time.Hour), "0.1"))
	}

	s := NewSelector(loc, nil)
	for minutes := -60; minutes <= 49*60; minutes += 7 {
		now := base.Add(time.Duration(minutes) * time.Minute)
		w := s.Select(entries, now)

		expected := 0
		containing := 0
		for _, e := range entries {
			if e.End.After(now) {
				expected++
			}
			if e.Contains(now) {
				containing++
			}
		}
		assert.Len(t, w.Valid, expected)
		for _, e := range w.Valid {
			assert.True(t, e.End.After(now))
		}

		assert.LessOrEqual(t, containing, 1)
		if containing == 1 {
			require.NotNil(t, w.Current)
			assert.True(t, w.Current.Contains(now))
		} else {
			assert.Nil(t, w.Current)
		}
	}
}

func TestSelectByDay(t *testing.T) {
	loc := riga(t)
	today := time.Date(2025, 10, 15, 0, 0, 0, 0, loc)

	var entries []models.HourlyEntry
	for i := 0; i < 72; i++ {
		entries = append(entries, hourly(today.Add(time.Duration(i)*time.Hour), "0.1"))
	}
	now := today.Add(20*time.Hour + 30*time.Minute)

	w := NewSelector(loc, nil).Select(entries, now)
	require.Len(t, w.ByDay, 2)

	todayBucket, ok := w.Day(0)
	require.True(t, ok)
	assert.Equal(t, "Today", todayBucket.Label())
	require.Len(t, todayBucket.Entries, 4)
	assert.Equal(t, 20, todayBucket.Entries[0].Start.In(loc).Hour())

	tomorrow, ok := w.Day(1)
	require.True(t, ok)
	assert.Equal(t, "Tomorrow", tomorrow.Label())
	assert.Len(t, tomorrow.Entries, 24)
	for i := 1; i < len(tomorrow.Entries); i++ {
		assert.True(t, tomorrow.Entries[i-1].Start.Before(tomorrow.Entries[i].Start))
	}

	_, ok = w.Day(2)
	assert.False(t, ok, "day after tomorrow is not surfaced by default")

	w = NewSelector(loc, []int{0, 1, 2}).Select(entries, now)
	after, ok := w.Day(2)
	require.True(t, ok)
	assert.Len(t, after.Entries, 24)
	assert.Equal(t, "2025-10-17", after.Label())
}

func TestSelectMissingTomorrow(t *testing.T) {
	loc := riga(t)
	today := time.Date(2025, 10, 15, 0, 0, 0, 0, loc)
	entries := []models.HourlyEntry{hourly(today.Add(23*time.Hour), "0.1")}

	w := NewSelector(loc, nil).Select(entries, today.Add(12*time.Hour))
	require.Len(t, w.ByDay, 1)
	assert.Equal(t, 0, w.ByDay[0].Offset)
	assert.Nil(t, w.Current)
}

func TestLevelFor(t *testing.T) {
	tests := map[string]Level{
		"-0.01": LevelCheap,
		"0.099": LevelCheap,
		"0.10":  LevelLow,
		"0.149": LevelLow,
		"0.15":  LevelMedium,
		"0.199": LevelMedium,
		"0.20":  LevelHigh,
		"1.5":   LevelHigh,
	}
	for price, expected := range tests {
		assert.Equal(t, expected, LevelFor(decimal.RequireFromString(price)), price)
	}
}

func TestFormatting(t *testing.T) {
	loc := riga(t)
	e := hourly(time.Date(2025, 10, 15, 14, 0, 0, 0, loc), "0.1155")

	assert.Equal(t, "14:00 – 15:00", FormatRange(e, loc))
	assert.Equal(t, "0.116", FormatPrice(e.Price))
}
