// Package refresher keeps the latest hourly prices fetched from a feed provider.
package refresher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/andygrunwald/nordpool-prices/internal/api"
	"github.com/andygrunwald/nordpool-prices/internal/models"
	"github.com/andygrunwald/nordpool-prices/internal/prices"
)

// ErrNoData is returned when no feed was fetched successfully yet.
var ErrNoData = errors.New("no price data available")

// Metrics holds fetch metrics for the provider.
type Metrics struct {
	mu               sync.RWMutex
	TotalRequests    int64
	TotalErrors      int64
	LastFetchAt      *time.Time
	LastFetchSuccess bool
	LastResponseTime time.Duration
	LastError        *string
	IntervalCount    int
	HourlyCount      int
}

// GetSnapshot returns a thread-safe snapshot of the metrics.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MetricsSnapshot{
		TotalRequests:    m.TotalRequests,
		TotalErrors:      m.TotalErrors,
		LastFetchAt:      m.LastFetchAt,
		LastFetchSuccess: m.LastFetchSuccess,
		LastResponseTime: m.LastResponseTime,
		LastError:        m.LastError,
		IntervalCount:    m.IntervalCount,
		HourlyCount:      m.HourlyCount,
	}
}

// MetricsSnapshot is a thread-safe copy of Metrics data.
type MetricsSnapshot struct {
	TotalRequests    int64
	TotalErrors      int64
	LastFetchAt      *time.Time
	LastFetchSuccess bool
	LastResponseTime time.Duration
	LastError        *string
	IntervalCount    int
	HourlyCount      int
}

// MetricsRecorder receives feed metrics.
type MetricsRecorder interface {
	RecordFeedFetch(provider string, success bool, duration time.Duration)
	RecordWindow(w prices.Window)
}

// Refresher fetches the feed and keeps the aggregated hourly entries.
type Refresher struct {
	provider api.Provider
	selector prices.Selector
	metrics  *Metrics
	recorder MetricsRecorder
	now      func() time.Time
	logger   zerolog.Logger

	mu      sync.RWMutex
	entries []models.HourlyEntry
	loaded  bool
}

// New creates a new Refresher.
func New(provider api.Provider, selector prices.Selector, logger zerolog.Logger) *Refresher {
	return &Refresher{
		provider: provider,
		selector: selector,
		metrics:  &Metrics{},
		now:      time.Now,
		logger:   logger.With().Str("component", "refresher").Logger(),
	}
}

// SetRecorder wires a metrics recorder.
func (r *Refresher) SetRecorder(rec MetricsRecorder) {
	r.recorder = rec
}

// SetClock replaces the time source.
func (r *Refresher) SetClock(now func() time.Time) {
	r.now = now
}

// ProviderName returns the name of the feed provider.
func (r *Refresher) ProviderName() string {
	return r.provider.Name()
}

// Selector returns the window selector.
func (r *Refresher) Selector() prices.Selector {
	return r.selector
}

// Location returns the reference timezone.
func (r *Refresher) Location() *time.Location {
	return r.selector.Location
}

// GetMetrics returns the fetch metrics.
func (r *Refresher) GetMetrics() *Metrics {
	return r.metrics
}

// Refresh fetches the feed and replaces the stored entries. On failure the
// previous entries are kept.
func (r *Refresher) Refresh(ctx context.Context) error {
	name := r.provider.Name()
	r.logger.Info().Str("provider", name).Msg("refreshing prices")

	start := time.Now()
	r.metrics.mu.Lock()
	r.metrics.TotalRequests++
	r.metrics.mu.Unlock()

	intervals, err := r.provider.FetchIntervals(ctx)
	duration := time.Since(start)

	var entries []models.HourlyEntry
	if err == nil {
		entries = prices.Aggregate(intervals, r.selector.Location)
	}

	now := r.now()
	r.metrics.mu.Lock()
	r.metrics.LastFetchAt = &now
	r.metrics.LastResponseTime = duration
	if err != nil {
		r.metrics.TotalErrors++
		r.metrics.LastFetchSuccess = false
		errStr := err.Error()
		r.metrics.LastError = &errStr
	} else {
		r.metrics.LastFetchSuccess = true
		r.metrics.LastError = nil
		r.metrics.IntervalCount = len(intervals)
		r.metrics.HourlyCount = len(entries)
	}
	r.metrics.mu.Unlock()

	if r.recorder != nil {
		r.recorder.RecordFeedFetch(name, err == nil, duration)
	}

	if err != nil {
		r.logger.Error().
			Err(err).
			Str("provider", name).
			Dur("duration", duration).
			Msg("failed to fetch prices")
		return err
	}

	r.mu.Lock()
	r.entries = entries
	r.loaded = true
	r.mu.Unlock()

	if r.recorder != nil {
		r.recorder.RecordWindow(r.selector.Select(entries, now))
	}

	r.logger.Info().
		Str("provider", name).
		Int("intervals", len(intervals)).
		Int("hours", len(entries)).
		Dur("duration", duration).
		Msg("refreshed prices")

	return nil
}

// Entries returns a copy of the latest hourly entries.
func (r *Refresher) Entries() ([]models.HourlyEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.loaded {
		return nil, ErrNoData
	}
	out := make([]models.HourlyEntry, len(r.entries))
	copy(out, r.entries)
	return out, nil
}

// Window returns the latest entries as seen at now.
func (r *Refresher) Window(now time.Time) (prices.Window, error) {
	entries, err := r.Entries()
	if err != nil {
		return prices.Window{}, err
	}
	return r.selector.Select(entries, now), nil
}

// Status returns the feed status for the status endpoint.
func (r *Refresher) Status() models.FeedStatus {
	m := r.metrics.GetSnapshot()
	return models.FeedStatus{
		Provider:           r.provider.Name(),
		LastFetchAt:        m.LastFetchAt,
		LastFetchSuccess:   m.LastFetchSuccess,
		LastResponseTimeMs: m.LastResponseTime.Milliseconds(),
		LastError:          m.LastError,
		TotalRequests:      m.TotalRequests,
		TotalErrors:        m.TotalErrors,
		IntervalCount:      m.IntervalCount,
		HourlyCount:        m.HourlyCount,
	}
}
