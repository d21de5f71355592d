// Package http provides the HTTP surface of the price service.
package http

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/andygrunwald/nordpool-prices/internal/prices"
)

// Metrics holds all Prometheus metrics of the service.
type Metrics struct {
	// Feed metrics
	FeedRequestsTotal    *prometheus.CounterVec
	FeedRequestDuration  *prometheus.HistogramVec
	LastRefreshTimestamp *prometheus.GaugeVec
	HourlyEntries        *prometheus.GaugeVec
	CurrentPrice         prometheus.Gauge

	// Reminder metrics
	ReminderOperationsTotal *prometheus.CounterVec
	ActiveReminders         prometheus.Gauge

	// Update metrics
	UpdateChecksTotal *prometheus.CounterVec
	DownloadProgress  prometheus.Gauge
	DownloadsTotal    *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FeedRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nordprices_feed_requests_total",
				Help: "Total number of feed requests by provider and status",
			},
			[]string{"provider", "status"},
		),
		FeedRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nordprices_feed_request_duration_seconds",
				Help:    "Feed request duration in seconds, including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		LastRefreshTimestamp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nordprices_last_refresh_timestamp",
				Help: "Timestamp of the last successful feed refresh",
			},
			[]string{"provider"},
		),
		HourlyEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nordprices_hourly_entries",
				Help: "Number of still valid hourly entries by day offset",
			},
			[]string{"day_offset"},
		),
		CurrentPrice: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nordprices_current_price_eur_kwh",
				Help: "Average price of the current hour in EUR/kWh",
			},
		),
		ReminderOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nordprices_reminder_operations_total",
				Help: "Total number of reminder operations by type and status",
			},
			[]string{"operation", "status"},
		),
		ActiveReminders: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nordprices_active_reminders",
				Help: "Number of reminders that have not fired yet",
			},
		),
		UpdateChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nordprices_update_checks_total",
				Help: "Total number of update checks by result",
			},
			[]string{"result"},
		),
		DownloadProgress: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nordprices_download_progress_percent",
				Help: "Progress of the current package download",
			},
		),
		DownloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nordprices_downloads_total",
				Help: "Total number of finished package downloads by outcome",
			},
			[]string{"phase"},
		),
	}
}

// RecordFeedFetch records a feed request.
func (m *Metrics) RecordFeedFetch(provider string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	m.FeedRequestsTotal.WithLabelValues(provider, status).Inc()
	m.FeedRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if success {
		m.LastRefreshTimestamp.WithLabelValues(provider).Set(float64(time.Now().Unix()))
	}
}

// RecordWindow records the entry counts and the current price of a window.
func (m *Metrics) RecordWindow(w prices.Window) {
	m.HourlyEntries.Reset()
	for _, day := range w.ByDay {
		m.HourlyEntries.WithLabelValues(strconv.Itoa(day.Offset)).Set(float64(len(day.Entries)))
	}
	if w.Current != nil {
		price, _ := w.Current.Price.Float64()
		m.CurrentPrice.Set(price)
	}
}

// RecordReminderOperation records a reminder operation.
func (m *Metrics) RecordReminderOperation(operation, status string) {
	m.ReminderOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordActiveReminders records the number of active reminders.
func (m *Metrics) RecordActiveReminders(count int) {
	m.ActiveReminders.Set(float64(count))
}

// RecordUpdateCheck records the result of an update check.
func (m *Metrics) RecordUpdateCheck(result string) {
	m.UpdateChecksTotal.WithLabelValues(result).Inc()
}

// RecordDownload records a download state change.
func (m *Metrics) RecordDownload(phase string, progress int) {
	m.DownloadProgress.Set(float64(progress))
	if phase == "succeeded" || phase == "failed" {
		m.DownloadsTotal.WithLabelValues(phase).Inc()
	}
}
