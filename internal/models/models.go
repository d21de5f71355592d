// Package models provides shared data types for the Nord Pool price service.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceInterval is a single raw row of the price feed.
type PriceInterval struct {
	// Start is the inclusive start of the interval.
	Start time.Time
	// End is the exclusive end of the interval.
	End time.Time
	// Price is the price for the interval, in the unit of the feed (EUR/kWh).
	Price decimal.Decimal
}

// HourlyEntry is one calendar hour of prices in the reference timezone.
type HourlyEntry struct {
	// Start is the top of the hour.
	Start time.Time `json:"start"`
	// End is Start plus one hour.
	End time.Time `json:"end"`
	// Price is the mean of all intervals starting within the hour.
	Price decimal.Decimal `json:"price"`
	// NotifyRequested is set when a reminder is active for this hour.
	NotifyRequested bool `json:"notify_requested"`
}

// Contains reports whether t falls within [Start, End).
func (e HourlyEntry) Contains(t time.Time) bool {
	return !t.Before(e.Start) && t.Before(e.End)
}

// UpdateManifest describes the latest published application version.
type UpdateManifest struct {
	LatestVersion string `json:"latest_version"`
	Changelog     string `json:"changelog"`
	PackageURL    string `json:"package_url"`
}

// DownloadPhase is the lifecycle phase of a package download.
type DownloadPhase int

const (
	// DownloadIdle means no download has been started.
	DownloadIdle DownloadPhase = iota
	// DownloadInProgress means the transfer is running.
	DownloadInProgress
	// DownloadSucceeded means the package is on disk and was handed to the installer.
	DownloadSucceeded
	// DownloadFailed means the download ended without a usable package.
	DownloadFailed
)

// String returns a human-readable name for the phase.
func (p DownloadPhase) String() string {
	switch p {
	case DownloadIdle:
		return "idle"
	case DownloadInProgress:
		return "downloading"
	case DownloadSucceeded:
		return "succeeded"
	case DownloadFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions happen from this phase.
func (p DownloadPhase) Terminal() bool {
	return p == DownloadSucceeded || p == DownloadFailed
}

// DownloadState is a point-in-time view of a package download.
type DownloadState struct {
	ID       uuid.UUID     `json:"id"`
	URL      string        `json:"url"`
	Phase    DownloadPhase `json:"-"`
	Progress int           `json:"progress_percent"`
	// File is set once the download succeeded.
	File string `json:"file,omitempty"`
	// Reason is set once the download failed.
	Reason string `json:"reason,omitempty"`
}

// IsActive reports whether the transfer is still running.
func (s DownloadState) IsActive() bool {
	return s.Phase == DownloadInProgress
}

// FeedStatus holds the operational status of the price feed.
type FeedStatus struct {
	Provider           string     `json:"provider"`
	LastFetchAt        *time.Time `json:"last_fetch_at"`
	LastFetchSuccess   bool       `json:"last_fetch_success"`
	LastResponseTimeMs int64      `json:"last_response_time_ms"`
	LastError          *string    `json:"last_error"`
	TotalRequests      int64      `json:"total_requests"`
	TotalErrors        int64      `json:"total_errors"`
	IntervalCount      int        `json:"interval_count"`
	HourlyCount        int        `json:"hourly_count"`
}

// UpdateStatus holds the result of the last update check and the current download.
type UpdateStatus struct {
	RunningVersion string          `json:"running_version"`
	LastCheckAt    *time.Time      `json:"last_check_at,omitempty"`
	Available      bool            `json:"available"`
	Manifest       *UpdateManifest `json:"manifest,omitempty"`
	Download       *DownloadView   `json:"download,omitempty"`
}

// DownloadView is the JSON shape of a DownloadState.
type DownloadView struct {
	DownloadState
	Phase    string `json:"phase"`
	IsActive bool   `json:"is_active"`
}

// NewDownloadView wraps a state for JSON output.
func NewDownloadView(s DownloadState) *DownloadView {
	return &DownloadView{DownloadState: s, Phase: s.Phase.String(), IsActive: s.IsActive()}
}

// StatusResponse is the response for the /status endpoint.
type StatusResponse struct {
	Status           string       `json:"status"`
	UptimeSeconds    int64        `json:"uptime_seconds"`
	SchedulerRunning bool         `json:"scheduler_running"`
	NextRunAt        *time.Time   `json:"next_run_at,omitempty"`
	LastRunAt        *time.Time   `json:"last_run_at,omitempty"`
	Feed             FeedStatus   `json:"feed"`
	ActiveReminders  int          `json:"active_reminders"`
	Update           UpdateStatus `json:"update"`
}
