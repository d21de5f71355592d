package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/andygrunwald/nordpool-prices/internal/models"
	"github.com/andygrunwald/nordpool-prices/internal/refresher"
	"github.com/andygrunwald/nordpool-prices/internal/reminder"
	"github.com/andygrunwald/nordpool-prices/internal/scheduler"
	"github.com/andygrunwald/nordpool-prices/internal/update"
)

// StatusHandler handles the /status endpoint.
type StatusHandler struct {
	refresher *refresher.Refresher
	scheduler *scheduler.Scheduler
	reminders *reminder.Scheduler
	checker   *update.Checker
	installer *update.Installer
	startTime time.Time
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(deps Dependencies) *StatusHandler {
	return &StatusHandler{
		refresher: deps.Refresher,
		scheduler: deps.Scheduler,
		reminders: deps.Reminders,
		checker:   deps.Checker,
		installer: deps.Installer,
		startTime: time.Now(),
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	response := models.StatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}

	// Get scheduler status
	if h.scheduler != nil {
		response.SchedulerRunning = h.scheduler.IsRunning()
		response.LastRunAt = h.scheduler.LastRunAt()
		nextRun := h.scheduler.NextRunAt()
		if !nextRun.IsZero() {
			response.NextRunAt = &nextRun
		}
	}

	if h.refresher != nil {
		response.Feed = h.refresher.Status()
		if _, err := h.refresher.Entries(); err != nil {
			response.Status = "degraded"
		}
	}

	if h.reminders != nil {
		if keys, err := h.reminders.Active(ctx); err == nil {
			response.ActiveReminders = len(keys)
		}
	}

	if h.checker != nil {
		response.Update = h.checker.Status()
	}
	if h.installer != nil {
		if d := h.installer.Current(); d != nil {
			response.Update.Download = models.NewDownloadView(d.State())
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
}
