package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/andygrunwald/nordpool-prices/internal/models"
	"github.com/andygrunwald/nordpool-prices/internal/prices"
	"github.com/andygrunwald/nordpool-prices/internal/refresher"
	"github.com/andygrunwald/nordpool-prices/internal/reminder"
)

// EntryView is the JSON shape of an hourly entry.
type EntryView struct {
	Key             int64        `json:"key"`
	Start           time.Time    `json:"start"`
	End             time.Time    `json:"end"`
	TimeRange       string       `json:"time_range"`
	Price           string       `json:"price"`
	Level           prices.Level `json:"level"`
	NotifyRequested bool         `json:"notify_requested"`
}

// DayView is the JSON shape of a day bucket.
type DayView struct {
	Label   string      `json:"label"`
	Date    string      `json:"date"`
	Offset  int         `json:"offset"`
	Entries []EntryView `json:"entries"`
}

// PricesResponse is the response for the /prices endpoint.
type PricesResponse struct {
	Timezone    string     `json:"timezone"`
	GeneratedAt time.Time  `json:"generated_at"`
	Current     *EntryView `json:"current,omitempty"`
	Days        []DayView  `json:"days"`
}

// NewEntryView renders an entry in loc.
func NewEntryView(e models.HourlyEntry, loc *time.Location) EntryView {
	return EntryView{
		Key:             e.Start.UnixMilli(),
		Start:           e.Start.In(loc),
		End:             e.End.In(loc),
		TimeRange:       prices.FormatRange(e, loc),
		Price:           prices.FormatPrice(e.Price),
		Level:           prices.LevelFor(e.Price),
		NotifyRequested: e.NotifyRequested,
	}
}

// PricesHandler handles the /prices endpoint.
type PricesHandler struct {
	refresher *refresher.Refresher
	reminders *reminder.Scheduler
	now       func() time.Time
	logger    zerolog.Logger
}

// NewPricesHandler creates a new PricesHandler.
func NewPricesHandler(deps Dependencies, logger zerolog.Logger) *PricesHandler {
	return &PricesHandler{
		refresher: deps.Refresher,
		reminders: deps.Reminders,
		now:       clock(deps.Now),
		logger:    logger,
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *PricesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	now := h.now()

	entries, err := h.refresher.Entries()
	if err != nil {
		if errors.Is(err, refresher.ErrNoData) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if h.reminders != nil {
		keys, err := h.reminders.ActiveMillis(r.Context())
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to read reminders")
		} else {
			prices.MarkRequested(entries, keys)
		}
	}

	window := h.refresher.Selector().Select(entries, now)

	loc := h.refresher.Location()
	response := PricesResponse{
		Timezone:    loc.String(),
		GeneratedAt: now.In(loc),
		Days:        make([]DayView, 0, len(window.ByDay)),
	}
	if window.Current != nil {
		v := NewEntryView(*window.Current, loc)
		response.Current = &v
	}
	for _, day := range window.ByDay {
		dv := DayView{
			Label:   day.Label(),
			Date:    day.Date.Format("2006-01-02"),
			Offset:  day.Offset,
			Entries: make([]EntryView, 0, len(day.Entries)),
		}
		for _, e := range day.Entries {
			dv.Entries = append(dv.Entries, NewEntryView(e, loc))
		}
		response.Days = append(response.Days, dv)
	}

	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func clock(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}
