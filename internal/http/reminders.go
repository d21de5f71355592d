package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/andygrunwald/nordpool-prices/internal/refresher"
	"github.com/andygrunwald/nordpool-prices/internal/reminder"
)

// ReminderView is the JSON shape of an active reminder.
type ReminderView struct {
	Key   int64     `json:"key"`
	Start time.Time `json:"start"`
	// Entry is set when the hour is part of the current feed.
	Entry *EntryView `json:"entry,omitempty"`
}

// RemindersResponse is the response for GET /reminders.
type RemindersResponse struct {
	LeadMinutes int            `json:"lead_minutes"`
	Reminders   []ReminderView `json:"reminders"`
}

// ScheduledResponse is the response for POST /reminders/{start}.
type ScheduledResponse struct {
	Key       int64     `json:"key"`
	TriggerAt time.Time `json:"trigger_at"`
	Entry     EntryView `json:"entry"`
}

// RemindersHandler serves the reminder endpoints.
type RemindersHandler struct {
	refresher *refresher.Refresher
	reminders *reminder.Scheduler
	now       func() time.Time
	logger    zerolog.Logger
}

// NewRemindersHandler creates a new RemindersHandler.
func NewRemindersHandler(deps Dependencies, logger zerolog.Logger) *RemindersHandler {
	return &RemindersHandler{
		refresher: deps.Refresher,
		reminders: deps.Reminders,
		now:       clock(deps.Now),
		logger:    logger,
	}
}

// List handles GET /reminders.
func (h *RemindersHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.reminders.Active(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list reminders")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Entries are optional here; keys stay listable without a feed.
	entries, _ := h.refresher.Entries()
	loc := h.refresher.Location()

	response := RemindersResponse{
		LeadMinutes: h.reminders.LeadMinutes(),
		Reminders:   make([]ReminderView, 0, len(keys)),
	}
	for _, k := range keys {
		v := ReminderView{Key: int64(k), Start: k.Time().In(loc)}
		if e, err := reminder.FindEntry(entries, k); err == nil {
			ev := NewEntryView(e, loc)
			ev.NotifyRequested = true
			v.Entry = &ev
		}
		response.Reminders = append(response.Reminders, v)
	}

	writeJSON(w, http.StatusOK, response)
}

// Schedule handles POST /reminders/{start}.
func (h *RemindersHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	key, err := reminder.ParseKey(r.PathValue("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	window, err := h.refresher.Window(h.now())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	entry, err := reminder.FindEntry(window.Valid, key)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	trigger, err := h.reminders.Schedule(r.Context(), entry)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	entry.NotifyRequested = true
	writeJSON(w, http.StatusCreated, ScheduledResponse{
		Key:       int64(key),
		TriggerAt: trigger.In(h.refresher.Location()),
		Entry:     NewEntryView(entry, h.refresher.Location()),
	})
}

// Cancel handles DELETE /reminders/{start}.
func (h *RemindersHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	key, err := reminder.ParseKey(r.PathValue("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.reminders.CancelKey(r.Context(), key); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, reminder.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, reminder.ErrUnknownHour):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
