// Package reminder schedules local reminders ahead of selected price hours
// and keeps the set of active reminders in a persistent store.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/andygrunwald/nordpool-prices/internal/models"
	"github.com/andygrunwald/nordpool-prices/internal/prices"
)

// MinimumDelay is the earliest a reminder may fire after it is scheduled.
const MinimumDelay = 5 * time.Second

var (
	// ErrPermissionDenied is returned when the host refuses to post
	// notifications or schedule exact alarms.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnknownHour is returned when a key does not match any known hour.
	ErrUnknownHour = errors.New("unknown hour")
)

// Key identifies a reminder by the start of its hour in epoch milliseconds.
type Key int64

// KeyFor returns the key of an hourly entry.
func KeyFor(e models.HourlyEntry) Key {
	return Key(e.Start.UnixMilli())
}

// ParseKey parses a decimal epoch-millisecond key.
func ParseKey(s string) (Key, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing reminder key %q: %w", s, err)
	}
	return Key(v), nil
}

// Time returns the instant the key refers to.
func (k Key) Time() time.Time {
	return time.UnixMilli(int64(k))
}

func (k Key) String() string {
	return strconv.FormatInt(int64(k), 10)
}

// FindEntry returns the entry identified by key.
func FindEntry(entries []models.HourlyEntry, key Key) (models.HourlyEntry, error) {
	for _, e := range entries {
		if KeyFor(e) == key {
			return e, nil
		}
	}
	return models.HourlyEntry{}, fmt.Errorf("%w: %s", ErrUnknownHour, key.Time().UTC().Format(time.RFC3339))
}

// ComputeTrigger returns when a reminder for an hour starting at entryStart
// should fire: leadMinutes before the start, but never earlier than
// now plus MinimumDelay.
func ComputeTrigger(entryStart time.Time, leadMinutes int, now time.Time) time.Time {
	trigger := entryStart.Add(-time.Duration(leadMinutes) * time.Minute)
	floor := now.Add(MinimumDelay)
	if trigger.Before(floor) {
		return floor
	}
	return trigger
}

// Payload is the text shown when a reminder fires.
type Payload struct {
	TimeRange string `json:"time_range"`
	Price     string `json:"price"`
}

// NewPayload renders the payload of an entry in loc.
func NewPayload(e models.HourlyEntry, loc *time.Location) Payload {
	return Payload{
		TimeRange: prices.FormatRange(e, loc),
		Price:     prices.FormatPrice(e.Price),
	}
}

// Permissions reports what the host currently allows.
type Permissions interface {
	CanPostNotifications() bool
	CanScheduleExactAlarms() bool
}

// StaticPermissions is a fixed set of permissions.
type StaticPermissions struct {
	Notifications bool
	ExactAlarms   bool
}

// CanPostNotifications implements Permissions.
func (p StaticPermissions) CanPostNotifications() bool { return p.Notifications }

// CanScheduleExactAlarms implements Permissions.
func (p StaticPermissions) CanScheduleExactAlarms() bool { return p.ExactAlarms }

// Alarm arms and disarms one-shot alarms.
type Alarm interface {
	Set(ctx context.Context, key Key, at time.Time, payload Payload) error
	Cancel(ctx context.Context, key Key) error
}

// Store persists the set of active reminder keys.
type Store interface {
	Add(ctx context.Context, key Key) error
	Remove(ctx context.Context, key Key) error
	Keys(ctx context.Context) ([]Key, error)
	// Has reports whether key is in the set.
	Has(ctx context.Context, key Key) (bool, error)
	// Prune removes keys whose instant lies before now.
	Prune(ctx context.Context, now time.Time) error
}

// Counter is implemented by stores that can count the keys whose hour has
// not started before now without listing them.
type Counter interface {
	Count(ctx context.Context, now time.Time) (int, error)
}

// PendingLister is implemented by alarms that can list the keys they armed.
type PendingLister interface {
	Pending() []Key
}

// MetricsRecorder receives reminder metrics.
type MetricsRecorder interface {
	RecordReminderOperation(operation, status string)
	RecordActiveReminders(count int)
}

// Scheduler schedules and cancels reminders.
//
// The store is the source of truth and may be shared with other processes:
// an alarm only delivers while its key is still stored.
type Scheduler struct {
	// mu serializes store and alarm updates of this process.
	mu          sync.Mutex
	alarm       Alarm
	store       Store
	permissions Permissions
	leadMinutes int
	location    *time.Location
	now         func() time.Time
	metrics     MetricsRecorder
	logger      zerolog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(alarm Alarm, store Store, permissions Permissions, leadMinutes int, loc *time.Location, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		alarm:       alarm,
		store:       store,
		permissions: permissions,
		leadMinutes: leadMinutes,
		location:    loc,
		now:         time.Now,
		logger:      logger.With().Str("component", "reminder").Logger(),
	}
}

// SetClock replaces the time source.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// SetMetrics wires a metrics recorder.
func (s *Scheduler) SetMetrics(m MetricsRecorder) {
	s.metrics = m
}

// LeadMinutes returns the configured lead time.
func (s *Scheduler) LeadMinutes() int {
	return s.leadMinutes
}

// Schedule arms a reminder for the entry and persists its key. It returns
// the trigger instant.
//
// When the host denies the permissions needed, nothing is armed or
// persisted and ErrPermissionDenied is returned. Alarm failures are logged
// and do not prevent persisting.
func (s *Scheduler) Schedule(ctx context.Context, entry models.HourlyEntry) (time.Time, error) {
	key := KeyFor(entry)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkPermissions(); err != nil {
		s.record("schedule", "denied")
		s.logger.Warn().Err(err).Stringer("key", key).Msg("reminder not scheduled")
		return time.Time{}, err
	}

	trigger := ComputeTrigger(entry.Start, s.leadMinutes, s.now())
	payload := NewPayload(entry, s.location)

	if err := s.alarm.Set(ctx, key, trigger, payload); err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			s.record("schedule", "denied")
			return time.Time{}, err
		}
		s.logger.Error().Err(err).Stringer("key", key).Msg("failed to arm alarm")
	}

	if err := s.store.Add(ctx, key); err != nil {
		s.record("schedule", "error")
		return trigger, fmt.Errorf("persisting reminder: %w", err)
	}

	s.record("schedule", "success")
	s.refreshActive(ctx)

	s.logger.Info().
		Stringer("key", key).
		Str("hour", payload.TimeRange).
		Str("price", payload.Price).
		Time("trigger", trigger).
		Msg("reminder scheduled")

	return trigger, nil
}

// Cancel disarms the reminder of the entry and removes its key.
func (s *Scheduler) Cancel(ctx context.Context, entry models.HourlyEntry) error {
	return s.CancelKey(ctx, KeyFor(entry))
}

// CancelKey disarms the reminder identified by key and removes it from the store.
func (s *Scheduler) CancelKey(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.alarm.Cancel(ctx, key); err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			s.record("cancel", "denied")
			return err
		}
		s.logger.Error().Err(err).Stringer("key", key).Msg("failed to disarm alarm")
	}

	if err := s.store.Remove(ctx, key); err != nil {
		s.record("cancel", "error")
		return fmt.Errorf("removing reminder: %w", err)
	}

	s.record("cancel", "success")
	s.refreshActive(ctx)

	s.logger.Info().Stringer("key", key).Msg("reminder cancelled")
	return nil
}

// Active returns the persisted keys whose hour has not started yet, sorted.
func (s *Scheduler) Active(ctx context.Context) ([]Key, error) {
	keys, err := s.store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading reminders: %w", err)
	}

	now := s.now()
	active := make([]Key, 0, len(keys))
	for _, k := range keys {
		if k.Time().Before(now) {
			continue
		}
		active = append(active, k)
	}
	sort.Slice(active, func(i, j int) bool { return active[i] < active[j] })
	return active, nil
}

// ActiveMillis returns Active as plain epoch milliseconds.
func (s *Scheduler) ActiveMillis(ctx context.Context) ([]int64, error) {
	keys, err := s.Active(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(keys))
	for i, k := range keys {
		out[i] = int64(k)
	}
	return out, nil
}

// Prune removes expired keys from the store.
func (s *Scheduler) Prune(ctx context.Context) error {
	if err := s.store.Prune(ctx, s.now()); err != nil {
		s.record("prune", "error")
		return fmt.Errorf("pruning reminders: %w", err)
	}
	s.record("prune", "success")
	s.refreshActive(ctx)
	return nil
}

// Restore reconciles the alarms of this process with the store. Stored keys
// of upcoming hours found in entries are armed unless already pending, and
// pending alarms whose key left the store are disarmed. It returns the
// number of alarms armed.
func (s *Scheduler) Restore(ctx context.Context, entries []models.HourlyEntry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.store.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading reminders: %w", err)
	}
	inStore := make(map[Key]struct{}, len(stored))
	for _, k := range stored {
		inStore[k] = struct{}{}
	}

	armed := make(map[Key]struct{})
	disarmed := 0
	if lister, ok := s.alarm.(PendingLister); ok {
		for _, k := range lister.Pending() {
			if _, ok := inStore[k]; ok {
				armed[k] = struct{}{}
				continue
			}
			if err := s.alarm.Cancel(ctx, k); err != nil {
				s.logger.Error().Err(err).Stringer("key", k).Msg("failed to disarm cancelled reminder")
				continue
			}
			disarmed++
		}
	}

	now := s.now()
	restored := 0
	for _, key := range stored {
		if key.Time().Before(now) {
			continue
		}
		if _, ok := armed[key]; ok {
			continue
		}
		entry, err := FindEntry(entries, key)
		if err != nil {
			continue
		}
		trigger := ComputeTrigger(entry.Start, s.leadMinutes, now)
		if err := s.alarm.Set(ctx, key, trigger, NewPayload(entry, s.location)); err != nil {
			s.logger.Error().Err(err).Stringer("key", key).Msg("failed to re-arm alarm")
			continue
		}
		restored++
	}

	if restored > 0 || disarmed > 0 {
		s.logger.Info().
			Int("restored", restored).
			Int("disarmed", disarmed).
			Int("persisted", len(stored)).
			Msg("reconciled reminders")
	}
	return restored, nil
}

// Fired handles an alarm that went off and reports whether the reminder
// should be delivered. A key that is no longer stored was cancelled, possibly
// by another process, and is not delivered. Delivered keys are removed.
// A store that cannot be read does not suppress the reminder.
func (s *Scheduler) Fired(ctx context.Context, key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.store.Has(ctx, key)
	switch {
	case err != nil:
		s.logger.Error().Err(err).Stringer("key", key).Msg("failed to look up fired reminder")
	case !ok:
		s.record("fire", "cancelled")
		s.logger.Info().Stringer("key", key).Msg("reminder was cancelled, not delivering")
		return false
	}

	if err := s.store.Remove(ctx, key); err != nil {
		s.logger.Error().Err(err).Stringer("key", key).Msg("failed to remove fired reminder")
	}
	s.record("fire", "success")
	s.refreshActive(ctx)
	return true
}

func (s *Scheduler) checkPermissions() error {
	if !s.permissions.CanPostNotifications() {
		return fmt.Errorf("%w: notifications are disabled", ErrPermissionDenied)
	}
	if !s.permissions.CanScheduleExactAlarms() {
		return fmt.Errorf("%w: exact alarms are not allowed", ErrPermissionDenied)
	}
	return nil
}

func (s *Scheduler) record(operation, status string) {
	if s.metrics != nil {
		s.metrics.RecordReminderOperation(operation, status)
	}
}

func (s *Scheduler) refreshActive(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	if c, ok := s.store.(Counter); ok {
		n, err := c.Count(ctx, s.now())
		if err != nil {
			return
		}
		s.metrics.RecordActiveReminders(n)
		return
	}
	keys, err := s.Active(ctx)
	if err != nil {
		return
	}
	s.metrics.RecordActiveReminders(len(keys))
}
