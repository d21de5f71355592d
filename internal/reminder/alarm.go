package reminder

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FireFunc is called once when an alarm goes off.
type FireFunc func(key Key, payload Payload)

// TimerAlarm keeps alarms as in-process timers.
type TimerAlarm struct {
	mu     sync.Mutex
	timers map[Key]*time.Timer
	fire   FireFunc
	now    func() time.Time
	logger zerolog.Logger
}

// NewTimerAlarm creates a TimerAlarm.
func NewTimerAlarm(logger zerolog.Logger) *TimerAlarm {
	return &TimerAlarm{
		timers: make(map[Key]*time.Timer),
		now:    time.Now,
		logger: logger.With().Str("component", "alarm").Logger(),
	}
}

// OnFire sets the callback run when an alarm goes off.
func (a *TimerAlarm) OnFire(fn FireFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fire = fn
}

// Set arms an alarm for key at the given instant, replacing any previous one.
func (a *TimerAlarm) Set(_ context.Context, key Key, at time.Time, payload Payload) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if t, ok := a.timers[key]; ok {
		t.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(at.Sub(a.now()), func() {
		a.mu.Lock()
		if a.timers[key] != timer {
			a.mu.Unlock()
			return
		}
		delete(a.timers, key)
		fire := a.fire
		a.mu.Unlock()

		a.logger.Debug().
			Stringer("key", key).
			Str("hour", payload.TimeRange).
			Msg("alarm went off")

		if fire != nil {
			fire(key, payload)
		}
	})
	a.timers[key] = timer

	a.logger.Debug().Stringer("key", key).Time("at", at).Msg("alarm armed")
	return nil
}

// Cancel disarms the alarm for key. Unknown keys are ignored.
func (a *TimerAlarm) Cancel(_ context.Context, key Key) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if t, ok := a.timers[key]; ok {
		t.Stop()
		delete(a.timers, key)
	}
	return nil
}

// Pending returns the keys of armed alarms, sorted.
func (a *TimerAlarm) Pending() []Key {
	a.mu.Lock()
	defer a.mu.Unlock()

	keys := make([]Key, 0, len(a.timers))
	for k := range a.timers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Stop disarms all alarms.
func (a *TimerAlarm) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for k, t := range a.timers {
		t.Stop()
		delete(a.timers, k)
	}
}

// NopAlarm arms nothing. A running daemon arms persisted reminders when it
// reconciles.
type NopAlarm struct{}

// Set implements Alarm.
func (NopAlarm) Set(context.Context, Key, time.Time, Payload) error { return nil }

// Cancel implements Alarm.
func (NopAlarm) Cancel(context.Context, Key) error { return nil }
