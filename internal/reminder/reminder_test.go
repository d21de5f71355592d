package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andygrunwald/nordpool-prices/internal/models"
)

type recordingAlarm struct {
	mu       sync.Mutex
	set      map[Key]time.Time
	payloads map[Key]Payload
	setErr   error
	calls    int
}

func newRecordingAlarm() *recordingAlarm {
	return &recordingAlarm{set: make(map[Key]time.Time), payloads: make(map[Key]Payload)}
}

func (a *recordingAlarm) Set(_ context.Context, key Key, at time.Time, p Payload) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.setErr != nil {
		return a.setErr
	}
	a.set[key] = at
	a.payloads[key] = p
	return nil
}

func (a *recordingAlarm) Cancel(_ context.Context, key Key) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	delete(a.set, key)
	return nil
}

type failingStore struct{ Store }

func (failingStore) Add(context.Context, Key) error { return errors.New("disk full") }

type recordingMetrics struct {
	ops    []string
	active int
}

func (m *recordingMetrics) RecordReminderOperation(op, status string) {
	m.ops = append(m.ops, op+":"+status)
}

func (m *recordingMetrics) RecordActiveReminders(n int) { m.active = n }

var allowAll = StaticPermissions{Notifications: true, ExactAlarms: true}

func entryAt(start time.Time) models.HourlyEntry {
	return models.HourlyEntry{Start: start, End: start.Add(time.Hour), Price: decimal.RequireFromString("0.0834")}
}

func newTestScheduler(t *testing.T, alarm Alarm, store Store, perms Permissions, now time.Time) *Scheduler {
	t.Helper()
	s := NewScheduler(alarm, store, perms, 10, time.UTC, zerolog.Nop())
	s.SetClock(func() time.Time { return now })
	return s
}

func TestComputeTrigger(t *testing.T) {
	start := time.Date(2025, 10, 15, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		lead     int
		now      time.Time
		expected time.Time
	}{
		{
			name:     "lead time in the future",
			lead:     10,
			now:      start.Add(-20 * time.Minute),
			expected: start.Add(-10 * time.Minute),
		},
		{
			name:     "lead time already passed",
			lead:     10,
			now:      start.Add(-2 * time.Minute),
			expected: start.Add(-2*time.Minute + MinimumDelay),
		},
		{
			name:     "lead time too close to now",
			lead:     10,
			now:      start.Add(-10*time.Minute - 2*time.Second),
			expected: start.Add(-10*time.Minute + 3*time.Second),
		},
		{
			name:     "hour already started",
			lead:     0,
			now:      start.Add(30 * time.Minute),
			expected: start.Add(30*time.Minute + MinimumDelay),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeTrigger(start, tt.lead, tt.now)
			assert.True(t, tt.expected.Equal(got), "expected %s, got %s", tt.expected, got)
		})
	}
}

func TestKey(t *testing.T) {
	start := time.Date(2025, 10, 15, 14, 0, 0, 0, time.UTC)
	key := KeyFor(entryAt(start))

	assert.Equal(t, Key(start.UnixMilli()), key)
	assert.True(t, start.Equal(key.Time()))

	parsed, err := ParseKey(key.String())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	_, err = ParseKey("14:00")
	assert.Error(t, err)
}

func TestFindEntry(t *testing.T) {
	start := time.Date(2025, 10, 15, 14, 0, 0, 0, time.UTC)
	entries := []models.HourlyEntry{entryAt(start), entryAt(start.Add(time.Hour))}

	e, err := FindEntry(entries, KeyFor(entries[1]))
	require.NoError(t, err)
	assert.True(t, start.Add(time.Hour).Equal(e.Start))

	_, err = FindEntry(entries, Key(1))
	assert.ErrorIs(t, err, ErrUnknownHour)
}

func TestScheduleThenCancel(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)
	entry := entryAt(now.Add(2 * time.Hour))

	alarm := newRecordingAlarm()
	store := NewFileStoreWithFS(afero.NewMemMapFs(), "/data/reminders.json")
	metrics := &recordingMetrics{}
	s := newTestScheduler(t, alarm, store, allowAll, now)
	s.SetMetrics(metrics)

	trigger, err := s.Schedule(ctx, entry)
	require.NoError(t, err)
	assert.True(t, entry.Start.Add(-10*time.Minute).Equal(trigger))
	assert.Equal(t, Payload{TimeRange: "14:00 – 15:00", Price: "0.083"}, alarm.payloads[KeyFor(entry)])

	active, err := s.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Key{KeyFor(entry)}, active)
	assert.Equal(t, 1, metrics.active)

	require.NoError(t, s.Cancel(ctx, entry))

	active, err = s.Active(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.NotContains(t, alarm.set, KeyFor(entry))
	assert.Equal(t, []string{"schedule:success", "cancel:success"}, metrics.ops)
	assert.Equal(t, 0, metrics.active)
}

func TestSchedulePermissionDenied(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)
	entry := entryAt(now.Add(2 * time.Hour))

	for name, perms := range map[string]StaticPermissions{
		"notifications disabled": {Notifications: false, ExactAlarms: true},
		"exact alarms disabled":  {Notifications: true, ExactAlarms: false},
	} {
		t.Run(name, func(t *testing.T) {
			alarm := newRecordingAlarm()
			store := NewFileStoreWithFS(afero.NewMemMapFs(), "/reminders.json")
			s := newTestScheduler(t, alarm, store, perms, now)

			_, err := s.Schedule(ctx, entry)
			require.ErrorIs(t, err, ErrPermissionDenied)

			assert.Equal(t, 0, alarm.calls)
			keys, err := store.Keys(ctx)
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestSchedulePersistsWhenAlarmFails(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)
	entry := entryAt(now.Add(time.Hour))

	alarm := newRecordingAlarm()
	alarm.setErr = errors.New("alarm service unavailable")
	store := NewFileStoreWithFS(afero.NewMemMapFs(), "/reminders.json")
	s := newTestScheduler(t, alarm, store, allowAll, now)

	_, err := s.Schedule(ctx, entry)
	require.NoError(t, err)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Key{KeyFor(entry)}, keys)
}

func TestScheduleAlarmDeniesPermission(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)

	alarm := newRecordingAlarm()
	alarm.setErr = ErrPermissionDenied
	store := NewFileStoreWithFS(afero.NewMemMapFs(), "/reminders.json")
	s := newTestScheduler(t, alarm, store, allowAll, now)

	_, err := s.Schedule(ctx, entryAt(now.Add(time.Hour)))
	require.ErrorIs(t, err, ErrPermissionDenied)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestScheduleSurfacesStoreFailure(t *testing.T) {
	now := time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)
	store := failingStore{NewFileStoreWithFS(afero.NewMemMapFs(), "/reminders.json")}
	s := newTestScheduler(t, newRecordingAlarm(), store, allowAll, now)

	_, err := s.Schedule(context.Background(), entryAt(now.Add(time.Hour)))
	assert.ErrorContains(t, err, "disk full")
}

func TestActiveFiltersAndPruneRemovesExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)

	store := NewFileStoreWithFS(afero.NewMemMapFs(), "/reminders.json")
	past := Key(now.Add(-time.Hour).UnixMilli())
	future := Key(now.Add(time.Hour).UnixMilli())
	require.NoError(t, store.Add(ctx, past))
	require.NoError(t, store.Add(ctx, future))

	s := newTestScheduler(t, newRecordingAlarm(), store, allowAll, now)

	active, err := s.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Key{future}, active)

	millis, err := s.ActiveMillis(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{int64(future)}, millis)

	raw, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, raw, 2, "observing does not mutate the store")

	require.NoError(t, s.Prune(ctx))
	raw, err = store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Key{future}, raw)
}

func TestRestoreAndFired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)
	entries := []models.HourlyEntry{entryAt(now.Add(time.Hour)), entryAt(now.Add(2 * time.Hour))}

	store := NewFileStoreWithFS(afero.NewMemMapFs(), "/reminders.json")
	require.NoError(t, store.Add(ctx, KeyFor(entries[1])))
	require.NoError(t, store.Add(ctx, Key(now.Add(30*time.Hour).UnixMilli())))

	alarm := newRecordingAlarm()
	s := newTestScheduler(t, alarm, store, allowAll, now)

	restored, err := s.Restore(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)
	assert.True(t, entries[1].Start.Add(-10*time.Minute).Equal(alarm.set[KeyFor(entries[1])]))

	assert.True(t, s.Fired(ctx, KeyFor(entries[1])))
	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.NotContains(t, keys, KeyFor(entries[1]))

	assert.False(t, s.Fired(ctx, KeyFor(entries[0])), "a key that was never stored is not delivered")
}

// sharedSchedulers returns a service scheduler with real timers and a
// command line scheduler that only persists, both on one store.
func sharedSchedulers(t *testing.T, now time.Time) (*Scheduler, *TimerAlarm, *Scheduler) {
	t.Helper()
	store := NewFileStoreWithFS(afero.NewMemMapFs(), "/data/reminders.json")

	alarm := NewTimerAlarm(zerolog.Nop())
	t.Cleanup(alarm.Stop)

	service := newTestScheduler(t, alarm, store, allowAll, now)
	cli := newTestScheduler(t, NopAlarm{}, store, allowAll, now)
	return service, alarm, cli
}

func TestCancelFromAnotherProcessIsNotDelivered(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	entry := entryAt(now.Add(2 * time.Hour))
	key := KeyFor(entry)

	service, alarm, cli := sharedSchedulers(t, now)
	delivered := make(chan Key, 1)
	alarm.OnFire(func(k Key, _ Payload) {
		if service.Fired(ctx, k) {
			delivered <- k
		}
	})

	_, err := service.Schedule(ctx, entry)
	require.NoError(t, err)
	require.NoError(t, cli.CancelKey(ctx, key))

	active, err := cli.Active(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	// Let the alarm that is still armed in the service go off now.
	require.NoError(t, alarm.Set(ctx, key, time.Now().Add(10*time.Millisecond), Payload{}))

	select {
	case <-delivered:
		t.Fatal("cancelled reminder was delivered")
	case <-time.After(200 * time.Millisecond):
	}
	assert.Empty(t, alarm.Pending())
}

func TestAlarmOfStoredKeyIsDelivered(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	entry := entryAt(now.Add(2 * time.Hour))
	key := KeyFor(entry)

	service, alarm, cli := sharedSchedulers(t, now)
	delivered := make(chan Key, 1)
	alarm.OnFire(func(k Key, _ Payload) {
		if service.Fired(ctx, k) {
			delivered <- k
		}
	})

	_, err := service.Schedule(ctx, entry)
	require.NoError(t, err)
	require.NoError(t, alarm.Set(ctx, key, time.Now().Add(10*time.Millisecond), Payload{}))

	select {
	case k := <-delivered:
		assert.Equal(t, key, k)
	case <-time.After(2 * time.Second):
		t.Fatal("reminder was not delivered")
	}

	active, err := cli.Active(ctx)
	require.NoError(t, err)
	assert.Empty(t, active, "delivered reminders leave the store")
}

func TestRestoreDisarmsKeysCancelledElsewhere(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	entries := []models.HourlyEntry{entryAt(now.Add(time.Hour)), entryAt(now.Add(2 * time.Hour))}

	service, alarm, cli := sharedSchedulers(t, now)
	for _, e := range entries {
		_, err := service.Schedule(ctx, e)
		require.NoError(t, err)
	}
	require.Len(t, alarm.Pending(), 2)

	require.NoError(t, cli.Cancel(ctx, entries[0]))

	restored, err := service.Restore(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, 0, restored, "keys already armed are left alone")
	assert.Equal(t, []Key{KeyFor(entries[1])}, alarm.Pending())
}

func TestRestoreArmsKeyAddedElsewhereForTheNextHour(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	entry := entryAt(now.Add(55 * time.Minute))
	key := KeyFor(entry)

	service, alarm, cli := sharedSchedulers(t, now.Add(time.Minute))

	trigger, err := cli.Schedule(ctx, entry)
	require.NoError(t, err)
	assert.True(t, entry.Start.Add(-10*time.Minute).Equal(trigger))
	assert.Empty(t, alarm.Pending())

	restored, err := service.Restore(ctx, []models.HourlyEntry{entry})
	require.NoError(t, err)
	assert.Equal(t, 1, restored)
	assert.Equal(t, []Key{key}, alarm.Pending())

	restored, err = service.Restore(ctx, []models.HourlyEntry{entry})
	require.NoError(t, err)
	assert.Equal(t, 0, restored)
	assert.Equal(t, []Key{key}, alarm.Pending())
}

type countingStore struct {
	Store
	count int
}

func (s countingStore) Count(context.Context, time.Time) (int, error) { return s.count, nil }

func TestActiveMetricUsesStoreCount(t *testing.T) {
	now := time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)
	store := countingStore{Store: NewFileStoreWithFS(afero.NewMemMapFs(), "/reminders.json"), count: 42}
	metrics := &recordingMetrics{}
	s := newTestScheduler(t, newRecordingAlarm(), store, allowAll, now)
	s.SetMetrics(metrics)

	_, err := s.Schedule(context.Background(), entryAt(now.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, 42, metrics.active)
}

func TestTimerAlarmFiresOnce(t *testing.T) {
	a := NewTimerAlarm(zerolog.Nop())

	fired := make(chan Key, 2)
	a.OnFire(func(k Key, _ Payload) { fired <- k })

	require.NoError(t, a.Set(context.Background(), Key(1), time.Now().Add(10*time.Millisecond), Payload{}))
	assert.Equal(t, []Key{1}, a.Pending())

	select {
	case k := <-fired:
		assert.Equal(t, Key(1), k)
	case <-time.After(2 * time.Second):
		t.Fatal("alarm did not fire")
	}

	select {
	case <-fired:
		t.Fatal("alarm fired twice")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, a.Pending())
}

func TestTimerAlarmCancel(t *testing.T) {
	a := NewTimerAlarm(zerolog.Nop())

	fired := make(chan Key, 1)
	a.OnFire(func(k Key, _ Payload) { fired <- k })

	require.NoError(t, a.Set(context.Background(), Key(2), time.Now().Add(50*time.Millisecond), Payload{}))
	require.NoError(t, a.Cancel(context.Background(), Key(2)))
	assert.Empty(t, a.Pending())

	select {
	case <-fired:
		t.Fatal("cancelled alarm fired")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/reminders.json", []byte("{not json"), 0o644))

	store := NewFileStoreWithFS(fs, "/reminders.json")
	_, err := store.Keys(context.Background())
	assert.Error(t, err)
}
