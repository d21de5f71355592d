// Package scheduler runs the hourly price refresh and the daily update check.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/andygrunwald/nordpool-prices/internal/models"
	"github.com/andygrunwald/nordpool-prices/internal/prices"
)

// PriceRefresher refreshes and exposes hourly prices.
type PriceRefresher interface {
	Refresh(ctx context.Context) error
	Entries() ([]models.HourlyEntry, error)
}

// ReminderKeeper maintains persisted reminders.
type ReminderKeeper interface {
	Prune(ctx context.Context) error
	Restore(ctx context.Context, entries []models.HourlyEntry) (int, error)
}

// UpdateChecker checks for a newer release.
type UpdateChecker interface {
	Check(ctx context.Context, url string) (*models.UpdateManifest, bool)
}

// Options configures a Scheduler.
type Options struct {
	Location *time.Location
	// ManifestURL is checked once a day. Empty disables update checks.
	ManifestURL string
	// UpdateCheckHour is the local hour of the daily update check.
	// A negative value disables update checks.
	UpdateCheckHour int
	// ReconcileInterval is how often persisted reminders are synced with
	// armed alarms between refreshes. Zero disables it.
	ReconcileInterval time.Duration
}

// Scheduler manages the hourly refresh schedule.
type Scheduler struct {
	refresher PriceRefresher
	reminders ReminderKeeper
	checker   UpdateChecker
	opts      Options
	now       func() time.Time
	logger    zerolog.Logger

	mu        sync.RWMutex
	nextRunAt time.Time
	lastRunAt *time.Time
	running   bool
}

// New creates a new Scheduler. reminders and checker may be nil.
func New(refresher PriceRefresher, reminders ReminderKeeper, checker UpdateChecker, opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Scheduler{
		refresher: refresher,
		reminders: reminders,
		checker:   checker,
		opts:      opts,
		now:       time.Now,
		logger:    logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler and blocks until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info().
		Int("updateCheckHour", s.opts.UpdateCheckHour).
		Str("timezone", s.opts.Location.String()).
		Msg("starting scheduler")

	// Initial run so prices are available right away
	s.RunOnce(ctx, s.updatesEnabled())

	next := s.calculateNextRunTime()
	s.setNextRun(next)

	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	var reconcile <-chan time.Time
	if s.reminders != nil && s.opts.ReconcileInterval > 0 {
		ticker := time.NewTicker(s.opts.ReconcileInterval)
		defer ticker.Stop()
		reconcile = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-reconcile:
			s.Reconcile(ctx)
		case <-timer.C:
			s.RunOnce(ctx, s.isUpdateHour(next))

			next = s.calculateNextRunTime()
			s.setNextRun(next)
			timer.Reset(time.Until(next))
		}
	}
}

// RunOnce refreshes prices, prunes expired reminders, re-arms the remaining
// ones and optionally checks for an update.
func (s *Scheduler) RunOnce(ctx context.Context, checkUpdate bool) {
	s.logger.Info().Msg("running scheduled refresh")

	now := s.now()
	s.mu.Lock()
	s.lastRunAt = &now
	s.mu.Unlock()

	if err := s.refresher.Refresh(ctx); err != nil {
		s.logger.Error().Err(err).Msg("scheduled refresh failed")
	}

	if s.reminders != nil {
		if err := s.reminders.Prune(ctx); err != nil {
			s.logger.Error().Err(err).Msg("failed to prune reminders")
		}
		s.Reconcile(ctx)
	}

	if checkUpdate && s.updatesEnabled() {
		s.checker.Check(ctx, s.opts.ManifestURL)
	}
}

// Reconcile arms reminders that were persisted by another process and
// disarms the ones it cancelled, using the prices of the last refresh.
func (s *Scheduler) Reconcile(ctx context.Context) {
	if s.reminders == nil {
		return
	}
	entries, err := s.refresher.Entries()
	if err != nil {
		return
	}
	if _, err := s.reminders.Restore(ctx, entries); err != nil {
		s.logger.Error().Err(err).Msg("failed to reconcile reminders")
	}
}

// calculateNextRunTime returns the top of the next hour in the reference timezone.
func (s *Scheduler) calculateNextRunTime() time.Time {
	return prices.HourStart(s.now(), s.opts.Location).Add(time.Hour)
}

func (s *Scheduler) isUpdateHour(t time.Time) bool {
	return s.updatesEnabled() && t.In(s.opts.Location).Hour() == s.opts.UpdateCheckHour
}

func (s *Scheduler) updatesEnabled() bool {
	return s.checker != nil && s.opts.ManifestURL != "" && s.opts.UpdateCheckHour >= 0
}

func (s *Scheduler) setNextRun(next time.Time) {
	s.mu.Lock()
	s.nextRunAt = next
	s.mu.Unlock()

	s.logger.Info().
		Time("nextRun", next).
		Dur("duration", time.Until(next)).
		Msg("next refresh scheduled")
}

// NextRunAt returns the time of the next scheduled refresh.
func (s *Scheduler) NextRunAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextRunAt
}

// LastRunAt returns the time of the last refresh.
func (s *Scheduler) LastRunAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRunAt
}

// IsRunning returns whether the scheduler is currently running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
