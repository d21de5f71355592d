package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/andygrunwald/nordpool-prices/internal/http"
	"github.com/andygrunwald/nordpool-prices/internal/reminder"
	"github.com/andygrunwald/nordpool-prices/internal/scheduler"
	"github.com/andygrunwald/nordpool-prices/internal/update"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the price service",
		Long: `Starts the service: prices are refreshed at the top of every hour, reminders
fire ahead of their hour and an update check runs once a day.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()

			logger.Info().
				Str("version", Version).
				Str("commit", Commit).
				Str("buildDate", BuildDate).
				Str("httpAddr", cfg.HTTPAddr).
				Str("timezone", cfg.Timezone).
				Str("reminderStore", cfg.ReminderStore).
				Int("updateCheckHour", cfg.UpdateCheckHour).
				Msg("starting nordpool price service")

			// Setup signal handling
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			store, closeStore, err := openStore(ctx, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			ref, err := newRefresher(logger)
			if err != nil {
				return err
			}

			alarm := reminder.NewTimerAlarm(logger)
			defer alarm.Stop()

			reminders, err := newReminderScheduler(alarm, store, logger)
			if err != nil {
				return err
			}
			alarm.OnFire(func(key reminder.Key, payload reminder.Payload) {
				if !reminders.Fired(ctx, key) {
					return
				}
				logger.Info().
					Str("hour", payload.TimeRange).
					Str("price", payload.Price).
					Msg("price hour starts soon")
			})

			checker := update.NewChecker(Version, logger)
			installer := update.NewInstaller(
				afero.NewOsFs(),
				cfg.DownloadDir,
				cfg.PackagePrefix,
				update.AllowInstall(cfg.InstallAllowed),
				update.LogHandoff{Logger: logger},
				logger,
			)

			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			sched := scheduler.New(ref, reminders, checker, scheduler.Options{
				Location:          loc,
				ManifestURL:       cfg.ManifestURL,
				UpdateCheckHour:   cfg.UpdateCheckHour,
				ReconcileInterval: cfg.ReconcileInterval,
			}, logger)

			// Create HTTP server
			httpServer := http.NewServer(cfg.HTTPAddr, http.Dependencies{
				Refresher: ref,
				Scheduler: sched,
				Reminders: reminders,
				Checker:   checker,
				Installer: installer,
			}, logger)

			// Wire Prometheus metrics
			metrics := httpServer.Metrics()
			ref.SetRecorder(metrics)
			reminders.SetMetrics(metrics)
			checker.SetMetrics(metrics)
			installer.SetMetrics(metrics)

			// Start HTTP server in goroutine
			go func() {
				if err := httpServer.Start(); err != nil {
					logger.Error().Err(err).Msg("HTTP server error")
					cancel()
				}
			}()

			// Start scheduler in goroutine
			go func() {
				if err := sched.Start(ctx); err != nil && err != context.Canceled {
					logger.Error().Err(err).Msg("scheduler error")
					cancel()
				}
			}()

			// Wait for signal
			select {
			case sig := <-sigCh:
				logger.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
			case <-ctx.Done():
			}
			cancel()

			// Graceful shutdown
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("HTTP server shutdown error")
			}

			if d := installer.Current(); d != nil {
				d.Cancel()
			}

			logger.Info().Msg("shutdown complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP server address for /metrics, /status, /prices")
	cmd.Flags().StringVar(&cfg.ManifestURL, "manifest-url", cfg.ManifestURL, "Update manifest URL, empty disables update checks")
	cmd.Flags().DurationVar(&cfg.ReconcileInterval, "reconcile-interval", cfg.ReconcileInterval, "How often reminders added or cancelled by other commands are picked up, 0 disables it")
	cmd.Flags().IntVar(&cfg.UpdateCheckHour, "update-check-hour", cfg.UpdateCheckHour, "Hour of day (0-23) for the update check, -1 disables it")

	return cmd
}
