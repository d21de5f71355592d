package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/andygrunwald/nordpool-prices/internal/prices"
	"github.com/andygrunwald/nordpool-prices/internal/reminder"
)

func remindCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Manage price hour reminders",
		Long: `Lists, adds and cancels reminders in the configured store. A running service
picks up added and cancelled reminders within its reconcile interval, and never
delivers a reminder whose key was removed from the store.`,
	}

	cmd.AddCommand(remindListCmd())
	cmd.AddCommand(remindAddCmd())
	cmd.AddCommand(remindCancelCmd())

	return cmd
}

func remindListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()
			ctx := context.Background()

			store, closeStore, err := openStore(ctx, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			reminders, err := newReminderScheduler(reminder.NopAlarm{}, store, logger)
			if err != nil {
				return err
			}
			keys, err := reminders.Active(ctx)
			if err != nil {
				return err
			}

			if len(keys) == 0 {
				fmt.Println("No active reminders.")
				return nil
			}

			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tHOUR\tFIRES AT")
			for _, k := range keys {
				start := k.Time().In(loc)
				trigger := reminder.ComputeTrigger(start, reminders.LeadMinutes(), time.Now()).In(loc)
				fmt.Fprintf(tw, "%s\t%s\t%s\n", k, start.Format("2006-01-02 15:04"), trigger.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}
}

func remindAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <hour>",
		Short: "Add a reminder for an hour",
		Long: `Adds a reminder for an hour of the current feed. The hour is given as a key
(epoch milliseconds, as printed by "prices"), as "YYYY-MM-DD HH:MM" or as "HH:MM" today.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()
			ctx := context.Background()

			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			now := time.Now()
			key, err := resolveHour(args[0], loc, now)
			if err != nil {
				return err
			}

			ref, err := newRefresher(logger)
			if err != nil {
				return err
			}
			if err := ref.Refresh(ctx); err != nil {
				return fmt.Errorf("fetching prices: %w", err)
			}
			window, err := ref.Window(now)
			if err != nil {
				return err
			}
			entry, err := reminder.FindEntry(window.Valid, key)
			if err != nil {
				return err
			}

			store, closeStore, err := openStore(ctx, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			reminders, err := newReminderScheduler(reminder.NopAlarm{}, store, logger)
			if err != nil {
				return err
			}
			trigger, err := reminders.Schedule(ctx, entry)
			if err != nil {
				return err
			}

			fmt.Printf("Reminder set for %s (%s EUR/kWh), fires at %s\n",
				prices.FormatRange(entry, loc),
				prices.FormatPrice(entry.Price),
				trigger.In(loc).Format("2006-01-02 15:04:05"),
			)
			return nil
		},
	}
}

func remindCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <hour>",
		Short: "Cancel a reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()
			ctx := context.Background()

			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			key, err := resolveHour(args[0], loc, time.Now())
			if err != nil {
				return err
			}

			store, closeStore, err := openStore(ctx, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			reminders, err := newReminderScheduler(reminder.NopAlarm{}, store, logger)
			if err != nil {
				return err
			}
			if err := reminders.CancelKey(ctx, key); err != nil {
				return err
			}

			fmt.Printf("Reminder for %s cancelled\n", key.Time().In(loc).Format("2006-01-02 15:04"))
			return nil
		},
	}
}

// resolveHour turns a key, a local date and time or a local time of today
// into the key of that hour.
func resolveHour(arg string, loc *time.Location, now time.Time) (reminder.Key, error) {
	arg = strings.TrimSpace(arg)
	if !strings.Contains(arg, ":") {
		return reminder.ParseKey(arg)
	}

	if t, err := time.ParseInLocation("2006-01-02 15:04", arg, loc); err == nil {
		return reminder.Key(prices.HourStart(t, loc).UnixMilli()), nil
	}

	t, err := time.ParseInLocation("15:04", arg, loc)
	if err != nil {
		return 0, fmt.Errorf("parsing hour %q: expected a key, \"YYYY-MM-DD HH:MM\" or \"HH:MM\"", arg)
	}
	today := now.In(loc)
	local := time.Date(today.Year(), today.Month(), today.Day(), t.Hour(), t.Minute(), 0, 0, loc)
	return reminder.Key(prices.HourStart(local, loc).UnixMilli()), nil
}
