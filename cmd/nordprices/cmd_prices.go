package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/andygrunwald/nordpool-prices/internal/prices"
	"github.com/andygrunwald/nordpool-prices/internal/reminder"
)

func pricesCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Show hourly prices",
		Long:  "Fetches the feed once and prints the remaining hourly prices of the surfaced days.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()
			ctx := context.Background()

			ref, err := newRefresher(logger)
			if err != nil {
				return err
			}
			if err := ref.Refresh(ctx); err != nil {
				return fmt.Errorf("fetching prices: %w", err)
			}
			entries, err := ref.Entries()
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
			keys, err := reminders.ActiveMillis(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("failed to read reminders")
			}
			prices.MarkRequested(entries, keys)

			window := ref.Selector().Select(entries, time.Now())

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(window)
			}

			printWindow(window, ref.Location())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the window as JSON")

	return cmd
}

func printWindow(w prices.Window, loc *time.Location) {
	if len(w.ByDay) == 0 {
		fmt.Println("No prices available.")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for i, day := range w.ByDay {
		if i > 0 {
			fmt.Fprintln(tw)
		}
		fmt.Fprintf(tw, "%s (%s)\n", day.Label(), day.Date.Format("2006-01-02"))
		for _, e := range day.Entries {
			marker := " "
			if w.Current != nil && e.Start.Equal(w.Current.Start) {
				marker = ">"
			}
			bell := ""
			if e.NotifyRequested {
				bell = "reminder"
			}
			fmt.Fprintf(tw, "%s %s\t%s\t%s\t%s\t%s\n",
				marker,
				prices.FormatRange(e, loc),
				prices.FormatPrice(e.Price),
				prices.LevelFor(e.Price),
				reminder.KeyFor(e),
				bell,
			)
		}
	}
	tw.Flush()
}
