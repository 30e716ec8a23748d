package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/t77yq/tileboard/internal/model"
	"github.com/t77yq/tileboard/internal/storage"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Manage calendar events",
	Long: `Manage the events shown by the calendar tile.

Examples:
  tileboard events list
  tileboard events add "Dentist" 2026-11-03 --time 09:30
  tileboard events remove 2f1c...`,
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every event",
	Args:  cobra.NoArgs,
	RunE:  runEventsList,
}

var eventsAddCmd = &cobra.Command{
	Use:   "add TITLE DATE",
	Short: "Add an event (DATE is YYYY-MM-DD)",
	Args:  cobra.ExactArgs(2),
	RunE:  runEventsAdd,
}

var eventsRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove an event",
	Args:  cobra.ExactArgs(1),
	RunE:  runEventsRemove,
}

var (
	eventTime        string
	eventDescription string
)

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsListCmd, eventsAddCmd, eventsRemoveCmd)

	eventsAddCmd.Flags().StringVarP(&eventTime, "time", "t", "", "Time of day, free text")
	eventsAddCmd.Flags().StringVarP(&eventDescription, "description", "d", "", "Event description")
}

func openCalendar() (*storage.SQLiteCalendar, error) {
	cfg, logger, err := setup()
	if err != nil {
		return nil, err
	}
	return storage.NewSQLiteCalendar(logger, cfg.CalendarPath, time.Now())
}

func runEventsList(cmd *cobra.Command, args []string) error {
	calendar, err := openCalendar()
	if err != nil {
		return err
	}
	defer calendar.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	events, err := calendar.List(ctx)
	if err != nil {
		return err
	}
	if jsonFlag {
		return printJSON(events)
	}
	if len(events) == 0 {
		fmt.Println("No events")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tTIME\tTITLE")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.Date, e.Time, e.Title)
	}
	return w.Flush()
}

func runEventsAdd(cmd *cobra.Command, args []string) error {
	calendar, err := openCalendar()
	if err != nil {
		return err
	}
	defer calendar.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	event, err := calendar.Add(ctx, model.CalendarEvent{
		Title:       args[0],
		Date:        args[1],
		Time:        eventTime,
		Description: eventDescription,
	})
	if err != nil {
		return err
	}
	if jsonFlag {
		return printJSON(event)
	}
	fmt.Printf("Added %s (%s)\n", event.Title, event.ID)
	return nil
}

func runEventsRemove(cmd *cobra.Command, args []string) error {
	calendar, err := openCalendar()
	if err != nil {
		return err
	}
	defer calendar.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := calendar.Remove(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", args[0])
	return nil
}
