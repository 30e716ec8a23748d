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

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded tile refreshes",
	Long: `Inspect the refresh history a running server records.

Examples:
  # Last 20 refreshes
  tileboard history list

  # Failed finance refreshes
  tileboard history list --kind finance --status failed

  # Drop records older than a week
  tileboard history prune --older-than 168h`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List refreshes, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old refresh records",
	Args:  cobra.NoArgs,
	RunE:  runHistoryPrune,
}

var (
	historyTile      string
	historyKind      string
	historyStatus    string
	historyOffset    int
	historyLimit     int
	historyOlderThan time.Duration
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyPruneCmd)

	historyListCmd.Flags().StringVar(&historyTile, "tile", "", "Only this tile, e.g. weather@0")
	historyListCmd.Flags().StringVar(&historyKind, "kind", "", "Only this tile kind")
	historyListCmd.Flags().StringVar(&historyStatus, "status", "", "Only this status (completed, failed, discarded)")
	historyListCmd.Flags().IntVar(&historyOffset, "offset", 0, "Records to skip")
	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Records to show")

	historyPruneCmd.Flags().DurationVar(&historyOlderThan, "older-than", 0, "Age cutoff (default: configured retention)")
}

func openHistory() (*storage.SQLiteRefreshHistory, time.Duration, error) {
	cfg, logger, err := setup()
	if err != nil {
		return nil, 0, err
	}
	history, err := storage.NewSQLiteRefreshHistory(logger, cfg.HistoryPath)
	if err != nil {
		return nil, 0, err
	}
	return history, cfg.HistoryRetention, nil
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	history, _, err := openHistory()
	if err != nil {
		return err
	}
	defer history.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	filter := storage.HistoryFilter{
		Tile:   historyTile,
		Kind:   historyKind,
		Status: model.TaskStatus(historyStatus),
	}
	records, err := history.List(ctx, filter, historyOffset, historyLimit)
	if err != nil {
		return err
	}
	total, err := history.Count(ctx, filter)
	if err != nil {
		return err
	}

	if jsonFlag {
		return printJSON(map[string]interface{}{
			"total":   total,
			"records": records,
		})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tTILE\tSTATUS\tTRIGGER\tDURATION\tERROR")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime),
			r.Tile,
			r.Status,
			r.Trigger,
			r.Duration.Round(time.Millisecond),
			r.Error)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d of %d records\n", len(records), total)
	return nil
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	history, retention, err := openHistory()
	if err != nil {
		return err
	}
	defer history.Close()

	age := historyOlderThan
	if age <= 0 {
		age = retention
	}
	if age <= 0 {
		return fmt.Errorf("no retention configured, pass --older-than")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := history.DeleteBefore(ctx, time.Now().Add(-age))
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d records older than %s\n", deleted, age)
	return nil
}
