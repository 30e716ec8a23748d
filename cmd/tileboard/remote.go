package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/t77yq/tileboard/internal/config"
	"github.com/t77yq/tileboard/internal/model"
	"github.com/t77yq/tileboard/internal/service"
)

const remoteTimeout = 10 * time.Second

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the refresh tasks of a running server",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh TILE",
	Short: "Refresh one tile of a running server now",
	Long: `Refresh one tile of a running server now. TILE is kind@position for grid
tiles and the bare kind for pinned tiles.

Examples:
  tileboard refresh weather@0
  tileboard refresh clock`,
	Args: cobra.ExactArgs(1),
	RunE: runRefresh,
}

var applyCmd = &cobra.Command{
	Use:   "apply FILE",
	Short: "Replace the document of a running server",
	Args:  cobra.ExactArgs(1),
	RunE:  runApply,
}

func init() {
	rootCmd.AddCommand(statusCmd, refreshCmd, applyCmd)
}

// withClient connects to the configured NATS server and runs fn with a
// control client
func withClient(fn func(ctx context.Context, client *service.Client) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name(cfg.Name+"-cli"),
		nats.Timeout(cfg.NATSConnectTimeout))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()
	return fn(ctx, service.NewClient(nc))
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withClient(func(ctx context.Context, client *service.Client) error {
		status, err := client.Status(ctx)
		if err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(status)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TILE\tINTERVAL\tRUNS\tERRORS\tSKIPPED\tNEXT\tLAST ERROR")
		for _, t := range status.Tasks {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
				t.Tile,
				t.Interval,
				t.RunCount,
				t.ErrorCount,
				t.SkippedTicks,
				t.NextDueAt.Local().Format(time.TimeOnly),
				t.LastError)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		for _, warning := range status.Warnings {
			fmt.Printf("warning: %s\n", warning)
		}
		return nil
	})
}

func runRefresh(cmd *cobra.Command, args []string) error {
	id, err := model.ParseTileID(args[0])
	if err != nil {
		return err
	}
	return withClient(func(ctx context.Context, client *service.Client) error {
		if err := client.Refresh(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Refreshing %s\n", id)
		return nil
	})
}

func runApply(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return err
	}
	return withClient(func(ctx context.Context, client *service.Client) error {
		status, err := client.Apply(ctx, cfg)
		if err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(status)
		}
		fmt.Println("Configuration applied")
		for _, warning := range status.Warnings {
			fmt.Printf("warning: %s\n", warning)
		}
		return nil
	})
}
