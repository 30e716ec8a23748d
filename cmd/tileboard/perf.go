package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/t77yq/tileboard/internal/model"
	"github.com/t77yq/tileboard/internal/monitor"
)

var perfCmd = &cobra.Command{
	Use:   "perf",
	Short: "Watch host and dashboard resource usage",
	Long: `Print a resource usage sample every few seconds until interrupted, then
a summary with averages, peaks and recommendations.

Examples:
  # Watch the machine and this process
  tileboard perf

  # Watch a running server
  tileboard perf --pid $(pgrep -f "tileboard serve")`,
	Args: cobra.NoArgs,
	RunE: runPerf,
}

var (
	perfPID      int32
	perfInterval time.Duration
)

func init() {
	rootCmd.AddCommand(perfCmd)

	perfCmd.Flags().Int32Var(&perfPID, "pid", 0, "Process to watch (default: this process)")
	perfCmd.Flags().DurationVarP(&perfInterval, "interval", "i", 5*time.Second, "Sampling interval")
}

func runPerf(cmd *cobra.Command, args []string) error {
	if perfInterval <= 0 {
		return fmt.Errorf("invalid interval: %s", perfInterval)
	}
	_, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	var sampler monitor.Sampler
	if perfPID > 0 {
		sampler, err = monitor.NewProcessSampler(perfPID)
	} else {
		sampler, err = monitor.NewHostSampler()
	}
	if err != nil {
		return err
	}
	collector := monitor.NewMetricsCollector(nil, sampler, nil, perfInterval, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !jsonFlag {
		fmt.Println("Monitoring performance, press Ctrl+C to stop")
	}

	ticker := time.NewTicker(perfInterval)
	defer ticker.Stop()
	for {
		sample, err := collector.Collect(ctx)
		if err == nil && !jsonFlag {
			printSample(sample)
		}
		select {
		case <-ctx.Done():
			summary := collector.Summary()
			if jsonFlag {
				return printJSON(summary)
			}
			printSummary(summary)
			return nil
		case <-ticker.C:
		}
	}
}

func printSample(s model.PerformanceSample) {
	fmt.Printf("[%s] CPU: %5.1f%% (proc %5.1f%%)  Memory: %5.1f%% (proc %5.1f%%)  Disk: %5.1f%%\n",
		s.Timestamp.Format(time.TimeOnly),
		s.CPUTotal, s.CPUProcess,
		s.MemoryTotal, s.MemoryProcess,
		s.DiskUsage)
}

func printSummary(s model.PerformanceSummary) {
	fmt.Println()
	if s.Samples == 0 {
		fmt.Println("No data collected")
		return
	}
	fmt.Println("Performance summary")
	fmt.Printf("  Duration:       %s\n", s.Duration.Round(time.Second))
	fmt.Printf("  Samples:        %d\n", s.Samples)
	fmt.Println("Average usage")
	fmt.Printf("  CPU total:      %5.1f%%\n", s.AvgCPUTotal)
	fmt.Printf("  CPU process:    %5.1f%%\n", s.AvgCPUProcess)
	fmt.Printf("  Memory total:   %5.1f%%\n", s.AvgMemTotal)
	fmt.Printf("  Memory process: %5.1f%%\n", s.AvgMemProcess)
	fmt.Println("Peak usage")
	fmt.Printf("  CPU total:      %5.1f%%\n", s.PeakCPUTotal)
	fmt.Printf("  CPU process:    %5.1f%%\n", s.PeakCPUProcess)
	fmt.Printf("  Memory total:   %5.1f%%\n", s.PeakMemTotal)
	fmt.Printf("  Memory process: %5.1f%%\n", s.PeakMemProcess)
	fmt.Println("Recommendations")
	for _, r := range s.Recommendations {
		fmt.Printf("  - %s\n", r)
	}
}
