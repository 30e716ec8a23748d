package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/t77yq/tileboard/internal/model"
)

const (
	metricsStream     = "METRICS"
	metricsSubject    = "metrics.system"
	defaultMaxSamples = 720
	cpuWindow         = 200 * time.Millisecond
)

// Sampler reads the current resource usage
type Sampler interface {
	Sample(ctx context.Context) (model.PerformanceSample, error)
}

// SamplerFunc adapts a function to Sampler
type SamplerFunc func(ctx context.Context) (model.PerformanceSample, error)

// Sample implements Sampler
func (f SamplerFunc) Sample(ctx context.Context) (model.PerformanceSample, error) {
	return f(ctx)
}

type hostSampler struct {
	proc *process.Process
}

// NewHostSampler samples the host and the current process with gopsutil
func NewHostSampler() (Sampler, error) {
	return NewProcessSampler(int32(os.Getpid()))
}

// NewProcessSampler samples the host and the process with the given pid
func NewProcessSampler(pid int32) (Sampler, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to open process %d: %w", pid, err)
	}
	return &hostSampler{proc: proc}, nil
}

func (s *hostSampler) Sample(ctx context.Context) (model.PerformanceSample, error) {
	cpuPercent, err := cpu.PercentWithContext(ctx, cpuWindow, false)
	if err != nil {
		return model.PerformanceSample{}, fmt.Errorf("failed to get CPU usage: %w", err)
	}
	if len(cpuPercent) == 0 {
		return model.PerformanceSample{}, fmt.Errorf("failed to get CPU usage: no sample")
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return model.PerformanceSample{}, fmt.Errorf("failed to get memory usage: %w", err)
	}

	diskInfo, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return model.PerformanceSample{}, fmt.Errorf("failed to get disk usage: %w", err)
	}

	sample := model.PerformanceSample{
		Timestamp:   time.Now(),
		CPUTotal:    cpuPercent[0],
		MemoryTotal: memInfo.UsedPercent,
		DiskUsage:   diskInfo.UsedPercent,
	}
	if p, err := s.proc.CPUPercentWithContext(ctx); err == nil {
		sample.CPUProcess = p
	}
	if p, err := s.proc.MemoryPercentWithContext(ctx); err == nil {
		sample.MemoryProcess = float64(p)
	}
	return sample, nil
}

// MetricsCollector periodically samples resource usage, keeps a bounded
// window of samples for the performance summary and publishes every sample
// together with the refresh task states
type MetricsCollector struct {
	logger     *zap.Logger
	js         nats.JetStreamContext
	sampler    Sampler
	status     StatusSource
	interval   time.Duration
	maxSamples int
	localOnly  atomic.Bool

	mu      sync.RWMutex
	samples []model.PerformanceSample

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector. js and status may be nil.
func NewMetricsCollector(js nats.JetStreamContext, sampler Sampler, status StatusSource, interval time.Duration, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		logger:     logger.Named("metrics-collector"),
		js:         js,
		sampler:    sampler,
		status:     status,
		interval:   interval,
		maxSamples: defaultMaxSamples,
		stop:       make(chan struct{}),
	}
}

// Start starts the collection loop
func (c *MetricsCollector) Start(ctx context.Context) error {
	if c.interval <= 0 {
		return fmt.Errorf("invalid collection interval: %s", c.interval)
	}
	if c.js != nil {
		if err := c.ensureStream(); err != nil {
			c.logger.Warn("Metrics stream unavailable, samples are kept locally", zap.Error(err))
			c.localOnly.Store(true)
		}
	}
	c.logger.Info("Starting metrics collector", zap.Duration("interval", c.interval))

	c.wg.Add(1)
	go c.collectLoop(ctx)
	return nil
}

func (c *MetricsCollector) ensureStream() error {
	_, err := c.js.StreamInfo(metricsStream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}
	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:     metricsStream,
		Subjects: []string{"metrics.*"},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Stop stops the collection loop
func (c *MetricsCollector) Stop() {
	c.stopOnce.Do(func() {
		c.logger.Info("Stopping metrics collector")
		close(c.stop)
	})
	c.wg.Wait()
}

func (c *MetricsCollector) collectLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}

// Collect takes one sample, records it and publishes it
func (c *MetricsCollector) Collect(ctx context.Context) (model.PerformanceSample, error) {
	sample, err := c.sampler.Sample(ctx)
	if err != nil {
		c.logger.Error("Failed to sample resource usage", zap.Error(err))
		return model.PerformanceSample{}, err
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	c.mu.Lock()
	c.samples = append(c.samples, sample)
	if over := len(c.samples) - c.maxSamples; over > 0 {
		c.samples = append(c.samples[:0:0], c.samples[over:]...)
	}
	c.mu.Unlock()

	c.logger.Debug("Metrics collected",
		zap.Float64("cpu_total", sample.CPUTotal),
		zap.Float64("cpu_process", sample.CPUProcess),
		zap.Float64("memory_total", sample.MemoryTotal),
		zap.Float64("memory_process", sample.MemoryProcess),
		zap.Float64("disk_usage", sample.DiskUsage))

	c.publish(sample)
	return sample, nil
}

func (c *MetricsCollector) publish(sample model.PerformanceSample) {
	if c.js == nil || c.localOnly.Load() {
		return
	}

	metrics := struct {
		model.PerformanceSample
		Tiles []model.ScheduleTask `json:"tiles,omitempty"`
	}{PerformanceSample: sample}
	if c.status != nil {
		metrics.Tiles = c.status.AllStatus()
	}

	data, err := json.Marshal(metrics)
	if err != nil {
		c.logger.Error("Failed to marshal metrics", zap.Error(err))
		return
	}
	if _, err := c.js.Publish(metricsSubject, data); err != nil {
		c.logger.Error("Failed to publish metrics", zap.Error(err))
	}
}

// Samples returns the retained samples, oldest first
func (c *MetricsCollector) Samples() []model.PerformanceSample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.PerformanceSample, len(c.samples))
	copy(out, c.samples)
	return out
}

// Summary aggregates the retained samples
func (c *MetricsCollector) Summary() model.PerformanceSummary {
	return Summarize(c.Samples())
}

// Summarize computes averages, peaks and recommendations over samples
func Summarize(samples []model.PerformanceSample) model.PerformanceSummary {
	summary := model.PerformanceSummary{Samples: len(samples)}
	if len(samples) == 0 {
		return summary
	}

	for _, s := range samples {
		summary.AvgCPUTotal += s.CPUTotal
		summary.AvgCPUProcess += s.CPUProcess
		summary.AvgMemTotal += s.MemoryTotal
		summary.AvgMemProcess += s.MemoryProcess
		summary.PeakCPUTotal = max(summary.PeakCPUTotal, s.CPUTotal)
		summary.PeakCPUProcess = max(summary.PeakCPUProcess, s.CPUProcess)
		summary.PeakMemTotal = max(summary.PeakMemTotal, s.MemoryTotal)
		summary.PeakMemProcess = max(summary.PeakMemProcess, s.MemoryProcess)
	}
	n := float64(len(samples))
	summary.AvgCPUTotal /= n
	summary.AvgCPUProcess /= n
	summary.AvgMemTotal /= n
	summary.AvgMemProcess /= n
	summary.Duration = samples[len(samples)-1].Timestamp.Sub(samples[0].Timestamp)

	if summary.AvgCPUProcess > 20 {
		summary.Recommendations = append(summary.Recommendations,
			"Dashboard process using high CPU, consider a larger update_interval")
	}
	if summary.AvgMemProcess > 15 {
		summary.Recommendations = append(summary.Recommendations,
			"Dashboard process using high memory, check for leaks")
	}
	if summary.AvgCPUTotal > 80 {
		summary.Recommendations = append(summary.Recommendations,
			"High overall CPU usage, system may be overloaded")
	}
	if summary.AvgMemTotal > 90 {
		summary.Recommendations = append(summary.Recommendations,
			"High memory usage, consider closing other applications")
	}
	if summary.AvgCPUProcess < 10 && summary.AvgMemProcess < 10 {
		summary.Recommendations = append(summary.Recommendations, "Performance looks good")
	}
	return summary
}
