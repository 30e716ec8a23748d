package provider

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	thermalZonePath = "/sys/class/thermal/thermal_zone0/temp"
	cpuSampleWindow = 100 * time.Millisecond
	bytesPerGB      = 1 << 30
)

// TemperatureReader returns the board temperature in Celsius. It may fail on
// machines without a sensor.
type TemperatureReader func() (float64, error)

// ReadThermalZone reads the first kernel thermal zone
func ReadThermalZone() (float64, error) {
	data, err := os.ReadFile(thermalZonePath)
	if err != nil {
		return 0, err
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse thermal zone: %w", err)
	}
	return milli / 1000, nil
}

// SystemMetrics is a snapshot of local resource usage
type SystemMetrics struct {
	CPUPercent    float64  `json:"cpu_percent"`
	MemoryPercent float64  `json:"memory_percent"`
	MemoryUsedGB  float64  `json:"memory_used_gb"`
	DiskPercent   float64  `json:"disk_percent"`
	DiskUsedGB    float64  `json:"disk_used_gb"`
	TemperatureF  *float64 `json:"temperature_f,omitempty"`
}

func (m SystemMetrics) String() string {
	temp := "Temp: N/A"
	if m.TemperatureF != nil {
		temp = fmt.Sprintf("Temp: %.1f°F", *m.TemperatureF)
	}
	return fmt.Sprintf("CPU: %.1f%%\nRAM: %.1f%% (%.1f GB)\nDisk: %.1f%% (%.1f GB)\n%s",
		m.CPUPercent, m.MemoryPercent, m.MemoryUsedGB, m.DiskPercent, m.DiskUsedGB, temp)
}

type systemMetricsProvider struct {
	temperature TemperatureReader
}

func newSystemMetrics(deps Deps) (Provider, error) {
	return NewSystemMetrics(deps.Temperature), nil
}

// NewSystemMetrics samples CPU, memory and disk usage. Param "path" selects
// the filesystem to report, "/" by default. A failing temperature reader
// only blanks the temperature.
func NewSystemMetrics(temperature TemperatureReader) Provider {
	if temperature == nil {
		temperature = ReadThermalZone
	}
	return &systemMetricsProvider{temperature: temperature}
}

func (p *systemMetricsProvider) Fetch(ctx context.Context, params map[string]string) (any, error) {
	cpuPercent, err := cpu.PercentWithContext(ctx, cpuSampleWindow, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get CPU usage: %w", err)
	}
	if len(cpuPercent) == 0 {
		return nil, fmt.Errorf("%w: no CPU sample", ErrEmptyResult)
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get memory usage: %w", err)
	}

	diskInfo, err := disk.UsageWithContext(ctx, param(params, "path", "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to get disk usage: %w", err)
	}

	metrics := SystemMetrics{
		CPUPercent:    cpuPercent[0],
		MemoryPercent: memInfo.UsedPercent,
		MemoryUsedGB:  float64(memInfo.Used) / bytesPerGB,
		DiskPercent:   diskInfo.UsedPercent,
		DiskUsedGB:    float64(diskInfo.Used) / bytesPerGB,
	}
	if c, err := p.temperature(); err == nil {
		f := celsiusToFahrenheit(c)
		metrics.TemperatureF = &f
	}
	return metrics, nil
}
