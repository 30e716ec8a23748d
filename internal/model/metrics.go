package model

import "time"

// PerformanceSample is one reading of host and process resource usage
type PerformanceSample struct {
	Timestamp     time.Time `json:"timestamp"`
	CPUTotal      float64   `json:"cpu_total"`
	CPUProcess    float64   `json:"cpu_process"`
	MemoryTotal   float64   `json:"memory_total"`
	MemoryProcess float64   `json:"memory_process"`
	DiskUsage     float64   `json:"disk_usage"`
}

// PerformanceSummary aggregates the samples collected so far
type PerformanceSummary struct {
	Samples         int           `json:"samples"`
	Duration        time.Duration `json:"duration"`
	AvgCPUTotal     float64       `json:"avg_cpu_total"`
	AvgCPUProcess   float64       `json:"avg_cpu_process"`
	AvgMemTotal     float64       `json:"avg_memory_total"`
	AvgMemProcess   float64       `json:"avg_memory_process"`
	PeakCPUTotal    float64       `json:"peak_cpu_total"`
	PeakCPUProcess  float64       `json:"peak_cpu_process"`
	PeakMemTotal    float64       `json:"peak_memory_total"`
	PeakMemProcess  float64       `json:"peak_memory_process"`
	Recommendations []string      `json:"recommendations,omitempty"`
}
