package model

import (
	"time"
)

// TaskStatus represents the outcome of a refresh run
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusDiscarded TaskStatus = "discarded"
)

// RunTrigger says why a refresh ran
type RunTrigger string

const (
	TriggerTick      RunTrigger = "tick"
	TriggerImmediate RunTrigger = "immediate"
)

// ScheduleTask is a point-in-time view of one registered refresh task
type ScheduleTask struct {
	ID                  string        `json:"id"`
	Identity            TileID        `json:"-"`
	Tile                string        `json:"tile"`
	Interval            time.Duration `json:"interval"`
	NextDueAt           time.Time     `json:"next_due_at"`
	Generation          uint64        `json:"generation"`
	Running             bool          `json:"running"`
	RunningSince        *time.Time    `json:"running_since,omitempty"`
	LastRun             *time.Time    `json:"last_run,omitempty"`
	LastSuccess         *time.Time    `json:"last_success,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
	RunCount            int64         `json:"run_count"`
	ErrorCount          int64         `json:"error_count"`
	SkippedTicks        int64         `json:"skipped_ticks"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// RefreshRecord describes one completed refresh execution
type RefreshRecord struct {
	TaskID      string        `json:"task_id"`
	Identity    TileID        `json:"-"`
	Tile        string        `json:"tile"`
	Kind        string        `json:"kind"`
	Status      TaskStatus    `json:"status"`
	Trigger     RunTrigger    `json:"trigger"`
	Error       string        `json:"error,omitempty"`
	Generation  uint64        `json:"generation"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
	Value       any           `json:"-"`
}
