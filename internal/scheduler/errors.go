package scheduler

import "errors"

var (
	// ErrTaskNotFound is returned when no task is registered for an identity
	ErrTaskNotFound = errors.New("task not found")

	// ErrDuplicateTask is returned when an identity is registered twice
	ErrDuplicateTask = errors.New("duplicate task")

	// ErrInvalidInterval is returned for non-positive refresh intervals
	ErrInvalidInterval = errors.New("invalid refresh interval")

	// ErrSchedulerStopped is returned when registering on a stopped scheduler
	ErrSchedulerStopped = errors.New("scheduler stopped")
)
