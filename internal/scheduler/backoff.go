package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// RetryStrategy stretches a failing task's cadence
type RetryStrategy interface {
	// NextRetry returns the delay before the given retry attempt (0-based)
	NextRetry(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff retry strategy
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// NextRetry calculates the next retry time using exponential backoff
func (s *ExponentialBackoff) NextRetry(attempt int) time.Duration {
	delay := float64(s.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= s.Multiplier
		if s.MaxDelay > 0 && delay > float64(s.MaxDelay) {
			break
		}
	}

	if s.MaxDelay > 0 && delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// taskSchedule is the cron.Schedule of a single refresh task. The next run is
// never sooner than the task interval; consecutive failures may push it further.
type taskSchedule struct {
	task    *task
	backoff RetryStrategy
}

var _ cron.Schedule = (*taskSchedule)(nil)

// Next implements cron.Schedule
func (s *taskSchedule) Next(now time.Time) time.Time {
	next := now.Add(s.task.delay(s.backoff))
	s.task.setNextDue(next)
	return next
}
