package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/t77yq/tileboard/internal/model"
)

// Job fetches a fresh value for one tile
type Job func(ctx context.Context) (any, error)

// TaskHandle identifies a registered task
type TaskHandle struct {
	ID         string
	Identity   model.TileID
	Interval   time.Duration
	Generation uint64

	task *task
}

// NextDue returns when the task is next expected to run
func (h *TaskHandle) NextDue() time.Time {
	return h.task.nextDueAt()
}

// Running reports whether the task is executing right now
func (h *TaskHandle) Running() bool {
	return h.task.running.Load()
}

type task struct {
	id         string
	identity   model.TileID
	interval   time.Duration
	generation uint64
	job        Job
	entryID    cron.EntryID

	// running guarantees a task never overlaps itself
	running  atomic.Bool
	canceled atomic.Bool

	mu                  sync.Mutex
	nextDue             time.Time
	runningSince        time.Time
	lastRun             time.Time
	lastSuccess         time.Time
	lastError           string
	runCount            int64
	errorCount          int64
	skippedTicks        int64
	consecutiveFailures int
}

func (t *task) delay(backoff RetryStrategy) time.Duration {
	t.mu.Lock()
	failures := t.consecutiveFailures
	t.mu.Unlock()

	if backoff == nil || failures == 0 {
		return t.interval
	}
	if d := backoff.NextRetry(failures - 1); d > t.interval {
		return d
	}
	return t.interval
}

func (t *task) setNextDue(next time.Time) {
	t.mu.Lock()
	t.nextDue = next
	t.mu.Unlock()
}

func (t *task) nextDueAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextDue
}

func (t *task) markStarted(now time.Time) {
	t.mu.Lock()
	t.runningSince = now
	t.lastRun = now
	t.runCount++
	t.mu.Unlock()
}

// markFinished records the outcome of a run and reports whether the
// consecutive failure count changed
func (t *task) markFinished(now time.Time, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.runningSince = time.Time{}
	if err != nil {
		t.errorCount++
		t.consecutiveFailures++
		t.lastError = err.Error()
		return true
	}
	changed := t.consecutiveFailures > 0
	t.consecutiveFailures = 0
	t.lastError = ""
	t.lastSuccess = now
	return changed
}

func (t *task) markSkipped() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.skippedTicks++
	return t.skippedTicks
}

func (t *task) snapshot() model.ScheduleTask {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := model.ScheduleTask{
		ID:                  t.id,
		Identity:            t.identity,
		Tile:                t.identity.String(),
		Interval:            t.interval,
		NextDueAt:           t.nextDue,
		Generation:          t.generation,
		Running:             t.running.Load(),
		LastError:           t.lastError,
		RunCount:            t.runCount,
		ErrorCount:          t.errorCount,
		SkippedTicks:        t.skippedTicks,
		ConsecutiveFailures: t.consecutiveFailures,
	}
	if !t.runningSince.IsZero() {
		since := t.runningSince
		st.RunningSince = &since
	}
	if !t.lastRun.IsZero() {
		lastRun := t.lastRun
		st.LastRun = &lastRun
	}
	if !t.lastSuccess.IsZero() {
		lastSuccess := t.lastSuccess
		st.LastSuccess = &lastSuccess
	}
	return st
}
