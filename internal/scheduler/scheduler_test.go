package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/tileboard/internal/cache"
	"github.com/t77yq/tileboard/internal/model"
)

var (
	weatherID = model.TileID{Kind: model.KindWeather, Position: 0}
	newsID    = model.TileID{Kind: model.KindNews, Position: 1}
)

type recordingObserver struct {
	mu      sync.Mutex
	records []model.RefreshRecord
}

func (o *recordingObserver) ObserveRun(record model.RefreshRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, record)
}

func (o *recordingObserver) withStatus(status model.TaskStatus) []model.RefreshRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []model.RefreshRecord
	for _, r := range o.records {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

func newTestScheduler(t *testing.T, opts ...Option) (*RefreshScheduler, *cache.Cache) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	c := cache.New(logger)
	s := NewRefreshScheduler(c, logger, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() {
		cancel()
		s.Stop()
	})
	return s, c
}

func TestRefreshScheduler_RegisterTask(t *testing.T) {
	s, _ := newTestScheduler(t)
	job := func(ctx context.Context) (any, error) { return "ok", nil }

	handle, err := s.RegisterTask(weatherID, time.Hour, job)
	require.NoError(t, err)
	assert.NotEmpty(t, handle.ID)
	assert.Equal(t, weatherID, handle.Identity)
	assert.Equal(t, time.Hour, handle.Interval)
	assert.Equal(t, s.Generation(), handle.Generation)
	assert.False(t, handle.Running())

	_, err = s.RegisterTask(weatherID, time.Hour, job)
	assert.ErrorIs(t, err, ErrDuplicateTask)

	_, err = s.RegisterTask(newsID, 0, job)
	assert.ErrorIs(t, err, ErrInvalidInterval)
	_, err = s.RegisterTask(newsID, -time.Second, job)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	status, ok := s.Status(weatherID)
	require.True(t, ok)
	assert.Equal(t, "weather@0", status.Tile)
	assert.Zero(t, status.RunCount)
	assert.Len(t, s.AllStatus(), 1)
}

func TestRefreshScheduler_TicksCommitToCache(t *testing.T) {
	s, c := newTestScheduler(t)

	var calls atomic.Int32
	_, err := s.RegisterTask(weatherID, 20*time.Millisecond, func(ctx context.Context) (any, error) {
		return calls.Add(1), nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return c.Get(weatherID).HasValue() }, time.Second, 5*time.Millisecond)

	status, ok := s.Status(weatherID)
	require.True(t, ok)
	assert.GreaterOrEqual(t, status.RunCount, int64(3))
	assert.NotNil(t, status.LastSuccess)
	assert.True(t, status.NextDueAt.After(*status.LastRun))
}

func TestRefreshScheduler_NeverOverlapsItself(t *testing.T) {
	s, _ := newTestScheduler(t)

	var active, maxActive atomic.Int32
	release := make(chan struct{})
	_, err := s.RegisterTask(weatherID, 10*time.Millisecond, func(ctx context.Context) (any, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return "done", nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, _ := s.Status(weatherID)
		return status.SkippedTicks >= 3
	}, 2*time.Second, 5*time.Millisecond)

	// Immediate triggers while running are no-ops
	require.NoError(t, s.TriggerImmediate(weatherID))
	assert.Equal(t, int32(1), maxActive.Load())

	close(release)
	status, _ := s.Status(weatherID)
	assert.GreaterOrEqual(t, status.RunCount, int64(1))
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestRefreshScheduler_TriggerImmediate(t *testing.T) {
	obs := &recordingObserver{}
	s, c := newTestScheduler(t, WithObserver(obs))

	var calls atomic.Int32
	_, err := s.RegisterTask(newsID, time.Hour, func(ctx context.Context) (any, error) {
		calls.Add(1)
		return []string{"headline"}, nil
	})
	require.NoError(t, err)

	before, _ := s.Status(newsID)
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, s.TriggerImmediate(newsID))
	require.Eventually(t, func() bool { return c.Get(newsID).HasValue() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"headline"}, c.Get(newsID).Value)
	assert.Equal(t, int32(1), calls.Load())

	// Next due time restarts from the trigger
	after, _ := s.Status(newsID)
	assert.True(t, after.NextDueAt.After(before.NextDueAt))

	completed := obs.withStatus(model.TaskStatusCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, model.TriggerImmediate, completed[0].Trigger)

	err = s.TriggerImmediate(model.TileID{Kind: model.KindQuote, Position: 2})
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.Len(t, s.AllStatus(), 1)
}

func TestRefreshScheduler_ErrorKeepsLastGoodValue(t *testing.T) {
	s, c := newTestScheduler(t)

	var fail atomic.Bool
	_, err := s.RegisterTask(weatherID, time.Hour, func(ctx context.Context) (any, error) {
		if fail.Load() {
			return nil, errors.New("upstream timeout")
		}
		return 72.5, nil
	})
	require.NoError(t, err)

	require.NoError(t, s.TriggerImmediate(weatherID))
	require.Eventually(t, func() bool { return c.Get(weatherID).HasValue() }, time.Second, 5*time.Millisecond)

	fail.Store(true)
	require.Eventually(t, func() bool {
		return s.TriggerImmediate(weatherID) == nil && c.Get(weatherID).LastError != nil
	}, time.Second, 5*time.Millisecond)

	entry := c.Get(weatherID)
	assert.Equal(t, 72.5, entry.Value)
	assert.EqualError(t, entry.LastError, "upstream timeout")

	status, _ := s.Status(weatherID)
	assert.Equal(t, "upstream timeout", status.LastError)
	assert.GreaterOrEqual(t, status.ConsecutiveFailures, 1)
}

func TestRefreshScheduler_PanicIsContained(t *testing.T) {
	s, c := newTestScheduler(t)

	_, err := s.RegisterTask(weatherID, time.Hour, func(ctx context.Context) (any, error) {
		panic("provider exploded")
	})
	require.NoError(t, err)
	_, err = s.RegisterTask(newsID, time.Hour, func(ctx context.Context) (any, error) {
		return "fine", nil
	})
	require.NoError(t, err)

	require.NoError(t, s.TriggerImmediate(weatherID))
	require.NoError(t, s.TriggerImmediate(newsID))

	require.Eventually(t, func() bool { return c.Get(weatherID).LastError != nil }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return c.Get(newsID).HasValue() }, time.Second, 5*time.Millisecond)
	assert.Contains(t, c.Get(weatherID).LastError.Error(), "panicked")
	assert.False(t, c.Get(weatherID).HasValue())
}

func TestRefreshScheduler_UnregisterAllDiscardsInFlightResults(t *testing.T) {
	obs := &recordingObserver{}
	s, c := newTestScheduler(t, WithObserver(obs))

	started := make(chan struct{})
	release := make(chan struct{})
	_, err := s.RegisterTask(weatherID, time.Hour, func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return "late", nil
	})
	require.NoError(t, err)
	genBefore := s.Generation()

	require.NoError(t, s.TriggerImmediate(weatherID))
	<-started

	s.UnregisterAll()
	assert.Equal(t, genBefore+1, s.Generation())
	assert.Empty(t, s.AllStatus())

	// Re-registering the same identity is allowed after a clear
	_, err = s.RegisterTask(weatherID, time.Hour, func(ctx context.Context) (any, error) {
		return "fresh", nil
	})
	require.NoError(t, err)

	close(release)
	require.Eventually(t, func() bool {
		return len(obs.withStatus(model.TaskStatusDiscarded)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, c.Get(weatherID).HasValue())

	require.NoError(t, s.TriggerImmediate(weatherID))
	require.Eventually(t, func() bool { return c.Get(weatherID).HasValue() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "fresh", c.Get(weatherID).Value)
}

func TestRefreshScheduler_StoppedRejectsRegistration(t *testing.T) {
	logger := zaptest.NewLogger(t)
	s := NewRefreshScheduler(cache.New(logger), logger, WithStopTimeout(time.Second))
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()

	_, err := s.RegisterTask(weatherID, time.Second, func(ctx context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrSchedulerStopped)
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerStopped)
}

func TestRefreshScheduler_CallTimeout(t *testing.T) {
	s, c := newTestScheduler(t, WithCallTimeout(20*time.Millisecond))

	_, err := s.RegisterTask(weatherID, time.Hour, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)
	require.NoError(t, s.TriggerImmediate(weatherID))

	require.Eventually(t, func() bool { return c.Get(weatherID).LastError != nil }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, c.Get(weatherID).LastError, context.DeadlineExceeded)
}

func TestExponentialBackoff_NextRetry(t *testing.T) {
	b := &ExponentialBackoff{
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}

	assert.Equal(t, time.Second, b.NextRetry(0))
	assert.Equal(t, 2*time.Second, b.NextRetry(1))
	assert.Equal(t, 8*time.Second, b.NextRetry(3))
	assert.Equal(t, 10*time.Second, b.NextRetry(4))
	assert.Equal(t, 10*time.Second, b.NextRetry(50))
}

func TestTaskSchedule_NeverShorterThanInterval(t *testing.T) {
	backoff := &ExponentialBackoff{InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2}
	tk := &task{identity: weatherID, interval: 5 * time.Second}
	sched := &taskSchedule{task: tk, backoff: backoff}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(5*time.Second), sched.Next(now))
	assert.Equal(t, now.Add(5*time.Second), tk.nextDueAt())

	for i := 0; i < 4; i++ {
		tk.markFinished(now, errors.New("boom"))
	}
	// 4 failures -> backoff attempt 3 -> 8s
	assert.Equal(t, now.Add(8*time.Second), sched.Next(now))

	tk.markFinished(now, nil)
	assert.Equal(t, now.Add(5*time.Second), sched.Next(now))
}

func TestRefreshScheduler_BackoffFollowsLatestOutcome(t *testing.T) {
	const interval = 40 * time.Millisecond
	s, c := newTestScheduler(t, WithBackoff(&ExponentialBackoff{
		InitialDelay: 400 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2,
	}))

	var mu sync.Mutex
	var starts []time.Time
	_, err := s.RegisterTask(weatherID, interval, func(ctx context.Context) (any, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		n := len(starts)
		mu.Unlock()
		if n <= 2 {
			return nil, errors.New("upstream down")
		}
		return n, nil
	})
	require.NoError(t, err)

	runs := func() []time.Time {
		mu.Lock()
		defer mu.Unlock()
		return append([]time.Time(nil), starts...)
	}
	require.Eventually(t, func() bool { return len(runs()) >= 4 }, 5*time.Second, 5*time.Millisecond)
	got := runs()

	// the first failure stretches the very next tick
	assert.GreaterOrEqual(t, got[1].Sub(got[0]), 400*time.Millisecond)
	// the second failure doubles it
	assert.GreaterOrEqual(t, got[2].Sub(got[1]), 800*time.Millisecond)
	// the first success restores the interval right away
	assert.Less(t, got[3].Sub(got[2]), 300*time.Millisecond)

	assert.True(t, c.Get(weatherID).HasValue())
	status, ok := s.Status(weatherID)
	require.True(t, ok)
	assert.Zero(t, status.ConsecutiveFailures)
}
