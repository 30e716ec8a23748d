package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/tileboard/internal/model"
)

// Scheduler defines the interface the layout composer drives
type Scheduler interface {
	// RegisterTask starts refreshing identity every interval
	RegisterTask(identity model.TileID, interval time.Duration, job Job) (*TaskHandle, error)

	// UnregisterAll cancels every registered task
	UnregisterAll()

	// TriggerImmediate runs a registered task now and resets its next due time
	TriggerImmediate(identity model.TileID) error
}

// Sink receives the outcome of every refresh
type Sink interface {
	Bind(id model.TileID, generation uint64, ttl time.Duration)
	Commit(id model.TileID, generation uint64, value any) bool
	CommitError(id model.TileID, generation uint64, err error) bool
}

// RunObserver is notified after every refresh execution
type RunObserver interface {
	ObserveRun(record model.RefreshRecord)
}

// Option configures a RefreshScheduler
type Option func(*RefreshScheduler)

// WithBackoff stretches the cadence of failing tasks
func WithBackoff(strategy RetryStrategy) Option {
	return func(s *RefreshScheduler) {
		s.backoff = strategy
	}
}

// WithCallTimeout bounds every job call. Zero means no bound.
func WithCallTimeout(d time.Duration) Option {
	return func(s *RefreshScheduler) {
		s.callTimeout = d
	}
}

// WithStopTimeout bounds how long Stop waits for in-flight jobs
func WithStopTimeout(d time.Duration) Option {
	return func(s *RefreshScheduler) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithObserver registers a run observer
func WithObserver(o RunObserver) Option {
	return func(s *RefreshScheduler) {
		s.observers = append(s.observers, o)
	}
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keyValueFields(keysAndValues)...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keyValueFields(keysAndValues), zap.Error(err))...)
}

func keyValueFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}

// RefreshScheduler runs every tile's job on its own cadence
type RefreshScheduler struct {
	logger      *zap.Logger
	sink        Sink
	cron        *cron.Cron
	backoff     RetryStrategy
	callTimeout time.Duration
	stopTimeout time.Duration
	now         func() time.Time

	baseCtx  context.Context
	cancel   context.CancelFunc
	inFlight sync.WaitGroup

	mu         sync.RWMutex
	tasks      map[model.TileID]*task
	generation uint64
	observers  []RunObserver
	stopped    bool
}

var _ Scheduler = (*RefreshScheduler)(nil)

// NewRefreshScheduler creates a scheduler that commits results to sink
func NewRefreshScheduler(sink Sink, logger *zap.Logger, opts ...Option) *RefreshScheduler {
	logger = logger.Named("scheduler")
	cl := &cronLogger{logger: logger.Named("cron")}

	ctx, cancel := context.WithCancel(context.Background())
	s := &RefreshScheduler{
		logger:      logger,
		sink:        sink,
		stopTimeout: defaultStopTimeout,
		now:         time.Now,
		baseCtx:     ctx,
		cancel:      cancel,
		tasks:       make(map[model.TileID]*task),
		generation:  firstGeneration,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts dispatching ticks. Cancelling ctx stops the scheduler.
func (s *RefreshScheduler) Start(ctx context.Context) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrSchedulerStopped
	}

	s.cron.Start()
	s.logger.Info("Started refresh scheduler")

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.baseCtx.Done():
		}
	}()
	return nil
}

// Stop cancels every task and waits a bounded time for in-flight jobs
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.UnregisterAll()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-s.cron.Stop().Done()
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Stopped refresh scheduler")
	case <-time.After(s.stopTimeout):
		s.logger.Warn("Stop timeout reached, some refreshes are still running")
	}
}

// AddObserver registers a run observer
func (s *RefreshScheduler) AddObserver(o RunObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Generation returns the current task generation
func (s *RefreshScheduler) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// RegisterTask implements Scheduler
func (s *RefreshScheduler) RegisterTask(identity model.TileID, interval time.Duration, job Job) (*TaskHandle, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}
	if job == nil {
		return nil, fmt.Errorf("nil job for %s", identity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, ErrSchedulerStopped
	}
	if _, exists := s.tasks[identity]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, identity)
	}

	t := &task{
		id:         uuid.New().String(),
		identity:   identity,
		interval:   interval,
		generation: s.generation,
		job:        job,
		nextDue:    s.now().Add(interval),
	}
	s.sink.Bind(identity, t.generation, interval)
	t.entryID = s.schedule(t)
	s.tasks[identity] = t

	s.logger.Info("Registered refresh task",
		zap.String("tile", identity.String()),
		zap.String("task_id", t.id),
		zap.Duration("interval", interval),
		zap.Uint64("generation", t.generation))

	return &TaskHandle{
		ID:         t.id,
		Identity:   identity,
		Interval:   interval,
		Generation: t.generation,
		task:       t,
	}, nil
}

// schedule adds the task to cron. Caller must hold s.mu.
func (s *RefreshScheduler) schedule(t *task) cron.EntryID {
	return s.cron.Schedule(
		&taskSchedule{task: t, backoff: s.backoff},
		cron.FuncJob(func() { s.dispatchTick(t) }),
	)
}

// Unregister cancels the task for a single identity
func (s *RefreshScheduler) Unregister(identity model.TileID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[identity]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, identity)
	}
	s.removeLocked(t)
	s.logger.Info("Unregistered refresh task", zap.String("tile", identity.String()))
	return nil
}

// UnregisterAll implements Scheduler. Future ticks are cancelled right away;
// jobs already running finish but their results are discarded.
func (s *RefreshScheduler) UnregisterAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.tasks)
	for _, t := range s.tasks {
		s.removeLocked(t)
	}
	s.generation++

	s.logger.Info("Unregistered all refresh tasks",
		zap.Int("count", count),
		zap.Uint64("generation", s.generation))
}

// removeLocked must be called with s.mu held
func (s *RefreshScheduler) removeLocked(t *task) {
	t.canceled.Store(true)
	s.cron.Remove(t.entryID)
	delete(s.tasks, t.identity)
}

// TriggerImmediate implements Scheduler. It is a no-op while the task is
// running and never creates a second task for the identity.
func (s *RefreshScheduler) TriggerImmediate(identity model.TileID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[identity]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, identity)
	}
	if !t.running.CompareAndSwap(false, true) {
		s.logger.Debug("Immediate refresh skipped, task is running",
			zap.String("tile", identity.String()))
		return nil
	}

	// Restart the cadence from now
	t.setNextDue(s.now().Add(t.interval))
	s.cron.Remove(t.entryID)
	t.entryID = s.schedule(t)

	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()
		defer t.running.Store(false)
		s.execute(t, model.TriggerImmediate)
	}()
	return nil
}

// reschedule restarts the cadence of t from now. cron computes the next tick
// when a run starts, so a failure count changed by that run only takes effect
// once the entry is scheduled again.
func (s *RefreshScheduler) reschedule(t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || t.canceled.Load() || s.tasks[t.identity] != t {
		return
	}
	s.cron.Remove(t.entryID)
	t.entryID = s.schedule(t)
}

// Status returns a snapshot of the task registered for identity
func (s *RefreshScheduler) Status(identity model.TileID) (model.ScheduleTask, bool) {
	s.mu.RLock()
	t, ok := s.tasks[identity]
	s.mu.RUnlock()
	if !ok {
		return model.ScheduleTask{}, false
	}
	return t.snapshot(), true
}

// AllStatus returns snapshots of every registered task, sorted by tile
func (s *RefreshScheduler) AllStatus() []model.ScheduleTask {
	s.mu.RLock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.RUnlock()

	result := make([]model.ScheduleTask, 0, len(tasks))
	for _, t := range tasks {
		result = append(result, t.snapshot())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Tile < result[j].Tile
	})
	return result
}

// dispatchTick is the cron job of a task. A tick that fires while the previous
// run is still in flight is skipped, not queued.
func (s *RefreshScheduler) dispatchTick(t *task) {
	if t.canceled.Load() {
		return
	}
	if !t.running.CompareAndSwap(false, true) {
		skipped := t.markSkipped()
		s.logger.Debug("Skipped tick, previous refresh still running",
			zap.String("tile", t.identity.String()),
			zap.Int64("skipped_ticks", skipped))
		return
	}
	defer t.running.Store(false)

	s.inFlight.Add(1)
	defer s.inFlight.Done()
	s.execute(t, model.TriggerTick)
}

// execute runs the job and commits its result if the task is still current
func (s *RefreshScheduler) execute(t *task, trigger model.RunTrigger) {
	started := s.now()
	t.markStarted(started)

	value, err := s.call(t)
	completed := s.now()

	s.mu.RLock()
	current := !t.canceled.Load() && s.tasks[t.identity] == t
	committed := false
	if current {
		if err != nil {
			committed = s.sink.CommitError(t.identity, t.generation, err)
		} else {
			committed = s.sink.Commit(t.identity, t.generation, value)
		}
	}
	observers := make([]RunObserver, len(s.observers))
	copy(observers, s.observers)
	s.mu.RUnlock()

	if t.markFinished(completed, err) && s.backoff != nil {
		s.reschedule(t)
	}

	record := model.RefreshRecord{
		TaskID:      t.id,
		Identity:    t.identity,
		Tile:        t.identity.String(),
		Kind:        t.identity.Kind.String(),
		Trigger:     trigger,
		Generation:  t.generation,
		StartedAt:   started,
		CompletedAt: completed,
		Duration:    completed.Sub(started),
	}

	switch {
	case !committed:
		record.Status = model.TaskStatusDiscarded
		if err != nil {
			record.Error = err.Error()
		}
		s.logger.Debug("Discarded result of superseded task",
			zap.String("tile", t.identity.String()),
			zap.Uint64("generation", t.generation))
	case err != nil:
		record.Status = model.TaskStatusFailed
		record.Error = err.Error()
		s.logger.Warn("Tile refresh failed",
			zap.String("tile", t.identity.String()),
			zap.String("trigger", string(trigger)),
			zap.Duration("duration", record.Duration),
			zap.Error(err))
	default:
		record.Status = model.TaskStatusCompleted
		record.Value = value
		s.logger.Debug("Tile refreshed",
			zap.String("tile", t.identity.String()),
			zap.String("trigger", string(trigger)),
			zap.Duration("duration", record.Duration))
	}

	for _, o := range observers {
		o.ObserveRun(record)
	}
}

// call invokes the job, converting panics into errors
func (s *RefreshScheduler) call(t *task) (value any, err error) {
	ctx := s.baseCtx
	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered panic in refresh job",
				zap.String("tile", t.identity.String()),
				zap.Any("panic", r))
			value, err = nil, fmt.Errorf("refresh of %s panicked: %v", t.identity, r)
		}
	}()
	return t.job(ctx)
}
