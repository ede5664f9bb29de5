package queue

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/fleet-alert-relay/internal/config"
	"github.com/smartdevs17/fleet-alert-relay/internal/metrics"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

// ErrStopped is returned by Submit after Stop has been called
var ErrStopped = errors.New("task queue stopped")

// Task is one unit of asynchronous work. Tasks sharing a Key run one at a
// time in submission order; tasks with different keys run concurrently.
type Task struct {
	Name        string
	Key         string
	MaxAttempts int
	Run         func(ctx context.Context) error
	// OnDeadLetter, when set, runs once after the task is given up on
	OnDeadLetter func(ctx context.Context, err error)
}

// DeadLetter is a task that exhausted its attempts
type DeadLetter struct {
	Name     string    `json:"name"`
	Key      string    `json:"key"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// Stats is a snapshot of queue counters
type Stats struct {
	Pending     int64 `json:"pending"`
	Succeeded   int64 `json:"succeeded"`
	Retried     int64 `json:"retried"`
	DeadLetters int64 `json:"dead_letters"`
}

type envelope struct {
	ctx  context.Context
	task Task
}

// workerKey marks contexts of tasks running on a queue's workers
type workerKey struct{}

// lane is one worker's FIFO. Outside submitters wait while it holds
// capacity items; submissions from running tasks always append.
type lane struct {
	mu       sync.Mutex
	items    []envelope
	capacity int
	closed   bool
	waiters  int
	space    chan struct{}
	wake     chan struct{}
}

func newLane(capacity int) *lane {
	return &lane{
		capacity: capacity,
		space:    make(chan struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// push appends env, or returns a channel that closes when room frees up
func (l *lane) push(env envelope, nested bool) (<-chan struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrStopped
	}
	if !nested && len(l.items) >= l.capacity {
		l.waiters++
		return l.space, nil
	}
	l.items = append(l.items, env)
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil, nil
}

func (l *lane) pop() (envelope, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == 0 {
		return envelope{}, false
	}
	env := l.items[0]
	l.items[0] = envelope{}
	l.items = l.items[1:]
	if len(l.items) == 0 {
		l.items = nil
	}
	if l.waiters > 0 {
		l.waiters = 0
		close(l.space)
		l.space = make(chan struct{})
	}
	return env, true
}

func (l *lane) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func (l *lane) abandon() {
	l.mu.Lock()
	if l.waiters > 0 {
		l.waiters--
	}
	l.mu.Unlock()
}

// Queue is a fixed pool of workers, each draining its own lane.
type Queue struct {
	cfg     config.QueueConfig
	logger  *logrus.Entry
	metrics *metrics.PrometheusMetrics

	lifecycle sync.Mutex
	started   bool
	stopped   atomic.Bool
	lanes     []*lane
	wg        sync.WaitGroup
	quit      chan struct{}
	next      uint32

	pendingMu sync.Mutex
	idle      *sync.Cond
	pending   int64

	dlMu        sync.Mutex
	deadLetters []DeadLetter

	succeeded atomic.Int64
	retried   atomic.Int64
	dead      atomic.Int64
}

// New creates a queue. Workers start with Start.
func New(cfg config.QueueConfig, m *metrics.PrometheusMetrics) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = time.Minute
	}
	if cfg.DeadLetterSize <= 0 {
		cfg.DeadLetterSize = 1000
	}

	q := &Queue{
		cfg:     cfg,
		logger:  utils.ComponentLogger("queue"),
		metrics: m,
		lanes:   make([]*lane, cfg.Workers),
		quit:    make(chan struct{}),
	}
	q.idle = sync.NewCond(&q.pendingMu)
	for i := range q.lanes {
		q.lanes[i] = newLane(cfg.BufferSize)
	}
	return q
}

// Start launches the worker goroutines
func (q *Queue) Start() {
	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()
	if q.started || q.stopped.Load() {
		return
	}
	q.started = true
	for i, l := range q.lanes {
		q.wg.Add(1)
		go q.worker(i, l)
	}
	q.logger.WithField("workers", len(q.lanes)).Info("Task queue started")
}

// Stop rejects new submissions, lets workers finish what is buffered and
// waits for them to exit. Tasks still buffered on a queue that never
// started are dead-lettered.
func (q *Queue) Stop() {
	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()
	if q.stopped.Swap(true) {
		return
	}
	for _, l := range q.lanes {
		l.close()
	}
	close(q.quit)
	q.wg.Wait()

	for _, l := range q.lanes {
		for {
			env, ok := l.pop()
			if !ok {
				break
			}
			q.deadLetter(env.ctx, env.task, 0, ErrStopped)
			q.track(-1)
		}
	}
	q.logger.Info("Task queue stopped")
}

// Submit enqueues a task. Outside callers block while the target worker's
// buffer is full, or until ctx is done. Tasks submitting follow-up work
// from inside the queue never block; their lane grows past the buffer
// instead. Values on ctx reach the task; its cancellation does not.
func (q *Queue) Submit(ctx context.Context, task Task) error {
	if task.Run == nil {
		return fmt.Errorf("task %s has no run function", task.Name)
	}
	if q.stopped.Load() {
		return ErrStopped
	}

	nested := ctx.Value(workerKey{}) == q
	env := envelope{ctx: utils.DetachedContext(ctx), task: task}
	l := q.lanes[q.route(task.Key)]

	q.track(1)
	for {
		space, err := l.push(env, nested)
		if err != nil {
			q.track(-1)
			return err
		}
		if space == nil {
			return nil
		}
		select {
		case <-space:
		case <-q.quit:
			l.abandon()
			q.track(-1)
			return ErrStopped
		case <-ctx.Done():
			l.abandon()
			q.track(-1)
			return ctx.Err()
		}
	}
}

// Wait blocks until every submitted task has finished or been dead-lettered
func (q *Queue) Wait() {
	q.pendingMu.Lock()
	for q.pending > 0 {
		q.idle.Wait()
	}
	q.pendingMu.Unlock()
}

// DeadLetters returns a copy of the dead-letter list, oldest first
func (q *Queue) DeadLetters() []DeadLetter {
	q.dlMu.Lock()
	defer q.dlMu.Unlock()
	out := make([]DeadLetter, len(q.deadLetters))
	copy(out, q.deadLetters)
	return out
}

// GetStats returns current queue counters
func (q *Queue) GetStats() Stats {
	q.pendingMu.Lock()
	pending := q.pending
	q.pendingMu.Unlock()
	return Stats{
		Pending:     pending,
		Succeeded:   q.succeeded.Load(),
		Retried:     q.retried.Load(),
		DeadLetters: q.dead.Load(),
	}
}

func (q *Queue) route(key string) int {
	if key == "" {
		return int(atomic.AddUint32(&q.next, 1) % uint32(len(q.lanes)))
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(q.lanes)))
}

func (q *Queue) track(delta int64) {
	q.pendingMu.Lock()
	q.pending += delta
	pending := q.pending
	if q.pending <= 0 {
		q.idle.Broadcast()
	}
	q.pendingMu.Unlock()
	q.metrics.UpdateQueueDepth(pending)
}

func (q *Queue) worker(id int, l *lane) {
	defer q.wg.Done()
	for {
		if env, ok := l.pop(); ok {
			q.execute(id, env)
			q.track(-1)
			continue
		}
		select {
		case <-l.wake:
		case <-q.quit:
			// drain what was buffered before the stop
			for {
				env, ok := l.pop()
				if !ok {
					return
				}
				q.execute(id, env)
				q.track(-1)
			}
		}
	}
}

// execute runs a task with retries. Retries happen on the same worker so
// later tasks with the same key never overtake a failing one.
func (q *Queue) execute(workerID int, env envelope) {
	task := env.task
	maxAttempts := task.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.MaxAttempts
	}
	logger := q.logger.WithFields(logrus.Fields{
		"task":   task.Name,
		"key":    task.Key,
		"worker": workerID,
	})

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := q.calculateRetryDelay(attempt)
			logger.WithFields(logrus.Fields{
				"attempt":      attempt,
				"max_attempts": maxAttempts,
				"delay":        delay,
			}).Debug("Retrying task")
			q.retried.Add(1)

			select {
			case <-time.After(delay):
			case <-q.quit:
				q.deadLetter(env.ctx, task, attempt-1, fmt.Errorf("queue stopped during retry: %w", err))
				return
			}
		}

		start := time.Now()
		err = q.runOnce(context.WithValue(env.ctx, workerKey{}, q), task)
		if err == nil {
			q.succeeded.Add(1)
			q.metrics.RecordQueueTask(task.Name, "success", time.Since(start))
			return
		}
		q.metrics.RecordQueueTask(task.Name, "error", time.Since(start))
		logger.WithError(err).WithField("attempt", attempt).Warn("Task attempt failed")
	}

	q.deadLetter(env.ctx, task, maxAttempts, err)
}

func (q *Queue) runOnce(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			appErr := utils.NewAppError(utils.ErrCodeInternal, "task panicked", fmt.Sprint(r)).WithStackTrace()
			q.logger.WithField("task", task.Name).WithField("stack", appErr.StackTrace).Error("Task panicked")
			err = appErr
		}
	}()
	return task.Run(ctx)
}

// calculateRetryDelay returns an exponential backoff capped at MaxRetryDelay
func (q *Queue) calculateRetryDelay(attempt int) time.Duration {
	delay := q.cfg.RetryDelay
	for i := 2; i < attempt; i++ {
		delay *= 2
		if delay >= q.cfg.MaxRetryDelay {
			return q.cfg.MaxRetryDelay
		}
	}
	if delay > q.cfg.MaxRetryDelay {
		return q.cfg.MaxRetryDelay
	}
	return delay
}

func (q *Queue) deadLetter(ctx context.Context, task Task, attempts int, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	q.dlMu.Lock()
	q.deadLetters = append(q.deadLetters, DeadLetter{
		Name:     task.Name,
		Key:      task.Key,
		Attempts: attempts,
		Error:    msg,
		FailedAt: time.Now().UTC(),
	})
	if len(q.deadLetters) > q.cfg.DeadLetterSize {
		q.deadLetters = q.deadLetters[len(q.deadLetters)-q.cfg.DeadLetterSize:]
	}
	q.dlMu.Unlock()

	q.dead.Add(1)
	q.metrics.RecordDeadLetter(task.Name)
	q.logger.WithFields(logrus.Fields{
		"task":     task.Name,
		"key":      task.Key,
		"attempts": attempts,
		"error":    msg,
	}).Error("Task moved to dead-letter list")

	if task.OnDeadLetter != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					q.logger.WithField("task", task.Name).Errorf("Dead-letter hook panicked: %v", r)
				}
			}()
			task.OnDeadLetter(ctx, err)
		}()
	}
}
