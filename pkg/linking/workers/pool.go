// Package workers runs pools of goroutines that consume a task queue.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/penf-linker/pkg/linking/queues"
	"github.com/otherjamesbrown/penf-linker/pkg/logging"
)

// WorkerStatus represents the worker's current status.
type WorkerStatus string

const (
	WorkerStatusStarting WorkerStatus = "starting"
	WorkerStatusHealthy  WorkerStatus = "healthy"
	WorkerStatusBusy     WorkerStatus = "busy"
	WorkerStatusDraining WorkerStatus = "draining"
	WorkerStatusStopped  WorkerStatus = "stopped"
)

// TaskHandler processes one task. The context is cancelled when the pool is
// stopped without draining in time.
type TaskHandler func(ctx context.Context, task *queues.Task) error

// Config configures a pool.
type Config struct {
	Name         string        `yaml:"name"`
	Count        int           `yaml:"count"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Worker is a single consumer goroutine.
type Worker struct {
	ID string

	status       atomic.Value // WorkerStatus
	lastActivity atomic.Int64 // unix nanos

	ProcessedCount atomic.Int64
	FailedCount    atomic.Int64
}

func newWorker() *Worker {
	w := &Worker{ID: uuid.New().String()}
	w.status.Store(WorkerStatusStarting)
	return w
}

// Status returns the worker's current status.
func (w *Worker) Status() WorkerStatus {
	return w.status.Load().(WorkerStatus)
}

// LastActivity returns when the worker last picked up a task.
func (w *Worker) LastActivity() time.Time {
	n := w.lastActivity.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Pool runs Count workers over one queue.
type Pool struct {
	config  Config
	queue   queues.Queue
	handler TaskHandler
	done    func(task *queues.Task)
	logger  logging.Logger

	mu       sync.RWMutex
	workers  []*Worker
	started  bool
	draining atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	finished chan struct{}

	stopOnce sync.Once
	drained  bool
}

// Option configures a pool.
type Option func(*Pool)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithTaskDone calls fn after each task is acknowledged, whatever its
// outcome.
func WithTaskDone(fn func(task *queues.Task)) Option {
	return func(p *Pool) {
		p.done = fn
	}
}

// NewPool creates a pool. Count below one is raised to one.
func NewPool(config Config, queue queues.Queue, handler TaskHandler, opts ...Option) *Pool {
	if config.Count < 1 {
		config.Count = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 100 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		config:  config,
		queue:   queue,
		handler: handler,
		logger:  logging.NewNopLogger(),
		ctx:     ctx,
		cancel:  cancel,
		finished: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(logging.Component("worker_pool"), logging.F("pool", config.Name))
	return p
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.config.Name
}

// Start launches the workers. Calling it twice has no effect.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.config.Count; i++ {
		w := newWorker()
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.processLoop(w)
		}()
	}
	go func() {
		p.wg.Wait()
		close(p.finished)
	}()
	p.logger.Debug("Worker pool started", logging.F("workers", p.config.Count))
}

// Stop lets the workers finish every queued task, waiting at most timeout.
// Workers still running after timeout have their context cancelled. Returns
// whether the queue drained in time. Repeated calls return the first result.
func (p *Pool) Stop(timeout time.Duration) bool {
	p.stopOnce.Do(func() {
		p.drained = p.stop(timeout)
	})
	return p.drained
}

func (p *Pool) stop(timeout time.Duration) bool {
	p.mu.RLock()
	started := p.started
	p.mu.RUnlock()
	p.draining.Store(true)
	if !started {
		p.cancel()
		return true
	}

	select {
	case <-p.finished:
		p.cancel()
		p.logger.Debug("Worker pool drained")
		return true
	case <-time.After(timeout):
	}

	p.cancel()
	p.logger.Warn("Worker pool did not drain in time, cancelling running tasks",
		logging.F("timeout", timeout.String()))
	// Handlers observe the cancelled context; give them a moment to return.
	select {
	case <-p.finished:
	case <-time.After(time.Second):
	}
	return false
}

// Draining reports whether Stop was called.
func (p *Pool) Draining() bool {
	return p.draining.Load()
}

func (p *Pool) processLoop(w *Worker) {
	w.status.Store(WorkerStatusHealthy)
	defer w.status.Store(WorkerStatusStopped)

	for {
		if p.ctx.Err() != nil {
			return
		}
		if p.draining.Load() {
			w.status.Store(WorkerStatusDraining)
		}

		task, err := p.queue.Dequeue(p.ctx, p.config.PollInterval)
		switch {
		case err == nil:
			p.process(w, task)
		case errors.Is(err, queues.ErrQueueEmpty):
			if p.draining.Load() {
				return
			}
		case errors.Is(err, queues.ErrQueueClosed), p.ctx.Err() != nil:
			return
		default:
			p.logger.Error("Failed to dequeue task", logging.F("worker", w.ID), logging.Err(err))
			select {
			case <-time.After(p.config.PollInterval):
			case <-p.ctx.Done():
				return
			}
		}
	}
}

func (p *Pool) process(w *Worker, task *queues.Task) {
	w.lastActivity.Store(time.Now().UnixNano())
	w.status.Store(WorkerStatusBusy)
	defer w.status.Store(WorkerStatusHealthy)

	err := p.run(task)
	if ackErr := p.queue.Ack(context.Background(), task.ID); ackErr != nil {
		p.logger.Warn("Failed to ack task", logging.F("task", task.ID), logging.Err(ackErr))
	}
	if p.done != nil {
		p.done(task)
	}
	if err != nil {
		w.FailedCount.Add(1)
		p.logger.Debug("Task failed",
			logging.F("worker", w.ID), logging.F("task", task.ID),
			logging.F("document", task.Key.String()), logging.Err(err))
		return
	}
	w.ProcessedCount.Add(1)
}

// run calls the handler, turning a panic into an error so one bad task
// cannot take down the worker.
func (p *Pool) run(task *queues.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.ID, r)
			p.logger.Error("Task panicked", logging.F("task", task.ID), logging.F("panic", fmt.Sprint(r)))
		}
	}()
	return p.handler(p.ctx, task)
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := PoolStats{
		Name:        p.config.Name,
		WorkerCount: len(p.workers),
		Draining:    p.draining.Load(),
	}
	for _, w := range p.workers {
		switch w.Status() {
		case WorkerStatusBusy:
			stats.BusyCount++
			stats.ActiveCount++
		case WorkerStatusHealthy, WorkerStatusDraining:
			stats.ActiveCount++
		}
		stats.Processed += w.ProcessedCount.Load()
		stats.Failed += w.FailedCount.Load()
	}
	return stats
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Name        string `json:"name"`
	WorkerCount int    `json:"workerCount"`
	ActiveCount int    `json:"activeCount"`
	BusyCount   int    `json:"busyCount"`
	Processed   int64  `json:"processed"`
	Failed      int64  `json:"failed"`
	Draining    bool   `json:"draining"`
}
