// Package sideeffect runs non-critical work off the request path. Submitting
// never blocks and never fails the caller: when the queue is full the task
// is dropped, logged and counted.
package sideeffect

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/valinor-ai/gatehouse/internal/metrics"
)

// Task is a unit of best-effort work. The context is detached from the
// submitting request and bounded by the queue's task timeout.
type Task func(ctx context.Context) error

// Config configures a Queue.
type Config struct {
	Name        string
	Size        int
	Workers     int
	TaskTimeout time.Duration
}

// Queue is a bounded task queue served by a fixed worker pool.
type Queue struct {
	cfg    Config
	tasks  chan Task
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New creates and starts a queue.
func New(cfg Config, logger *slog.Logger) *Queue {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Size <= 0 {
		cfg.Size = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		cfg:    cfg,
		tasks:  make(chan Task, cfg.Size),
		logger: logger.With("queue", cfg.Name),
	}
	q.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go q.worker()
	}
	return q
}

// Submit enqueues task and reports whether it was accepted.
func (q *Queue) Submit(task Task) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.drop("queue closed")
		return false
	}
	select {
	case q.tasks <- task:
		return true
	default:
		q.drop("queue full")
		return false
	}
}

// Close stops accepting tasks, runs everything already queued and waits
// for the workers to exit.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

func (q *Queue) drop(reason string) {
	metrics.SideEffectsDroppedTotal.WithLabelValues(q.cfg.Name).Inc()
	q.logger.Warn("dropping side effect", "reason", reason)
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for task := range q.tasks {
		q.run(task)
	}
}

func (q *Queue) run(task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.TaskTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("side effect panicked", "panic", r)
		}
	}()

	if err := task(ctx); err != nil {
		q.logger.Warn("side effect failed", "error", err)
	}
}
