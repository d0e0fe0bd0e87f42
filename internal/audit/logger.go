package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/valinor-ai/gatehouse/internal/metrics"
	"github.com/valinor-ai/gatehouse/internal/platform/database"
)

// LoggerConfig configures the async audit logger.
type LoggerConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	// FlushTimeout bounds a single batch insert.
	FlushTimeout time.Duration
	Logger       *slog.Logger
}

// AsyncLogger is a Recorder that batches events into audit_events from a
// single background worker. Events are dropped when the buffer is full, and
// flush errors are only logged.
type AsyncLogger struct {
	ch     chan Event
	done   chan struct{}
	store  *Store
	db     database.Querier
	cfg    LoggerConfig
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

var _ Logger = (*AsyncLogger)(nil)

// NewAsyncLogger creates and starts an async audit logger.
func NewAsyncLogger(db database.Querier, store *Store, cfg LoggerConfig) *AsyncLogger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 5 * time.Second
	}
	if store == nil {
		store = NewStore()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := &AsyncLogger{
		ch:     make(chan Event, cfg.BufferSize),
		done:   make(chan struct{}),
		store:  store,
		db:     db,
		cfg:    cfg,
		logger: logger.With("component", "audit"),
	}

	l.wg.Add(1)
	go l.worker()

	return l
}

// Record enqueues a redacted copy of event. It never blocks, and events
// recorded after Close are dropped.
func (l *AsyncLogger) Record(_ context.Context, event Event) {
	event.Changes = Redact(event.Changes)

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.drop(event, "logger closed")
		return
	}
	select {
	case l.ch <- event:
	default:
		l.drop(event, "buffer full")
	}
}

func (l *AsyncLogger) drop(event Event, reason string) {
	metrics.SideEffectsDroppedTotal.WithLabelValues("audit").Inc()
	logger := l.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("dropping audit event", "reason", reason, "action", event.Action, "tenant_id", event.TenantID)
}

// Close stops accepting events, flushes everything buffered and waits for
// the worker. It is safe to call more than once.
func (l *AsyncLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	l.mu.Unlock()

	l.wg.Wait()
	return nil
}

func (l *AsyncLogger) worker() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, l.cfg.BatchSize)
	for {
		select {
		case <-l.done:
			l.flush(append(batch, l.drainAll()...))
			return

		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= l.cfg.BatchSize {
				l.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

// flush inserts events in chunks of at most BatchSize rows.
func (l *AsyncLogger) flush(events []Event) {
	for len(events) > 0 {
		n := min(len(events), l.cfg.BatchSize)
		l.insert(events[:n])
		events = events[n:]
	}
}

func (l *AsyncLogger) insert(events []Event) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.FlushTimeout)
	defer cancel()

	if err := l.store.InsertBatch(ctx, l.db, events); err != nil {
		metrics.SideEffectsDroppedTotal.WithLabelValues("audit").Add(float64(len(events)))
		l.logger.Error("audit flush failed", "error", err, "count", len(events))
	}
}

func (l *AsyncLogger) drainAll() []Event {
	var events []Event
	for {
		select {
		case e := <-l.ch:
			events = append(events, e)
		default:
			return events
		}
	}
}
