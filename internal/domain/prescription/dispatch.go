package prescription

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Dispatcher hands a queued prescription to whatever runs the analysis.
type Dispatcher interface {
	Dispatch(ctx context.Context, id uuid.UUID) error
}

// Analyzer runs the analysis of one prescription.
type Analyzer interface {
	RunAnalysis(ctx context.Context, id uuid.UUID) error
}

// ErrQueueFull is returned by WorkerPool.Dispatch when no slot is free.
var ErrQueueFull = errors.New("analysis queue is full")

// ErrPoolStopped is returned by WorkerPool.Dispatch after Stop.
var ErrPoolStopped = errors.New("analysis worker pool stopped")

// ---------------------------------------------------------------------------
// In-process worker pool
// ---------------------------------------------------------------------------

// WorkerPool runs analyses on a fixed number of goroutines fed by a bounded
// queue.
type WorkerPool struct {
	analyzer Analyzer
	workers  int
	queue    chan uuid.UUID
	logger   zerolog.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func NewWorkerPool(analyzer Analyzer, workers, queueSize int, logger zerolog.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &WorkerPool{
		analyzer: analyzer,
		workers:  workers,
		queue:    make(chan uuid.UUID, queueSize),
		logger:   logger.With().Str("component", "analysis_pool").Logger(),
	}
}

// Start launches the workers. They run until Stop is called or ctx ends.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go func() {
			defer wp.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id, ok := <-wp.queue:
					if !ok {
						return
					}
					wp.run(ctx, id)
				}
			}
		}()
	}
}

func (wp *WorkerPool) run(ctx context.Context, id uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error().Interface("panic", r).Str("record_id", id.String()).Msg("analysis panicked")
		}
	}()
	if err := wp.analyzer.RunAnalysis(ctx, id); err != nil {
		wp.logger.Warn().Err(err).Str("record_id", id.String()).Msg("analysis did not complete")
	}
}

// Dispatch enqueues id without blocking.
func (wp *WorkerPool) Dispatch(_ context.Context, id uuid.UUID) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return ErrPoolStopped
	}
	select {
	case wp.queue <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for queued analyses to finish.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.stopped {
		wp.stopped = true
		close(wp.queue)
	}
	wp.mu.Unlock()
	wp.wg.Wait()
}

// ---------------------------------------------------------------------------
// NATS
// ---------------------------------------------------------------------------

// NATSDispatcher publishes prescription ids on a subject. Subscribe runs the
// consuming side in a queue group so each id is analysed by one instance.
type NATSDispatcher struct {
	nc      *nats.Conn
	subject string
	logger  zerolog.Logger
}

func NewNATSDispatcher(nc *nats.Conn, subject string, logger zerolog.Logger) *NATSDispatcher {
	return &NATSDispatcher{
		nc:      nc,
		subject: subject,
		logger:  logger.With().Str("component", "analysis_nats").Logger(),
	}
}

func (d *NATSDispatcher) Dispatch(_ context.Context, id uuid.UUID) error {
	return d.nc.Publish(d.subject, []byte(id.String()))
}

// Subscribe consumes ids from the subject and analyses each with analyzer.
// Work is shared across every subscriber in queue.
func (d *NATSDispatcher) Subscribe(ctx context.Context, analyzer Analyzer, queue string) (*nats.Subscription, error) {
	return d.nc.QueueSubscribe(d.subject, queue, func(msg *nats.Msg) {
		raw := strings.TrimSpace(string(msg.Data))
		id, err := uuid.Parse(raw)
		if err != nil {
			d.logger.Warn().Str("payload", raw).Msg("discarding malformed analysis message")
			return
		}
		if err := analyzer.RunAnalysis(ctx, id); err != nil {
			d.logger.Warn().Err(err).Str("record_id", id.String()).Msg("analysis did not complete")
		}
	})
}
