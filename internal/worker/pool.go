// Package worker runs email processing on a bounded queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/metrics"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when the queue cannot take another email
	ErrQueueFull = errors.New("worker queue full")
	// ErrStopped is returned after Stop was called
	ErrStopped = errors.New("worker pool stopped")
	// ErrAlreadyQueued is returned for an email id that is queued or being processed
	ErrAlreadyQueued = errors.New("email already queued")
)

// Processor handles one email
type Processor interface {
	Process(ctx context.Context, email *core.Email) (*core.Assessment, error)
}

// Pool is a fixed set of workers draining a bounded queue. Each email is
// handled by exactly one worker.
type Pool struct {
	processor Processor
	workers   int
	logger    *zap.Logger

	queue  chan *core.Email
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	running  bool
	stopped  bool
	inFlight map[string]bool
}

// NewPool creates a pool with the given worker count and queue size
func NewPool(processor Processor, workers, queueSize int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		processor: processor,
		workers:   workers,
		logger:    logger,
		queue:     make(chan *core.Email, queueSize),
		ctx:       ctx,
		cancel:    cancel,
		inFlight:  make(map[string]bool),
	}
}

// Start launches the workers. It is safe to call more than once.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.stopped {
		return
	}
	p.running = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	p.logger.Info("Worker pool started",
		zap.Int("workers", p.workers),
		zap.Int("queue_size", cap(p.queue)))
}

// Submit queues an email without blocking
func (p *Pool) Submit(_ context.Context, email *core.Email) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	if p.inFlight[email.ID] {
		return fmt.Errorf("email %s: %w", email.ID, ErrAlreadyQueued)
	}
	select {
	case p.queue <- email:
		p.inFlight[email.ID] = true
		metrics.QueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		metrics.QueueRejected.Inc()
		p.logger.Warn("Worker queue full, rejecting email",
			zap.String("email_id", email.ID),
			zap.Int("queue_size", cap(p.queue)))
		return ErrQueueFull
	}
}

// Stop stops accepting emails and waits for the queue to drain. When ctx
// expires first, in-progress work is cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("Worker pool stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		p.logger.Warn("Worker pool stopped before the queue drained", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

// Len returns the number of queued emails
func (p *Pool) Len() int {
	return len(p.queue)
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	for email := range p.queue {
		metrics.QueueDepth.Set(float64(len(p.queue)))
		p.process(id, email)
	}
}

func (p *Pool) process(id int, email *core.Email) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker panicked",
				zap.Int("worker", id),
				zap.String("email_id", email.ID),
				zap.Any("panic", r))
		}
		p.mu.Lock()
		delete(p.inFlight, email.ID)
		p.mu.Unlock()
	}()

	if p.ctx.Err() != nil {
		p.logger.Warn("Dropping queued email after shutdown", zap.String("email_id", email.ID))
		return
	}
	if _, err := p.processor.Process(p.ctx, email); err != nil {
		p.logger.Error("Failed to process email",
			zap.Int("worker", id),
			zap.String("email_id", email.ID),
			zap.Error(err))
	}
}
