// Package processing runs review checks on an in-process goroutine pool when
// no Redis queue is configured.
package processing

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/ProofDrop/internal/model"
)

var (
	// ErrQueueFull is returned when the pool cannot accept more work.
	ErrQueueFull = errors.New("review queue full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("review pool closed")
)

// Checker reviews one registration.
type Checker interface {
	Check(ctx context.Context, reg model.Registration) error
}

// Processor consumes review jobs on a fixed number of workers.
type Processor struct {
	checker Checker
	log     *zap.Logger
	queue   chan model.Registration
	workers int
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New builds a Processor with queue capacity tied to worker count.
func New(checker Checker, workers int, log *zap.Logger) *Processor {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		checker: checker,
		log:     log,
		queue:   make(chan model.Registration, workers*4),
		workers: workers,
	}
}

// Start launches worker goroutines; they exit when ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Wait blocks until every worker has exited.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// RequestReview queues reg without blocking. A full queue drops the job and
// reports ErrQueueFull; the registration itself is already stored.
func (p *Processor) RequestReview(ctx context.Context, reg model.Registration) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- reg:
		return nil
	default:
		p.log.Warn("review queue full, dropping job", zap.String("id", reg.ID))
		return ErrQueueFull
	}
}

// Close stops intake. Workers finish what is already queued, then exit.
func (p *Processor) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
}

func (p *Processor) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case reg, ok := <-p.queue:
			if !ok {
				return
			}
			if err := p.checker.Check(ctx, reg); err != nil {
				p.log.Warn("review check failed", zap.String("id", reg.ID), zap.Error(err))
			}
		}
	}
}
