package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mazuri-stores/mazuri-api/internal"
	"github.com/mazuri-stores/mazuri-api/internal/transaction"
	"github.com/mazuri-stores/mazuri-api/internal/transaction/postgres"
)

var ErrQueueFull = errors.New("reconcile job queue is full")

type PendingLister interface {
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]postgres.PendingTransaction, error)
}

type Poller interface {
	PollByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*transaction.Transaction, error)
}

type MetricsRecorder interface {
	SweepPolled(result string)
}

type noopMetrics struct{}

func (noopMetrics) SweepPolled(string) {}

// Sweeper periodically polls the provider for transactions whose callback
// never arrived, using a fixed pool of workers.
type Sweeper struct {
	lister  PendingLister
	poller  Poller
	locker  Locker
	metrics MetricsRecorder
	cfg     internal.ReconcileConfig
	logger  *slog.Logger
	now     func() time.Time

	jobQueue   chan Job
	workerPool chan chan Job

	mu      sync.Mutex
	queued  map[string]struct{}
	pending sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	start  sync.Once
	once   sync.Once
}

func NewSweeper(lister PendingLister, poller Poller, locker Locker, metrics MetricsRecorder, cfg internal.ReconcileConfig, logger *slog.Logger) *Sweeper {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.JobQueueSize <= 0 {
		cfg.JobQueueSize = 100
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if locker == nil {
		locker = NoopLocker{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		lister:     lister,
		poller:     poller,
		locker:     locker,
		metrics:    metrics,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		jobQueue:   make(chan Job, cfg.JobQueueSize),
		workerPool: make(chan chan Job, cfg.MaxWorkers),
		queued:     make(map[string]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// StartWorkers launches the worker pool and dispatcher without the ticker.
func (s *Sweeper) StartWorkers() {
	s.start.Do(func() {
		for i := 0; i < s.cfg.MaxWorkers; i++ {
			worker := NewWorker(i+1, s.workerPool, s.logger)
			worker.Start(s.ctx, &s.wg, s.process)
		}

		s.wg.Add(1)
		go s.dispatch()

		s.logger.Info("reconcile worker pool started", "max_workers", s.cfg.MaxWorkers, "queue_size", s.cfg.JobQueueSize)
	})
}

// Start runs a sweep every Interval until ctx is done or Shutdown is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.StartWorkers()

	interval := s.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil {
					s.logger.Error("reconcile sweep failed", "error", err)
				}
			case <-ctx.Done():
				return
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

func (s *Sweeper) dispatch() {
	defer s.wg.Done()

	for {
		select {
		case job := <-s.jobQueue:
			select {
			case jobChannel := <-s.workerPool:
				select {
				case jobChannel <- job:
				case <-s.ctx.Done():
					s.release(job)
					return
				}
			case <-s.ctx.Done():
				s.release(job)
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// Sweep lists stale pending transactions and queues one poll job for each.
// It returns the number of jobs queued.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.MinAge)

	stale, err := s.lister.ListStalePending(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale pending transactions: %w", err)
	}

	queued := 0
	for _, p := range stale {
		if p.CheckoutRequestID == "" {
			continue
		}
		job := Job{TransactionID: p.TransactionID, CheckoutRequestID: p.CheckoutRequestID}
		if err := s.enqueue(job); err != nil {
			if errors.Is(err, ErrQueueFull) {
				s.logger.Warn("reconcile queue full, deferring remaining transactions", "remaining", len(stale)-queued)
				break
			}
			continue
		}
		queued++
	}

	if queued > 0 {
		s.logger.Info("reconcile sweep queued transactions", "queued", queued, "found", len(stale))
	}
	return queued, nil
}

func (s *Sweeper) enqueue(job Job) error {
	s.mu.Lock()
	if _, dup := s.queued[job.TransactionID]; dup {
		s.mu.Unlock()
		return errors.New("already queued")
	}
	s.queued[job.TransactionID] = struct{}{}
	s.pending.Add(1)
	s.mu.Unlock()

	select {
	case s.jobQueue <- job:
		return nil
	default:
		s.release(job)
		return ErrQueueFull
	}
}

func (s *Sweeper) release(job Job) {
	s.mu.Lock()
	delete(s.queued, job.TransactionID)
	s.mu.Unlock()
	s.pending.Done()
}

func (s *Sweeper) process(ctx context.Context, job Job) {
	defer s.release(job)

	logger := s.logger.With("transaction_id", job.TransactionID, "checkout_request_id", job.CheckoutRequestID)

	unlock, ok, err := s.locker.Acquire(ctx, "reconcile:"+job.CheckoutRequestID, s.cfg.LockTTL)
	if err != nil {
		logger.Error("failed to acquire reconcile lock", "error", err)
		s.metrics.SweepPolled("error")
		return
	}
	if !ok {
		logger.Debug("transaction locked by another sweeper")
		s.metrics.SweepPolled("locked")
		return
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to release reconcile lock", "error", err)
		}
	}()

	tx, err := s.poller.PollByCheckoutRequestID(ctx, job.CheckoutRequestID)
	if err != nil {
		logger.Warn("reconcile poll failed", "error", err)
		s.metrics.SweepPolled("error")
		return
	}

	logger.Info("reconcile poll finished", "status", tx.Status)
	s.metrics.SweepPolled(string(tx.Status))
}

// Wait blocks until every queued job has been processed or ctx is done.
func (s *Sweeper) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) Shutdown() {
	s.once.Do(func() {
		s.logger.Info("shutting down reconcile sweeper")
		s.cancel()
		s.wg.Wait()

		// drop anything still buffered so Wait callers are released
		for {
			select {
			case job := <-s.jobQueue:
				s.release(job)
			default:
				s.logger.Info("reconcile sweeper shut down")
				return
			}
		}
	})
}
