package reconcile

import (
	"context"
	"log/slog"
	"sync"
)

// Job is one stale transaction to poll.
type Job struct {
	TransactionID     string
	CheckoutRequestID string
}

type Worker struct {
	ID         int
	WorkerPool chan chan Job
	JobChannel chan Job
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan Job, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan Job),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(context.Context, Job)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				w.Logger.Debug("reconcile worker shutting down", "worker_id", w.ID)
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("reconcile worker processing job", "worker_id", w.ID, "transaction_id", job.TransactionID)
				processFunc(ctx, job)
			case <-ctx.Done():
				w.Logger.Debug("reconcile worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}
