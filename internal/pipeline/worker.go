package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/narvanalabs/forge/internal/ledger"
	"github.com/narvanalabs/forge/internal/queue"
)

// Worker processes generation jobs from the queue.
type Worker struct {
	orchestrator *Orchestrator
	queue        queue.Queue
	logger       *slog.Logger

	concurrency int
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// WorkerConfig holds configuration for the pipeline worker.
type WorkerConfig struct {
	Concurrency int
}

// DefaultWorkerConfig returns a WorkerConfig with sensible defaults.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{Concurrency: 2}
}

// NewWorker creates a new pipeline worker.
func NewWorker(cfg *WorkerConfig, orch *Orchestrator, q queue.Queue, logger *slog.Logger) *Worker {
	if cfg == nil {
		cfg = DefaultWorkerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		orchestrator: orch,
		queue:        q,
		logger:       logger,
		concurrency:  cfg.Concurrency,
		stopCh:       make(chan struct{}),
	}
}

// Start begins processing jobs from the queue. It spawns one goroutine per
// configured concurrency slot.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting pipeline worker", "concurrency", w.concurrency)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// Stop gracefully stops the worker and waits for in-flight jobs to finish
// their current stage.
func (w *Worker) Stop() {
	w.logger.Info("stopping pipeline worker")
	close(w.stopCh)
	w.wg.Wait()
	w.logger.Info("pipeline worker stopped")
}

// workerLoop is the main loop for a single worker goroutine.
func (w *Worker) workerLoop(ctx context.Context, workerID int) {
	defer w.wg.Done()

	logger := w.logger.With("worker_id", workerID)
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker context cancelled")
			return
		case <-w.stopCh:
			logger.Debug("worker stop signal received")
			return
		default:
			jobID, err := w.queue.Dequeue(ctx)
			if err != nil {
				if errors.Is(err, queue.ErrNoJobs) {
					time.Sleep(1 * time.Second)
					continue
				}
				logger.Error("failed to dequeue job", "error", err)
				time.Sleep(5 * time.Second)
				continue
			}

			if err := w.orchestrator.Execute(ctx, jobID); err != nil {
				// A conflict means another worker moved the job, and an
				// interrupted job is left mid-phase; both go back on the
				// queue so a live worker picks them up.
				if errors.Is(err, ledger.ErrConflict) || errors.Is(err, context.Canceled) {
					logger.Warn("requeueing interrupted job", "job_id", jobID, "reason", err)
					if nackErr := w.queue.Nack(context.Background(), jobID); nackErr != nil {
						logger.Error("failed to nack job", "job_id", jobID, "error", nackErr)
					}
					continue
				}
				// Failed and cancelled jobs reached a terminal phase; the
				// queue entry is done either way.
				logger.Error("job did not complete", "job_id", jobID, "error", err)
			}

			if err := w.queue.Ack(context.Background(), jobID); err != nil {
				logger.Error("failed to ack job", "job_id", jobID, "error", err)
			}
		}
	}
}
