package migration

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/service"
)

var (
	ErrQueueFull     = errors.New("migration queue is full")
	ErrWorkerStopped = errors.New("migration worker is not running")
)

// JobRunner executes one migration job.
type JobRunner interface {
	Run(ctx context.Context, job service.MigrationJob) error
}

// Worker runs migration jobs on a fixed number of goroutines fed by a bounded queue.
// Each job runs in isolation; a hung or panicking job cannot stall the others.
type Worker struct {
	runner  JobRunner
	workers int
	logger  *zap.Logger

	mu         sync.Mutex
	queue      chan service.MigrationJob
	stop       chan struct{}
	cancelJobs context.CancelFunc
	wg         sync.WaitGroup
	running    bool
}

func NewWorker(runner JobRunner, workers, queueSize int, logger *zap.Logger) *Worker {
	if runner == nil {
		panic("migration worker requires runner")
	}
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		runner:  runner,
		workers: workers,
		logger:  logger,
		queue:   make(chan service.MigrationJob, queueSize),
	}
}

// Start launches the worker goroutines. Calling Start twice is a no-op.
// Jobs keep ctx's values but not its cancellation; only Stop ends them.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancelJobs = cancel
	w.stop = make(chan struct{})
	w.running = true
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.loop(jobCtx, w.stop, i)
	}
}

// Stop stops taking jobs and waits for in-flight ones to finish. When ctx expires first,
// in-flight jobs are cancelled. Queued jobs that never started stay in
// credentials_received for the maintenance sweep.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stop)
	cancel := w.cancelJobs
	w.mu.Unlock()
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		cancel()
		return fmt.Errorf("stop migration worker: %w", ctx.Err())
	}
}

// Enqueue never blocks; a full queue is reported to the caller.
func (w *Worker) Enqueue(ctx context.Context, job service.MigrationJob) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return ErrWorkerStopped
	}

	select {
	case w.queue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (w *Worker) loop(ctx context.Context, stop <-chan struct{}, idx int) {
	defer w.wg.Done()
	for {
		select {
		case <-stop:
			return
		default:
		}

		select {
		case <-stop:
			return
		case job := <-w.queue:
			w.runOne(ctx, idx, job)
		}
	}
}

func (w *Worker) runOne(ctx context.Context, idx int, job service.MigrationJob) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("migration job panicked",
				zap.Int("worker", idx),
				zap.String("task_id", job.TaskID.String()),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	if err := w.runner.Run(ctx, job); err != nil {
		w.logger.Warn("migration job finished with error",
			zap.Int("worker", idx),
			zap.String("task_id", job.TaskID.String()),
			zap.Error(err),
		)
	}
}

var _ service.MigrationQueue = (*Worker)(nil)
