package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Handler executes one job. A returned error is logged; jobs are not retried.
type Handler func(ctx context.Context, job Job) error

type route struct {
	handler Handler
	timeout time.Duration
}

type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int64
}

// Worker claims due jobs and dispatches them by kind.
type Worker struct {
	queue  Queue
	routes map[Kind]route
	cfg    WorkerConfig
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	logger *zap.Logger
}

func NewWorker(q Queue, cfg WorkerConfig, logger *zap.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Worker{
		queue:  q,
		routes: make(map[Kind]route),
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.Concurrency),
		logger: logger.Named("worker"),
	}
}

// Handle registers h for kind. A positive timeout bounds each execution.
func (w *Worker) Handle(kind Kind, h Handler, timeout time.Duration) {
	w.routes[kind] = route{handler: h, timeout: timeout}
}

// Run polls until ctx is cancelled, then waits for in-flight jobs.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.logger.Info("Worker started", zap.Duration("poll_interval", w.cfg.PollInterval))
	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			w.logger.Info("Worker stopped")
			return nil
		case <-ticker.C:
			if _, err := w.dispatchDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("Failed to claim jobs", zap.Error(err))
			}
		}
	}
}

// RunOnce dispatches every job due now and waits for them to finish.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	n, err := w.dispatchDue(ctx)
	w.wg.Wait()
	return n, err
}

// dispatchDue starts every job Claim handed back, including the partial batch
// returned with a claim error. Jobs that cannot be started go back on the queue.
func (w *Worker) dispatchDue(ctx context.Context) (int, error) {
	jobs, claimErr := w.queue.Claim(ctx, time.Now(), w.cfg.BatchSize)
	if claimErr != nil && len(jobs) > 0 {
		w.logger.Warn("Partial claim", zap.Error(claimErr), zap.Int("claimed", len(jobs)))
	}
	for i, job := range jobs {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			w.requeue(jobs[i:])
			return i, errors.Join(err, claimErr)
		}
		w.wg.Add(1)
		go func(job Job) {
			defer w.wg.Done()
			defer w.sem.Release(1)
			w.execute(ctx, job)
		}(job)
	}
	return len(jobs), claimErr
}

// requeue puts claimed but unstarted jobs back. It ignores ctx since the caller's
// context is usually the one that was just cancelled.
func (w *Worker) requeue(jobs []Job) {
	for _, job := range jobs {
		if err := w.queue.Schedule(context.Background(), job, 0); err != nil {
			w.logger.Error("Failed to requeue job", zap.Error(err),
				zap.String("kind", string(job.Kind)), zap.String("job_id", job.ID))
		}
	}
	w.logger.Info("Requeued unstarted jobs", zap.Int("count", len(jobs)))
}

func (w *Worker) execute(ctx context.Context, job Job) {
	r, ok := w.routes[job.Kind]
	if !ok {
		w.logger.Warn("No handler for job", zap.String("kind", string(job.Kind)), zap.String("job_id", job.ID))
		return
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	err := safeCall(ctx, r.handler, job)
	if err != nil {
		w.logger.Error("Job failed",
			zap.Error(err),
			zap.String("kind", string(job.Kind)),
			zap.String("job_id", job.ID),
			zap.Int64("message_id", job.MessageID))
		return
	}
	w.logger.Debug("Job done",
		zap.String("kind", string(job.Kind)),
		zap.String("job_id", job.ID),
		zap.Duration("took", time.Since(start)))
}

func safeCall(ctx context.Context, h Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}
