package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"CastShelf/logger"

	"golang.org/x/sync/errgroup"
)

// Handler processes one job. A returned error is logged and the job is still
// acked; jobs interrupted by shutdown are handed back to the queue.
type Handler func(ctx context.Context, job *Job) error

// Worker dispatches dequeued jobs to handlers by type.
type Worker struct {
	queue       Queue
	handlers    map[Type]Handler
	concurrency int
	pollTimeout time.Duration
	staleAfter  time.Duration
}

// NewWorker 创建任务执行器
func NewWorker(queue Queue, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		queue:       queue,
		handlers:    make(map[Type]Handler),
		concurrency: concurrency,
		pollTimeout: 2 * time.Second,
	}
}

// Handle registers h for jobs of type t.
func (w *Worker) Handle(t Type, h Handler) {
	w.handlers[t] = h
}

// RecoverStale makes Run periodically re-queue jobs that have been in flight
// longer than after, when the queue supports it. Zero disables recovery.
func (w *Worker) RecoverStale(after time.Duration) {
	w.staleAfter = after
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	logger.Info("worker started", logger.Int("concurrency", w.concurrency))
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			return w.loop(ctx)
		})
	}
	if r, ok := w.queue.(Recoverer); ok && w.staleAfter > 0 {
		g.Go(func() error {
			return w.recoverLoop(ctx, r)
		})
	}
	err := g.Wait()
	logger.Info("worker stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		job, err := w.queue.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("dequeue failed", logger.ErrorField(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}
		w.dispatch(ctx, job)
	}
}

func (w *Worker) recoverLoop(ctx context.Context, r Recoverer) error {
	ticker := time.NewTicker(w.staleAfter / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := r.Recover(ctx, w.staleAfter)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn("recovering stale jobs failed", logger.ErrorField(err))
				continue
			}
			if n > 0 {
				logger.Info("re-queued stale jobs", logger.Int("count", n))
			}
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, job *Job) {
	start := time.Now()
	err := w.safeRun(ctx, job)
	if err != nil {
		logger.Error("job failed",
			logger.String("jobId", job.ID),
			logger.String("type", string(job.Type)),
			logger.Duration("elapsed", time.Since(start)),
			logger.ErrorField(err))
	} else {
		logger.Debug("job done",
			logger.String("jobId", job.ID),
			logger.String("type", string(job.Type)),
			logger.Duration("elapsed", time.Since(start)))
	}
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if ctx.Err() != nil {
		logger.Warn("job interrupted", logger.String("jobId", job.ID), logger.String("type", string(job.Type)))
		if err := w.queue.Nack(ackCtx, job); err != nil {
			logger.Warn("nack failed", logger.String("jobId", job.ID), logger.ErrorField(err))
		}
		return
	}
	if err := w.queue.Ack(ackCtx, job); err != nil {
		logger.Warn("ack failed", logger.String("jobId", job.ID), logger.ErrorField(err))
	}
}

func (w *Worker) safeRun(ctx context.Context, job *Job) (err error) {
	h, ok := w.handlers[job.Type]
	if !ok {
		return fmt.Errorf("no handler for job type %q", job.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return h(ctx, job)
}
