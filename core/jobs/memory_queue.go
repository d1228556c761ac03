package jobs

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process queue for single-node deployments and tests.
// Jobs do not survive a restart.
type MemoryQueue struct {
	mu       sync.Mutex
	ready    []*Job
	inflight map[string]*Job
	timers   map[string]*time.Timer
	notify   chan struct{}
}

// NewMemoryQueue 创建内存队列
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		inflight: make(map[string]*Job),
		timers:   make(map[string]*time.Timer),
		notify:   make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) push(job *Job) {
	q.mu.Lock()
	q.ready = append(q.ready, job)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job *Job) error {
	q.push(job)
	return nil
}

func (q *MemoryQueue) EnqueueDelayed(ctx context.Context, job *Job, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, job)
	}
	q.mu.Lock()
	q.timers[job.ID] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, job.ID)
		q.mu.Unlock()
		q.push(job)
	})
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) pop() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return nil
	}
	job := q.ready[0]
	q.ready = q.ready[1:]
	q.inflight[job.ID] = job
	return job
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if job := q.pop(); job != nil {
			// wake another waiter if more work is queued
			if q.Len() > 0 {
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) Ack(ctx context.Context, job *Job) error {
	q.mu.Lock()
	delete(q.inflight, job.ID)
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Nack(ctx context.Context, job *Job) error {
	q.mu.Lock()
	_, taken := q.inflight[job.ID]
	delete(q.inflight, job.ID)
	q.mu.Unlock()
	if taken {
		q.push(job)
	}
	return nil
}

// Len is the number of ready jobs.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// Pending is the number of delayed jobs not yet due.
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// Stop cancels all delayed jobs.
func (q *MemoryQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
}
