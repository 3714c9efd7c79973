// Package queue is the delayed work queue that drives re-checks and background jobs.
package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindCheckRun        Kind = "check_run"
	KindStreamRun       Kind = "stream_run"
	KindCleanup         Kind = "cleanup"
	KindClearEmpty      Kind = "clear_empty"
	KindDeleteAssistant Kind = "delete_assistant"
)

// Job is one unit of scheduled work.
type Job struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	MessageID int64  `json:"message_id,omitempty"`
	// RemoteAssistantID targets delete_assistant. Empty means every remote assistant.
	RemoteAssistantID string `json:"remote_assistant_id,omitempty"`
}

// Scheduler is the write side of a queue.
type Scheduler interface {
	Schedule(ctx context.Context, job Job, delay time.Duration) error
}

// Queue stores jobs until they are due. Claim removes what it returns, so each job
// is handed to one worker.
type Queue interface {
	Scheduler
	Claim(ctx context.Context, now time.Time, max int) ([]Job, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

func ensureID(job *Job) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
}

type entry struct {
	job Job
	due time.Time
}

// MemoryQueue keeps jobs in process.
type MemoryQueue struct {
	mu      sync.Mutex
	entries []entry
	now     func() time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{now: time.Now}
}

func (q *MemoryQueue) Schedule(ctx context.Context, job Job, delay time.Duration) error {
	ensureID(&job)
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append(q.entries, entry{job: job, due: q.now().Add(delay)})
	sort.SliceStable(q.entries, func(i, j int) bool { return q.entries[i].due.Before(q.entries[j].due) })
	return nil
}

func (q *MemoryQueue) Claim(ctx context.Context, now time.Time, max int) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Job
	i := 0
	for ; i < len(q.entries) && len(out) < max; i++ {
		if q.entries[i].due.After(now) {
			break
		}
		out = append(out, q.entries[i].job)
	}
	q.entries = q.entries[i:]
	return out, nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries), nil
}

// Scheduled is a queued job and the time it becomes due.
type Scheduled struct {
	Job Job
	Due time.Time
}

// Pending returns queued jobs in due order.
func (q *MemoryQueue) Pending() []Scheduled {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Scheduled, len(q.entries))
	for i, e := range q.entries {
		out[i] = Scheduled{Job: e.job, Due: e.due}
	}
	return out
}

func (q *MemoryQueue) Close() error { return nil }
