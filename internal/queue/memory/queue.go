// Package memory provides an in-memory implementation of the job queue,
// used for tests and single-node development.
package memory

import (
	"context"
	"sync"

	"github.com/narvanalabs/forge/internal/queue"
)

// Queue implements queue.Queue with a mutex-guarded slice.
type Queue struct {
	mu         sync.Mutex
	pending    []string
	processing map[string]bool
}

// New creates an empty in-memory queue.
func New() *Queue {
	return &Queue{
		processing: make(map[string]bool),
	}
}

// Enqueue adds a job ID to the queue.
func (q *Queue) Enqueue(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, jobID)
	return nil
}

// Dequeue retrieves the oldest pending job ID.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return "", queue.ErrNoJobs
	}
	jobID := q.pending[0]
	q.pending = q.pending[1:]
	q.processing[jobID] = true
	return jobID, nil
}

// Ack removes a processing entry.
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.processing[jobID] {
		return queue.ErrJobNotFound
	}
	delete(q.processing, jobID)
	return nil
}

// Nack returns a processing entry to the pending list.
func (q *Queue) Nack(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.processing[jobID] {
		return queue.ErrJobNotFound
	}
	delete(q.processing, jobID)
	q.pending = append(q.pending, jobID)
	return nil
}
