// Package queue provides generation job queue interfaces and implementations.
package queue

import (
	"context"
	"errors"
)

// Common errors returned by queue operations.
var (
	// ErrNoJobs is returned when no jobs are available in the queue.
	ErrNoJobs = errors.New("no jobs available")
	// ErrJobNotFound is returned when a job cannot be found.
	ErrJobNotFound = errors.New("job not found")
)

// Queue defines the interface for generation job queue operations. Entries
// carry only the job ID; the ledger owns the job record itself.
type Queue interface {
	// Enqueue adds a job ID to the queue.
	Enqueue(ctx context.Context, jobID string) error

	// Dequeue retrieves and locks the next available job ID.
	// Returns ErrNoJobs if no jobs are available.
	Dequeue(ctx context.Context) (string, error)

	// Ack acknowledges successful processing, removing the entry.
	Ack(ctx context.Context, jobID string) error

	// Nack indicates that processing failed, making the entry available
	// for retry.
	Nack(ctx context.Context, jobID string) error
}
