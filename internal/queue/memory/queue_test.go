package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/narvanalabs/forge/internal/queue"
)

func TestFIFOOrder(t *testing.T) {
	q := New()
	ctx := context.Background()

	q.Enqueue(ctx, "first")
	q.Enqueue(ctx, "second")

	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != "first" {
		t.Errorf("Dequeue = %s, want first", got)
	}
}

func TestDequeueEmpty(t *testing.T) {
	q := New()
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, queue.ErrNoJobs) {
		t.Fatalf("expected ErrNoJobs, got %v", err)
	}
}

func TestAckRemovesEntry(t *testing.T) {
	q := New()
	ctx := context.Background()

	q.Enqueue(ctx, "job")
	q.Dequeue(ctx)

	if err := q.Ack(ctx, "job"); err != nil {
		t.Fatal(err)
	}
	if err := q.Ack(ctx, "job"); !errors.Is(err, queue.ErrJobNotFound) {
		t.Fatalf("second Ack should fail, got %v", err)
	}
}

func TestNackRequeues(t *testing.T) {
	q := New()
	ctx := context.Background()

	q.Enqueue(ctx, "job")
	q.Dequeue(ctx)

	if err := q.Nack(ctx, "job"); err != nil {
		t.Fatal(err)
	}

	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != "job" {
		t.Errorf("Dequeue after Nack = %s, want job", got)
	}
}

func TestAckUnknownJob(t *testing.T) {
	q := New()
	if err := q.Ack(context.Background(), "ghost"); !errors.Is(err, queue.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}
