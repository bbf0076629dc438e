// Package events provides real-time streaming of job progress.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/narvanalabs/forge/internal/models"
)

// Event is one observable moment of a job's life: a phase transition or a
// build log line.
type Event struct {
	JobID     string          `json:"job_id"`
	Type      string          `json:"type"` // "phase" or "log"
	Phase     models.JobPhase `json:"phase,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Subscriber represents one event stream subscription.
type Subscriber struct {
	ID        string
	JobID     string
	Ch        chan *Event
	CreatedAt time.Time
}

// Broker manages event subscriptions and publishing.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	logger      *slog.Logger
}

// NewBroker creates a new event broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subscribers: make(map[string]*Subscriber),
		logger:      logger,
	}
}

// Subscribe creates a new subscription for a job's events. An empty jobID
// subscribes to all jobs.
func (b *Broker) Subscribe(ctx context.Context, jobID string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		ID:        uuid.New().String(),
		JobID:     jobID,
		Ch:        make(chan *Event, 100),
		CreatedAt: time.Now(),
	}

	b.subscribers[sub.ID] = sub
	b.logger.Debug("subscriber added", "subscriber_id", sub.ID, "job_id", jobID)
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[sub.ID]; exists {
		close(sub.Ch)
		delete(b.subscribers, sub.ID)
		b.logger.Debug("subscriber removed", "subscriber_id", sub.ID)
	}
}

// PublishPhase announces a phase transition.
func (b *Broker) PublishPhase(jobID string, phase models.JobPhase) {
	b.publish(&Event{
		JobID:     jobID,
		Type:      "phase",
		Phase:     phase,
		Timestamp: time.Now().UTC(),
	})
}

// PublishLog announces a build log line.
func (b *Broker) PublishLog(jobID, line string) {
	b.publish(&Event{
		JobID:     jobID,
		Type:      "log",
		Message:   line,
		Timestamp: time.Now().UTC(),
	})
}

func (b *Broker) publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.JobID != "" && sub.JobID != event.JobID {
			continue
		}
		select {
		case sub.Ch <- event:
		default:
			// Channel full, drop rather than block the pipeline.
			b.logger.Warn("subscriber channel full, dropping event",
				"subscriber_id", sub.ID,
				"job_id", event.JobID,
			)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
