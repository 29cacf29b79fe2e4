package queue

import (
	"context"
	"sync"

	"github.com/petriflow/workflow/common/logger"
)

// Queue interface for async task passing. Workflow submission and webhook
// delivery go through here so that HTTP handlers commit and return without
// waiting on external services.
type Queue interface {
	Publish(ctx context.Context, topic string, message []byte) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	Close() error
}

// MessageHandler processes messages
type MessageHandler func(ctx context.Context, value []byte) error

// Topics carried by the queue
const (
	TopicSubmitNet      = "workflow.submit-net"
	TopicDeliverWebhook = "workflow.deliver-webhook"
)

// MemoryQueue is an in-memory queue used in tests and single-process runs
type MemoryQueue struct {
	topics map[string]chan []byte
	mu     sync.RWMutex
	log    *logger.Logger
}

// NewMemoryQueue creates a new in-memory queue
func NewMemoryQueue(log *logger.Logger) *MemoryQueue {
	return &MemoryQueue{
		topics: make(map[string]chan []byte),
		log:    log,
	}
}

// Publish publishes a message to a topic
func (q *MemoryQueue) Publish(ctx context.Context, topic string, message []byte) error {
	ch := q.channel(topic)

	select {
	case ch <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe consumes messages from a topic until the context is canceled.
// Handler errors are logged and the message is dropped; redelivery is the
// publisher's concern.
func (q *MemoryQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	ch := q.channel(topic)

	for {
		select {
		case msg := <-ch:
			if err := handler(ctx, msg); err != nil {
				q.log.Error("message handler failed", "topic", topic, "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close closes the queue
func (q *MemoryQueue) Close() error {
	return nil
}

func (q *MemoryQueue) channel(topic string) chan []byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch, exists := q.topics[topic]
	if !exists {
		ch = make(chan []byte, 1000) // Buffered channel
		q.topics[topic] = ch
	}
	return ch
}
