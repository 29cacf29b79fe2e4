package queue

import (
	"context"
	"testing"
	"time"

	"github.com/petriflow/workflow/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueDeliversInOrder(t *testing.T) {
	q := NewMemoryQueue(logger.New("error", "text"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, "test", []byte("one")))
	require.NoError(t, q.Publish(ctx, "test", []byte("two")))

	received := make(chan string, 2)
	go q.Subscribe(ctx, "test", func(ctx context.Context, value []byte) error {
		received <- string(value)
		return nil
	})

	assert.Equal(t, "one", <-received)
	assert.Equal(t, "two", <-received)
}

func TestMemoryQueueTopicsAreIndependent(t *testing.T) {
	q := NewMemoryQueue(logger.New("error", "text"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, "a", []byte("for-a")))

	received := make(chan string, 1)
	go q.Subscribe(ctx, "b", func(ctx context.Context, value []byte) error {
		received <- string(value)
		return nil
	})

	select {
	case msg := <-received:
		t.Fatalf("topic b received %q", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryQueueSubscribeStopsOnCancel(t *testing.T) {
	q := NewMemoryQueue(logger.New("error", "text"))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- q.Subscribe(ctx, "test", func(ctx context.Context, value []byte) error {
			return nil
		})
	}()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("subscribe did not stop on cancel")
	}
}

func TestMemoryQueueHandlerErrorDoesNotStopConsumption(t *testing.T) {
	q := NewMemoryQueue(logger.New("error", "text"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, "test", []byte("bad")))
	require.NoError(t, q.Publish(ctx, "test", []byte("good")))

	received := make(chan string, 2)
	go q.Subscribe(ctx, "test", func(ctx context.Context, value []byte) error {
		received <- string(value)
		if string(value) == "bad" {
			return assert.AnError
		}
		return nil
	})

	assert.Equal(t, "bad", <-received)
	assert.Equal(t, "good", <-received)
}
