package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/petriflow/workflow/common/config"
	"github.com/petriflow/workflow/common/logger"
	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Redis-list backed queue. Producers LPUSH, the consumer
// BRPOPs, so messages survive a service restart as long as Redis does.
type RedisQueue struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisQueue creates a queue backed by a Redis list per topic
func NewRedisQueue(ctx context.Context, cfg *config.Config, log *logger.Logger) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Queue.RedisPassword,
		DB:       0,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info("queue connected", "addr", cfg.RedisAddr())

	return &RedisQueue{
		client: client,
		log:    log,
	}, nil
}

// Publish pushes a message onto the topic list
func (q *RedisQueue) Publish(ctx context.Context, topic string, message []byte) error {
	if err := q.client.LPush(ctx, listKey(topic), message).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe pops messages from the topic list until the context is canceled.
// A failed handler re-queues the message at the tail so the Petri engine's
// at-least-once expectations hold for submit-net jobs.
func (q *RedisQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	key := listKey(topic)

	for {
		result, err := q.client.BRPop(ctx, 5*time.Second, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.log.Error("queue pop failed", "topic", topic, "error", err)
			time.Sleep(time.Second)
			continue
		}

		// BRPop returns [key, value]
		payload := []byte(result[1])
		if err := handler(ctx, payload); err != nil {
			q.log.Error("message handler failed, requeueing", "topic", topic, "error", err)
			if pushErr := q.client.LPush(ctx, key, payload).Err(); pushErr != nil {
				q.log.Error("requeue failed, message dropped", "topic", topic, "error", pushErr)
			}
		}
	}
}

// Close closes the underlying Redis client
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func listKey(topic string) string {
	return "queue:" + topic
}
