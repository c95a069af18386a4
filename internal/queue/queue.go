// Package queue hands a detector's event off to a durable key/value store
// and list, the way the teacher repo's redis-backed trackers
// (internal/database/redis_order_tracker.go) stage work for a downstream
// consumer: write the payload under a fresh key with a TTL, then push the
// key onto a list. The two writes are independent round-trips; there is no
// atomicity between them.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xiangxn/perpx/internal/logging"
	"github.com/xiangxn/perpx/internal/metrics"
)

const (
	msgKeyPrefix   = "perpx:msg:"
	queueKeyPrefix = "perpx:queue:"
)

// Commander is the subset of *redis.Client the queue adapter needs. Tests
// substitute a fake implementation instead of talking to a real server.
type Commander interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// Queue pushes serialized events into Redis. It is safe for concurrent use
// by every worker goroutine, because the underlying redis.Client already
// is.
type Queue struct {
	client     Commander
	defaultTTL time.Duration
}

// New builds a Queue backed by client, using defaultTTL when Push is called
// without an explicit TTL.
func New(client Commander, defaultTTL time.Duration) *Queue {
	return &Queue{client: client, defaultTTL: defaultTTL}
}

// NewClient constructs the *redis.Client the teacher's cache/order-tracker
// code uses, from host/port/user/password settings.
func NewClient(host string, port int, user, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Username: user,
		Password: password,
	})
}

// Push serializes message as JSON, stores it under a fresh random key with
// a TTL, and right-pushes that key onto the named queue's list. A ttl of 0
// uses the adapter's default TTL.
//
// On any store error the error is returned to the caller — typically a
// detector goroutine — which logs it and drops the message. There is no
// retry: staleness matters more than reliability for these events.
func (q *Queue) Push(ctx context.Context, queueName string, message interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("queue: marshal message: %w", err)
	}

	if ttl <= 0 {
		ttl = q.defaultTTL
	}

	key := msgKeyPrefix + uuid.New().String()
	if err := q.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("queue: set %s: %w", key, err)
	}

	listKey := queueKeyPrefix + queueName
	if err := q.client.RPush(ctx, listKey, key).Err(); err != nil {
		return fmt.Errorf("queue: rpush %s: %w", listKey, err)
	}

	return nil
}

// PushEvent is a convenience wrapper for the one message shape this system
// ever enqueues: a detector-produced Event.
func (q *Queue) PushEvent(ctx context.Context, queueName string, event interface{}, ttl time.Duration, log *logging.Logger) {
	if err := q.Push(ctx, queueName, event, ttl); err != nil {
		metrics.QueuePushErrors.Inc()
		log.Error("failed to push event to queue", "error", err, "queue", queueName)
	}
}
