// Package outbox buffers outbound replies per client in a Redis list
// and delivers them in order. Draining is single-flight per client so
// concurrent triggers cannot interleave or duplicate messages.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/parleyhq/parley/internal/retry"
	"github.com/parleyhq/parley/pkg/logging"
)

// DefaultLockTTL bounds how long a crashed drainer can block a
// client's outbox.
const DefaultLockTTL = 60 * time.Second

// DeliverFunc pushes one message to the client over whatever transport
// is attached (websocket, webhook, test capture).
type DeliverFunc func(ctx context.Context, message string) error

// Queue is the per-client outbound message buffer.
type Queue struct {
	redis   *redis.Client
	lockTTL time.Duration
	policy  retry.Policy
	tracer  trace.Tracer
	logger  *logging.Logger
}

func NewQueue(rdb *redis.Client, lockTTL time.Duration, logger *logging.Logger) *Queue {
	if rdb == nil {
		panic("outbox: redis client cannot be nil")
	}
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Queue{
		redis:   rdb,
		lockTTL: lockTTL,
		policy:  retry.Default(),
		tracer:  otel.Tracer("parley.internal.outbox"),
		logger:  logger.Named("outbox"),
	}
}

// WithRetryPolicy overrides the delivery retry policy.
func (q *Queue) WithRetryPolicy(p retry.Policy) *Queue {
	q.policy = p
	return q
}

// Enqueue appends a message to the client's outbox.
func (q *Queue) Enqueue(ctx context.Context, clientID, message string) error {
	ctx, span := q.tracer.Start(ctx, "outbox.enqueue")
	defer span.End()

	if err := q.redis.RPush(ctx, outboxKey(clientID), message).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("outbox: failed to enqueue message: %w", err)
	}
	return nil
}

// Len reports how many messages are waiting for the client.
func (q *Queue) Len(ctx context.Context, clientID string) (int64, error) {
	n, err := q.redis.LLen(ctx, outboxKey(clientID)).Result()
	if err != nil {
		return 0, fmt.Errorf("outbox: failed to read queue length: %w", err)
	}
	return n, nil
}

// releaseScript frees the drain lock only for its current owner.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Drain delivers every queued message for the client in FIFO order.
// If another drain already holds the client's lock this call returns
// immediately with delivered=0; the holder will see any messages
// enqueued meanwhile because it loops until the list is empty. A
// message is only popped after its delivery succeeds, so a failed
// delivery leaves it at the head for the next drain.
func (q *Queue) Drain(ctx context.Context, clientID string, deliver DeliverFunc) (delivered int, err error) {
	ctx, span := q.tracer.Start(ctx, "outbox.drain")
	defer span.End()

	token := uuid.NewString()
	lockKey := drainLockKey(clientID)

	ok, err := q.redis.SetNX(ctx, lockKey, token, q.lockTTL).Result()
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("outbox: failed to acquire drain lock: %w", err)
	}
	if !ok {
		q.logger.Debug("drain already in flight", "client_id", clientID)
		return 0, nil
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rerr := releaseScript.Run(rctx, q.redis, []string{lockKey}, token).Err(); rerr != nil && rerr != redis.Nil {
			q.logger.Warn("failed to release drain lock", "client_id", clientID, "error", rerr)
		}
	}()

	for {
		message, err := q.redis.LIndex(ctx, outboxKey(clientID), 0).Result()
		if err == redis.Nil {
			return delivered, nil
		}
		if err != nil {
			span.RecordError(err)
			return delivered, fmt.Errorf("outbox: failed to peek queue: %w", err)
		}

		if err := q.policy.Do(ctx, func(ctx context.Context) error {
			return deliver(ctx, message)
		}); err != nil {
			span.RecordError(err)
			return delivered, fmt.Errorf("outbox: delivery failed for client %s: %w", clientID, err)
		}

		if err := q.redis.LPop(ctx, outboxKey(clientID)).Err(); err != nil && err != redis.Nil {
			span.RecordError(err)
			return delivered, fmt.Errorf("outbox: failed to pop delivered message: %w", err)
		}
		delivered++
	}
}

func outboxKey(clientID string) string {
	return fmt.Sprintf("outbox:%s", clientID)
}

func drainLockKey(clientID string) string {
	return fmt.Sprintf("outbox_drain:%s", clientID)
}
