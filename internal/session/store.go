package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/parleyhq/parley/pkg/logging"
)

// DefaultTTL is how long an idle session survives. Every load or save
// pushes the expiry forward by the full TTL.
const DefaultTTL = 24 * time.Hour

// Store persists dialogue contexts in Redis.
type Store struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
	logger *logging.Logger
}

func NewStore(rdb *redis.Client, ttl time.Duration, logger *logging.Logger) *Store {
	if rdb == nil {
		panic("session: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		redis:  rdb,
		ttl:    ttl,
		tracer: otel.Tracer("parley.internal.session"),
		logger: logger.Named("session"),
	}
}

// Load fetches the client's context. It never fails the conversation:
// a missing key, an unreachable Redis, or a corrupted value all yield
// a fresh context. Corrupted values are deleted so the key does not
// stay poisoned.
func (s *Store) Load(ctx context.Context, clientID string) *Context {
	ctx, span := s.tracer.Start(ctx, "session.load")
	defer span.End()

	data, err := s.redis.Get(ctx, contextKey(clientID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			span.RecordError(err)
			s.logger.Warn("session load failed, starting fresh", "client_id", clientID, "error", err)
		}
		return NewContext()
	}

	var sc Context
	if err := json.Unmarshal(data, &sc); err != nil {
		span.RecordError(err)
		s.logger.Warn("session payload corrupted, discarding", "client_id", clientID, "error", err)
		if delErr := s.redis.Del(ctx, contextKey(clientID)).Err(); delErr != nil {
			s.logger.Warn("failed to delete corrupted session", "client_id", clientID, "error", delErr)
		}
		return NewContext()
	}

	// Reading a session counts as activity.
	if err := s.redis.Expire(ctx, contextKey(clientID), s.ttl).Err(); err != nil {
		span.RecordError(err)
		s.logger.Warn("failed to refresh session ttl", "client_id", clientID, "error", err)
	}
	return &sc
}

// Save writes the context back with a full TTL.
func (s *Store) Save(ctx context.Context, clientID string, sc *Context) error {
	ctx, span := s.tracer.Start(ctx, "session.save")
	defer span.End()

	data, err := json.Marshal(sc)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to marshal context: %w", err)
	}
	if err := s.redis.Set(ctx, contextKey(clientID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to persist context: %w", err)
	}
	return nil
}

// Delete removes the client's context outright.
func (s *Store) Delete(ctx context.Context, clientID string) error {
	ctx, span := s.tracer.Start(ctx, "session.delete")
	defer span.End()

	if err := s.redis.Del(ctx, contextKey(clientID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to delete context: %w", err)
	}
	return nil
}

func contextKey(clientID string) string {
	return fmt.Sprintf("context:%s", clientID)
}
