package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tollchat/tollchat/internal/config"
)

// maxStoredTurns bounds the history kept per user so a long-running
// conversation does not grow the value without limit.
const maxStoredTurns = 50

// RedisStore implements Store on a Redis key per user holding a JSON array
// of turns with a TTL refreshed on every write.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis as described by cfg.
func NewRedisStore(cfg config.RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisStore{client: client, ttl: cfg.HistoryTTL}
}

// Ping verifies the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func historyKey(userID string) string {
	return "chat_history:" + userID
}

// Recent returns up to limit most recent turns, oldest first.
func (s *RedisStore) Recent(ctx context.Context, userID string, limit int) ([]Turn, error) {
	turns, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return Trim(turns, limit), nil
}

// Append adds turns to the user's history, trims to the storage bound, and
// rewrites the key with a fresh TTL. The read-modify-write is not atomic;
// concurrent writers for the same user are last-writer-wins by design.
func (s *RedisStore) Append(ctx context.Context, userID string, turns ...Turn) error {
	existing, err := s.load(ctx, userID)
	if err != nil {
		return err
	}

	combined := Trim(append(existing, turns...), maxStoredTurns)
	data, err := json.Marshal(combined)
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}

	if err := s.client.Set(ctx, historyKey(userID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("writing history for user %s: %w", userID, err)
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, userID string) ([]Turn, error) {
	raw, err := s.client.Get(ctx, historyKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading history for user %s: %w", userID, err)
	}

	var turns []Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, fmt.Errorf("decoding history for user %s: %w", userID, err)
	}
	return turns, nil
}

// Trim returns the last limit turns of the slice. A non-positive limit
// returns the slice unchanged.
func Trim(turns []Turn, limit int) []Turn {
	if limit <= 0 || len(turns) <= limit {
		return turns
	}
	return turns[len(turns)-limit:]
}
