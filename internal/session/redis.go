package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "history:"

// redisStore externalizes history as JSON values with a sliding TTL, so
// active conversations stay alive and abandoned ones expire server-side.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func (s *redisStore) Get(ctx context.Context, clientID string) ([]Message, error) {
	key := redisKeyPrefix + clientID

	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get %s: %w", key, err)
	}

	var history []Message
	if err := json.Unmarshal([]byte(val), &history); err != nil {
		return nil, fmt.Errorf("session: decoding history for %s: %w", clientID, err)
	}

	// Refresh TTL on read so active conversations do not expire mid-use.
	_ = s.client.Expire(ctx, key, s.ttl).Err()

	return history, nil
}

func (s *redisStore) Put(ctx context.Context, clientID string, history []Message) error {
	val, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("session: encoding history for %s: %w", clientID, err)
	}
	return s.client.Set(ctx, redisKeyPrefix+clientID, val, s.ttl).Err()
}

func (s *redisStore) Delete(ctx context.Context, clientID string) error {
	return s.client.Del(ctx, redisKeyPrefix+clientID).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
