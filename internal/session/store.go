package session

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrInvalidStoreKind is returned by NewStore for an unknown driver name.
	ErrInvalidStoreKind = errors.New("session: invalid store kind")
	// ErrInvalidConfig is returned when a driver's required option is missing.
	ErrInvalidConfig = errors.New("session: invalid store configuration")
)

// Store persists per-client conversation history. Get returns nil for an
// unknown client; absence is not an error.
type Store interface {
	Get(ctx context.Context, clientID string) ([]Message, error)
	Put(ctx context.Context, clientID string, history []Message) error
	Delete(ctx context.Context, clientID string) error
	Close() error
}

// StoreKind selects a Store driver.
type StoreKind string

const (
	StoreKindMemory StoreKind = "memory"
	StoreKindRedis  StoreKind = "redis"
)

// StoreOption configures a Store driver.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	redisTTL    time.Duration
}

// WithRedisClient sets the Redis client used by the redis driver.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithRedisTTL sets the key TTL for the redis driver. Defaults to one hour.
func WithRedisTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.redisTTL = ttl
	}
}

// NewStore creates a history Store. The memory driver is the default,
// single-process deployment; the redis driver externalizes history so a
// restart (or another replica) can pick up existing conversations.
func NewStore(kind StoreKind, opts ...StoreOption) (Store, error) {
	config := &storeConfig{}
	for _, opt := range opts {
		opt(config)
	}

	switch kind {
	case StoreKindMemory:
		return &memoryStore{histories: make(map[string][]Message)}, nil

	case StoreKindRedis:
		if config.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		ttl := config.redisTTL
		if ttl <= 0 {
			ttl = time.Hour
		}
		return &redisStore{client: config.redisClient, ttl: ttl}, nil

	default:
		return nil, ErrInvalidStoreKind
	}
}
