// Package modelcache holds the client-owned cache of advertised model
// lists, keyed by service name ("image", "text"). Entries carry the fetch
// timestamp; refresh is always an explicit call by the client, never a
// background process.
package modelcache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is one cached model listing: the raw payload as returned by the
// service plus the time it was fetched.
type Entry struct {
	Payload   []byte    `json:"payload"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Store is the cache interface used by the client. Implemented by the
// memory store (default) and the Redis store.
type Store interface {
	Get(ctx context.Context, service string) (Entry, bool, error)
	Set(ctx context.Context, service string, entry Entry) error
	Close() error
}

type Config struct {
	Backend string // "memory" or "redis"
	TTL     time.Duration
	Prefix  string
}

// New selects a Store from the configured backend.
func New(cfg Config, redisClient *redis.Client) Store {
	switch cfg.Backend {
	case "redis":
		return NewRedisStore(redisClient, cfg.Prefix, cfg.TTL)
	default:
		return NewMemoryStore(cfg.TTL)
	}
}
