package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"

	"ticket-delivery/internal/infra/logging"
)

const keyPrefix = "ticketcache:"

// DocumentCache keeps rendered tickets in Redis so identical reprints skip the service.
type DocumentCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New returns a cache writing entries with ttl (one minute when ttl <= 0).
func New(rdb *redis.Client, ttl time.Duration) *DocumentCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &DocumentCache{rdb: rdb, ttl: ttl}
}

// Key derives the cache key from the caller's token and the serialized request
// body. Callers with different credentials never share an entry.
func Key(body []byte, token string) string {
	h := sha256.New()
	h.Write([]byte(token))
	h.Write([]byte{0})
	h.Write(body)
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached document, or nil on a miss or a Redis failure.
func (c *DocumentCache) Get(ctx context.Context, key string) []byte {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		logging.Warn("Redis read failed", "error", err)
		return nil
	}
	logging.Info("Ticket cache hit", "key", key)
	return data
}

// Set stores data; failures are logged only.
func (c *DocumentCache) Set(ctx context.Context, key string, data []byte) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		logging.Warn("Redis write failed", "error", err)
	}
}
