package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quorumhq/quorum/internal/metrics"
)

// indexKey is the sorted set tracking entry age for count-based eviction.
const indexKey = "res:index"

// Redis is the Redis-backed ResultCache. TTL expiry is server-side; count
// eviction uses a creation-time sorted set. Any Redis error is logged and
// treated as a miss/no-op.
type Redis struct {
	cli        *redis.Client
	ttl        time.Duration
	maxEntries int
	logger     *zap.Logger
}

// NewRedis creates a Redis cache and verifies connectivity with one ping.
func NewRedis(addr string, ttl time.Duration, maxEntries int, logger *zap.Logger) (*Redis, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cli := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Redis{cli: cli, ttl: ttl, maxEntries: maxEntries, logger: logger}, nil
}

// Get fetches the entry for a query.
func (r *Redis) Get(ctx context.Context, query string) (*Entry, bool) {
	key := Key(query)

	b, err := r.cli.Get(ctx, key).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	if err != nil {
		r.absorb("get", err)
		metrics.CacheMisses.Inc()
		return nil, false
	}

	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		r.absorb("decode", err)
		metrics.CacheMisses.Inc()
		return nil, false
	}
	if e.Expired(time.Now()) {
		// Server TTL should have caught this; remove defensively anyway.
		_ = r.cli.Del(ctx, key).Err()
		_ = r.cli.ZRem(ctx, indexKey, key).Err()
		metrics.CacheEvictions.Inc()
		metrics.CacheMisses.Inc()
		return nil, false
	}

	metrics.CacheHits.Inc()
	return &e, true
}

// Store saves a response with a server-side TTL and trims the oldest entries
// past the count limit.
func (r *Redis) Store(ctx context.Context, query, response string, agentIDs []string) {
	key := Key(query)
	now := time.Now()

	e := Entry{
		Query:     Normalize(query),
		Response:  response,
		AgentIDs:  agentIDs,
		CreatedAt: now,
		TTL:       r.ttl,
	}
	buf, err := json.Marshal(e)
	if err != nil {
		r.absorb("encode", err)
		return
	}

	pipe := r.cli.TxPipeline()
	pipe.Set(ctx, key, buf, r.ttl)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(now.UnixNano()), Member: key})
	if _, err := pipe.Exec(ctx); err != nil {
		r.absorb("store", err)
		return
	}

	count, err := r.cli.ZCard(ctx, indexKey).Result()
	if err != nil {
		r.absorb("count", err)
		return
	}
	if int(count) <= r.maxEntries {
		return
	}

	// Evict oldest-first down to the limit.
	excess := int(count) - r.maxEntries
	oldest, err := r.cli.ZPopMin(ctx, indexKey, int64(excess)).Result()
	if err != nil {
		r.absorb("evict", err)
		return
	}
	for _, z := range oldest {
		if k, ok := z.Member.(string); ok {
			_ = r.cli.Del(ctx, k).Err()
			metrics.CacheEvictions.Inc()
		}
	}
}

// Clear drops all entries tracked by the index.
func (r *Redis) Clear(ctx context.Context) {
	keys, err := r.cli.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		r.absorb("clear", err)
		return
	}
	if len(keys) > 0 {
		_ = r.cli.Del(ctx, keys...).Err()
	}
	_ = r.cli.Del(ctx, indexKey).Err()
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.cli.Close()
}

// Client exposes the underlying client for health probes.
func (r *Redis) Client() *redis.Client {
	return r.cli
}

func (r *Redis) absorb(op string, err error) {
	metrics.CacheErrors.Inc()
	r.logger.Warn("Cache operation failed, treating as miss",
		zap.String("op", op),
		zap.Error(err),
	)
}
