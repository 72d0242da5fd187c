// Package cache provides a Redis-backed cache in front of BioThings queries.
//
// Results are cached per query term, keyed by source type and by the scopes
// and fields of the request, so a cached answer is only reused for an
// identical lookup. Cache failures never fail a query; they are logged and
// the lookup falls through to the upstream source.
package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"github.com/zero-day-ai/annotator/biothings"
	"github.com/zero-day-ai/annotator/record"
)

// RedisOptions configures the Redis connection and cache behavior.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// TLS configuration for secure connections
	TLS *tls.Config

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations
	WriteTimeout time.Duration

	// TTL is how long a cached answer is kept. Default: 24h.
	TTL time.Duration

	// Prefix namespaces every key. Default: "annotator".
	Prefix string

	// Logger receives cache warnings. Default: slog.Default().
	Logger *slog.Logger
}

// Cache stores annotation records in Redis.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(opts RedisOptions) (*Cache, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 3 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	if opts.TTL == 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.Prefix == "" {
		opts.Prefix = "annotator"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{
		client: client,
		ttl:    opts.TTL,
		prefix: opts.Prefix,
		logger: opts.Logger,
	}, nil
}

// Ping checks that Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Wrap returns a Querier that serves typ lookups from the cache and
// forwards misses to next.
func (c *Cache) Wrap(typ string, next biothings.Querier) biothings.Querier {
	return &cachedQuerier{cache: c, typ: typ, next: next}
}

// key builds "<prefix>:<type>:<fingerprint>:<id>".
func (c *Cache) key(typ, fingerprint, id string) string {
	return formatKeyName(c.prefix, typ, fingerprint, id)
}

// fingerprint identifies the scopes and fields of a request.
func fingerprint(scopes, fields []string) string {
	sum := xxhash.Sum64String(strings.Join(scopes, ",") + "|" + strings.Join(fields, ","))
	return fmt.Sprintf("%016x", sum)
}

func formatKeyName(parts ...string) string {
	return strings.Join(parts, ":")
}

type cachedQuerier struct {
	cache *Cache
	typ   string
	next  biothings.Querier
}

// QueryMany returns cached records for known ids (in input order) followed
// by upstream records for the rest (in upstream order).
func (q *cachedQuerier) QueryMany(ctx context.Context, ids, scopes, fields []string) ([]record.Record, error) {
	unique := dedupe(ids)
	if len(unique) == 0 {
		return nil, nil
	}

	fp := fingerprint(scopes, fields)
	keys := make([]string, len(unique))
	for i, id := range unique {
		keys[i] = q.cache.key(q.typ, fp, id)
	}

	hits := q.lookup(ctx, unique, keys)

	var misses []string
	for _, id := range unique {
		if _, ok := hits[id]; !ok {
			misses = append(misses, id)
		}
	}

	var out []record.Record
	for _, id := range unique {
		out = append(out, hits[id]...)
	}

	if len(misses) == 0 {
		return out, nil
	}

	fresh, err := q.next.QueryMany(ctx, misses, scopes, fields)
	if err != nil {
		return nil, err
	}

	grouped, err := record.GroupByQuery(fresh)
	if err != nil {
		return nil, err
	}
	q.store(ctx, fp, misses, grouped)

	return append(out, fresh...), nil
}

func (q *cachedQuerier) lookup(ctx context.Context, ids, keys []string) map[string][]record.Record {
	hits := make(map[string][]record.Record)

	vals, err := q.cache.client.MGet(ctx, keys...).Result()
	if err != nil {
		q.cache.logger.Warn("cache lookup failed", "type", q.typ, "error", err)
		return hits
	}

	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rs []record.Record
		if err := json.Unmarshal([]byte(s), &rs); err != nil {
			q.cache.logger.Warn("discarding corrupt cache entry", "key", keys[i], "error", err)
			continue
		}
		hits[ids[i]] = rs
	}

	q.cache.logger.Debug("cache lookup", "type", q.typ, "ids", len(ids), "hits", len(hits))
	return hits
}

// store caches the answer for every miss, including empty answers.
func (q *cachedQuerier) store(ctx context.Context, fp string, misses []string, grouped map[string][]record.Record) {
	pipe := q.cache.client.Pipeline()
	for _, id := range misses {
		rs := grouped[id]
		if rs == nil {
			rs = []record.Record{}
		}
		data, err := json.Marshal(rs)
		if err != nil {
			q.cache.logger.Warn("failed to marshal records for cache", "id", id, "error", err)
			continue
		}
		pipe.Set(ctx, q.cache.key(q.typ, fp, id), data, q.cache.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		q.cache.logger.Warn("cache store failed", "type", q.typ, "error", err)
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
