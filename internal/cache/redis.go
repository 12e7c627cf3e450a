package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/josh-kwaku/roomlink-settlements/internal/logging"
)

// Connect accepts either a redis:// URL or a bare host:port.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("cache.Connect: parse url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache.Connect: ping: %w", err)
	}
	return client, nil
}

// ReadCache stores JSON read models. Every entry is namespaced by a generation
// counter, so Invalidate drops everything at once by bumping it. All failures
// are logged and treated as misses. A nil *ReadCache is a valid no-op cache.
type ReadCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Generation identifies the cache generation a read observed. A value computed
// after a Get is only stored if no Invalidate happened in between.
type Generation int64

// NoGeneration is returned when the generation could not be read; Set ignores it.
const NoGeneration Generation = -1

func NewReadCache(client *redis.Client, prefix string, ttl time.Duration) *ReadCache {
	return &ReadCache{client: client, prefix: prefix, ttl: ttl}
}

// Get loads key into dst. The returned generation must be handed to Set when
// the caller fills a miss.
func (c *ReadCache) Get(ctx context.Context, key string, dst any) (Generation, bool) {
	if c == nil {
		return NoGeneration, false
	}
	log := logging.FromContext(ctx)

	gen, err := c.generation(ctx, c.client)
	if err != nil {
		log.Warn("cache generation lookup failed", "key", key, "error", err)
		return NoGeneration, false
	}

	raw, err := c.client.Get(ctx, c.entryKey(gen, key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn("cache get failed", "key", key, "error", err)
		}
		return gen, false
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		log.Warn("cache entry undecodable", "key", key, "error", err)
		return gen, false
	}
	return gen, true
}

// Set stores v under the generation observed by Get. The write is dropped when
// the generation has moved on, since v may predate the mutation that moved it.
func (c *ReadCache) Set(ctx context.Context, key string, gen Generation, v any) {
	if c == nil || gen == NoGeneration {
		return
	}
	log := logging.FromContext(ctx)

	raw, err := json.Marshal(v)
	if err != nil {
		log.Warn("cache marshal failed", "key", key, "error", err)
		return
	}

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := c.generation(ctx, tx)
		if err != nil {
			return err
		}
		if current != gen {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.entryKey(gen, key), raw, c.ttl)
			return nil
		})
		return err
	}, c.generationKey())

	switch {
	case err == nil:
	case errors.Is(err, errStaleGeneration), errors.Is(err, redis.TxFailedErr):
		log.Debug("cache set skipped, invalidated meanwhile", "key", key)
	default:
		log.Warn("cache set failed", "key", key, "error", err)
	}
}

// Invalidate makes every entry written so far unreachable.
func (c *ReadCache) Invalidate(ctx context.Context) {
	if c == nil {
		return
	}
	if err := c.client.Incr(ctx, c.generationKey()).Err(); err != nil {
		logging.FromContext(ctx).Warn("cache invalidate failed", "error", err)
	}
}

var errStaleGeneration = errors.New("cache generation changed")

// getter is satisfied by both *redis.Client and the *redis.Tx of a WATCH.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (c *ReadCache) generation(ctx context.Context, r getter) (Generation, error) {
	gen, err := r.Get(ctx, c.generationKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return NoGeneration, err
	}
	return Generation(gen), nil
}

func (c *ReadCache) entryKey(gen Generation, key string) string {
	return fmt.Sprintf("%s:%d:%s", c.prefix, gen, key)
}

func (c *ReadCache) generationKey() string {
	return c.prefix + ":generation"
}

func (c *ReadCache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

func (c *ReadCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
