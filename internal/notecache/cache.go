// Package notecache wraps the batch note resolver with request deduplication
// and a staleness window. The resolver is a pure function of its inputs, so
// the cache can sit in front of it without changing its semantics: partial
// hits are served from the backend and the remaining identifiers still go out
// as one batch.
package notecache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/learnstr/learnstr/internal/config"
	"github.com/learnstr/learnstr/internal/ops"
	"github.com/learnstr/learnstr/internal/resolver"
)

// NoteResolver is the interface the cache fronts.
type NoteResolver interface {
	Resolve(ctx context.Context, ids []string, kinds []int) map[string]resolver.Result
}

// Cache is a read-through note cache. Found notes live for the configured
// TTL, confirmed absences for a shorter one, and whole-batch errors are never
// cached.
type Cache struct {
	resolver NoteResolver
	backend  Backend
	flight   singleflight.Group
	ttl      time.Duration
	missTTL  time.Duration
	log      *ops.Logger
}

// New builds a cache with the backend selected by configuration.
func New(res NoteResolver, cfg *config.Cache, log *ops.Logger) (*Cache, error) {
	var backend Backend
	switch cfg.Engine {
	case "memory":
		backend = NewMemoryBackend(time.Duration(cfg.CleanupIntervalS) * time.Second)
	case "redis":
		rb, err := NewRedisBackend(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis cache backend: %w", err)
		}
		backend = rb
	default:
		return nil, fmt.Errorf("unsupported cache engine: %s", cfg.Engine)
	}

	return NewWithBackend(res, backend, cfg, log), nil
}

// NewWithBackend builds a cache over an explicit backend.
func NewWithBackend(res NoteResolver, backend Backend, cfg *config.Cache, log *ops.Logger) *Cache {
	return &Cache{
		resolver: res,
		backend:  backend,
		ttl:      time.Duration(cfg.TTLSeconds) * time.Second,
		missTTL:  time.Duration(cfg.MissTTLSeconds) * time.Second,
		log:      log.WithComponent("notecache"),
	}
}

// Resolve has the same contract as resolver.Resolve: every requested
// identifier is a key of the output exactly once.
func (c *Cache) Resolve(ctx context.Context, ids []string, kinds []int) map[string]resolver.Result {
	out := make(map[string]resolver.Result, len(ids))
	if len(ids) == 0 {
		return out
	}

	var misses []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if result, ok := c.lookup(ctx, id, kinds); ok {
			out[id] = result
			continue
		}
		misses = append(misses, id)
	}

	if len(misses) == 0 {
		return out
	}

	// Concurrent identical miss-batches collapse into one resolver call.
	flightKey := batchKey(misses, kinds)
	resolved, _, _ := c.flight.Do(flightKey, func() (interface{}, error) {
		results := c.resolver.Resolve(ctx, misses, kinds)
		for id, result := range results {
			c.store(ctx, id, kinds, result)
		}
		return results, nil
	})

	// A shared flight has an identical sorted id set, so the result map
	// covers every miss.
	for id, result := range resolved.(map[string]resolver.Result) {
		out[id] = result
	}

	return out
}

// ResolveOne behaves identically to a one-element batch.
func (c *Cache) ResolveOne(ctx context.Context, id string, kinds []int) resolver.Result {
	return c.Resolve(ctx, []string{id}, kinds)[id]
}

// Invalidate drops the cached entry for an identifier, typically right after
// publishing under it so the next read observes the fresh event.
func (c *Cache) Invalidate(ctx context.Context, id string, kinds []int) {
	key := entryKey(id, kinds)
	if err := c.backend.Delete(ctx, key); err != nil {
		c.log.Warn("cache invalidation failed", "key", key, "error", err)
	}
	c.log.LogCacheOperation("invalidate", key, false)
}

func (c *Cache) lookup(ctx context.Context, id string, kinds []int) (resolver.Result, bool) {
	key := entryKey(id, kinds)
	data, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.log.Warn("cache read failed", "key", key, "error", err)
		return resolver.Result{}, false
	}
	c.log.LogCacheOperation("get", key, ok)
	if !ok {
		return resolver.Result{}, false
	}

	var result resolver.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.log.Warn("cache entry corrupt, dropping", "key", key, "error", err)
		_ = c.backend.Delete(ctx, key)
		return resolver.Result{}, false
	}
	return result, true
}

func (c *Cache) store(ctx context.Context, id string, kinds []int, result resolver.Result) {
	// Errors are transient by definition; caching one would pin a failure
	// past the staleness window.
	if result.Failed() {
		return
	}

	ttl := c.ttl
	if !result.Found() {
		ttl = c.missTTL
	}

	data, err := json.Marshal(result)
	if err != nil {
		return
	}

	key := entryKey(id, kinds)
	if err := c.backend.Set(ctx, key, data, ttl); err != nil {
		c.log.Warn("cache write failed", "key", key, "error", err)
	}
}

func entryKey(id string, kinds []int) string {
	return "note:" + kindsKey(kinds) + ":" + id
}

func batchKey(ids []string, kinds []int) string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	return kindsKey(kinds) + "|" + strings.Join(sorted, ",")
}

func kindsKey(kinds []int) string {
	if len(kinds) == 0 {
		return "any"
	}
	sorted := make([]int, len(kinds))
	copy(sorted, kinds)
	sort.Ints(sorted)

	parts := make([]string, len(sorted))
	for i, k := range sorted {
		parts[i] = strconv.Itoa(k)
	}
	return strings.Join(parts, "+")
}
