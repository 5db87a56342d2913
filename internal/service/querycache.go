package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ReportDeck/reportdeck/internal/domain/query"
	"github.com/ReportDeck/reportdeck/internal/port/cache"
)

// cacheEntry is the stored envelope. Expiry is logical: the backing
// store may physically hold an entry past ExpiresAt (NATS KV TTL is
// bucket-level), but a read past ExpiresAt is a miss, never stale data.
type cacheEntry struct {
	Payload   json.RawMessage `json:"payload"`
	CachedAt  time.Time       `json:"cached_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// QueryCache wraps the key-value port with deterministic key derivation,
// TTL bookkeeping, and hit/miss accounting. The cache is a performance
// optimization, never a correctness dependency: all I/O failures degrade
// to a miss or a no-op.
type QueryCache struct {
	cache     cache.Cache
	log       *slog.Logger
	ioTimeout time.Duration
	now       func() time.Time // for testing

	hits   atomic.Uint64
	misses atomic.Uint64

	// Expired-but-present keys observed by Get, deleted on the next write.
	mu      sync.Mutex
	expired []string
}

// NewQueryCache creates a QueryCache over the given backing store.
func NewQueryCache(c cache.Cache, log *slog.Logger, ioTimeout time.Duration) *QueryCache {
	if ioTimeout <= 0 {
		ioTimeout = 2 * time.Second
	}
	return &QueryCache{
		cache:     c,
		log:       log,
		ioTimeout: ioTimeout,
		now:       time.Now,
	}
}

// DeriveKey builds a deterministic key from the canonical form of the
// request: field and filter lists are sorted, scalar options preserved,
// so semantically-equal requests map to the same key regardless of
// array ordering. When canonical serialization fails (degenerate
// parameter structures), a coarse key built from stable shape metadata
// plus a freshness token is returned instead — never an error.
func (q *QueryCache) DeriveKey(namespace string, req *query.Request) string {
	data, err := req.CanonicalJSON()
	if err != nil {
		q.log.Warn("cache key canonicalization failed, using coarse key",
			"namespace", namespace, "error", err)
		limit := float64(-1)
		if req.Limit != nil {
			limit = *req.Limit
		}
		data = []byte(fmt.Sprintf("coarse|%s|%d|%d|%g|%s",
			req.Source, len(req.Fields), len(req.Filters), limit, uuid.NewString()))
	}

	sum := sha256.Sum256(data)
	return namespace + ":" + hex.EncodeToString(sum[:16])
}

// Get returns the cached payload if present and not logically expired.
// Expired-but-present entries are reported as misses and queued for
// deletion on the next write.
func (q *QueryCache) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	ioCtx, cancel := context.WithTimeout(ctx, q.ioTimeout)
	defer cancel()

	data, found, err := q.cache.Get(ioCtx, key)
	if err != nil {
		q.log.Warn("cache get failed", "key", key, "error", err)
		q.misses.Add(1)
		return nil, false
	}
	if !found {
		q.misses.Add(1)
		return nil, false
	}

	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		q.log.Warn("cache entry corrupt", "key", key, "error", err)
		q.deferDelete(key)
		q.misses.Add(1)
		return nil, false
	}

	if !q.now().Before(entry.ExpiresAt) {
		q.deferDelete(key)
		q.misses.Add(1)
		return nil, false
	}

	q.hits.Add(1)
	return entry.Payload, true
}

// Put stores payload with an absolute expiry of now + ttl. Errors are
// logged and swallowed.
func (q *QueryCache) Put(ctx context.Context, key string, payload json.RawMessage, ttl time.Duration) {
	q.flushExpired(ctx)

	now := q.now()
	data, err := json.Marshal(cacheEntry{
		Payload:   payload,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		q.log.Warn("cache entry marshal failed", "key", key, "error", err)
		return
	}

	ioCtx, cancel := context.WithTimeout(ctx, q.ioTimeout)
	defer cancel()

	if err := q.cache.Set(ioCtx, key, data, ttl); err != nil {
		q.log.Warn("cache set failed", "key", key, "error", err)
	}
}

// Invalidate bulk-deletes entries whose keys start with prefix and
// returns the count removed, 0 on any underlying error.
func (q *QueryCache) Invalidate(ctx context.Context, prefix string) int {
	ioCtx, cancel := context.WithTimeout(ctx, q.ioTimeout)
	defer cancel()

	keys, err := q.cache.Keys(ioCtx, prefix)
	if err != nil {
		q.log.Warn("cache key listing failed", "prefix", prefix, "error", err)
		return 0
	}

	removed := 0
	for _, key := range keys {
		if err := q.cache.Delete(ioCtx, key); err != nil {
			q.log.Warn("cache delete failed", "key", key, "error", err)
			continue
		}
		removed++
	}
	return removed
}

// InvalidateNamespace deletes every entry in a namespace.
func (q *QueryCache) InvalidateNamespace(ctx context.Context, namespace string) int {
	return q.Invalidate(ctx, namespace+":")
}

// CacheStats reports hit/miss counters and the live entry count.
type CacheStats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}

// Stats returns current cache statistics. The entry count is best-effort
// and 0 when the backing store cannot enumerate.
func (q *QueryCache) Stats(ctx context.Context) CacheStats {
	stats := CacheStats{
		Hits:   q.hits.Load(),
		Misses: q.misses.Load(),
	}

	ioCtx, cancel := context.WithTimeout(ctx, q.ioTimeout)
	defer cancel()

	if keys, err := q.cache.Keys(ioCtx, ""); err == nil {
		stats.Entries = len(keys)
	}
	return stats
}

func (q *QueryCache) deferDelete(key string) {
	q.mu.Lock()
	q.expired = append(q.expired, key)
	q.mu.Unlock()
}

// flushExpired deletes keys observed expired since the last write,
// bounded by the same I/O timeout as every other cache call so a hung
// store cannot stall the write that triggered it.
func (q *QueryCache) flushExpired(ctx context.Context) {
	q.mu.Lock()
	pending := q.expired
	q.expired = nil
	q.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	ioCtx, cancel := context.WithTimeout(ctx, q.ioTimeout)
	defer cancel()

	for _, key := range pending {
		if err := q.cache.Delete(ioCtx, key); err != nil {
			q.log.Warn("expired entry delete failed", "key", key, "error", err)
		}
	}
}
