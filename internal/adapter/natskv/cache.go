// Package natskv implements the cache port using NATS JetStream KV as
// the shared L2 query cache.
package natskv

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Cache wraps a NATS JetStream KeyValue store as an L2 cache. Physical
// TTL is managed at bucket level; per-entry expiry is carried inside the
// stored envelope and enforced by the cache service on read.
type Cache struct {
	kv jetstream.KeyValue
}

// New creates a NATS KV-backed cache.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv}
}

// Get retrieves a value from the NATS KV store.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	entry, err := c.kv.Get(ctx, encodeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value(), true, nil
}

// Set stores a value in the NATS KV store.
func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	_, err := c.kv.Put(ctx, encodeKey(key), value)
	return err
}

// Delete removes a value from the NATS KV store.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, encodeKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Keys returns stored keys matching the prefix.
func (c *Cache) Keys(ctx context.Context, prefix string) ([]string, error) {
	lister, err := c.kv.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	defer lister.Stop() //nolint:errcheck // best-effort cleanup

	var keys []string
	for k := range lister.Keys() {
		decoded := decodeKey(k)
		if strings.HasPrefix(decoded, prefix) {
			keys = append(keys, decoded)
		}
	}
	return keys, nil
}

// NATS KV keys cannot contain ':'; cache keys use it as a namespace
// separator, so it is mapped to '.' on the wire.
func encodeKey(key string) string { return strings.ReplaceAll(key, ":", ".") }
func decodeKey(key string) string { return strings.ReplaceAll(key, ".", ":") }
