package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ReportDeck/reportdeck/internal/domain/query"
)

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	failGet bool
	failSet bool

	// Whether the most recent Delete arrived on a deadline-bounded context.
	deleteBounded bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (f *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet {
		return nil, false, errors.New("backend down")
	}
	data, ok := f.entries[key]
	return data, ok, nil
}

func (f *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet {
		return errors.New("backend down")
	}
	f.entries[key] = value
	return nil
}

func (f *fakeCache) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, f.deleteBounded = ctx.Deadline()
	delete(f.entries, key)
	return nil
}

func (f *fakeCache) Keys(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func limitPtr(v float64) *float64 { return &v }

func TestDeriveKeyOrderInvariant(t *testing.T) {
	qc := NewQueryCache(newFakeCache(), testLogger(), 0)

	a := &query.Request{
		Source: query.SourceAD,
		Fields: []query.Field{{Name: "cn"}, {Name: "mail"}},
		Filters: []query.Filter{
			{Field: "department", Operator: "equals", Value: "IT"},
			{Field: "enabled", Operator: "equals", Value: true},
		},
	}
	b := &query.Request{
		Source: query.SourceAD,
		Fields: []query.Field{{Name: "mail"}, {Name: "cn"}},
		Filters: []query.Filter{
			{Field: "enabled", Operator: "equals", Value: true},
			{Field: "department", Operator: "equals", Value: "IT"},
		},
	}

	if qc.DeriveKey("preview:ad", a) != qc.DeriveKey("preview:ad", b) {
		t.Error("reordered fields and filters should derive the same key")
	}
}

func TestDeriveKeySensitivity(t *testing.T) {
	qc := NewQueryCache(newFakeCache(), testLogger(), 0)

	base := &query.Request{
		Source:  query.SourceAD,
		Fields:  []query.Field{{Name: "cn"}},
		Filters: []query.Filter{{Field: "department", Operator: "equals", Value: "IT"}},
		Limit:   limitPtr(10),
	}
	baseKey := qc.DeriveKey("preview:ad", base)

	altSource := *base
	altSource.Source = query.SourceAzure
	if qc.DeriveKey("preview:ad", &altSource) == baseKey {
		t.Error("different source should derive a different key")
	}

	altLimit := *base
	altLimit.Limit = limitPtr(20)
	if qc.DeriveKey("preview:ad", &altLimit) == baseKey {
		t.Error("different limit should derive a different key")
	}

	altFilter := *base
	altFilter.Filters = []query.Filter{{Field: "department", Operator: "equals", Value: "HR"}}
	if qc.DeriveKey("preview:ad", &altFilter) == baseKey {
		t.Error("different filter value should derive a different key")
	}

	if qc.DeriveKey("report:ad", base) == baseKey {
		t.Error("different namespace should derive a different key")
	}
}

func TestDeriveKeyCoarseFallback(t *testing.T) {
	qc := NewQueryCache(newFakeCache(), testLogger(), 0)

	// Channels cannot be JSON-marshaled, forcing the coarse path.
	req := &query.Request{
		Source:     query.SourceAD,
		Parameters: map[string]any{"bad": make(chan int)},
	}

	k1 := qc.DeriveKey("preview:ad", req)
	k2 := qc.DeriveKey("preview:ad", req)
	if k1 == "" || k2 == "" {
		t.Fatal("coarse fallback must still produce a key")
	}
	if k1 == k2 {
		t.Error("coarse keys carry a freshness token and should differ per call")
	}
	if !strings.HasPrefix(k1, "preview:ad:") {
		t.Errorf("coarse key %q should keep the namespace prefix", k1)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	qc := NewQueryCache(newFakeCache(), testLogger(), 0)
	ctx := context.Background()

	payload := json.RawMessage(`{"rows":[{"cn":"jdoe"}]}`)
	qc.Put(ctx, "preview:ad:abc", payload, time.Minute)

	got, ok := qc.Get(ctx, "preview:ad:abc")
	if !ok {
		t.Fatal("expected hit after put")
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %s, want %s", got, payload)
	}

	stats := qc.Stats(ctx)
	if stats.Hits != 1 || stats.Misses != 0 {
		t.Errorf("stats = %+v, want 1 hit 0 misses", stats)
	}
}

func TestCacheLogicalExpiry(t *testing.T) {
	backing := newFakeCache()
	qc := NewQueryCache(backing, testLogger(), 0)
	ctx := context.Background()

	now := time.Now()
	qc.now = func() time.Time { return now }
	qc.Put(ctx, "preview:ad:abc", json.RawMessage(`{}`), time.Minute)

	// One millisecond before expiry: hit.
	qc.now = func() time.Time { return now.Add(time.Minute - time.Millisecond) }
	if _, ok := qc.Get(ctx, "preview:ad:abc"); !ok {
		t.Error("entry just before expiry should hit")
	}

	// At expiry: miss, even though physically present.
	qc.now = func() time.Time { return now.Add(time.Minute) }
	if _, ok := qc.Get(ctx, "preview:ad:abc"); ok {
		t.Error("entry at expiry should miss")
	}
	if _, present := backing.entries["preview:ad:abc"]; !present {
		t.Error("expired entry is deleted lazily, not on read")
	}

	// Next write flushes the expired key.
	qc.Put(ctx, "preview:ad:other", json.RawMessage(`{}`), time.Minute)
	if _, present := backing.entries["preview:ad:abc"]; present {
		t.Error("expired entry should be deleted on the next write")
	}
}

func TestCacheFlushDeletesAreBounded(t *testing.T) {
	backing := newFakeCache()
	qc := NewQueryCache(backing, testLogger(), 0)
	ctx := context.Background()

	now := time.Now()
	qc.now = func() time.Time { return now }
	qc.Put(ctx, "preview:ad:abc", json.RawMessage(`{}`), time.Minute)

	qc.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, ok := qc.Get(ctx, "preview:ad:abc"); ok {
		t.Fatal("entry past expiry should miss")
	}

	qc.Put(ctx, "preview:ad:other", json.RawMessage(`{}`), time.Minute)
	backing.mu.Lock()
	bounded := backing.deleteBounded
	backing.mu.Unlock()
	if !bounded {
		t.Error("deferred expired deletes must run under the cache I/O timeout")
	}
}

func TestCacheDegradesOnBackendFailure(t *testing.T) {
	backing := newFakeCache()
	qc := NewQueryCache(backing, testLogger(), 0)
	ctx := context.Background()

	backing.failGet = true
	if _, ok := qc.Get(ctx, "preview:ad:abc"); ok {
		t.Error("backend failure should read as a miss")
	}

	backing.failSet = true
	qc.Put(ctx, "preview:ad:abc", json.RawMessage(`{}`), time.Minute) // must not panic

	stats := qc.Stats(ctx)
	if stats.Misses != 1 {
		t.Errorf("misses = %d, want 1", stats.Misses)
	}
}

func TestInvalidateNamespace(t *testing.T) {
	qc := NewQueryCache(newFakeCache(), testLogger(), 0)
	ctx := context.Background()

	qc.Put(ctx, "preview:ad:one", json.RawMessage(`{}`), time.Minute)
	qc.Put(ctx, "preview:ad:two", json.RawMessage(`{}`), time.Minute)
	qc.Put(ctx, "preview:azure:three", json.RawMessage(`{}`), time.Minute)

	if n := qc.InvalidateNamespace(ctx, "preview:ad"); n != 2 {
		t.Errorf("invalidated %d entries, want 2", n)
	}
	if _, ok := qc.Get(ctx, "preview:azure:three"); !ok {
		t.Error("other namespace should survive invalidation")
	}
}
