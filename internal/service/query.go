package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	otelad "github.com/ReportDeck/reportdeck/internal/adapter/otel"
	"github.com/ReportDeck/reportdeck/internal/config"
	"github.com/ReportDeck/reportdeck/internal/domain"
	"github.com/ReportDeck/reportdeck/internal/domain/query"
	"github.com/ReportDeck/reportdeck/internal/port/database"
	"github.com/ReportDeck/reportdeck/internal/port/directory"
	"github.com/ReportDeck/reportdeck/internal/resilience"
)

// QueryService orchestrates directory queries: validation, cache lookup,
// backend dispatch behind per-source circuit breakers, and result
// caching. Previews are read-only probes and never touch execution
// history; report executions (query_report.go) always write exactly one
// history record.
type QueryService struct {
	store    database.Store
	creds    *CredentialService
	backends *Backends
	cache    *QueryCache
	breakers *resilience.BreakerSet
	metrics  *otelad.Metrics
	cfg      *config.Config
	log      *slog.Logger

	// Collapses concurrent identical preview misses into one dispatch.
	group singleflight.Group

	// In-flight refresh markers, keyed by cache key.
	refreshMu  sync.Mutex
	refreshing map[string]struct{}
}

// NewQueryService wires the query orchestrator.
func NewQueryService(store database.Store, creds *CredentialService, backends *Backends, cache *QueryCache, breakers *resilience.BreakerSet, metrics *otelad.Metrics, cfg *config.Config, log *slog.Logger) *QueryService {
	return &QueryService{
		store:      store,
		creds:      creds,
		backends:   backends,
		cache:      cache,
		breakers:   breakers,
		metrics:    metrics,
		cfg:        cfg,
		log:        log,
		refreshing: make(map[string]struct{}),
	}
}

// PreviewResult is a preview response: rows plus cache provenance.
type PreviewResult struct {
	Rows      []map[string]any `json:"rows"`
	Count     int              `json:"count"`
	Limit     int              `json:"limit"`
	FromCache bool             `json:"from_cache"`
	CacheKey  string           `json:"cache_key"`
}

// Preview validates and executes a bounded directory query. The limit
// is clamped, never rejected; results are cached under a deterministic
// key so repeated previews of the same query are served without a
// backend round trip.
func (s *QueryService) Preview(ctx context.Context, req *query.Request) (*PreviewResult, error) {
	if err := query.Validate(req); err != nil {
		return nil, err
	}

	limit := query.ClampLimit(req.Limit, s.cfg.Query.DefaultPreviewLimit, s.cfg.Query.MaxPreviewLimit)
	// Normalize before key derivation so "limit 10" and "no limit"
	// share an entry when the default is 10.
	clamped := float64(limit)
	req.Limit = &clamped

	key := s.cache.DeriveKey("preview:"+string(req.Source), req)

	if payload, ok := s.cache.Get(ctx, key); ok {
		var result PreviewResult
		if err := json.Unmarshal(payload, &result); err == nil {
			s.metrics.CacheHits.Add(ctx, 1)
			result.FromCache = true
			result.CacheKey = key
			return &result, nil
		}
		s.log.Warn("cached preview unreadable, re-executing", "key", key)
	}
	s.metrics.CacheMisses.Add(ctx, 1)

	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.executePreview(ctx, req, key, limit)
	})
	if err != nil {
		return nil, err
	}
	return v.(*PreviewResult), nil
}

func (s *QueryService) executePreview(ctx context.Context, req *query.Request, key string, limit int) (*PreviewResult, error) {
	rs, err := s.dispatch(ctx, req, nil)
	if err != nil {
		return nil, err
	}

	result := &PreviewResult{
		Rows:     rs.Rows,
		Count:    rs.Count,
		Limit:    limit,
		CacheKey: key,
	}

	if payload, err := json.Marshal(result); err == nil {
		s.cache.Put(ctx, key, payload, s.cfg.Cache.PreviewTTL)
	} else {
		s.log.Warn("preview result not cacheable", "key", key, "error", err)
	}

	return result, nil
}

// RefreshPreview drops the cached entry for a preview query and
// re-executes it. Concurrent refreshes of the same key are rejected:
// the second caller gets the "already in progress" outcome instead of
// a second backend dispatch.
func (s *QueryService) RefreshPreview(ctx context.Context, req *query.Request) (*PreviewResult, error) {
	if err := query.Validate(req); err != nil {
		return nil, err
	}

	limit := query.ClampLimit(req.Limit, s.cfg.Query.DefaultPreviewLimit, s.cfg.Query.MaxPreviewLimit)
	clamped := float64(limit)
	req.Limit = &clamped

	key := s.cache.DeriveKey("preview:"+string(req.Source), req)

	s.refreshMu.Lock()
	if _, busy := s.refreshing[key]; busy {
		s.refreshMu.Unlock()
		s.log.Warn("refresh already in progress", "key", key)
		return nil, fmt.Errorf("refresh already in progress for this query: %w", domain.ErrConflict)
	}
	s.refreshing[key] = struct{}{}
	s.refreshMu.Unlock()

	defer func() {
		s.refreshMu.Lock()
		delete(s.refreshing, key)
		s.refreshMu.Unlock()
	}()

	s.cache.Invalidate(ctx, key)
	return s.executePreview(ctx, req, key, limit)
}

// dispatch runs a query against its backend through the per-source
// circuit breaker with the configured execution timeout. A nil backend
// argument selects the system-level backend for the request's source.
func (s *QueryService) dispatch(ctx context.Context, req *query.Request, backend directory.Backend) (*directory.ResultSet, error) {
	if backend == nil {
		b, err := s.backends.System(req.Source)
		if err != nil {
			return nil, err
		}
		backend = b
	}

	execCtx, cancel := context.WithTimeout(ctx, s.cfg.Query.ExecTimeout)
	defer cancel()

	breaker := s.breakers.For(string(req.Source))
	start := time.Now()

	var rs *directory.ResultSet
	err := breaker.Execute(func() error {
		var execErr error
		rs, execErr = backend.ExecuteQuery(execCtx, req)
		return execErr
	})

	s.metrics.QueryDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, fmt.Errorf("%s circuit open, skipping dispatch: %w", req.Source, domain.ErrBackendUnavailable)
		}
		return nil, fmt.Errorf("%s query: %w", req.Source, err)
	}
	return rs, nil
}
