package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/ReportDeck/reportdeck/internal/domain"
	"github.com/ReportDeck/reportdeck/internal/domain/credential"
	"github.com/ReportDeck/reportdeck/internal/domain/query"
	"github.com/ReportDeck/reportdeck/internal/domain/report"
	"github.com/ReportDeck/reportdeck/internal/port/directory"
)

// CredentialTier records which precedence level supplied the credential
// for a report execution.
type CredentialTier string

const (
	TierExplicit      CredentialTier = "explicit"
	TierUserDefault   CredentialTier = "user_default"
	TierSystemDefault CredentialTier = "system_default"
)

// ExecuteRequest asks for one report execution. CredentialID, when set,
// overrides the user-default / system-default precedence.
type ExecuteRequest struct {
	TemplateID   int64          `json:"template_id"`
	CredentialID *int64         `json:"credential_id,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
}

// ReportResult is a completed report execution.
type ReportResult struct {
	ExecutionID    string           `json:"execution_id"`
	Rows           []map[string]any `json:"rows"`
	Count          int              `json:"count"`
	Duration       time.Duration    `json:"duration_ms"`
	FromCache      bool             `json:"from_cache"`
	CredentialTier CredentialTier   `json:"credential_tier"`
}

// resolvedCredential is the outcome of credential precedence: which tier
// won, the credential row (nil for system default), and its decrypted
// secrets.
type resolvedCredential struct {
	tier CredentialTier
	cred *credential.Credential
	dec  *credential.Decrypted
}

// ExecuteReport runs a saved template end to end: credential resolution,
// query construction, cached or live dispatch, field mapping, and
// exactly one execution history record per attempt. History write
// failures never fail the execution; they are logged and the result
// returned anyway.
func (s *QueryService) ExecuteReport(ctx context.Context, userID int64, req ExecuteRequest) (*ReportResult, error) {
	s.metrics.ExecutionsStarted.Add(ctx, 1)
	start := time.Now()

	tmpl, err := s.store.GetTemplate(ctx, req.TemplateID, userID)
	if err != nil {
		// The template id identifies the attempt even when the lookup
		// fails; the history row carries it without a foreign key.
		s.recordExecution(ctx, userID, req.TemplateID, req.Parameters, nil, report.StatusFailed, 0, time.Since(start), err)
		return nil, err
	}

	resolved, err := s.resolveCredential(ctx, userID, tmpl, req.CredentialID)
	if err != nil {
		s.recordExecution(ctx, userID, tmpl.ID, req.Parameters, nil, report.StatusFailed, 0, time.Since(start), err)
		return nil, err
	}

	params := tmpl.MergeParams(req.Parameters)
	qreq, err := buildQuery(tmpl, params)
	if err != nil {
		s.recordExecution(ctx, userID, tmpl.ID, params, resolved.credID(), report.StatusFailed, 0, time.Since(start), err)
		return nil, err
	}
	if err := query.Validate(qreq); err != nil {
		s.recordExecution(ctx, userID, tmpl.ID, params, resolved.credID(), report.StatusFailed, 0, time.Since(start), err)
		return nil, err
	}

	result, err := s.runReport(ctx, tmpl, qreq, resolved)
	duration := time.Since(start)

	if err != nil {
		s.metrics.ExecutionsFailed.Add(ctx, 1)
		s.recordExecution(ctx, userID, tmpl.ID, params, resolved.credID(), report.StatusFailed, 0, duration, err)
		return nil, err
	}

	s.metrics.ExecutionsCompleted.Add(ctx, 1)
	result.ExecutionID = s.recordExecution(ctx, userID, tmpl.ID, params, resolved.credID(), report.StatusCompleted, result.Count, duration, nil)
	if err := s.store.SaveExecutionResult(ctx, result.ExecutionID, result.Rows); err != nil {
		s.log.Error("execution result write failed", "execution_id", result.ExecutionID, "error", err)
	}
	result.Duration = duration
	result.CredentialTier = resolved.tier
	return result, nil
}

// GetExecution returns one of the user's execution records together with
// its stored result rows. Failed executions have a record but no rows.
func (s *QueryService) GetExecution(ctx context.Context, userID int64, executionID string) (*report.ExecutionRecord, []map[string]any, error) {
	rec, err := s.store.GetExecutionRecord(ctx, executionID, userID)
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.store.GetExecutionResult(ctx, executionID, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, err
	}
	return rec, rows, nil
}

// runReport serves the query from cache or dispatches it live, applying
// field mappings to fresh rows before caching. Cache keys embed the
// credential identity so a credential change cannot serve another
// credential's rows.
func (s *QueryService) runReport(ctx context.Context, tmpl *report.Template, qreq *query.Request, resolved *resolvedCredential) (*ReportResult, error) {
	namespace := fmt.Sprintf("report:%s:%s", tmpl.Source, resolved.cacheScope())
	key := s.cache.DeriveKey(namespace, qreq)

	if payload, ok := s.cache.Get(ctx, key); ok {
		var rows []map[string]any
		if err := json.Unmarshal(payload, &rows); err == nil {
			s.metrics.CacheHits.Add(ctx, 1)
			return &ReportResult{Rows: rows, Count: len(rows), FromCache: true}, nil
		}
		s.log.Warn("cached report unreadable, re-executing", "key", key)
	}
	s.metrics.CacheMisses.Add(ctx, 1)

	var backend directory.Backend
	if resolved.dec != nil {
		b, err := s.backends.ForCredential(tmpl.Source, resolved.dec)
		if err != nil {
			return nil, err
		}
		backend = b
	}

	rs, err := s.dispatch(ctx, qreq, backend)
	if err != nil {
		return nil, err
	}

	rows := report.MapRows(rs.Rows, tmpl.FieldMappings)

	if payload, err := json.Marshal(rows); err == nil {
		s.cache.Put(ctx, key, payload, s.cfg.Cache.ReportTTL)
	}

	return &ReportResult{Rows: rows, Count: len(rows)}, nil
}

// resolveCredential applies the precedence chain: an explicit credential
// id wins, then the user's default for the template's source, then the
// configured system credentials. An explicit credential whose service
// type does not match the template is rejected before any backend call.
func (s *QueryService) resolveCredential(ctx context.Context, userID int64, tmpl *report.Template, explicitID *int64) (*resolvedCredential, error) {
	serviceType := credential.ServiceType(tmpl.Source)

	if explicitID != nil {
		c, dec, err := s.creds.GetDecrypted(ctx, *explicitID, userID)
		if err != nil {
			return nil, err
		}
		if c.ServiceType != serviceType {
			return nil, fmt.Errorf("credential %d is for %s, template targets %s: %w",
				c.ID, c.ServiceType, tmpl.Source, domain.ErrValidation)
		}
		return &resolvedCredential{tier: TierExplicit, cred: c, dec: dec}, nil
	}

	def, err := s.store.GetDefaultCredential(ctx, userID, serviceType)
	switch {
	case err == nil:
		_, dec, err := s.creds.GetDecrypted(ctx, def.ID, userID)
		if err != nil {
			return nil, err
		}
		return &resolvedCredential{tier: TierUserDefault, cred: def, dec: dec}, nil
	case errors.Is(err, domain.ErrNotFound):
		return &resolvedCredential{tier: TierSystemDefault}, nil
	default:
		return nil, err
	}
}

func (r *resolvedCredential) credID() *int64 {
	if r == nil || r.cred == nil {
		return nil
	}
	return &r.cred.ID
}

// cacheScope is the credential component of a report cache key.
func (r *resolvedCredential) cacheScope() string {
	if r.cred == nil {
		return "system"
	}
	return fmt.Sprintf("cred%d", r.cred.ID)
}

// recordExecution writes the single history record for an attempt and
// returns its id. A write failure is logged, never propagated.
func (s *QueryService) recordExecution(ctx context.Context, userID, templateID int64, params map[string]any, credID *int64, status string, rowCount int, duration time.Duration, execErr error) string {
	rec := &report.ExecutionRecord{
		ID:           uuid.NewString(),
		UserID:       userID,
		TemplateID:   templateID,
		Parameters:   params,
		Status:       status,
		RowCount:     rowCount,
		Duration:     duration,
		CredentialID: credID,
		ExecutedAt:   time.Now().UTC(),
	}
	if execErr != nil {
		rec.Error = execErr.Error()
	}

	if err := s.store.CreateExecutionRecord(ctx, rec); err != nil {
		s.log.Error("execution history write failed", "execution_id", rec.ID, "template_id", templateID, "error", err)
	}
	return rec.ID
}

// ListHistory returns the user's recent execution records, clamped to
// the configured history limit.
func (s *QueryService) ListHistory(ctx context.Context, userID int64, limit int) ([]report.ExecutionRecord, error) {
	if limit <= 0 || limit > s.cfg.Query.HistoryLimit {
		limit = s.cfg.Query.HistoryLimit
	}
	return s.store.ListExecutionRecords(ctx, userID, limit)
}

// ListTemplates returns the user's report templates.
func (s *QueryService) ListTemplates(ctx context.Context, userID int64) ([]report.Template, error) {
	return s.store.ListTemplates(ctx, userID)
}

// buildQuery turns a template into an executable query. Templates with
// a structured definition are decoded from it; older templates carry a
// JSON-encoded query string with {{name}} placeholders substituted from
// the merged parameters before decoding.
func buildQuery(tmpl *report.Template, params map[string]any) (*query.Request, error) {
	var req query.Request

	switch {
	case len(tmpl.QueryDef) > 0:
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &req,
			TagName:          "json",
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, fmt.Errorf("query decoder: %w", err)
		}
		if err := dec.Decode(tmpl.QueryDef); err != nil {
			return nil, fmt.Errorf("template %d query definition: %w", tmpl.ID, domain.ErrValidation)
		}
		substituteFilterParams(&req, params)

	case tmpl.RawQuery != "":
		raw := substituteRawParams(tmpl.RawQuery, params)
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			return nil, fmt.Errorf("template %d raw query: %w", tmpl.ID, domain.ErrValidation)
		}

	default:
		return nil, fmt.Errorf("template %d has no query: %w", tmpl.ID, domain.ErrValidation)
	}

	if req.Source == "" {
		req.Source = tmpl.Source
	}
	req.Parameters = params
	return &req, nil
}

// substituteFilterParams replaces "{{name}}" filter values with the
// corresponding parameter. Unknown placeholders are left as-is so the
// mistake is visible in results rather than silently matching nothing.
func substituteFilterParams(req *query.Request, params map[string]any) {
	for i, f := range req.Filters {
		s, ok := f.Value.(string)
		if !ok {
			continue
		}
		name, isPlaceholder := placeholderName(s)
		if !isPlaceholder {
			continue
		}
		if v, ok := params[name]; ok {
			req.Filters[i].Value = v
		}
	}
}

// substituteRawParams textually replaces {{name}} tokens in a raw query
// string. Values render through %v; placeholders sit inside JSON string
// literals, so scalar values substitute cleanly.
func substituteRawParams(raw string, params map[string]any) string {
	for name, v := range params {
		raw = strings.ReplaceAll(raw, "{{"+name+"}}", fmt.Sprintf("%v", v))
	}
	return raw
}

func placeholderName(s string) (string, bool) {
	if strings.HasPrefix(s, "{{") && strings.HasSuffix(s, "}}") && len(s) > 4 {
		return strings.TrimSpace(s[2 : len(s)-2]), true
	}
	return "", false
}
