package service

import (
	"context"
	"errors"
	"testing"

	"github.com/ReportDeck/reportdeck/internal/domain"
	"github.com/ReportDeck/reportdeck/internal/domain/credential"
	"github.com/ReportDeck/reportdeck/internal/domain/query"
	"github.com/ReportDeck/reportdeck/internal/domain/report"
)

func adTemplate() *report.Template {
	return &report.Template{
		Name:   "ad-users",
		Source: query.SourceAD,
		QueryDef: map[string]any{
			"source": "ad",
			"fields": []any{
				map[string]any{"name": "cn"},
				map[string]any{"name": "mail"},
			},
		},
	}
}

func (h *testHarness) addCredential(t *testing.T, userID int64, def bool) *credential.Credential {
	t.Helper()
	c, err := h.creds.Create(context.Background(), userID, credential.CreateRequest{
		Name:        "svc-account",
		ServiceType: credential.ServiceAD,
		Username:    "CORP\\svc-reports",
		Password:    "hunter2",
		IsDefault:   def,
	})
	if err != nil {
		t.Fatalf("create credential: %v", err)
	}
	return c
}

func TestExecuteReportSystemDefault(t *testing.T) {
	h := newHarness(t)
	tmpl := h.addTemplate(t, adTemplate())

	res, err := h.queries.ExecuteReport(context.Background(), 1, ExecuteRequest{TemplateID: tmpl.ID})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.CredentialTier != TierSystemDefault {
		t.Errorf("tier = %s, want system_default", res.CredentialTier)
	}
	if res.Count != 1 {
		t.Errorf("count = %d, want 1", res.Count)
	}
	if res.ExecutionID == "" {
		t.Error("execution id missing")
	}

	recs := h.store.records()
	if len(recs) != 1 {
		t.Fatalf("history records = %d, want exactly 1", len(recs))
	}
	if recs[0].Status != report.StatusCompleted || recs[0].CredentialID != nil {
		t.Errorf("record = %+v, want completed with no credential", recs[0])
	}
}

func TestExecuteReportUserDefaultWins(t *testing.T) {
	h := newHarness(t)
	tmpl := h.addTemplate(t, adTemplate())
	cred := h.addCredential(t, 1, true)

	res, err := h.queries.ExecuteReport(context.Background(), 1, ExecuteRequest{TemplateID: tmpl.ID})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.CredentialTier != TierUserDefault {
		t.Errorf("tier = %s, want user_default", res.CredentialTier)
	}

	recs := h.store.records()
	if len(recs) != 1 || recs[0].CredentialID == nil || *recs[0].CredentialID != cred.ID {
		t.Errorf("record should carry credential %d: %+v", cred.ID, recs)
	}
}

func TestExecuteReportExplicitCredential(t *testing.T) {
	h := newHarness(t)
	tmpl := h.addTemplate(t, adTemplate())
	h.addCredential(t, 1, true)
	other := h.addCredential(t, 1, false)

	res, err := h.queries.ExecuteReport(context.Background(), 1, ExecuteRequest{
		TemplateID:   tmpl.ID,
		CredentialID: &other.ID,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.CredentialTier != TierExplicit {
		t.Errorf("tier = %s, want explicit", res.CredentialTier)
	}
}

func TestExecuteReportCredentialTypeMismatch(t *testing.T) {
	h := newHarness(t)
	tmpl := h.addTemplate(t, adTemplate())

	azure, err := h.creds.Create(context.Background(), 1, credential.CreateRequest{
		Name:         "graph-app",
		ServiceType:  credential.ServiceAzure,
		TenantID:     "tenant",
		ClientID:     "client",
		ClientSecret: "secret",
	})
	if err != nil {
		t.Fatalf("create credential: %v", err)
	}

	_, err = h.queries.ExecuteReport(context.Background(), 1, ExecuteRequest{
		TemplateID:   tmpl.ID,
		CredentialID: &azure.ID,
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
	if h.backend.callCount() != 0 {
		t.Error("mismatched credential must be rejected before any backend call")
	}

	recs := h.store.records()
	if len(recs) != 1 || recs[0].Status != report.StatusFailed {
		t.Errorf("mismatch should still write one failed record: %+v", recs)
	}
}

func TestExecuteReportUnrecoverableSecret(t *testing.T) {
	h := newHarness(t)
	tmpl := h.addTemplate(t, adTemplate())
	cred := h.addCredential(t, 1, false)

	// Simulate a pre-salt-tracking row: bare base64 envelope, salt
	// never recorded.
	h.store.mu.Lock()
	stored := h.store.credentials[cred.ID]
	stored.EncryptedPassword = "bm90LWEtcmVhbC1lbnZlbG9wZQ=="
	stored.Salt = credential.SaltUnknown
	h.store.mu.Unlock()

	_, err := h.queries.ExecuteReport(context.Background(), 1, ExecuteRequest{
		TemplateID:   tmpl.ID,
		CredentialID: &cred.ID,
	})
	if !errors.Is(err, domain.ErrUnrecoverableCredential) {
		t.Errorf("err = %v, want ErrUnrecoverableCredential", err)
	}
}

func TestExecuteReportFailureWritesOneRecord(t *testing.T) {
	h := newHarness(t)
	tmpl := h.addTemplate(t, adTemplate())
	h.backend.fail = errors.New("ldap: size limit exceeded")

	_, err := h.queries.ExecuteReport(context.Background(), 1, ExecuteRequest{TemplateID: tmpl.ID})
	if err == nil {
		t.Fatal("backend failure must surface")
	}

	recs := h.store.records()
	if len(recs) != 1 {
		t.Fatalf("history records = %d, want exactly 1", len(recs))
	}
	if recs[0].Status != report.StatusFailed || recs[0].Error == "" {
		t.Errorf("record = %+v, want failed with error detail", recs[0])
	}
}

func TestExecuteReportUnknownTemplateRecordsFailure(t *testing.T) {
	h := newHarness(t)

	_, err := h.queries.ExecuteReport(context.Background(), 1, ExecuteRequest{TemplateID: 9999})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	recs := h.store.records()
	if len(recs) != 1 {
		t.Fatalf("history records = %d, want exactly 1", len(recs))
	}
	if recs[0].Status != report.StatusFailed || recs[0].TemplateID != 9999 {
		t.Errorf("record = %+v, want failed for template 9999", recs[0])
	}
	if recs[0].CredentialID != nil {
		t.Errorf("record should carry no credential: %+v", recs[0])
	}
}

func TestExecuteReportPersistsResultRows(t *testing.T) {
	h := newHarness(t)
	tmpl := h.addTemplate(t, adTemplate())
	ctx := context.Background()

	res, err := h.queries.ExecuteReport(ctx, 1, ExecuteRequest{TemplateID: tmpl.ID})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	rec, rows, err := h.queries.GetExecution(ctx, 1, res.ExecutionID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if rec.Status != report.StatusCompleted {
		t.Errorf("status = %s, want completed", rec.Status)
	}
	if len(rows) != 1 || rows[0]["cn"] != "jdoe" {
		t.Errorf("stored rows = %v, want the mapped result", rows)
	}

	// Another user must not see it.
	if _, _, err := h.queries.GetExecution(ctx, 2, res.ExecutionID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound for another user", err)
	}
}

func TestGetExecutionFailedHasNoRows(t *testing.T) {
	h := newHarness(t)
	tmpl := h.addTemplate(t, adTemplate())
	h.backend.fail = errors.New("ldap: server unwilling to perform")

	ctx := context.Background()
	if _, err := h.queries.ExecuteReport(ctx, 1, ExecuteRequest{TemplateID: tmpl.ID}); err == nil {
		t.Fatal("backend failure must surface")
	}

	recs := h.store.records()
	if len(recs) != 1 {
		t.Fatalf("history records = %d, want 1", len(recs))
	}

	rec, rows, err := h.queries.GetExecution(ctx, 1, recs[0].ID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if rec.Status != report.StatusFailed {
		t.Errorf("status = %s, want failed", rec.Status)
	}
	if rows != nil {
		t.Errorf("failed execution should store no rows: %v", rows)
	}
}

func TestExecuteReportCachesPerCredential(t *testing.T) {
	h := newHarness(t)
	tmpl := h.addTemplate(t, adTemplate())
	cred := h.addCredential(t, 1, false)

	ctx := context.Background()
	if _, err := h.queries.ExecuteReport(ctx, 1, ExecuteRequest{TemplateID: tmpl.ID}); err != nil {
		t.Fatalf("system execute: %v", err)
	}

	// Same query, different credential: must not reuse the system entry.
	res, err := h.queries.ExecuteReport(ctx, 1, ExecuteRequest{TemplateID: tmpl.ID, CredentialID: &cred.ID})
	if err != nil {
		t.Fatalf("credential execute: %v", err)
	}
	if res.FromCache {
		t.Error("different credential must not hit the other credential's cache entry")
	}

	// Repeat with the same credential: now a hit.
	res, err = h.queries.ExecuteReport(ctx, 1, ExecuteRequest{TemplateID: tmpl.ID, CredentialID: &cred.ID})
	if err != nil {
		t.Fatalf("repeat execute: %v", err)
	}
	if !res.FromCache {
		t.Error("repeated execution with the same credential should be cached")
	}
}

func TestExecuteReportAppliesFieldMappings(t *testing.T) {
	h := newHarness(t)
	h.backend.rows = []map[string]any{{"whenCreated": "20240131120000.0Z", "enabled": "TRUE"}}

	tmpl := adTemplate()
	tmpl.QueryDef["fields"] = []any{
		map[string]any{"name": "whenCreated"},
		map[string]any{"name": "enabled"},
	}
	tmpl.FieldMappings = map[string]report.FieldMapping{
		"whenCreated": {DisplayName: "Created", Type: "date"},
		"enabled":     {Type: "bool"},
	}
	h.addTemplate(t, tmpl)

	res, err := h.queries.ExecuteReport(context.Background(), 1, ExecuteRequest{TemplateID: tmpl.ID})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	row := res.Rows[0]
	if _, ok := row["Created"]; !ok {
		t.Errorf("row should carry renamed column: %v", row)
	}
	if row["enabled"] != true {
		t.Errorf("enabled = %v (%T), want true", row["enabled"], row["enabled"])
	}
}

func TestExecuteReportMergesParams(t *testing.T) {
	h := newHarness(t)

	tmpl := adTemplate()
	tmpl.QueryDef["filters"] = []any{
		map[string]any{"field": "department", "operator": "equals", "value": "{{dept}}"},
	}
	tmpl.DefaultParams = map[string]any{"dept": "IT", "region": "EU"}
	h.addTemplate(t, tmpl)

	_, err := h.queries.ExecuteReport(context.Background(), 1, ExecuteRequest{
		TemplateID: tmpl.ID,
		Parameters: map[string]any{"dept": "HR"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	recs := h.store.records()
	if len(recs) != 1 {
		t.Fatalf("history records = %d, want 1", len(recs))
	}
	if recs[0].Parameters["dept"] != "HR" {
		t.Errorf("caller parameter should win: %v", recs[0].Parameters)
	}
	if recs[0].Parameters["region"] != "EU" {
		t.Errorf("template default should survive: %v", recs[0].Parameters)
	}
}

func TestBuildQueryLegacyRawPath(t *testing.T) {
	tmpl := &report.Template{
		ID:       7,
		Source:   query.SourceAD,
		RawQuery: `{"fields":[{"name":"cn"}],"filters":[{"field":"department","operator":"equals","value":"{{dept}}"}]}`,
	}

	req, err := buildQuery(tmpl, map[string]any{"dept": "Finance"})
	if err != nil {
		t.Fatalf("buildQuery: %v", err)
	}
	if req.Source != query.SourceAD {
		t.Errorf("source = %s, want template source", req.Source)
	}
	if req.Filters[0].Value != "Finance" {
		t.Errorf("placeholder not substituted: %v", req.Filters[0].Value)
	}
}

func TestBuildQueryRejectsEmptyTemplate(t *testing.T) {
	tmpl := &report.Template{ID: 9, Source: query.SourceAD}
	if _, err := buildQuery(tmpl, nil); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}
