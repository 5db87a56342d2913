// Package report defines saved report templates, execution records, and
// result field mapping.
package report

import (
	"time"

	"github.com/ReportDeck/reportdeck/internal/domain/query"
)

// Template is a saved report definition. QueryDef, when present, is a
// structured query decoded at execution time; templates without one are
// executed through the legacy per-backend path using RawQuery.
type Template struct {
	ID            int64                   `json:"id"`
	UserID        int64                   `json:"user_id"`
	Name          string                  `json:"name"`
	Description   string                  `json:"description,omitempty"`
	Source        query.Source            `json:"source"`
	Category      string                  `json:"category,omitempty"`
	QueryDef      map[string]any          `json:"query_def,omitempty"`
	RawQuery      string                  `json:"raw_query,omitempty"`
	DefaultParams map[string]any          `json:"default_params,omitempty"`
	FieldMappings map[string]FieldMapping `json:"field_mappings,omitempty"`
	IsActive      bool                    `json:"is_active"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// FieldMapping renames and coerces a raw result column.
type FieldMapping struct {
	DisplayName string `json:"display_name,omitempty"`
	Type        string `json:"type,omitempty"` // date, bool, number, string
}

// Execution status values.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ExecutionRecord is written exactly once per orchestrated report
// execution attempt, success or failure.
type ExecutionRecord struct {
	ID           string         `json:"id"`
	UserID       int64          `json:"user_id"`
	TemplateID   int64          `json:"template_id"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Status       string         `json:"status"`
	RowCount     int            `json:"row_count"`
	Duration     time.Duration  `json:"duration_ms"`
	CredentialID *int64         `json:"credential_id,omitempty"`
	Error        string         `json:"error,omitempty"`
	ExecutedAt   time.Time      `json:"executed_at"`
}

// MergeParams overlays caller-supplied parameters onto the template's
// defaults. The caller wins on conflicts.
func (t *Template) MergeParams(overrides map[string]any) map[string]any {
	if len(t.DefaultParams) == 0 && len(overrides) == 0 {
		return nil
	}
	merged := make(map[string]any, len(t.DefaultParams)+len(overrides))
	for k, v := range t.DefaultParams {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
