package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ReportDeck/reportdeck/internal/domain/report"
)

const templateColumns = `id, user_id, name, description, source, category,
	query_def, raw_query, default_params, field_mappings, is_active, created_at, updated_at`

func scanTemplate(row scannable) (*report.Template, error) {
	var t report.Template
	var queryDef, defaultParams, fieldMappings []byte
	err := row.Scan(
		&t.ID, &t.UserID, &t.Name, &t.Description, &t.Source, &t.Category,
		&queryDef, &t.RawQuery, &defaultParams, &fieldMappings, &t.IsActive,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(queryDef) > 0 {
		if err := json.Unmarshal(queryDef, &t.QueryDef); err != nil {
			return nil, fmt.Errorf("decode query_def: %w", err)
		}
	}
	if len(defaultParams) > 0 {
		if err := json.Unmarshal(defaultParams, &t.DefaultParams); err != nil {
			return nil, fmt.Errorf("decode default_params: %w", err)
		}
	}
	if len(fieldMappings) > 0 {
		if err := json.Unmarshal(fieldMappings, &t.FieldMappings); err != nil {
			return nil, fmt.Errorf("decode field_mappings: %w", err)
		}
	}
	return &t, nil
}

func (s *Store) GetTemplate(ctx context.Context, id, userID int64) (*report.Template, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+templateColumns+`
		FROM report_templates WHERE id = $1 AND user_id = $2 AND is_active`, id, userID)

	t, err := scanTemplate(row)
	if err != nil {
		return nil, notFoundWrap(err, "get template %d", id)
	}
	return t, nil
}

func (s *Store) ListTemplates(ctx context.Context, userID int64) ([]report.Template, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+templateColumns+`
		FROM report_templates WHERE user_id = $1 AND is_active
		ORDER BY category, name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []report.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, *t)
	}
	return templates, rows.Err()
}
