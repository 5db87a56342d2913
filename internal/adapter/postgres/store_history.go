package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ReportDeck/reportdeck/internal/domain/report"
)

func scanExecutionRecord(row scannable) (*report.ExecutionRecord, error) {
	var rec report.ExecutionRecord
	var params []byte
	var credID sql.NullInt64
	var durationMS int64
	if err := row.Scan(
		&rec.ID, &rec.UserID, &rec.TemplateID, &params, &rec.Status,
		&rec.RowCount, &durationMS, &credID, &rec.Error, &rec.ExecutedAt,
	); err != nil {
		return nil, err
	}
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	if credID.Valid {
		rec.CredentialID = &credID.Int64
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &rec.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters: %w", err)
		}
	}
	return &rec, nil
}

// CreateExecutionRecord writes one execution history row. Callers treat
// failures as log-only: audit durability never gates execution results.
func (s *Store) CreateExecutionRecord(ctx context.Context, rec *report.ExecutionRecord) error {
	var params []byte
	if len(rec.Parameters) > 0 {
		var err error
		params, err = json.Marshal(rec.Parameters)
		if err != nil {
			return fmt.Errorf("marshal parameters: %w", err)
		}
	}

	if rec.ExecutedAt.IsZero() {
		rec.ExecutedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO execution_history
			(id, user_id, template_id, parameters, status, row_count, duration_ms, credential_id, error_message, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.UserID, rec.TemplateID, params, rec.Status, rec.RowCount,
		rec.Duration.Milliseconds(), rec.CredentialID, rec.Error, rec.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("create execution record: %w", err)
	}
	return nil
}

func (s *Store) GetExecutionRecord(ctx context.Context, executionID string, userID int64) (*report.ExecutionRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, template_id, parameters, status, row_count, duration_ms, credential_id, error_message, executed_at
		FROM execution_history WHERE id = $1 AND user_id = $2`, executionID, userID)

	rec, err := scanExecutionRecord(row)
	if err != nil {
		return nil, notFoundWrap(err, "get execution record %s", executionID)
	}
	return rec, nil
}

func (s *Store) ListExecutionRecords(ctx context.Context, userID int64, limit int) ([]report.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, template_id, parameters, status, row_count, duration_ms, credential_id, error_message, executed_at
		FROM execution_history WHERE user_id = $1
		ORDER BY executed_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list execution records: %w", err)
	}
	defer rows.Close()

	var records []report.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecutionRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// SaveExecutionResult stores the mapped rows of a completed execution.
// The payload row cascades away with its history row.
func (s *Store) SaveExecutionResult(ctx context.Context, executionID string, rows []map[string]any) error {
	payload, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal execution result: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO execution_results (execution_id, payload)
		VALUES ($1, $2)
		ON CONFLICT (execution_id) DO UPDATE SET payload = EXCLUDED.payload`,
		executionID, payload)
	if err != nil {
		return fmt.Errorf("save execution result %s: %w", executionID, err)
	}
	return nil
}

// GetExecutionResult returns the stored rows of an execution, scoped to
// the owning user through the history row.
func (s *Store) GetExecutionResult(ctx context.Context, executionID string, userID int64) ([]map[string]any, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT r.payload
		FROM execution_results r
		JOIN execution_history h ON h.id = r.execution_id
		WHERE r.execution_id = $1 AND h.user_id = $2`, executionID, userID).Scan(&payload)
	if err != nil {
		return nil, notFoundWrap(err, "get execution result %s", executionID)
	}

	var rows []map[string]any
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("decode execution result %s: %w", executionID, err)
	}
	return rows, nil
}
