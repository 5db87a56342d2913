package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ReportDeck/reportdeck/internal/domain"
	"github.com/ReportDeck/reportdeck/internal/domain/credential"
)

const credentialColumns = `id, user_id, service_type, name, username, tenant_id, client_id,
	encrypted_password, encrypted_client_secret, salt, is_default, is_active,
	last_tested_at, last_test_ok, last_test_message, created_at, updated_at`

func scanCredential(row scannable) (*credential.Credential, error) {
	var c credential.Credential
	var lastTested sql.NullTime
	err := row.Scan(
		&c.ID, &c.UserID, &c.ServiceType, &c.Name, &c.Username, &c.TenantID, &c.ClientID,
		&c.EncryptedPassword, &c.EncryptedClientSecret, &c.Salt, &c.IsDefault, &c.IsActive,
		&lastTested, &c.LastTestOK, &c.LastTestMessage, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastTested.Valid {
		c.LastTestedAt = lastTested.Time
	}
	return &c, nil
}

// CreateCredential inserts the credential and its creation audit row in
// one transaction. A requested default demotes any existing default for
// the same (user, service type) inside the same transaction.
func (s *Store) CreateCredential(ctx context.Context, c *credential.Credential) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create credential: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if c.IsDefault {
		_, err = tx.Exec(ctx, `
			UPDATE service_credentials SET is_default = FALSE, updated_at = now()
			WHERE user_id = $1 AND service_type = $2 AND is_default`,
			c.UserID, c.ServiceType)
		if err != nil {
			return fmt.Errorf("demote previous default: %w", err)
		}
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO service_credentials
			(user_id, service_type, name, username, tenant_id, client_id,
			 encrypted_password, encrypted_client_secret, salt, is_default, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE)
		RETURNING id, created_at, updated_at`,
		c.UserID, c.ServiceType, c.Name, c.Username, c.TenantID, c.ClientID,
		c.EncryptedPassword, c.EncryptedClientSecret, c.Salt, c.IsDefault,
	)
	if err := row.Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create credential: %w", domain.ErrConflict)
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	c.IsActive = true

	_, err = tx.Exec(ctx, `
		INSERT INTO credential_audit (credential_id, user_id, action, detail)
		VALUES ($1, $2, $3, $4)`,
		c.ID, c.UserID, credential.AuditCreated, "credential created")
	if err != nil {
		return fmt.Errorf("audit credential create: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create credential: %w", err)
	}
	return nil
}

func (s *Store) GetCredential(ctx context.Context, id, userID int64) (*credential.Credential, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+credentialColumns+`
		FROM service_credentials WHERE id = $1 AND user_id = $2`, id, userID)

	c, err := scanCredential(row)
	if err != nil {
		return nil, notFoundWrap(err, "get credential %d", id)
	}
	return c, nil
}

// GetActiveCredential is the decrypt-path lookup; inactive credentials
// are invisible to it.
func (s *Store) GetActiveCredential(ctx context.Context, id, userID int64) (*credential.Credential, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+credentialColumns+`
		FROM service_credentials WHERE id = $1 AND user_id = $2 AND is_active`, id, userID)

	c, err := scanCredential(row)
	if err != nil {
		return nil, notFoundWrap(err, "get active credential %d", id)
	}
	return c, nil
}

func (s *Store) GetDefaultCredential(ctx context.Context, userID int64, serviceType credential.ServiceType) (*credential.Credential, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+credentialColumns+`
		FROM service_credentials
		WHERE user_id = $1 AND service_type = $2 AND is_default AND is_active`,
		userID, serviceType)

	c, err := scanCredential(row)
	if err != nil {
		return nil, notFoundWrap(err, "get default %s credential", serviceType)
	}
	return c, nil
}

// ListCredentials returns the user's credentials, default first then
// name ascending. An empty serviceType lists all sources.
func (s *Store) ListCredentials(ctx context.Context, userID int64, serviceType credential.ServiceType) ([]credential.Credential, error) {
	q := `SELECT ` + credentialColumns + `
		FROM service_credentials WHERE user_id = $1`
	args := []any{userID}
	if serviceType != "" {
		q += ` AND service_type = $2`
		args = append(args, serviceType)
	}
	q += ` ORDER BY is_default DESC, name ASC`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []credential.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, *c)
	}
	return creds, rows.Err()
}

// UpdateCredential rewrites the mutable columns from c, scoped to the
// owning user, and appends the update audit row in one transaction.
func (s *Store) UpdateCredential(ctx context.Context, c *credential.Credential) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update credential: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tag, err := tx.Exec(ctx, `
		UPDATE service_credentials SET
			name = $3, username = $4, tenant_id = $5, client_id = $6,
			encrypted_password = $7, encrypted_client_secret = $8, salt = $9,
			is_active = $10, updated_at = now()
		WHERE id = $1 AND user_id = $2`,
		c.ID, c.UserID, c.Name, c.Username, c.TenantID, c.ClientID,
		c.EncryptedPassword, c.EncryptedClientSecret, c.Salt, c.IsActive,
	)
	if err := execExpectOne(tag, err, "update credential %d", c.ID); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO credential_audit (credential_id, user_id, action, detail)
		VALUES ($1, $2, $3, $4)`,
		c.ID, c.UserID, credential.AuditUpdated, "credential updated")
	if err != nil {
		return fmt.Errorf("audit credential update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update credential: %w", err)
	}
	return nil
}

// SetDefaultCredential promotes one credential to default for its
// (user, service type) pair. The partial unique index backs the
// guarantee; concurrent promotions surface as ErrConflict rather than
// two defaults.
func (s *Store) SetDefaultCredential(ctx context.Context, id, userID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin set default: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var serviceType credential.ServiceType
	err = tx.QueryRow(ctx, `
		SELECT service_type FROM service_credentials
		WHERE id = $1 AND user_id = $2 AND is_active`, id, userID).Scan(&serviceType)
	if err != nil {
		return notFoundWrap(err, "set default credential %d", id)
	}

	_, err = tx.Exec(ctx, `
		UPDATE service_credentials SET is_default = FALSE, updated_at = now()
		WHERE user_id = $1 AND service_type = $2 AND is_default AND id <> $3`,
		userID, serviceType, id)
	if err != nil {
		return fmt.Errorf("demote previous default: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE service_credentials SET is_default = TRUE, updated_at = now()
		WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("set default credential %d: %w", id, domain.ErrConflict)
	}
	if err := execExpectOne(tag, err, "promote credential %d", id); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("set default credential %d: %w", id, domain.ErrConflict)
		}
		return fmt.Errorf("commit set default: %w", err)
	}
	return nil
}

// DeleteCredential removes dependent audit rows, verifies zero remain,
// then deletes the credential row — all in one transaction. Any mismatch
// aborts the whole operation so no orphaned audit rows survive.
func (s *Store) DeleteCredential(ctx context.Context, id, userID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete credential: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	// Ownership check before touching audit rows.
	var exists bool
	err = tx.QueryRow(ctx, `
		SELECT TRUE FROM service_credentials WHERE id = $1 AND user_id = $2`,
		id, userID).Scan(&exists)
	if err != nil {
		return notFoundWrap(err, "delete credential %d", id)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM credential_audit WHERE credential_id = $1`, id); err != nil {
		return fmt.Errorf("delete audit rows: %w", err)
	}

	var remaining int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM credential_audit WHERE credential_id = $1`, id).Scan(&remaining); err != nil {
		return fmt.Errorf("verify audit rows: %w", err)
	}
	if remaining != 0 {
		return fmt.Errorf("delete credential %d: %d audit rows remain: %w", id, remaining, domain.ErrInternal)
	}

	tag, err := tx.Exec(ctx, `
		DELETE FROM service_credentials WHERE id = $1 AND user_id = $2`, id, userID)
	if err := execExpectOne(tag, err, "delete credential %d", id); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete credential: %w", err)
	}
	return nil
}

// RecordCredentialTest persists a connection test outcome and its audit row.
func (s *Store) RecordCredentialTest(ctx context.Context, id, userID int64, ok bool, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE service_credentials SET
			last_tested_at = $3, last_test_ok = $4, last_test_message = $5, updated_at = now()
		WHERE id = $1 AND user_id = $2`,
		id, userID, nullTime(time.Now().UTC()), ok, message)
	if err := execExpectOne(tag, err, "record credential test %d", id); err != nil {
		return err
	}

	return s.AppendCredentialAudit(ctx, &credential.AuditEntry{
		CredentialID: id,
		UserID:       userID,
		Action:       credential.AuditTested,
		Detail:       message,
	})
}

func (s *Store) AppendCredentialAudit(ctx context.Context, entry *credential.AuditEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO credential_audit (credential_id, user_id, action, detail)
		VALUES ($1, $2, $3, $4)`,
		entry.CredentialID, entry.UserID, entry.Action, entry.Detail)
	if err != nil {
		return fmt.Errorf("append credential audit: %w", err)
	}
	return nil
}
