// Package database defines the persistence port for credentials,
// report templates, and execution history.
package database

import (
	"context"

	"github.com/ReportDeck/reportdeck/internal/domain/credential"
	"github.com/ReportDeck/reportdeck/internal/domain/report"
)

// Store is the persistence port. Mutating credential operations are
// transactional inside the implementation: on any step failure the whole
// operation rolls back and no partial state is observable.
type Store interface {
	// Credentials. All lookups are scoped to the owning user.
	CreateCredential(ctx context.Context, c *credential.Credential) error
	GetCredential(ctx context.Context, id, userID int64) (*credential.Credential, error)
	GetActiveCredential(ctx context.Context, id, userID int64) (*credential.Credential, error)
	GetDefaultCredential(ctx context.Context, userID int64, serviceType credential.ServiceType) (*credential.Credential, error)
	ListCredentials(ctx context.Context, userID int64, serviceType credential.ServiceType) ([]credential.Credential, error)
	UpdateCredential(ctx context.Context, c *credential.Credential) error
	SetDefaultCredential(ctx context.Context, id, userID int64) error
	// DeleteCredential removes the credential and its dependent audit
	// rows in one transaction, verifying zero audit rows remain before
	// deleting the credential row.
	DeleteCredential(ctx context.Context, id, userID int64) error
	RecordCredentialTest(ctx context.Context, id, userID int64, ok bool, message string) error
	AppendCredentialAudit(ctx context.Context, entry *credential.AuditEntry) error

	// Report templates.
	GetTemplate(ctx context.Context, id, userID int64) (*report.Template, error)
	ListTemplates(ctx context.Context, userID int64) ([]report.Template, error)

	// Execution history. Result rows live apart from the history rows;
	// lookups are scoped to the owning user through the history row.
	CreateExecutionRecord(ctx context.Context, rec *report.ExecutionRecord) error
	GetExecutionRecord(ctx context.Context, executionID string, userID int64) (*report.ExecutionRecord, error)
	ListExecutionRecords(ctx context.Context, userID int64, limit int) ([]report.ExecutionRecord, error)
	SaveExecutionResult(ctx context.Context, executionID string, rows []map[string]any) error
	GetExecutionResult(ctx context.Context, executionID string, userID int64) ([]map[string]any, error)
}
