// Package credential defines the service credential domain entity.
package credential

import "time"

// ServiceType identifies which identity backend a credential targets.
type ServiceType string

const (
	ServiceAD    ServiceType = "ad"
	ServiceAzure ServiceType = "azure"
	ServiceO365  ServiceType = "o365"
)

// Known reports whether t is one of the three supported backends.
func (t ServiceType) Known() bool {
	switch t {
	case ServiceAD, ServiceAzure, ServiceO365:
		return true
	}
	return false
}

// SaltUnknown is the placeholder stored for credentials encrypted before
// salts were tracked. A secret whose salt column holds this value cannot
// be decrypted and must be re-entered.
const SaltUnknown = "unknown"

// Credential is a stored backend credential. Secret fields carry json:"-"
// so no serialized representation ever includes them; decrypted values
// flow only through the Decrypted struct returned by the internal accessor.
type Credential struct {
	ID          int64       `json:"id"`
	UserID      int64       `json:"user_id"`
	ServiceType ServiceType `json:"service_type"`
	Name        string      `json:"name"`

	Username string `json:"username,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	ClientID string `json:"client_id,omitempty"`

	EncryptedPassword     string `json:"-"`
	EncryptedClientSecret string `json:"-"`
	Salt                  string `json:"-"` // legacy-salted readers only; v1 envelopes are self-describing

	IsDefault bool `json:"is_default"`
	IsActive  bool `json:"is_active"`

	LastTestedAt    time.Time `json:"last_tested_at,omitempty"`
	LastTestOK      bool      `json:"last_test_ok"`
	LastTestMessage string    `json:"last_test_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Decrypted carries the plaintext secrets for a single execution. Fields
// are set only when present on the stored credential.
type Decrypted struct {
	Username     string
	Password     string
	TenantID     string
	ClientID     string
	ClientSecret string
}

// CreateRequest holds the fields accepted when creating a credential.
// Password and ClientSecret are plaintext on the way in and are encrypted
// before any row is written.
type CreateRequest struct {
	Name         string      `json:"name"`
	ServiceType  ServiceType `json:"service_type"`
	Username     string      `json:"username"`
	Password     string      `json:"password"`
	TenantID     string      `json:"tenant_id"`
	ClientID     string      `json:"client_id"`
	ClientSecret string      `json:"client_secret"`
	IsDefault    bool        `json:"is_default"`
}

// UpdateRequest holds a partial credential update. Nil fields are left
// untouched; supplying a secret re-encrypts it and rotates its salt.
type UpdateRequest struct {
	Name         *string `json:"name"`
	Username     *string `json:"username"`
	Password     *string `json:"password"`
	TenantID     *string `json:"tenant_id"`
	ClientID     *string `json:"client_id"`
	ClientSecret *string `json:"client_secret"`
	IsActive     *bool   `json:"is_active"`
}

// Empty reports whether the update carries no fields at all.
func (r UpdateRequest) Empty() bool {
	return r.Name == nil && r.Username == nil && r.Password == nil &&
		r.TenantID == nil && r.ClientID == nil && r.ClientSecret == nil &&
		r.IsActive == nil
}

// AuditAction identifies the operation recorded in a credential audit row.
type AuditAction string

const (
	AuditCreated AuditAction = "created"
	AuditUpdated AuditAction = "updated"
	AuditDeleted AuditAction = "deleted"
	AuditTested  AuditAction = "tested"
)

// AuditEntry records a mutation or test of a credential.
type AuditEntry struct {
	ID           int64       `json:"id"`
	CredentialID int64       `json:"credential_id"`
	UserID       int64       `json:"user_id"`
	Action       AuditAction `json:"action"`
	Detail       string      `json:"detail,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// TestResult is the outcome of a connection test against a backend.
type TestResult struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	TestedAt string `json:"tested_at"`
}
