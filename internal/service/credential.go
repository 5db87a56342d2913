package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ReportDeck/reportdeck/internal/domain"
	"github.com/ReportDeck/reportdeck/internal/domain/credential"
	"github.com/ReportDeck/reportdeck/internal/domain/query"
	"github.com/ReportDeck/reportdeck/internal/port/database"
	"github.com/ReportDeck/reportdeck/internal/secrets"
)

// CredentialService manages stored backend credentials: CRUD with
// ownership scoping, secret encryption before any row is written, and
// connection testing. Plaintext secrets exist only transiently inside
// this service; they never appear on the Credential entity returned to
// callers.
type CredentialService struct {
	store    database.Store
	vault    *secrets.Vault
	cache    *QueryCache
	backends *Backends
	log      *slog.Logger
}

// NewCredentialService wires the credential service.
func NewCredentialService(store database.Store, vault *secrets.Vault, cache *QueryCache, backends *Backends, log *slog.Logger) *CredentialService {
	return &CredentialService{
		store:    store,
		vault:    vault,
		cache:    cache,
		backends: backends,
		log:      log,
	}
}

// Create validates, encrypts, and stores a new credential. Encryption
// happens before the transaction so a crypto failure writes nothing.
// Store failures surface as a generic internal error with the detail
// logged, never echoed.
func (s *CredentialService) Create(ctx context.Context, userID int64, req credential.CreateRequest) (*credential.Credential, error) {
	if err := credential.ValidateCreateRequest(req); err != nil {
		return nil, err
	}

	c := &credential.Credential{
		UserID:      userID,
		ServiceType: req.ServiceType,
		Name:        req.Name,
		Username:    req.Username,
		TenantID:    req.TenantID,
		ClientID:    req.ClientID,
		IsDefault:   req.IsDefault,
		IsActive:    true,
	}

	if req.Password != "" {
		if err := s.encryptInto(&c.EncryptedPassword, &c.Salt, req.Password); err != nil {
			return nil, err
		}
	}
	if req.ClientSecret != "" {
		if err := s.encryptInto(&c.EncryptedClientSecret, &c.Salt, req.ClientSecret); err != nil {
			return nil, err
		}
	}

	if err := s.store.CreateCredential(ctx, c); err != nil {
		s.log.Error("credential create failed", "user_id", userID, "service_type", req.ServiceType, "error", err)
		return nil, fmt.Errorf("create credential: %w", domain.ErrInternal)
	}

	s.log.Info("credential created", "credential_id", c.ID, "user_id", userID, "service_type", c.ServiceType)
	return c, nil
}

// Get returns one credential scoped to the owning user.
func (s *CredentialService) Get(ctx context.Context, id, userID int64) (*credential.Credential, error) {
	return s.store.GetCredential(ctx, id, userID)
}

// List returns the user's credentials, optionally filtered by service
// type (empty means all).
func (s *CredentialService) List(ctx context.Context, userID int64, serviceType credential.ServiceType) ([]credential.Credential, error) {
	return s.store.ListCredentials(ctx, userID, serviceType)
}

// Update applies a partial update. Supplying a secret re-encrypts it
// into the current envelope format with a fresh salt, upgrading legacy
// entries in place. Cached query results bound to this credential are
// invalidated.
func (s *CredentialService) Update(ctx context.Context, id, userID int64, req credential.UpdateRequest) (*credential.Credential, error) {
	if err := credential.ValidateUpdateRequest(req); err != nil {
		return nil, err
	}

	c, err := s.store.GetCredential(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		c.Name = *req.Name
	}
	if req.Username != nil {
		c.Username = *req.Username
	}
	if req.TenantID != nil {
		c.TenantID = *req.TenantID
	}
	if req.ClientID != nil {
		c.ClientID = *req.ClientID
	}
	if req.IsActive != nil {
		c.IsActive = *req.IsActive
	}
	if req.Password != nil {
		if err := s.encryptInto(&c.EncryptedPassword, &c.Salt, *req.Password); err != nil {
			return nil, err
		}
	}
	if req.ClientSecret != nil {
		if err := s.encryptInto(&c.EncryptedClientSecret, &c.Salt, *req.ClientSecret); err != nil {
			return nil, err
		}
	}

	if err := s.store.UpdateCredential(ctx, c); err != nil {
		s.log.Error("credential update failed", "credential_id", id, "user_id", userID, "error", err)
		return nil, fmt.Errorf("update credential: %w", domain.ErrInternal)
	}

	s.invalidateFor(ctx, c)
	s.log.Info("credential updated", "credential_id", id, "user_id", userID)
	return c, nil
}

// Delete removes a credential and its audit trail, then invalidates
// cached results that were produced with it.
func (s *CredentialService) Delete(ctx context.Context, id, userID int64) error {
	c, err := s.store.GetCredential(ctx, id, userID)
	if err != nil {
		return err
	}

	if err := s.store.DeleteCredential(ctx, id, userID); err != nil {
		return err
	}

	s.invalidateFor(ctx, c)
	s.log.Info("credential deleted", "credential_id", id, "user_id", userID)
	return nil
}

// SetDefault marks a credential as its user's default for its service
// type, clearing any previous default in the same transaction.
func (s *CredentialService) SetDefault(ctx context.Context, id, userID int64) error {
	return s.store.SetDefaultCredential(ctx, id, userID)
}

// GetDefault returns the user's default credential for a service type.
func (s *CredentialService) GetDefault(ctx context.Context, userID int64, serviceType credential.ServiceType) (*credential.Credential, error) {
	return s.store.GetDefaultCredential(ctx, userID, serviceType)
}

// GetDecrypted loads an active credential and decrypts its secrets for
// a single execution. Inactive credentials read as not found. A secret
// that predates salt tracking surfaces ErrUnrecoverableCredential so
// callers can prompt for re-entry.
func (s *CredentialService) GetDecrypted(ctx context.Context, id, userID int64) (*credential.Credential, *credential.Decrypted, error) {
	c, err := s.store.GetActiveCredential(ctx, id, userID)
	if err != nil {
		return nil, nil, err
	}

	dec := &credential.Decrypted{
		Username: c.Username,
		TenantID: c.TenantID,
		ClientID: c.ClientID,
	}

	if c.EncryptedPassword != "" {
		dec.Password, err = s.vault.Decrypt(c.EncryptedPassword, c.Salt)
		if err != nil {
			return nil, nil, fmt.Errorf("credential %d password: %w", id, err)
		}
	}
	if c.EncryptedClientSecret != "" {
		dec.ClientSecret, err = s.vault.Decrypt(c.EncryptedClientSecret, c.Salt)
		if err != nil {
			return nil, nil, fmt.Errorf("credential %d client secret: %w", id, err)
		}
	}

	return c, dec, nil
}

// Test decrypts the credential, probes its backend, and records the
// outcome plus an audit row. The test result is returned even when
// persisting it fails; that failure is only logged.
func (s *CredentialService) Test(ctx context.Context, id, userID int64) (*credential.TestResult, error) {
	c, dec, err := s.GetDecrypted(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	backend, err := s.backends.ForCredential(query.Source(c.ServiceType), dec)
	if err != nil {
		return nil, err
	}

	result := &credential.TestResult{
		Success:  true,
		Message:  "connection ok",
		TestedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := backend.TestConnection(ctx); err != nil {
		result.Success = false
		result.Message = err.Error()
	}

	if err := s.store.RecordCredentialTest(ctx, id, userID, result.Success, result.Message); err != nil {
		s.log.Error("recording credential test failed", "credential_id", id, "error", err)
	}

	return result, nil
}

// encryptInto seals plaintext into envelope and mirrors the embedded
// salt into the salt column for legacy-salted readers.
func (s *CredentialService) encryptInto(envelope, salt *string, plaintext string) error {
	enc, err := s.vault.Encrypt(plaintext)
	if err != nil {
		s.log.Error("secret encryption failed", "error", err)
		return fmt.Errorf("encrypt secret: %w", domain.ErrInternal)
	}
	emb, err := secrets.ExtractSalt(enc)
	if err != nil {
		return fmt.Errorf("extract salt: %w", domain.ErrInternal)
	}
	*envelope = enc
	*salt = emb
	return nil
}

// invalidateFor drops cached report results produced with this
// credential. Report keys embed the credential id, so the prefix
// removes exactly the affected entries.
func (s *CredentialService) invalidateFor(ctx context.Context, c *credential.Credential) {
	if s.cache == nil {
		return
	}
	n := s.cache.InvalidateNamespace(ctx, fmt.Sprintf("report:%s:cred%d", c.ServiceType, c.ID))
	if n > 0 {
		s.log.Info("invalidated cached results for credential", "credential_id", c.ID, "entries", n)
	}
}
