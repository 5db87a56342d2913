package credential

import (
	"fmt"
	"unicode"

	"github.com/ReportDeck/reportdeck/internal/domain"
)

// ValidateCreateRequest enforces the service-type-conditional required
// fields: AD needs username+password, Azure and O365 need tenant, client
// id and client secret. It runs before any encryption or database write.
func ValidateCreateRequest(req CreateRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required: %w", domain.ErrValidation)
	}
	if len(req.Name) > 255 {
		return fmt.Errorf("name exceeds 255 characters: %w", domain.ErrValidation)
	}
	for _, r := range req.Name {
		if unicode.IsControl(r) {
			return fmt.Errorf("name contains control characters: %w", domain.ErrValidation)
		}
	}

	switch req.ServiceType {
	case ServiceAD:
		if req.Username == "" {
			return fmt.Errorf("username is required for ad credentials: %w", domain.ErrValidation)
		}
		if req.Password == "" {
			return fmt.Errorf("password is required for ad credentials: %w", domain.ErrValidation)
		}
	case ServiceAzure, ServiceO365:
		if req.TenantID == "" {
			return fmt.Errorf("tenant_id is required for %s credentials: %w", req.ServiceType, domain.ErrValidation)
		}
		if req.ClientID == "" {
			return fmt.Errorf("client_id is required for %s credentials: %w", req.ServiceType, domain.ErrValidation)
		}
		if req.ClientSecret == "" {
			return fmt.Errorf("client_secret is required for %s credentials: %w", req.ServiceType, domain.ErrValidation)
		}
	default:
		return fmt.Errorf("unknown service_type %q: %w", req.ServiceType, domain.ErrValidation)
	}

	return nil
}

// ValidateUpdateRequest checks the shape of a partial update. Emptiness
// (no fields at all) is reported so callers can reject no-op updates.
func ValidateUpdateRequest(req UpdateRequest) error {
	if req.Empty() {
		return fmt.Errorf("no fields to update: %w", domain.ErrValidation)
	}
	if req.Name != nil {
		if *req.Name == "" {
			return fmt.Errorf("name cannot be empty: %w", domain.ErrValidation)
		}
		if len(*req.Name) > 255 {
			return fmt.Errorf("name exceeds 255 characters: %w", domain.ErrValidation)
		}
	}
	if req.Password != nil && *req.Password == "" {
		return fmt.Errorf("password cannot be empty: %w", domain.ErrValidation)
	}
	if req.ClientSecret != nil && *req.ClientSecret == "" {
		return fmt.Errorf("client_secret cannot be empty: %w", domain.ErrValidation)
	}
	return nil
}
