package service

import (
	"fmt"
	"time"

	"github.com/ReportDeck/reportdeck/internal/config"
	"github.com/ReportDeck/reportdeck/internal/domain"
	"github.com/ReportDeck/reportdeck/internal/domain/credential"
	"github.com/ReportDeck/reportdeck/internal/domain/query"
	"github.com/ReportDeck/reportdeck/internal/port/directory"
)

// Backends resolves directory backends. System-level backends (built
// from configured fallback credentials) are memoized in the registry;
// per-credential backends are ephemeral because their secrets differ
// per request.
type Backends struct {
	registry *Registry
	cfg      *config.Config
	timeout  time.Duration
}

// NewBackends creates a backend resolver over the given registry.
func NewBackends(registry *Registry, cfg *config.Config) *Backends {
	return &Backends{
		registry: registry,
		cfg:      cfg,
		timeout:  cfg.Query.ExecTimeout,
	}
}

// System returns the memoized system-level backend for a source,
// checking configuration availability before attempting construction.
func (b *Backends) System(source query.Source) (directory.Backend, error) {
	if err := b.available(source); err != nil {
		return nil, err
	}

	v, err := b.registry.GetOrCreate("backend:"+string(source), func() (any, error) {
		return directory.New(source, b.systemConfig(source))
	})
	if err != nil {
		return nil, err
	}
	return v.(directory.Backend), nil
}

// ForCredential builds a backend bound to one decrypted user credential.
func (b *Backends) ForCredential(source query.Source, dec *credential.Decrypted) (directory.Backend, error) {
	if err := b.available(source); err != nil {
		return nil, err
	}

	cfg := b.systemConfig(source)
	cfg.Credential = dec
	return directory.New(source, cfg)
}

// available verifies the source has enough configuration to construct.
func (b *Backends) available(source query.Source) error {
	switch source {
	case query.SourceAD:
		if b.cfg.AD.URL == "" || b.cfg.AD.BaseDN == "" {
			return fmt.Errorf("ad backend not configured (set ad.url and ad.base_dn): %w", domain.ErrBackendUnavailable)
		}
	case query.SourceAzure, query.SourceO365:
		if b.cfg.Graph.TenantID == "" || b.cfg.Graph.ClientID == "" || b.cfg.Graph.ClientSecret == "" {
			return fmt.Errorf("%s backend not configured (set graph tenant, client id and secret): %w", source, domain.ErrBackendUnavailable)
		}
	default:
		return fmt.Errorf("unknown source %q: %w", source, domain.ErrValidation)
	}
	return nil
}

// systemConfig builds a directory.Config carrying the configured
// system-level fallback credentials for the source.
func (b *Backends) systemConfig(source query.Source) directory.Config {
	cfg := directory.Config{
		Endpoint:      b.cfg.AD.URL,
		BaseDN:        b.cfg.AD.BaseDN,
		GraphEndpoint: b.cfg.Graph.Endpoint,
		Timeout:       b.timeout,
	}
	switch source {
	case query.SourceAD:
		cfg.Credential = &credential.Decrypted{
			Username: b.cfg.AD.BindDN,
			Password: b.cfg.AD.BindPassword,
		}
	case query.SourceAzure, query.SourceO365:
		cfg.Credential = &credential.Decrypted{
			TenantID:     b.cfg.Graph.TenantID,
			ClientID:     b.cfg.Graph.ClientID,
			ClientSecret: b.cfg.Graph.ClientSecret,
		}
	}
	return cfg
}
