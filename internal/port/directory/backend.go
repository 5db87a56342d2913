// Package directory defines the identity backend port and its per-source
// factory registry.
package directory

import (
	"context"
	"time"

	"github.com/ReportDeck/reportdeck/internal/domain/credential"
	"github.com/ReportDeck/reportdeck/internal/domain/query"
)

// ResultSet is the single normalized result shape. Every adapter converts
// its native response (bare array, {data: [...]}, {value: [...]}) into
// this before returning; nothing past the adapter boundary sees a native
// shape.
type ResultSet struct {
	Rows  []map[string]any `json:"rows"`
	Count int              `json:"count"`
}

// Backend is the port interface over one identity system. Each
// implementation builds its own native query from the backend-agnostic
// request and normalizes its own response shape.
type Backend interface {
	// Name returns the source this backend serves ("ad", "azure", "o365").
	Name() query.Source

	// ExecuteQuery runs a directory query. The context bounds the call;
	// implementations must honor cancellation.
	ExecuteQuery(ctx context.Context, req *query.Request) (*ResultSet, error)

	// TestConnection verifies the backend is reachable with its
	// configured credentials.
	TestConnection(ctx context.Context) error
}

// Config carries everything a backend factory needs. Credential fields
// are plaintext at this point; they never outlive the constructed client.
type Config struct {
	// AD
	Endpoint string // ldap(s)://host:port
	BaseDN   string

	// Azure / O365
	GraphEndpoint string // defaults to the public Graph base URL

	Credential *credential.Decrypted

	Timeout time.Duration
}
