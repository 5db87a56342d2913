// Package graph implements the directory backend port for Azure AD and
// Office 365 via the Microsoft Graph API.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/ReportDeck/reportdeck/internal/domain"
	"github.com/ReportDeck/reportdeck/internal/domain/query"
	"github.com/ReportDeck/reportdeck/internal/port/directory"
)

const (
	defaultEndpoint = "https://graph.microsoft.com/v1.0"
	tokenScope      = "https://graph.microsoft.com/.default"
	maxPageTop      = 999
)

func init() {
	directory.Register(query.SourceAzure, func(cfg directory.Config) (directory.Backend, error) {
		return New(query.SourceAzure, cfg)
	})
	directory.Register(query.SourceO365, func(cfg directory.Config) (directory.Backend, error) {
		return New(query.SourceO365, cfg)
	})
}

// Backend executes Graph queries for one source. The Azure and O365
// backends share this implementation; they differ only in source name
// and the resource collections their templates address.
type Backend struct {
	source   query.Source
	endpoint string
	cred     azcore.TokenCredential
	client   *http.Client
}

// New creates a Graph backend. The config credential must carry tenant,
// client id, and client secret.
func New(source query.Source, cfg directory.Config) (*Backend, error) {
	if cfg.Credential == nil || cfg.Credential.TenantID == "" || cfg.Credential.ClientID == "" || cfg.Credential.ClientSecret == "" {
		return nil, fmt.Errorf("%s: tenant, client id and client secret are required: %w", source, domain.ErrBackendUnavailable)
	}

	cred, err := azidentity.NewClientSecretCredential(
		cfg.Credential.TenantID, cfg.Credential.ClientID, cfg.Credential.ClientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: client secret credential: %w", source, err)
	}

	endpoint := cfg.GraphEndpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Backend{
		source:   source,
		endpoint: strings.TrimRight(endpoint, "/"),
		cred:     cred,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Name returns the source this backend serves.
func (b *Backend) Name() query.Source { return b.source }

// ExecuteQuery builds a Graph request ($select, $filter, $top) from the
// backend-agnostic query, applies any filters Graph cannot express
// locally, and returns normalized rows.
func (b *Backend) ExecuteQuery(ctx context.Context, req *query.Request) (*directory.ResultSet, error) {
	resource := "users"
	if r, ok := req.Parameters["resource"].(string); ok && r != "" {
		resource = r
	}

	params := url.Values{}
	if names := req.FieldNames(); len(names) > 0 {
		params.Set("$select", strings.Join(names, ","))
	}

	serverFilter, localFilters := splitFilters(req.Filters)
	if serverFilter != "" {
		params.Set("$filter", serverFilter)
	}
	if req.Limit != nil && *req.Limit > 0 {
		top := int(*req.Limit)
		if top > maxPageTop {
			top = maxPageTop
		}
		params.Set("$top", strconv.Itoa(top))
	}

	body, err := b.get(ctx, b.endpoint+"/"+resource+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	rows, err := normalize(body)
	if err != nil {
		return nil, fmt.Errorf("%s response: %w", b.source, err)
	}

	rows = applyLocalFilters(rows, localFilters)
	if req.Limit != nil && *req.Limit > 0 && len(rows) > int(*req.Limit) {
		rows = rows[:int(*req.Limit)]
	}

	return &directory.ResultSet{Rows: rows, Count: len(rows)}, nil
}

// TestConnection acquires a token and fetches a single organization row.
func (b *Backend) TestConnection(ctx context.Context) error {
	_, err := b.get(ctx, b.endpoint+"/organization?$top=1")
	return err
}

// get performs an authenticated Graph GET.
func (b *Backend) get(ctx context.Context, rawURL string) ([]byte, error) {
	tok, err := b.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{tokenScope}})
	if err != nil {
		return nil, fmt.Errorf("%s token: %w: %w", b.source, err, domain.ErrBackendUnavailable)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+tok.Token)
	httpReq.Header.Set("Accept", "application/json")
	// Graph requires this header when filtering on advanced properties.
	httpReq.Header.Set("ConsistencyLevel", "eventual")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w: %w", b.source, err, domain.ErrBackendUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s returned %d: %s: %w",
			b.source, resp.StatusCode, graphErrorMessage(body), domain.ErrBackendUnavailable)
	}
	return body, nil
}

// graphErrorMessage extracts the error message from a Graph error body
// without leaking the full payload into user-visible errors.
func graphErrorMessage(body []byte) string {
	var e struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Error.Code == "" {
		return "request failed"
	}
	return e.Error.Code + ": " + e.Error.Message
}
