// Package ldap implements the directory backend port for on-prem Active
// Directory.
package ldap

import (
	"context"
	"fmt"
	"net"
	"time"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/ReportDeck/reportdeck/internal/domain"
	"github.com/ReportDeck/reportdeck/internal/domain/query"
	"github.com/ReportDeck/reportdeck/internal/port/directory"
)

const pageSize = 500

func init() {
	directory.Register(query.SourceAD, func(cfg directory.Config) (directory.Backend, error) {
		return New(cfg)
	})
}

// Backend executes AD queries over LDAP and normalizes entries into the
// shared row shape.
type Backend struct {
	url     string
	baseDN  string
	bindDN  string
	bindPW  string
	timeout time.Duration
}

// New creates an AD backend from the given config.
func New(cfg directory.Config) (*Backend, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("ad: endpoint is required: %w", domain.ErrBackendUnavailable)
	}
	if cfg.BaseDN == "" {
		return nil, fmt.Errorf("ad: base dn is required: %w", domain.ErrBackendUnavailable)
	}

	b := &Backend{
		url:     cfg.Endpoint,
		baseDN:  cfg.BaseDN,
		timeout: cfg.Timeout,
	}
	if b.timeout == 0 {
		b.timeout = 30 * time.Second
	}
	if cfg.Credential != nil {
		b.bindDN = cfg.Credential.Username
		b.bindPW = cfg.Credential.Password
	}
	return b, nil
}

// Name returns the source this backend serves.
func (b *Backend) Name() query.Source { return query.SourceAD }

// ExecuteQuery builds an LDAP search (base DN, subtree scope, filter,
// attribute list) from the request and returns normalized rows.
func (b *Backend) ExecuteQuery(ctx context.Context, req *query.Request) (*directory.ResultSet, error) {
	conn, err := b.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close() //nolint:errcheck // best-effort cleanup

	filter, err := buildFilter(req.Filters)
	if err != nil {
		return nil, err
	}

	sizeLimit := 0
	if req.Limit != nil && *req.Limit > 0 {
		sizeLimit = int(*req.Limit)
	}

	search := goldap.NewSearchRequest(
		b.baseDN,
		goldap.ScopeWholeSubtree,
		goldap.NeverDerefAliases,
		sizeLimit, int(b.timeout.Seconds()), false,
		filter,
		req.FieldNames(),
		nil,
	)

	res, err := conn.SearchWithPaging(search, pageSize)
	if err != nil {
		// A size-limit-exceeded result still carries the rows up to the limit.
		if !goldap.IsErrorWithCode(err, goldap.LDAPResultSizeLimitExceeded) {
			return nil, fmt.Errorf("ldap search: %w: %w", err, domain.ErrBackendUnavailable)
		}
	}

	rows := make([]map[string]any, 0, len(res.Entries))
	for _, entry := range res.Entries {
		row := make(map[string]any, len(entry.Attributes)+1)
		row["dn"] = entry.DN
		for _, attr := range entry.Attributes {
			if len(attr.Values) == 1 {
				row[attr.Name] = attr.Values[0]
			} else {
				row[attr.Name] = attr.Values
			}
		}
		rows = append(rows, row)
	}

	return &directory.ResultSet{Rows: rows, Count: len(rows)}, nil
}

// TestConnection dials and binds without searching.
func (b *Backend) TestConnection(ctx context.Context) error {
	conn, err := b.dial(ctx)
	if err != nil {
		return err
	}
	_ = conn.Close()
	return nil
}

// dial connects and binds. The LDAP library has no context support on
// search, so the connection deadline carries the budget instead.
func (b *Backend) dial(ctx context.Context) (*goldap.Conn, error) {
	timeout := b.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	conn, err := goldap.DialURL(b.url, goldap.DialWithDialer(&net.Dialer{Timeout: timeout}))
	if err != nil {
		return nil, fmt.Errorf("ldap dial %s: %w: %w", b.url, err, domain.ErrBackendUnavailable)
	}
	conn.SetTimeout(timeout)

	if b.bindDN != "" {
		if err := conn.Bind(b.bindDN, b.bindPW); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("ldap bind: %w: %w", err, domain.ErrBackendUnavailable)
		}
	}
	return conn, nil
}
