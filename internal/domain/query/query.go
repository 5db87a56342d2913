// Package query defines directory query requests, validation, and
// deterministic cache-key canonicalization.
package query

// Source identifies the identity backend a query targets.
type Source string

const (
	SourceAD    Source = "ad"
	SourceAzure Source = "azure"
	SourceO365  Source = "o365"
)

// Known reports whether s is one of the three supported backends.
func (s Source) Known() bool {
	switch s {
	case SourceAD, SourceAzure, SourceO365:
		return true
	}
	return false
}

// Field is an attribute selected by a query.
type Field struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Type        string `json:"type,omitempty"`
}

// Filter restricts the rows a query returns.
type Filter struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// Order is a single ordering directive.
type Order struct {
	Field      string `json:"field"`
	Descending bool   `json:"descending,omitempty"`
}

// Request is a backend-agnostic directory query. Limit is a pointer so
// "missing" is distinguishable from zero; non-finite values are
// normalized, never rejected.
type Request struct {
	Source     Source         `json:"source"`
	Fields     []Field        `json:"fields"`
	Filters    []Filter       `json:"filters,omitempty"`
	GroupBy    string         `json:"group_by,omitempty"`
	OrderBy    []Order        `json:"order_by,omitempty"`
	Limit      *float64       `json:"limit,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// FieldNames returns the selected attribute names in request order.
func (r *Request) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for _, f := range r.Fields {
		names = append(names, f.Name)
	}
	return names
}
