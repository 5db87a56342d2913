package query

import (
	"encoding/json"
	"sort"
)

// Canonical returns a copy of the request with its semantically-unordered
// lists (field selection, filters) sorted by name, so two requests that
// differ only in array ordering serialize identically. Scalar options
// (grouping, ordering, limit) are preserved verbatim.
func (r *Request) Canonical() *Request {
	c := &Request{
		Source:     r.Source,
		GroupBy:    r.GroupBy,
		Limit:      r.Limit,
		Parameters: r.Parameters,
	}

	if len(r.Fields) > 0 {
		c.Fields = make([]Field, len(r.Fields))
		copy(c.Fields, r.Fields)
		sort.Slice(c.Fields, func(i, j int) bool { return c.Fields[i].Name < c.Fields[j].Name })
	}

	if len(r.Filters) > 0 {
		c.Filters = make([]Filter, len(r.Filters))
		copy(c.Filters, r.Filters)
		sort.SliceStable(c.Filters, func(i, j int) bool { return c.Filters[i].Field < c.Filters[j].Field })
	}

	// OrderBy is order-significant, copied as-is.
	if len(r.OrderBy) > 0 {
		c.OrderBy = make([]Order, len(r.OrderBy))
		copy(c.OrderBy, r.OrderBy)
	}

	return c
}

// CanonicalJSON serializes the canonical form of the request. It fails
// only for degenerate parameter structures (cycles, unsupported types);
// callers are expected to fall back to a coarse key in that case.
func (r *Request) CanonicalJSON() ([]byte, error) {
	return json.Marshal(r.Canonical())
}
