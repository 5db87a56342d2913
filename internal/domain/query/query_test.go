package query

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/ReportDeck/reportdeck/internal/domain"
)

func TestValidate(t *testing.T) {
	valid := &Request{
		Source: SourceAD,
		Fields: []Field{{Name: "cn"}},
		Filters: []Filter{
			{Field: "department", Operator: "equals", Value: "IT"},
			{Field: "department", Operator: "not_equals", Value: "HR"},
		},
	}
	if err := Validate(valid); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}

	cases := map[string]*Request{
		"nil request":    nil,
		"unknown source": {Source: "okta", Fields: []Field{{Name: "cn"}}},
		"no fields":      {Source: SourceAD},
		"unnamed field":  {Source: SourceAD, Fields: []Field{{Name: ""}}},
		"bad operator": {Source: SourceAD, Fields: []Field{{Name: "cn"}},
			Filters: []Filter{{Field: "cn", Operator: "regex", Value: ".*"}}},
		"filter without field": {Source: SourceAD, Fields: []Field{{Name: "cn"}},
			Filters: []Filter{{Operator: "equals", Value: "x"}}},
	}
	for name, req := range cases {
		if err := Validate(req); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("%s: err = %v, want ErrValidation", name, err)
		}
	}
}

func TestOperatorAllowedBothSpellings(t *testing.T) {
	pairs := [][2]string{
		{"notEquals", "not_equals"},
		{"startsWith", "starts_with"},
		{"greaterOrEqual", "greater_or_equal"},
	}
	for _, p := range pairs {
		if !OperatorAllowed(p[0]) || !OperatorAllowed(p[1]) {
			t.Errorf("both %q and %q should be accepted", p[0], p[1])
		}
	}
	if OperatorAllowed("like") {
		t.Error("unknown operator should be rejected")
	}
}

func TestClampLimit(t *testing.T) {
	ptr := func(v float64) *float64 { return &v }

	cases := []struct {
		name  string
		limit *float64
		want  int
	}{
		{"missing", nil, 10},
		{"in range", ptr(25), 25},
		{"above max", ptr(500), 100},
		{"beyond int range", ptr(1e30), 100},
		{"zero", ptr(0), 0},
		{"negative", ptr(-3), 10},
		{"nan", ptr(math.NaN()), 10},
		{"positive inf", ptr(math.Inf(1)), 10},
		{"negative inf", ptr(math.Inf(-1)), 10},
		{"fractional", ptr(12.9), 12},
	}
	for _, tc := range cases {
		if got := ClampLimit(tc.limit, 10, 100); got != tc.want {
			t.Errorf("%s: ClampLimit = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestCanonicalJSONOrderInvariant(t *testing.T) {
	a := &Request{
		Source: SourceAzure,
		Fields: []Field{{Name: "displayName"}, {Name: "mail"}, {Name: "id"}},
		Filters: []Filter{
			{Field: "accountEnabled", Operator: "equals", Value: true},
			{Field: "department", Operator: "contains", Value: "Eng"},
		},
	}
	b := &Request{
		Source: SourceAzure,
		Fields: []Field{{Name: "mail"}, {Name: "id"}, {Name: "displayName"}},
		Filters: []Filter{
			{Field: "department", Operator: "contains", Value: "Eng"},
			{Field: "accountEnabled", Operator: "equals", Value: true},
		},
	}

	ja, err := a.CanonicalJSON()
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	jb, err := b.CanonicalJSON()
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	if !bytes.Equal(ja, jb) {
		t.Errorf("reordered lists should canonicalize identically:\n%s\n%s", ja, jb)
	}
}

func TestCanonicalPreservesOrderBy(t *testing.T) {
	r := &Request{
		Source:  SourceAD,
		Fields:  []Field{{Name: "cn"}},
		OrderBy: []Order{{Field: "sn"}, {Field: "givenName", Descending: true}},
	}

	c := r.Canonical()
	if c.OrderBy[0].Field != "sn" || c.OrderBy[1].Field != "givenName" {
		t.Errorf("OrderBy is order-significant and must be preserved: %+v", c.OrderBy)
	}
}

func TestCanonicalDoesNotMutateInput(t *testing.T) {
	r := &Request{
		Source: SourceAD,
		Fields: []Field{{Name: "zz"}, {Name: "aa"}},
	}

	_ = r.Canonical()
	if r.Fields[0].Name != "zz" {
		t.Error("Canonical must copy, not sort in place")
	}
}
