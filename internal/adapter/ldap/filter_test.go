package ldap

import (
	"strings"
	"testing"

	"github.com/ReportDeck/reportdeck/internal/domain/query"
)

func TestBuildFilterEmpty(t *testing.T) {
	f, err := buildFilter(nil)
	if err != nil {
		t.Fatal(err)
	}
	if f != "(objectClass=*)" {
		t.Fatalf("expected match-all filter, got %s", f)
	}
}

func TestBuildFilterOperators(t *testing.T) {
	tests := []struct {
		name   string
		filter query.Filter
		want   string
	}{
		{"equals", query.Filter{Field: "cn", Operator: "equals", Value: "jdoe"}, "(cn=jdoe)"},
		{"not equals snake", query.Filter{Field: "cn", Operator: "not_equals", Value: "jdoe"}, "(!(cn=jdoe))"},
		{"contains", query.Filter{Field: "mail", Operator: "contains", Value: "example"}, "(mail=*example*)"},
		{"starts with camel", query.Filter{Field: "sn", Operator: "startsWith", Value: "Sm"}, "(sn=Sm*)"},
		{"ends with snake", query.Filter{Field: "mail", Operator: "ends_with", Value: ".org"}, "(mail=*.org)"},
		{"greater or equal", query.Filter{Field: "logonCount", Operator: "greaterOrEqual", Value: "5"}, "(logonCount>=5)"},
		{"exists", query.Filter{Field: "mail", Operator: "exists"}, "(mail=*)"},
		{"is empty", query.Filter{Field: "mail", Operator: "is_empty"}, "(!(mail=*))"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildFilter([]query.Filter{tt.filter})
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestBuildFilterConjunction(t *testing.T) {
	got, err := buildFilter([]query.Filter{
		{Field: "objectClass", Operator: "equals", Value: "user"},
		{Field: "mail", Operator: "exists"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "(&(objectClass=user)(mail=*))" {
		t.Fatalf("unexpected conjunction: %s", got)
	}
}

func TestBuildFilterEscapesValues(t *testing.T) {
	got, err := buildFilter([]query.Filter{
		{Field: "cn", Operator: "equals", Value: "a*b(c)"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "a*b(c)") {
		t.Fatalf("value was not escaped: %s", got)
	}
}

func TestBuildFilterUnknownOperator(t *testing.T) {
	_, err := buildFilter([]query.Filter{
		{Field: "cn", Operator: "regex", Value: ".*"},
	})
	if err == nil {
		t.Fatal("expected error for unrecognized operator")
	}
	if !strings.Contains(err.Error(), "regex") {
		t.Errorf("error should name the offending operator: %v", err)
	}
}
