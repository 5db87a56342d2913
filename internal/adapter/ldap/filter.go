package ldap

import (
	"fmt"
	"strings"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/ReportDeck/reportdeck/internal/domain"
	"github.com/ReportDeck/reportdeck/internal/domain/query"
)

// buildFilter translates validated query filters into an LDAP filter
// string. Values are escaped per RFC 4515. Without filters the search
// matches any object.
func buildFilter(filters []query.Filter) (string, error) {
	if len(filters) == 0 {
		return "(objectClass=*)", nil
	}

	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		clause, err := buildClause(f)
		if err != nil {
			return "", err
		}
		parts = append(parts, clause)
	}

	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(&" + strings.Join(parts, "") + ")", nil
}

func buildClause(f query.Filter) (string, error) {
	field := goldap.EscapeFilter(f.Field)
	value := goldap.EscapeFilter(fmt.Sprintf("%v", f.Value))

	switch f.Operator {
	case "equals":
		return fmt.Sprintf("(%s=%s)", field, value), nil
	case "notEquals", "not_equals":
		return fmt.Sprintf("(!(%s=%s))", field, value), nil
	case "contains":
		return fmt.Sprintf("(%s=*%s*)", field, value), nil
	case "notContains", "not_contains":
		return fmt.Sprintf("(!(%s=*%s*))", field, value), nil
	case "startsWith", "starts_with":
		return fmt.Sprintf("(%s=%s*)", field, value), nil
	case "endsWith", "ends_with":
		return fmt.Sprintf("(%s=*%s)", field, value), nil
	// LDAP offers only >= and <=; the strict variants are approximated
	// by excluding equality.
	case "greaterThan", "greater_than":
		return fmt.Sprintf("(&(%s>=%s)(!(%s=%s)))", field, value, field, value), nil
	case "greaterOrEqual", "greater_or_equal":
		return fmt.Sprintf("(%s>=%s)", field, value), nil
	case "lessThan", "less_than":
		return fmt.Sprintf("(&(%s<=%s)(!(%s=%s)))", field, value, field, value), nil
	case "lessOrEqual", "less_or_equal":
		return fmt.Sprintf("(%s<=%s)", field, value), nil
	case "exists", "isNotEmpty", "is_not_empty":
		return fmt.Sprintf("(%s=*)", field), nil
	case "notExists", "not_exists", "isEmpty", "is_empty":
		return fmt.Sprintf("(!(%s=*))", field), nil
	default:
		return "", fmt.Errorf("unrecognized filter operator %q: %w", f.Operator, domain.ErrValidation)
	}
}
