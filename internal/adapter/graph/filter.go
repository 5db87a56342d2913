package graph

import (
	"fmt"
	"strings"

	"github.com/ReportDeck/reportdeck/internal/domain/query"
)

// splitFilters partitions filters into a Graph $filter expression and a
// remainder Graph cannot express, which is applied locally after fetch.
func splitFilters(filters []query.Filter) (string, []query.Filter) {
	var clauses []string
	var local []query.Filter

	for _, f := range filters {
		if clause, ok := translateFilter(f); ok {
			clauses = append(clauses, clause)
		} else {
			local = append(local, f)
		}
	}
	return strings.Join(clauses, " and "), local
}

// translateFilter maps one filter to OData syntax. Operators without an
// OData equivalent report ok=false and fall back to local evaluation.
func translateFilter(f query.Filter) (string, bool) {
	value := escapeODataValue(f.Value)

	switch f.Operator {
	case "equals":
		return fmt.Sprintf("%s eq %s", f.Field, value), true
	case "notEquals", "not_equals":
		return fmt.Sprintf("%s ne %s", f.Field, value), true
	case "startsWith", "starts_with":
		return fmt.Sprintf("startswith(%s,%s)", f.Field, value), true
	case "greaterThan", "greater_than":
		return fmt.Sprintf("%s gt %s", f.Field, value), true
	case "greaterOrEqual", "greater_or_equal":
		return fmt.Sprintf("%s ge %s", f.Field, value), true
	case "lessThan", "less_than":
		return fmt.Sprintf("%s lt %s", f.Field, value), true
	case "lessOrEqual", "less_or_equal":
		return fmt.Sprintf("%s le %s", f.Field, value), true
	case "exists", "isNotEmpty", "is_not_empty":
		return fmt.Sprintf("%s ne null", f.Field), true
	case "notExists", "not_exists", "isEmpty", "is_empty":
		return fmt.Sprintf("%s eq null", f.Field), true
	default:
		return "", false
	}
}

// escapeODataValue renders a filter value as an OData literal. Strings
// are single-quoted with embedded quotes doubled; numbers and booleans
// pass through bare.
func escapeODataValue(v any) string {
	switch val := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// applyLocalFilters evaluates substring-family filters Graph cannot
// express server-side.
func applyLocalFilters(rows []map[string]any, filters []query.Filter) []map[string]any {
	if len(filters) == 0 {
		return rows
	}

	out := rows[:0]
	for _, row := range rows {
		if matchesAll(row, filters) {
			out = append(out, row)
		}
	}
	return out
}

func matchesAll(row map[string]any, filters []query.Filter) bool {
	for _, f := range filters {
		cell := fmt.Sprintf("%v", row[f.Field])
		want := fmt.Sprintf("%v", f.Value)

		switch f.Operator {
		case "contains":
			if !strings.Contains(strings.ToLower(cell), strings.ToLower(want)) {
				return false
			}
		case "notContains", "not_contains":
			if strings.Contains(strings.ToLower(cell), strings.ToLower(want)) {
				return false
			}
		case "endsWith", "ends_with":
			if !strings.HasSuffix(strings.ToLower(cell), strings.ToLower(want)) {
				return false
			}
		default:
			// Anything else was either translated server-side or caught
			// by validation; skip rather than drop rows.
		}
	}
	return true
}
