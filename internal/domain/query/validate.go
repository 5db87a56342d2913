package query

import (
	"fmt"
	"math"

	"github.com/ReportDeck/reportdeck/internal/domain"
)

// allowedOperators is the fixed operator allow-list. Both camelCase and
// snake_case spellings are accepted for backward compatibility with
// saved report definitions.
var allowedOperators = map[string]struct{}{
	"equals":           {},
	"notEquals":        {},
	"not_equals":       {},
	"contains":         {},
	"notContains":      {},
	"not_contains":     {},
	"startsWith":       {},
	"starts_with":      {},
	"endsWith":         {},
	"ends_with":        {},
	"greaterThan":      {},
	"greater_than":     {},
	"lessThan":         {},
	"less_than":        {},
	"greaterOrEqual":   {},
	"greater_or_equal": {},
	"lessOrEqual":      {},
	"less_or_equal":    {},
	"exists":           {},
	"notExists":        {},
	"not_exists":       {},
	"isEmpty":          {},
	"is_empty":         {},
	"isNotEmpty":       {},
	"is_not_empty":     {},
}

// OperatorAllowed reports whether op is in the filter operator allow-list.
func OperatorAllowed(op string) bool {
	_, ok := allowedOperators[op]
	return ok
}

// Validate checks a request before any execution: the source must be
// known, at least one field must be selected with a non-empty name, and
// every filter must carry a field and a recognized operator.
func Validate(req *Request) error {
	if req == nil {
		return fmt.Errorf("query is required: %w", domain.ErrValidation)
	}
	if !req.Source.Known() {
		return fmt.Errorf("unknown source %q: %w", req.Source, domain.ErrValidation)
	}
	if len(req.Fields) == 0 {
		return fmt.Errorf("at least one field must be selected: %w", domain.ErrValidation)
	}
	for i, f := range req.Fields {
		if f.Name == "" {
			return fmt.Errorf("field %d has an empty name: %w", i, domain.ErrValidation)
		}
	}
	for _, f := range req.Filters {
		if f.Field == "" {
			return fmt.Errorf("filter is missing a field: %w", domain.ErrValidation)
		}
		if !OperatorAllowed(f.Operator) {
			return fmt.Errorf("unrecognized filter operator %q on field %q: %w", f.Operator, f.Field, domain.ErrValidation)
		}
	}
	return nil
}

// ClampLimit normalizes a requested limit into [0, max]. Missing,
// negative, NaN, and infinite limits become def; any finite value above
// max, however large, is capped. Requests are never rejected on account
// of their limit.
func ClampLimit(limit *float64, def, max int) int {
	if limit == nil {
		return def
	}
	v := *limit
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return def
	}
	if v > float64(max) {
		return max
	}
	return int(v)
}
