package report

import (
	"strconv"
	"strings"
	"time"
)

// dateLayouts are tried in order when coercing string values to dates.
// LDAP generalized time (20230102150405.0Z) appears in AD results;
// RFC 3339 in Graph results.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"20060102150405.0Z",
	"2006-01-02",
}

// MapRows applies field mappings to raw backend rows: type coercion
// (date, bool, number) and optional display-name renames. Columns
// without a mapping pass through unchanged.
func MapRows(rows []map[string]any, mappings map[string]FieldMapping) []map[string]any {
	if len(mappings) == 0 || len(rows) == 0 {
		return rows
	}

	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		mapped := make(map[string]any, len(row))
		for col, val := range row {
			m, ok := mappings[col]
			if !ok {
				mapped[col] = val
				continue
			}
			name := col
			if m.DisplayName != "" {
				name = m.DisplayName
			}
			mapped[name] = coerce(val, m.Type)
		}
		out[i] = mapped
	}
	return out
}

// coerce converts val to the mapped type where possible. Values that do
// not convert are returned unchanged rather than dropped.
func coerce(val any, typ string) any {
	if val == nil {
		return nil
	}
	switch typ {
	case "date":
		return coerceDate(val)
	case "bool":
		return coerceBool(val)
	case "number":
		return coerceNumber(val)
	default:
		return val
	}
}

func coerceDate(val any) any {
	switch v := val.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC().Format(time.RFC3339)
			}
		}
	}
	return val
}

func coerceBool(val any) any {
	switch v := val.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(v) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	case float64:
		return v != 0
	case int:
		return v != 0
	}
	return val
}

func coerceNumber(val any) any {
	switch v := val.(type) {
	case float64, int, int64:
		return v
	case string:
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return val
}
