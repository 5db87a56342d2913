package report

import (
	"testing"
	"time"
)

func TestMergeParamsCallerWins(t *testing.T) {
	tmpl := &Template{DefaultParams: map[string]any{"dept": "IT", "region": "EU"}}

	merged := tmpl.MergeParams(map[string]any{"dept": "HR"})
	if merged["dept"] != "HR" {
		t.Errorf("dept = %v, caller override should win", merged["dept"])
	}
	if merged["region"] != "EU" {
		t.Errorf("region = %v, default should survive", merged["region"])
	}

	if tmpl.MergeParams(nil) == nil {
		t.Error("defaults alone should still merge")
	}
	empty := &Template{}
	if empty.MergeParams(nil) != nil {
		t.Error("nothing to merge should yield nil")
	}
}

func TestMapRowsRenamesAndCoerces(t *testing.T) {
	rows := []map[string]any{
		{
			"whenCreated":    "20240131120000.0Z",
			"accountEnabled": "TRUE",
			"badgeNumber":    "42",
			"mail":           "jdoe@example.com",
		},
	}
	mappings := map[string]FieldMapping{
		"whenCreated":    {DisplayName: "Created", Type: "date"},
		"accountEnabled": {Type: "bool"},
		"badgeNumber":    {Type: "number"},
	}

	out := MapRows(rows, mappings)
	row := out[0]

	created, ok := row["Created"].(string)
	if !ok {
		t.Fatalf("Created missing or not a string: %v", row)
	}
	if _, err := time.Parse(time.RFC3339, created); err != nil {
		t.Errorf("Created = %q, want RFC 3339", created)
	}
	if _, stillThere := row["whenCreated"]; stillThere {
		t.Error("renamed column should not keep its raw name")
	}
	if row["accountEnabled"] != true {
		t.Errorf("accountEnabled = %v (%T), want true", row["accountEnabled"], row["accountEnabled"])
	}
	if row["badgeNumber"] != 42.0 {
		t.Errorf("badgeNumber = %v (%T), want 42", row["badgeNumber"], row["badgeNumber"])
	}
	if row["mail"] != "jdoe@example.com" {
		t.Error("unmapped columns must pass through unchanged")
	}
}

func TestMapRowsKeepsUncoercibleValues(t *testing.T) {
	rows := []map[string]any{{"when": "not-a-date", "count": "not-a-number"}}
	mappings := map[string]FieldMapping{
		"when":  {Type: "date"},
		"count": {Type: "number"},
	}

	row := MapRows(rows, mappings)[0]
	if row["when"] != "not-a-date" || row["count"] != "not-a-number" {
		t.Errorf("uncoercible values must pass through, got %v", row)
	}
}

func TestMapRowsGraphTimestamps(t *testing.T) {
	rows := []map[string]any{{"createdDateTime": "2024-06-01T08:30:00Z"}}
	mappings := map[string]FieldMapping{"createdDateTime": {Type: "date"}}

	row := MapRows(rows, mappings)[0]
	if row["createdDateTime"] != "2024-06-01T08:30:00Z" {
		t.Errorf("RFC 3339 input should normalize to itself: %v", row["createdDateTime"])
	}
}

func TestMapRowsNoMappings(t *testing.T) {
	rows := []map[string]any{{"cn": "jdoe"}}
	if out := MapRows(rows, nil); len(out) != 1 || out[0]["cn"] != "jdoe" {
		t.Errorf("no mappings should return rows unchanged: %v", out)
	}
}
