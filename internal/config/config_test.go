package config

import "testing"

const minimalJSON = `{
  "header": {"name": "run-1", "shared_data": {"x": 1}},
  "payload": {"operators": [{"id": "a", "module_path": "pkg", "class_name": "A"}]}
}`

func TestLoadJSONString(t *testing.T) {
	root, err := Load(minimalJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if root.Header.Name != "run-1" {
		t.Fatalf("expected name run-1, got %q", root.Header.Name)
	}
	if !root.Header.EnableMultiprocessing {
		t.Fatalf("expected enable_multiprocessing to default true")
	}
	if len(root.Payload.Operators) != 1 || root.Payload.Operators[0].ID != "a" {
		t.Fatalf("unexpected operators: %+v", root.Payload.Operators)
	}
	if !root.Payload.Operators[0].ReinitInRepeats() {
		t.Fatalf("expected reinitialize_in_repeats to default true")
	}
}

func TestLoadDecodesOperatorLabel(t *testing.T) {
	src := `{"header": {}, "payload": {"operators": [{"id":"a", "label":"first pass"}]}}`
	root, err := Load(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if root.Payload.Operators[0].Label != "first pass" {
		t.Fatalf("expected label %q, got %q", "first pass", root.Payload.Operators[0].Label)
	}
}

func TestLoadMapSource(t *testing.T) {
	src := map[string]any{
		"header": map[string]any{"name": "m"},
		"payload": map[string]any{
			"operators": []any{
				map[string]any{"id": "a", "module_path": "pkg", "class_name": "A"},
			},
		},
	}
	root, err := Load(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if root.Header.Name != "m" {
		t.Fatalf("expected name m, got %q", root.Header.Name)
	}
}

func TestLoadRejectsUnknownTopLevelKey(t *testing.T) {
	_, err := Load(`{"header": {}, "payload": {"operators": [{"id":"a"}]}, "bogus": 1}`)
	if err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestLoadRejectsUnknownOperatorKey(t *testing.T) {
	_, err := Load(`{"header": {}, "payload": {"operators": [{"id":"a", "bogus_field": 1}]}}`)
	if err == nil {
		t.Fatal("expected error for unknown operator field")
	}
}

func TestLoadRejectsDuplicateOperatorID(t *testing.T) {
	src := `{"header": {}, "payload": {"operators": [{"id":"a"}, {"id":"a"}]}}`
	_, err := Load(src)
	if err == nil {
		t.Fatal("expected error for duplicate operator id")
	}
}

func TestLoadRejectsEmptyOperatorList(t *testing.T) {
	_, err := Load(`{"header": {}, "payload": {"operators": []}}`)
	if err == nil {
		t.Fatal("expected error for empty operators list")
	}
}

func TestRunAfterIDsNormalizesForms(t *testing.T) {
	single := OperatorConfig{ID: "a", RunAfter: "b"}
	ids, err := single.RunAfterIDs()
	if err != nil || len(ids) != 1 || ids[0] != "b" {
		t.Fatalf("expected [b], got %v err=%v", ids, err)
	}

	list := OperatorConfig{ID: "a", RunAfter: []any{"b", "c"}}
	ids, err = list.RunAfterIDs()
	if err != nil || len(ids) != 2 {
		t.Fatalf("expected [b c], got %v err=%v", ids, err)
	}

	absent := OperatorConfig{ID: "a"}
	ids, err = absent.RunAfterIDs()
	if err != nil || ids != nil {
		t.Fatalf("expected nil, got %v err=%v", ids, err)
	}
}
