package controller

import (
	"context"
	"strings"
	"testing"

	"github.com/mproissl/governor/internal/loader"
)

func newTestLoader(t *testing.T) *loader.RegistryLoader {
	t.Helper()
	ld := loader.NewRegistryLoader()
	ld.Register("m", "Greeter", loader.NewFuncConstructor(func(inputs map[string]any) (any, error) {
		name, _ := inputs["name"].(string)
		return "hello " + name, nil
	}))
	ld.Register("m", "Reader", loader.NewFuncConstructor(func(inputs map[string]any) (any, error) {
		return inputs["greeting"], nil
	}))
	return ld
}

func TestControllerRunSeedsAndCompletes(t *testing.T) {
	cfg := map[string]any{
		"header": map[string]any{
			"name":                    "smoke",
			"enable_multiprocessing": true,
			"shared_data":            map[string]any{"name": "world"},
		},
		"payload": map[string]any{
			"operators": []any{
				map[string]any{
					"id":                     "greet",
					"module_path":            "m",
					"class_name":             "Greeter",
					"dedicated_input_params": map[string]any{},
					"shared_input_params":    "name",
					"save_output":            true,
				},
				map[string]any{
					"id":                   "read",
					"module_path":          "m",
					"class_name":           "Reader",
					"run_after":            "greet",
					"shared_input_params":  "greet AS greeting",
					"save_output":          true,
				},
			},
		},
	}

	ctrl := New(newTestLoader(t), nil)
	res, err := ctrl.Run(context.Background(), cfg, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := res.Shared.Get("read", false)
	if err != nil || v != "hello world" {
		t.Fatalf("expected %q, got %v err=%v", "hello world", v, err)
	}
}

func TestControllerRunRejectsInvalidConfig(t *testing.T) {
	ctrl := New(newTestLoader(t), nil)
	_, err := ctrl.Run(context.Background(), map[string]any{"bogus": true}, "")
	if err == nil {
		t.Fatal("expected an error for invalid config")
	}
}

func TestControllerRunAggregatesOperatorError(t *testing.T) {
	cfg := map[string]any{
		"payload": map[string]any{
			"operators": []any{
				map[string]any{
					"id":          "boom",
					"module_path": "missing",
					"class_name":  "Unknown",
				},
			},
		},
	}
	ctrl := New(newTestLoader(t), nil)
	_, err := ctrl.Run(context.Background(), cfg, "")
	if err == nil {
		t.Fatal("expected a loader error")
	}
	if !strings.Contains(err.Error(), `"boom"`) {
		t.Fatalf("expected error to name operator boom, got %v", err)
	}
}
