package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mproissl/governor/internal/config"
	"github.com/mproissl/governor/internal/graph"
	"github.com/mproissl/governor/internal/loader"
	"github.com/mproissl/governor/internal/store"
)

func buildGraph(t *testing.T, ops []config.OperatorConfig) *graph.Graph {
	t.Helper()
	specs := make([]graph.NodeSpec, 0, len(ops))
	for _, op := range ops {
		ids, err := op.RunAfterIDs()
		if err != nil {
			t.Fatalf("unexpected run_after error: %v", err)
		}
		specs = append(specs, graph.NodeSpec{ID: op.ID, RunAfter: ids})
	}
	g, err := graph.Build(specs)
	if err != nil {
		t.Fatalf("unexpected graph build error: %v", err)
	}
	return g
}

func specMap(ops []config.OperatorConfig) map[string]config.OperatorConfig {
	m := make(map[string]config.OperatorConfig, len(ops))
	for _, op := range ops {
		m[op.ID] = op
	}
	return m
}

func runWithTimeout(t *testing.T, fn func(ctx context.Context) error) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return fn(ctx)
}

func TestSchedulerRunsSimpleChainToCompletion(t *testing.T) {
	ops := []config.OperatorConfig{
		{ID: "a", ModulePath: "m", ClassName: "A", SaveOutput: true, Repeat: 1},
		{ID: "b", ModulePath: "m", ClassName: "B", RunAfter: "a", SharedInputParams: "a AS upstream", SaveOutput: true, Repeat: 1},
	}
	g := buildGraph(t, ops)
	shared := store.NewShared()
	dedicated := store.NewDedicated()
	ld := loader.NewRegistryLoader()
	ld.Register("m", "A", loader.NewFuncConstructor(func(map[string]any) (any, error) { return 7, nil }))
	ld.Register("m", "B", loader.NewFuncConstructor(func(inputs map[string]any) (any, error) {
		return inputs["upstream"].(int) + 1, nil
	}))

	sch := New(g, shared, dedicated, ld, specMap(ops), "run-test", nil)
	err := runWithTimeout(t, sch.RunParallel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sch.Completed() {
		t.Fatal("expected all operators completed")
	}
	v, err := shared.Get("b", false)
	if err != nil || v != 8 {
		t.Fatalf("expected b=8, got %v err=%v", v, err)
	}
}

func TestSchedulerAbortsOnOperatorError(t *testing.T) {
	ops := []config.OperatorConfig{
		{ID: "a", ModulePath: "m", ClassName: "Fail", Repeat: 1},
	}
	g := buildGraph(t, ops)
	shared := store.NewShared()
	dedicated := store.NewDedicated()
	ld := loader.NewRegistryLoader()
	ld.Register("m", "Fail", loader.NewFuncConstructor(func(map[string]any) (any, error) {
		return nil, errors.New("operator exploded")
	}))

	sch := New(g, shared, dedicated, ld, specMap(ops), "run-test", nil)
	err := runWithTimeout(t, sch.RunParallel)
	if err == nil {
		t.Fatal("expected an error")
	}
	var rerr *RunError
	if !errors.As(err, &rerr) || rerr.OperatorID != "a" {
		t.Fatalf("expected RunError for operator a, got %v", err)
	}
}

func TestSchedulerRepeatsOperator(t *testing.T) {
	calls := 0
	ops := []config.OperatorConfig{
		{ID: "a", ModulePath: "m", ClassName: "Counter", Repeat: 3, SaveOutput: true},
	}
	g := buildGraph(t, ops)
	shared := store.NewShared()
	dedicated := store.NewDedicated()
	ld := loader.NewRegistryLoader()
	ld.Register("m", "Counter", loader.NewFuncConstructor(func(map[string]any) (any, error) {
		calls++
		return calls, nil
	}))

	sch := New(g, shared, dedicated, ld, specMap(ops), "run-test", nil)
	err := runWithTimeout(t, sch.RunParallel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 repeats, got %d", calls)
	}
	v, _ := shared.Get("a", false)
	if v != 3 {
		t.Fatalf("expected final value 3, got %v", v)
	}
}

func TestSchedulerSequentialMode(t *testing.T) {
	var order []string
	ops := []config.OperatorConfig{
		{ID: "a", ModulePath: "m", ClassName: "A", Repeat: 1},
		{ID: "b", ModulePath: "m", ClassName: "B", Repeat: 1},
	}
	g := buildGraph(t, ops)
	shared := store.NewShared()
	dedicated := store.NewDedicated()
	ld := loader.NewRegistryLoader()
	ld.Register("m", "A", loader.NewFuncConstructor(func(map[string]any) (any, error) {
		order = append(order, "a")
		return nil, nil
	}))
	ld.Register("m", "B", loader.NewFuncConstructor(func(map[string]any) (any, error) {
		order = append(order, "b")
		return nil, nil
	}))

	sch := New(g, shared, dedicated, ld, specMap(ops), "run-test", nil)
	err := runWithTimeout(t, sch.RunSequential)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expected sequential order [a b], got %v", order)
	}
}
