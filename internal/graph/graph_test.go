package graph

import (
	"reflect"
	"sort"
	"testing"
)

func TestBuildSequentialWhenNoRunAfter(t *testing.T) {
	g, err := Build([]NodeSpec{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertEqualSet(t, g.Predecessors("a"), []string{Root})
	assertEqualSet(t, g.Predecessors("b"), []string{"a"})
	assertEqualSet(t, g.Predecessors("c"), []string{"b"})
	assertEqualSet(t, g.Roots(), []string{"a"})
}

func TestBuildRunAfterSingle(t *testing.T) {
	g, err := Build([]NodeSpec{
		{ID: "a"},
		{ID: "b", RunAfter: []string{"a"}},
		{ID: "c"}, // no run_after: reconnects to the tip, which b's run_after left at "a"
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertEqualSet(t, g.Predecessors("b"), []string{"a"})
	assertEqualSet(t, g.Predecessors("c"), []string{"a"})
}

func TestBuildRunAfterRewiresAroundSkippedNode(t *testing.T) {
	// b declares run_after=d, so b leaves the sequential backbone.
	// c has no run_after, so it should attach to the backbone's tip
	// (d, b's original predecessor), not to b.
	g, err := Build([]NodeSpec{
		{ID: "a"},
		{ID: "d"},
		{ID: "b", RunAfter: []string{"d"}},
		{ID: "c"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertEqualSet(t, g.Predecessors("b"), []string{"d"})
	assertEqualSet(t, g.Predecessors("c"), []string{"d"})
}

func TestBuildRunAfterList(t *testing.T) {
	g, err := Build([]NodeSpec{
		{ID: "a"},
		{ID: "b"},
		{ID: "c", RunAfter: []string{"a", "b"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertEqualSet(t, g.Predecessors("c"), []string{"a", "b"})
	assertEqualSet(t, g.Successors("a"), []string{"b", "c"})
}

func TestBuildRejectsDuplicateId(t *testing.T) {
	_, err := Build([]NodeSpec{{ID: "a"}, {ID: "a"}})
	if !IsKind(err, KindDuplicateOperatorId) {
		t.Fatalf("expected DuplicateOperatorId, got %v", err)
	}
}

func TestBuildRejectsProtectedRootId(t *testing.T) {
	_, err := Build([]NodeSpec{{ID: Root}})
	if !IsKind(err, KindProtectedIdUsed) {
		t.Fatalf("expected ProtectedIdUsed, got %v", err)
	}
}

func TestBuildRejectsUnknownRunAfter(t *testing.T) {
	_, err := Build([]NodeSpec{{ID: "a", RunAfter: []string{"ghost"}}})
	if !IsKind(err, KindUnknownRunAfter) {
		t.Fatalf("expected UnknownRunAfter, got %v", err)
	}
}

func TestBuildRejectsCycle(t *testing.T) {
	_, err := Build([]NodeSpec{
		{ID: "a", RunAfter: []string{"b"}},
		{ID: "b", RunAfter: []string{"a"}},
	})
	if !IsKind(err, KindCycleDetected) {
		t.Fatalf("expected CycleDetected, got %v", err)
	}
}

func TestTopologicalIterBreaksTiesByDeclarationOrder(t *testing.T) {
	g, err := Build([]NodeSpec{{ID: "a"}, {ID: "b", RunAfter: []string{"a"}}, {ID: "c", RunAfter: []string{"a"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	order := g.TopologicalIter()
	if !reflect.DeepEqual(order, []string{"a", "b", "c"}) {
		t.Fatalf("expected [a b c], got %v", order)
	}
}

func assertEqualSet(t *testing.T, got, want []string) {
	t.Helper()
	g := append([]string(nil), got...)
	w := append([]string(nil), want...)
	sort.Strings(g)
	sort.Strings(w)
	if !reflect.DeepEqual(g, w) {
		t.Fatalf("got %v, want %v", g, w)
	}
}
