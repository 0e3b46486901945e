// Package graph builds and exposes the immutable operator DAG described
// in spec.md §4.C, grounded on hdrp/internal/dag/graph.go's Validate/
// cycle-detection shape and hdrp/internal/concurrency/topological.go's
// readiness/ordering queries.
package graph

import (
	"fmt"
	"sort"
)

// Root is the synthetic node id every source of the user's DAG depends
// on. It carries no work and is never a valid user id.
const Root = "ROOT"

// NodeSpec is the graph-relevant subset of an operator configuration
// record (spec.md §3): an id and its declared run_after dependencies,
// in declaration order.
type NodeSpec struct {
	ID       string
	RunAfter []string
}

// Graph is the immutable DAG built from a validated operator list.
// Safe for concurrent reads from any context once Build returns.
type Graph struct {
	order        []string            // declaration order, ROOT first
	predecessors map[string]map[string]bool
	successors   map[string]map[string]bool
}

// Error kinds named in spec.md §7.
type buildError struct {
	kind string
	msg  string
}

func (e *buildError) Error() string { return fmt.Sprintf("graph: %s: %s", e.kind, e.msg) }

func newBuildError(kind, format string, args ...any) error {
	return &buildError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err was produced with the given spec.md §7 kind
// (DuplicateOperatorId, ProtectedIdUsed, UnknownRunAfter, CycleDetected).
func IsKind(err error, kind string) bool {
	be, ok := err.(*buildError)
	return ok && be.kind == kind
}

const (
	KindDuplicateOperatorId = "DuplicateOperatorId"
	KindProtectedIdUsed     = "ProtectedIdUsed"
	KindUnknownRunAfter     = "UnknownRunAfter"
	KindCycleDetected       = "CycleDetected"
)

// Build constructs the DAG per spec.md §4.C's build algorithm.
//
// The sequential backbone is tracked as a moving "tip": nodes without
// run_after attach to whatever node currently terminates the backbone
// and become the new tip; nodes with run_after attach to their declared
// predecessors instead and leave the tip untouched, so the next plain
// node in declaration order reconnects to the backbone's true
// predecessor rather than to a node that was itself rewired away.
func Build(specs []NodeSpec) (*Graph, error) {
	g := &Graph{
		order:        make([]string, 0, len(specs)+1),
		predecessors: make(map[string]map[string]bool),
		successors:   make(map[string]map[string]bool),
	}
	g.order = append(g.order, Root)
	g.predecessors[Root] = map[string]bool{}
	g.successors[Root] = map[string]bool{}

	seen := map[string]bool{Root: true}
	for _, s := range specs {
		if s.ID == Root {
			return nil, newBuildError(KindProtectedIdUsed, "%q is reserved", Root)
		}
		if seen[s.ID] {
			return nil, newBuildError(KindDuplicateOperatorId, "%q declared more than once", s.ID)
		}
		seen[s.ID] = true
		g.order = append(g.order, s.ID)
		g.predecessors[s.ID] = map[string]bool{}
		g.successors[s.ID] = map[string]bool{}
	}

	addEdge := func(from, to string) {
		g.successors[from][to] = true
		g.predecessors[to][from] = true
	}

	tip := Root
	for _, s := range specs {
		if len(s.RunAfter) == 0 {
			addEdge(tip, s.ID)
			tip = s.ID
			continue
		}
		for _, u := range s.RunAfter {
			if !seen[u] {
				return nil, newBuildError(KindUnknownRunAfter, "%q run_after references unknown id %q", s.ID, u)
			}
			addEdge(u, s.ID)
		}
	}

	if cyc := g.findCycle(); cyc != "" {
		return nil, newBuildError(KindCycleDetected, "cycle involving %q", cyc)
	}

	return g, nil
}

// Successors returns the set of ids that directly depend on v.
func (g *Graph) Successors(v string) []string {
	return setToSortedSlice(g.successors[v])
}

// Predecessors returns the set of ids that must complete before v.
func (g *Graph) Predecessors(v string) []string {
	return setToSortedSlice(g.predecessors[v])
}

// Roots returns the successors of ROOT: the initially schedulable ids.
func (g *Graph) Roots() []string {
	return g.Successors(Root)
}

// DeclarationOrder returns every user id (excluding ROOT) in the order
// it was declared, used by the scheduler to admit ready jobs
// deterministically.
func (g *Graph) DeclarationOrder() []string {
	out := make([]string, 0, len(g.order)-1)
	for _, id := range g.order {
		if id != Root {
			out = append(out, id)
		}
	}
	return out
}

// TopologicalIter returns all ids (excluding ROOT) in a topological
// order, ties broken by declaration order.
func (g *Graph) TopologicalIter() []string {
	indegree := make(map[string]int, len(g.order))
	for _, id := range g.order {
		indegree[id] = len(g.predecessors[id])
	}

	declOrder := make(map[string]int, len(g.order))
	for i, id := range g.order {
		declOrder[id] = i
	}

	var ready []string
	for _, id := range g.order {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sortByDecl := func(s []string) {
		sort.Slice(s, func(i, j int) bool { return declOrder[s[i]] < declOrder[s[j]] })
	}
	sortByDecl(ready)

	out := make([]string, 0, len(g.order))
	for len(ready) > 0 {
		v := ready[0]
		ready = ready[1:]
		if v != Root {
			out = append(out, v)
		}
		var newlyReady []string
		for succ := range g.successors[v] {
			indegree[succ]--
			if indegree[succ] == 0 {
				newlyReady = append(newlyReady, succ)
			}
		}
		sortByDecl(newlyReady)
		ready = append(ready, newlyReady...)
		sortByDecl(ready)
	}
	return out
}

// findCycle returns an id participating in a cycle, or "" if acyclic.
func (g *Graph) findCycle() string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.order))
	var stack []string

	var visit func(v string) string
	visit = func(v string) string {
		color[v] = gray
		stack = append(stack, v)
		for succ := range g.successors[v] {
			switch color[succ] {
			case white:
				if found := visit(succ); found != "" {
					return found
				}
			case gray:
				return succ
			}
		}
		stack = stack[:len(stack)-1]
		color[v] = black
		return ""
	}

	for _, id := range g.order {
		if color[id] == white {
			if found := visit(id); found != "" {
				return found
			}
		}
	}
	return ""
}

func setToSortedSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
