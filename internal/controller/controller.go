// Package controller implements the top-level owner described in
// spec.md §4.H, grounded on governor/runtime/controller.py's Controller
// (load config, seed SharedStore, build Graph, dispatch Scheduler) and
// hdrp/cmd/server/main.go's wiring of logging/tracing/metrics/health
// around a single long-lived run.
package controller

import (
	"context"
	"fmt"

	"github.com/mproissl/governor/internal/audit"
	"github.com/mproissl/governor/internal/config"
	"github.com/mproissl/governor/internal/graph"
	"github.com/mproissl/governor/internal/loader"
	"github.com/mproissl/governor/internal/logger"
	"github.com/mproissl/governor/internal/scheduler"
	"github.com/mproissl/governor/internal/store"
	"github.com/mproissl/governor/internal/telemetry"
	"github.com/mproissl/governor/internal/tracing"
)

// Result is what a run returns on success: the final SharedStore and
// the run id it was logged under.
type Result struct {
	RunID  string
	Shared *store.Shared
}

// Controller owns one run end to end: load config, seed the shared
// store from header.shared_data, build the graph, and dispatch the
// scheduler in the mode the header requests.
type Controller struct {
	loader loader.Loader
	ledger *audit.Ledger
}

// New creates a Controller that resolves operators through ld and, if
// ledger is non-nil, records per-job audit events against it.
func New(ld loader.Loader, ledger *audit.Ledger) *Controller {
	return &Controller{loader: ld, ledger: ledger}
}

// Run executes spec.md §4.H's four steps against source (a path, a raw
// JSON string, or an in-memory map — see config.Load) and returns the
// final shared store, or an aggregate error naming the failing
// operator and underlying cause. runID, if non-empty, is the run
// identifier every log/trace/audit record for this run is tagged
// with — the caller (e.g. cmd/governor) generates it up front so a
// single CLI invocation's logger, ledger, and controller all agree on
// one id instead of each minting their own. An empty runID falls back
// to generating one here, the same convention logger.Init uses.
func (c *Controller) Run(ctx context.Context, source any, runID string) (*Result, error) {
	root, err := config.Load(source)
	if err != nil {
		return nil, fmt.Errorf("controller: loading config: %w", err)
	}

	if runID == "" {
		runID = logger.GenerateRunID()
	}
	telemetry.IncrementActiveRuns()
	defer telemetry.DecrementActiveRuns()

	ctx, span := tracing.StartSpan(ctx, "governor.controller.run")
	defer span.End()

	logger.LogEvent(ctx, runID, logger.ComponentController, "run_start", map[string]any{
		"name":        root.Header.Name,
		"description": root.Header.Description,
	})

	shared := store.NewShared()
	for k, v := range root.Header.SharedData {
		shared.Add(k, v)
	}
	dedicated := store.NewDedicated()

	specs := make([]graph.NodeSpec, 0, len(root.Payload.Operators))
	byID := make(map[string]config.OperatorConfig, len(root.Payload.Operators))
	for _, op := range root.Payload.Operators {
		ids, err := op.RunAfterIDs()
		if err != nil {
			return nil, fmt.Errorf("controller: operator %q: %w", op.ID, err)
		}
		specs = append(specs, graph.NodeSpec{ID: op.ID, RunAfter: ids})
		byID[op.ID] = op
	}

	g, err := graph.Build(specs)
	if err != nil {
		tracing.RecordError(ctx, err)
		logger.LogEvent(ctx, runID, logger.ComponentController, "graph_build_failed", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("controller: building graph: %w", err)
	}
	logger.LogEvent(ctx, runID, logger.ComponentGraph, "graph_built", map[string]any{
		"operator_count": len(specs),
	})

	sch := scheduler.New(g, shared, dedicated, c.loader, byID, runID, c.ledger)

	var runErr error
	if root.Header.EnableMultiprocessing {
		runErr = sch.RunParallel(ctx)
	} else {
		runErr = sch.RunSequential(ctx)
	}

	if runErr != nil {
		tracing.RecordError(ctx, runErr)
		logger.LogEvent(ctx, runID, logger.ComponentController, "run_failed", map[string]any{"error": runErr.Error()})
		return nil, runErr
	}

	logger.LogEvent(ctx, runID, logger.ComponentController, "run_finished", map[string]any{
		"completed": sch.Completed(),
	})
	return &Result{RunID: runID, Shared: shared}, nil
}
