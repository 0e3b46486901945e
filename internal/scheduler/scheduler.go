package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mproissl/governor/internal/audit"
	"github.com/mproissl/governor/internal/config"
	"github.com/mproissl/governor/internal/graph"
	"github.com/mproissl/governor/internal/job"
	"github.com/mproissl/governor/internal/loader"
	"github.com/mproissl/governor/internal/logger"
	"github.com/mproissl/governor/internal/operator"
	"github.com/mproissl/governor/internal/store"
	"github.com/mproissl/governor/internal/telemetry"
	"github.com/mproissl/governor/internal/tracing"
	"github.com/mproissl/governor/internal/worker"
	"go.opentelemetry.io/otel/trace"
)

// RunError is the fatal error the scheduler returns: it names the
// offending operator and wraps the underlying cause. A run stops at the
// first failure it handles, so a RunError names exactly one operator;
// failures of other workers in flight at that moment are not reported.
type RunError struct {
	OperatorID string
	Err        error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("scheduler: operator %q: %v", e.OperatorID, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Scheduler is the recursive engine described in spec.md §4.G. State
// held across cycles: the job table, the completed set, the Graph,
// the SharedStore, and a single running frontier WorkerGroup — see
// DESIGN.md for why this implementation uses one persistent group and
// an iterative loop instead of literal per-cycle recursion and a
// stack of groups (spec.md leaves the exact shape of "a stack of
// active WorkerGroups" unspecified beyond its query surface, which a
// single incrementally-grown group satisfies just as well).
type Scheduler struct {
	graph     *graph.Graph
	shared    *store.Shared
	dedicated *store.Dedicated
	loader    loader.Loader
	specs     map[string]config.OperatorConfig

	jobs      *job.Container
	completed map[string]bool
	runID     string
	ledger    *audit.Ledger
	spans     map[string]trace.Span
}

// New creates a Scheduler bound to an already-built Graph and a set of
// validated operator configs keyed by id. ledger may be nil, in which
// case per-job audit events are simply not recorded (audit is an
// optional add-on, per spec.md's Non-goals on persistent state).
func New(g *graph.Graph, shared *store.Shared, dedicated *store.Dedicated, ld loader.Loader, specs map[string]config.OperatorConfig, runID string, ledger *audit.Ledger) *Scheduler {
	return &Scheduler{
		graph:     g,
		shared:    shared,
		dedicated: dedicated,
		loader:    ld,
		specs:     specs,
		jobs:      job.NewContainer(),
		completed: make(map[string]bool),
		runID:     runID,
		ledger:    ledger,
		spans:     make(map[string]trace.Span),
	}
}

// auditAppend is a thin wrapper that no-ops when no ledger is wired,
// so call sites don't need to guard every Append with a nil check.
func (s *Scheduler) auditAppend(eventType audit.EventType, operatorID string, payload any) {
	if s.ledger == nil {
		return
	}
	s.ledger.Append(s.runID, eventType, operatorID, payload)
}

// Dedicated exposes the per-operator scratch store so an Operator
// Loader can hand an operator a reference to its own working memory
// (SPEC_FULL.md §4.3); the scheduler only owns its lifecycle
// (cleared on completion), not its contents.
func (s *Scheduler) Dedicated() *store.Dedicated { return s.dedicated }

// RunParallel dispatches every ready operator concurrently, per
// spec.md §4.G's parallel mode.
func (s *Scheduler) RunParallel(ctx context.Context) error {
	return s.run(ctx, true)
}

// RunSequential admits exactly one ready operator per cycle — the
// trivial derivation from the parallel engine spec.md §1 names as
// out of scope for deep treatment.
func (s *Scheduler) RunSequential(ctx context.Context) error {
	return s.run(ctx, false)
}

func (s *Scheduler) run(ctx context.Context, parallel bool) error {
	mode := "parallel"
	if !parallel {
		mode = "sequential"
	}

	s.seedRoots()
	group := worker.NewGroup()

	for s.jobs.Len() > 0 {
		cycleStart := time.Now()

		if err := s.admitReady(ctx, group, parallel); err != nil {
			group.Terminate()
			s.jobs.DeleteOnline(true)
			telemetry.RecordRunError(errorKindOf(err))
			return err
		}
		group.Spawn()

		if group.Empty() {
			break
		}

		select {
		case <-ctx.Done():
			group.Terminate()
			s.jobs.DeleteOnline(true)
			return ctx.Err()
		case sig := <-group.Signals():
			if err := s.handleSignal(ctx, group, sig); err != nil {
				group.Terminate()
				s.jobs.DeleteOnline(true)
				telemetry.RecordRunError(errorKindOf(err))
				return err
			}
		drainLoop:
			for {
				select {
				case sig := <-group.Signals():
					if err := s.handleSignal(ctx, group, sig); err != nil {
						group.Terminate()
						s.jobs.DeleteOnline(true)
						telemetry.RecordRunError(errorKindOf(err))
						return err
					}
				default:
					break drainLoop
				}
			}
		}

		telemetry.RecordSchedulerCycle(mode, time.Since(cycleStart).Seconds())
	}

	return nil
}

func errorKindOf(err error) string {
	var ierr *InputError
	if errors.As(err, &ierr) {
		return ierr.Kind
	}
	var lerr *loader.LoaderError
	if errors.As(err, &lerr) {
		return "LoaderError"
	}
	return "OperatorRuntimeError"
}

// seedRoots creates a Job for every node with no predecessors other
// than ROOT (spec.md §4.H step 2's entry into the scheduler).
func (s *Scheduler) seedRoots() {
	for _, id := range s.graph.Roots() {
		s.jobs.Add(job.New(id, nil, s.jobConfig(id)))
	}
}

func (s *Scheduler) jobConfig(id string) job.Config {
	spec := s.specs[id]
	return job.Config{
		ID:                    id,
		Label:                 spec.Label,
		Repeat:                spec.Repeat,
		ReinitializeInRepeats: spec.ReinitInRepeats(),
		SaveOutput:            spec.SaveOutput,
		SharedOutputName:      spec.SharedOutputName,
	}
}

// ready reports whether every predecessor of id has completed, per
// spec.md §4.G's readiness rule.
func (s *Scheduler) ready(id string) bool {
	for _, p := range s.graph.Predecessors(id) {
		if p == graph.Root {
			continue
		}
		if !s.completed[p] {
			return false
		}
	}
	return true
}

// admitReady walks the graph's declaration order, dispatching every
// not-yet-online, ready job into group. In sequential mode it stops
// after the first admission.
func (s *Scheduler) admitReady(ctx context.Context, group *worker.Group, parallel bool) error {
	admitted := 0
	for _, id := range s.graph.DeclarationOrder() {
		j := s.jobs.Get(id)
		if j == nil || j.Online {
			continue
		}
		if !s.ready(id) {
			continue
		}

		handle, err := s.handleFor(j)
		if err != nil {
			return &RunError{OperatorID: id, Err: err}
		}

		spec := s.specs[id]
		inputs, err := CompileInputs(spec, s.shared)
		if err != nil {
			return &RunError{OperatorID: id, Err: err}
		}

		_, span := tracing.StartSpan(ctx, "governor.job.dispatch")
		s.spans[id] = span

		j.Online = true
		// wantReturn is always true, not just when SaveOutput is set: the
		// scheduler needs every worker's Return.Metadata (start/end time)
		// for audit/telemetry regardless of whether its Value is kept.
		group.Add(id, handle, inputs, true)
		telemetry.RecordJobDispatch(id)
		logger.LogEvent(ctx, s.runID, logger.ComponentScheduler, "job_dispatched", map[string]any{"operator_id": id, "label": j.Config.Label})
		s.auditAppend(audit.EventJobDispatched, id, map[string]string{"label": j.Config.Label})

		admitted++
		if !parallel && admitted >= 1 {
			break
		}
	}
	return nil
}

// handleFor returns the operator.Handle to run this dispatch with,
// constructing a fresh one unless reinitialize_in_repeats is false
// and a handle from a prior repeat already exists, in which case it
// is reset and reused (spec.md §3's reinitialize_in_repeats field).
func (s *Scheduler) handleFor(j *job.Job) (operator.Handle, error) {
	spec := s.specs[j.ID]
	if j.Handle != nil && !spec.ReinitInRepeats() {
		j.Handle.Reset()
		return j.Handle, nil
	}

	h, err := s.loader.Load(loader.Spec{
		Name:        spec.Name,
		ModulePath:  spec.ModulePath,
		ClassName:   spec.ClassName,
		ClassParams: spec.ClassParams,
	})
	if err != nil {
		return nil, err
	}
	j.Handle = h
	return h, nil
}

// handleSignal advances state for one completed worker: on error it
// returns a fatal RunError; on success it harvests the return value
// (if requested), decrements the job's remaining repeats, and either
// re-arms it for another repeat or marks it completed and enqueues
// its successors.
func (s *Scheduler) handleSignal(ctx context.Context, group *worker.Group, sig worker.Signal) error {
	id := sig.ID
	if span, ok := s.spans[id]; ok {
		if sig.ErrMessage != "" {
			tracing.RecordError(ctx, fmt.Errorf("%s", sig.ErrMessage))
		}
		span.End()
		delete(s.spans, id)
	}

	j := s.jobs.Get(id)
	if j == nil {
		group.Remove(id)
		return nil
	}

	ret, hasRet := group.DrainReturn(id)
	if hasRet {
		telemetry.RecordWorkerDuration(id, time.Duration(ret.Metadata.EndTimeNs-ret.Metadata.StartTimeNs).Seconds(), sig.ErrMessage == "")
	}

	if sig.ErrMessage != "" {
		logger.LogEvent(ctx, s.runID, logger.ComponentWorker, "job_errored", map[string]any{"operator_id": id, "label": j.Config.Label, "error": sig.ErrMessage})
		s.auditAppend(audit.EventJobErrored, id, map[string]string{"label": j.Config.Label, "error": sig.ErrMessage})
		return &RunError{OperatorID: id, Err: fmt.Errorf("%s", sig.ErrMessage)}
	}

	if j.Config.SaveOutput && hasRet {
		key := j.OutputKey()
		s.shared.Update(key, ret.Value, true)
		telemetry.RecordStoreWrite(key)
	}
	group.Remove(id)

	j.RemainingRepeats--
	telemetry.RecordRepeat(id)
	logger.LogEvent(ctx, s.runID, logger.ComponentWorker, "job_completed", map[string]any{"operator_id": id, "label": j.Config.Label, "remaining_repeats": j.RemainingRepeats})
	s.auditAppend(audit.EventJobCompleted, id, map[string]any{"label": j.Config.Label, "remaining_repeats": j.RemainingRepeats})

	if j.RemainingRepeats > 0 {
		j.Online = false
		return nil
	}

	s.completed[id] = true
	s.dedicated.RemoveOwner(id)
	for _, succ := range s.graph.Successors(id) {
		if !s.jobs.Has(succ) && !s.completed[succ] {
			s.jobs.Add(job.New(succ, nil, s.jobConfig(succ)))
		}
	}
	s.jobs.Delete(id)
	return nil
}

// Completed reports whether every user node in the graph has
// completed — spec.md §8 property 3's termination check.
func (s *Scheduler) Completed() bool {
	for _, id := range s.graph.DeclarationOrder() {
		if !s.completed[id] {
			return false
		}
	}
	return true
}
