package worker

import (
	"strings"
	"sync"
	"time"

	"github.com/mproissl/governor/internal/operator"
)

// terminateGrace bounds how long Terminate waits for a worker to
// unwind on its own before the group forcibly reclaims it, per
// spec.md §5's "~0.5-1s" cancellation window.
const terminateGrace = 750 * time.Millisecond

// Group is the scheduler's running frontier of workers, per spec.md
// §4.F, grounded on governor/runtime/multiprocessing.py's Processor
// (one batch) and Processors (the stack of batches). Unlike a
// single-shot batch, a Group here is long-lived across scheduler
// cycles: newly-ready jobs are woven in via Add+Spawn as they unblock,
// rather than each cycle starting a fresh group — see DESIGN.md's
// note on the scheduler's Open Question resolution.
type Group struct {
	mu      sync.Mutex
	workers map[string]*Worker
	started map[string]bool
	values  map[string]Return
	signals chan Signal
}

// NewGroup creates an empty group.
func NewGroup() *Group {
	return &Group{
		workers: make(map[string]*Worker),
		started: make(map[string]bool),
		values:  make(map[string]Return),
		signals: make(chan Signal, 1024),
	}
}

// Add registers a worker for id, bound to handle and wired to run with
// inputs. wantReturn controls whether the worker publishes a Return on
// success; the scheduler passes true unconditionally so Return.Metadata
// is always available for telemetry/audit, independent of the job's
// save_output setting. Safe to call repeatedly as new jobs become
// ready; Spawn only starts workers that haven't been started yet.
func (g *Group) Add(id string, handle operator.Handle, inputs map[string]any, wantReturn bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.workers[id] = New(id, handle, inputs, wantReturn)
}

// Spawn starts every not-yet-started worker and returns once each of
// them is started (or there is nothing new to start). Per spec.md
// §4.F this does not wait for completion, only for the started signal.
func (g *Group) Spawn() {
	g.mu.Lock()
	var fresh []*Worker
	for id, w := range g.workers {
		if !g.started[id] {
			g.started[id] = true
			fresh = append(fresh, w)
		}
	}
	g.mu.Unlock()

	for _, w := range fresh {
		w.Start()
	}
	for _, w := range fresh {
		<-w.Started()
		go g.forward(w)
	}
}

// Signal is posted to a group's signal channel when a worker finishes,
// carrying its failure message if it errored.
type Signal struct {
	ID        string
	ErrMessage string
}

// forward waits for w to finish and posts its completion onto the
// group's signal channel, giving the scheduler a single channel to
// select on instead of re-scanning every worker's done channel each
// cycle.
func (g *Group) forward(w *Worker) {
	<-w.Done()
	sig := Signal{ID: w.ID}
	select {
	case <-w.Errored():
		sig.ErrMessage = w.ErrMessage()
	default:
	}
	g.signals <- sig
}

// Signals returns the channel a Signal is posted to once a worker is
// done (success or error). The scheduler selects on this instead of
// busy-polling DoneOperators/AnyError.
func (g *Group) Signals() <-chan Signal {
	return g.signals
}

// Empty reports whether the group has no workers.
func (g *Group) Empty() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.workers) == 0
}

// AnyError reports whether any worker in the group has errored.
func (g *Group) AnyError() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, w := range g.workers {
		select {
		case <-w.Errored():
			return true
		default:
		}
	}
	return false
}

// ErrorMessages joins the failure messages of every errored worker.
func (g *Group) ErrorMessages() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var msgs []string
	for id, w := range g.workers {
		select {
		case <-w.Errored():
			msgs = append(msgs, id+": "+w.ErrMessage())
		default:
		}
	}
	return strings.Join(msgs, "; ")
}

// DoneOperators returns the ids whose done signal is currently set.
// Per spec.md §5, the worker's return value is enqueued before its
// done signal is closed, so by the time an id appears here its
// Return (if any was requested) is already available from DrainReturn.
func (g *Group) DoneOperators() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for id, w := range g.workers {
		select {
		case <-w.Done():
			out = append(out, id)
		default:
		}
	}
	return out
}

// AllDone reports whether every worker in the group is done.
func (g *Group) AllDone() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, w := range g.workers {
		select {
		case <-w.Done():
		default:
			return false
		}
	}
	return true
}

// DrainReturn reads and caches id's return value the first time it's
// requested, so repeated calls for the same id after the worker has
// been removed still see the value. Returns ok=false if id never
// published a value (it succeeded without requesting one, or it has
// not finished yet). An errored worker's Return carries its Err.
func (g *Group) DrainReturn(id string) (Return, bool) {
	g.mu.Lock()
	w, hasWorker := g.workers[id]
	cached, hasCached := g.values[id]
	g.mu.Unlock()

	if hasCached {
		return cached, true
	}
	if !hasWorker {
		return Return{}, false
	}

	select {
	case r := <-w.Returns():
		g.mu.Lock()
		g.values[id] = r
		g.mu.Unlock()
		return r, true
	default:
		return Return{}, false
	}
}

// Remove drops id from the group's live worker set once the scheduler
// has fully processed it (harvested its return, if any, and advanced
// its Job). It does not stop the worker, which is already done.
func (g *Group) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.workers, id)
	delete(g.started, id)
	delete(g.values, id)
}

// Terminate stops every worker still in the group: it waits up to a
// bounded grace period for the workers to finish on their own, then
// marks each one done (force-reclaiming stragglers) and drains any
// pending return so the channel can be released.
func (g *Group) Terminate() {
	g.mu.Lock()
	ws := make([]*Worker, 0, len(g.workers))
	for _, w := range g.workers {
		ws = append(ws, w)
	}
	g.workers = make(map[string]*Worker)
	g.started = make(map[string]bool)
	g.mu.Unlock()

	deadline := time.After(terminateGrace)
	for _, w := range ws {
		select {
		case <-w.Done():
		case <-deadline:
		}
		w.Terminate()
		select {
		case <-w.Returns():
		default:
		}
	}
}

// IDs returns the ids currently live in the group.
func (g *Group) IDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.workers))
	for id := range g.workers {
		out = append(out, id)
	}
	return out
}
