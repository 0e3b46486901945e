// Package worker implements the isolation unit that runs exactly one
// operator (spec.md §4.E), grounded on
// hdrp/internal/concurrency/worker_pool.go's goroutine-per-unit shape
// and governor/runtime/multiprocessing.py's OperatorProcess (standby/
// start/done/error events, single-slot return queue).
package worker

import (
	"fmt"
	"sync"
	"time"

	"github.com/mproissl/governor/internal/operator"
)

// Metadata is carried alongside a worker's return value, per spec.md
// §4.E. There is no OS-level process identity in a goroutine-based
// isolation unit, so that field is simply omitted rather than faked.
type Metadata struct {
	StartTimeNs int64
	EndTimeNs   int64
}

// Return is what a worker publishes on its return channel: exactly one
// of Value/Err is meaningful, alongside Metadata.
type Return struct {
	ID       string
	Value    any
	Err      error
	Metadata Metadata
}

// Worker owns one operator.Handle and runs it exactly once in its own
// goroutine, which does not share writable memory with the scheduler
// beyond the channels below — the isolation boundary spec.md §4.E
// requires is a panic-recovery boundary around Handle.Run, not OS
// process separation (an explicitly allowed implementation choice).
type Worker struct {
	ID      string
	handle  operator.Handle
	inputs  map[string]any
	wantRet bool

	standby     chan struct{}
	standbyOnce sync.Once
	started     chan struct{}
	done        chan struct{}
	errC        chan struct{}

	returns chan Return

	mu         sync.Mutex
	errMessage string
	terminated bool

	doneOnce sync.Once
	errOnce  sync.Once
}

func (w *Worker) closeDone() { w.doneOnce.Do(func() { close(w.done) }) }
func (w *Worker) closeErr()  { w.errOnce.Do(func() { close(w.errC) }) }

// New creates a worker bound to handle, armed with inputs. On success it
// publishes a Return only if wantReturn is set; on failure it always
// publishes a Return carrying the error. The scheduler always passes
// wantReturn=true so Return.Metadata is available for every run.
func New(id string, handle operator.Handle, inputs map[string]any, wantReturn bool) *Worker {
	return &Worker{
		ID:      id,
		handle:  handle,
		inputs:  inputs,
		wantRet: wantReturn,
		standby: make(chan struct{}),
		started: make(chan struct{}),
		done:    make(chan struct{}),
		errC:    make(chan struct{}),
		returns: make(chan Return, 1),
	}
}

// Release opens the standby gate, letting Start proceed. Callers that
// don't need a gate can skip this; Start also releases it implicitly.
func (w *Worker) Release() {
	w.standbyOnce.Do(func() { close(w.standby) })
}

// Start launches the worker's goroutine. It blocks the goroutine on
// the standby gate first, runs the operator, and publishes at most one
// Return (always on error, on success only if wantReturn is set) before
// signaling done (or error).
func (w *Worker) Start() {
	w.Release()
	go func() {
		<-w.standby
		close(w.started)

		startNs := time.Now().UnixNano()
		value, err := w.runRecovered()
		endNs := time.Now().UnixNano()

		meta := Metadata{StartTimeNs: startNs, EndTimeNs: endNs}

		if w.isTerminated() {
			return
		}

		if err != nil {
			w.mu.Lock()
			w.errMessage = err.Error()
			w.mu.Unlock()
			w.returns <- Return{ID: w.ID, Err: err, Metadata: meta}
			w.closeErr()
			w.closeDone()
			return
		}

		if w.wantRet {
			w.returns <- Return{ID: w.ID, Value: value, Metadata: meta}
		}
		w.closeDone()
	}()
}

// runRecovered invokes the handle, converting a panic into an error so
// a crashing operator cannot take the goroutine (and thus the
// scheduler's process) down with it.
func (w *Worker) runRecovered() (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %s: operator panicked: %v", w.ID, r)
		}
	}()
	res := w.handle.Run(w.inputs)
	return res.Value, res.Err
}

// Started returns the channel closed once Handle.Run has begun.
func (w *Worker) Started() <-chan struct{} { return w.started }

// Done returns the channel closed once Handle.Run has returned
// (success or failure).
func (w *Worker) Done() <-chan struct{} { return w.done }

// Errored returns the channel closed iff Handle.Run raised.
func (w *Worker) Errored() <-chan struct{} { return w.errC }

// Returns returns the worker's single-slot return channel. The
// scheduler MUST read from it before treating the worker as done,
// since spec.md §5 requires the return value to be observable before
// the done signal is acted on; Start already enforces that ordering by
// sending on Returns before closing Done.
func (w *Worker) Returns() <-chan Return { return w.returns }

// ErrMessage returns the failure message if the worker errored.
func (w *Worker) ErrMessage() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.errMessage
}

// Terminate marks the worker done without waiting for its goroutine;
// used by WorkerGroup.Terminate's forced-reclaim path. It does not
// interrupt a running Handle.Run (operators are uninterruptible within
// user code per spec.md §5); it only stops the worker from publishing
// a stale return after the grace period has elapsed.
func (w *Worker) Terminate() {
	w.mu.Lock()
	if w.terminated {
		w.mu.Unlock()
		return
	}
	w.terminated = true
	w.mu.Unlock()

	w.closeDone()
}

func (w *Worker) isTerminated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.terminated
}
