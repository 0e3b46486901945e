package loader

import (
	"fmt"

	"github.com/mproissl/governor/internal/operator"
)

// Func is the bare-function operator shape: governor's first loading
// branch (an operator that is just a plain callable, no class, no
// params) — getattr(import_module(module_path), name) with no
// instantiation step.
type Func func(inputs map[string]any) (any, error)

// FuncHandle adapts a Func into an operator.Handle.
type FuncHandle struct {
	*operator.StateMachine
	fn Func
}

// NewFuncHandle wraps fn as a Handle, starting OFFLINE.
func NewFuncHandle(fn Func) *FuncHandle {
	return &FuncHandle{StateMachine: operator.NewStateMachine(), fn: fn}
}

// Run transitions ONLINE, invokes fn, and transitions to
// COMPLETED/ERROR depending on the outcome — mirroring
// Operator._run_init/_run_close in the original.
func (h *FuncHandle) Run(inputs map[string]any) operator.Result {
	if err := h.Transition(operator.StateOnline); err != nil {
		return operator.Result{Err: err}
	}

	value, err := func() (v any, runErr error) {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("loader: operator panicked: %v", r)
			}
		}()
		return h.fn(inputs)
	}()

	if err != nil {
		_ = h.Transition(operator.StateError)
		return operator.Result{Err: err}
	}
	_ = h.Transition(operator.StateCompleted)
	return operator.Result{Value: value}
}

// Reset returns the handle to OFFLINE for reuse across repeats.
func (h *FuncHandle) Reset() {
	_ = h.Transition(operator.StateOffline)
}

// NewFuncConstructor adapts a Func into a Constructor that ignores
// class_params, for registering bare-function operators.
func NewFuncConstructor(fn Func) Constructor {
	return func(_ map[string]any) (operator.Handle, error) {
		return NewFuncHandle(fn), nil
	}
}
