// Package scheduler implements the recursive execution engine
// (spec.md §4.G), the single most load-bearing component of the
// core, grounded on hdrp/internal/executor/dag_executor.go's Execute
// loop (goroutine-per-node dispatch, result-channel draining,
// termination handling) and governor/runtime/multiprocessing.py's
// Processors query surface (any_errors/done_operators/all_done).
package scheduler

import (
	"fmt"
	"strings"

	"github.com/mproissl/governor/internal/config"
	"github.com/mproissl/governor/internal/store"
)

// InputError wraps the four input-compilation kinds named in
// spec.md §7: MissingSharedInput, AlreadyInitialized, TypeMismatch,
// InvalidInputSpec.
type InputError struct {
	Kind string
	msg  string
}

func (e *InputError) Error() string { return fmt.Sprintf("scheduler: %s: %s", e.Kind, e.msg) }

const (
	KindMissingSharedInput = "MissingSharedInput"
	KindAlreadyInitialized = "AlreadyInitialized"
	KindTypeMismatch       = "TypeMismatch"
	KindInvalidInputSpec   = "InvalidInputSpec"
)

func inputErr(kind, format string, args ...any) error {
	return &InputError{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// CompileInputs builds the mapping passed to Handle.Run, per spec.md
// §4.G's three-step algorithm:
//  1. start from dedicated_input_params (copied)
//  2. fold in shared_input_params (string / list / mapping forms)
//  3. return the merged mapping
func CompileInputs(op config.OperatorConfig, shared *store.Shared) (map[string]any, error) {
	inputs := make(map[string]any, len(op.DedicatedInputParams))
	for k, v := range op.DedicatedInputParams {
		inputs[k] = v
	}

	switch spec := op.SharedInputParams.(type) {
	case nil:
		// no shared inputs declared
	case string:
		if err := bindOne(inputs, shared, spec); err != nil {
			return nil, err
		}
	case []any:
		for _, item := range spec {
			s, ok := item.(string)
			if !ok {
				return nil, inputErr(KindInvalidInputSpec, "operator %q: shared_input_params list entries must be strings", op.ID)
			}
			if err := bindOne(inputs, shared, s); err != nil {
				return nil, err
			}
		}
	case map[string]any:
		// mapping form is unordered in Go; spec.md does not require a
		// particular bind order across distinct keys of the mapping,
		// only that each key's own add/check sequence is respected.
		for name, initial := range spec {
			if err := bindMapping(inputs, shared, op, name, initial); err != nil {
				return nil, err
			}
		}
	default:
		return nil, inputErr(KindInvalidInputSpec, "operator %q: unsupported shared_input_params shape %T", op.ID, spec)
	}

	return inputs, nil
}

// bindOne handles the string form: "src" or "src AS alias".
func bindOne(inputs map[string]any, shared *store.Shared, raw string) error {
	src, alias, err := parseAS(raw)
	if err != nil {
		return err
	}
	if !shared.Exists(src) {
		return inputErr(KindMissingSharedInput, "shared key %q does not exist", src)
	}
	v, err := shared.Get(src, true)
	if err != nil {
		return inputErr(KindMissingSharedInput, "shared key %q does not exist", src)
	}
	inputs[alias] = v
	return nil
}

// bindMapping handles the {name: initial} form: bind the current
// value if present (enforcing init_only and type match), else seed
// the store with initial and bind that.
func bindMapping(inputs map[string]any, shared *store.Shared, op config.OperatorConfig, name string, initial any) error {
	if shared.Exists(name) {
		if op.SharedInputInitOnly {
			return inputErr(KindAlreadyInitialized, "operator %q: shared key %q already initialized", op.ID, name)
		}
		existing, err := shared.Get(name, true)
		if err != nil {
			return inputErr(KindMissingSharedInput, "shared key %q does not exist", name)
		}
		if !store.SameType(existing, initial) {
			return inputErr(KindTypeMismatch, "operator %q: shared key %q type mismatch", op.ID, name)
		}
		inputs[name] = existing
		return nil
	}
	shared.Add(name, initial)
	inputs[name] = initial
	return nil
}

// parseAS splits "src" or "src AS alias" on the case-insensitive
// delimiter " as " (surrounding spaces mandatory), per spec.md §4.G.
// Any other shape is InvalidInputSpec.
func parseAS(raw string) (src, alias string, err error) {
	lower := strings.ToLower(raw)
	idx := strings.Index(lower, " as ")
	if idx < 0 {
		src = strings.TrimSpace(raw)
		if src == "" || strings.ContainsAny(src, " \t") {
			return "", "", inputErr(KindInvalidInputSpec, "invalid shared input spec %q", raw)
		}
		return src, src, nil
	}

	src = strings.TrimSpace(raw[:idx])
	alias = strings.TrimSpace(raw[idx+4:])
	if src == "" || alias == "" || strings.ContainsAny(src, " \t") || strings.ContainsAny(alias, " \t") {
		return "", "", inputErr(KindInvalidInputSpec, "invalid shared input spec %q", raw)
	}
	return src, alias, nil
}
