// Package loader implements the Operator Loader contract (spec.md §6):
// load(spec) -> OperatorHandle. The core treats this as an external
// capability; this package provides the default in-process implementation,
// a registry of constructors keyed by (module_path, class_name), grounded
// on governor/objects/operator.py's three loading branches.
package loader

import (
	"fmt"
	"sync"

	"github.com/mproissl/governor/internal/operator"
)

// Spec is the opaque loader input named in spec.md §6.
type Spec struct {
	Name        string
	ModulePath  string
	ClassName   string
	ClassParams map[string]any
}

// Error kinds per spec.md §7's LoaderError disposition.
var (
	ErrModuleNotFound = fmt.Errorf("loader: module not found")
	ErrSymbolNotFound = fmt.Errorf("loader: symbol not found")
	ErrConstructFailed = fmt.Errorf("loader: construct failed")
)

// LoaderError wraps one of the sentinel kinds above with the spec that
// triggered it, so the controller can name the offending operator.
type LoaderError struct {
	Spec Spec
	Kind error
	Err  error
}

func (e *LoaderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("loader: %s/%s: %v: %v", e.Spec.ModulePath, e.Spec.ClassName, e.Kind, e.Err)
	}
	return fmt.Sprintf("loader: %s/%s: %v", e.Spec.ModulePath, e.Spec.ClassName, e.Kind)
}

func (e *LoaderError) Unwrap() error { return e.Kind }

// Loader is the contract the scheduler/controller depend on.
type Loader interface {
	Load(spec Spec) (operator.Handle, error)
}

// Constructor builds a fresh operator.Handle given the class_params
// from a Spec. Bare-function operators (governor's first branch) are
// represented as a Constructor that ignores params and returns a
// handle wrapping that one function.
type Constructor func(classParams map[string]any) (operator.Handle, error)

// key identifies a registered constructor the way governor's
// import_module(module_path) + getattr(module, class_name) does, but
// resolved against an explicit compile-time registry instead of a
// runtime import, since Go has no dynamic module loading.
type key struct {
	modulePath string
	className  string
}

// RegistryLoader is the default Loader: operators register their
// constructors at program startup (typically from an init() in the
// operator's own package), and Load resolves (module_path, class_name)
// against that registry. This is the Go-native analog of governor's
// importlib-based dynamic loading.
type RegistryLoader struct {
	mu    sync.RWMutex
	ctors map[key]Constructor
}

// NewRegistryLoader creates an empty registry.
func NewRegistryLoader() *RegistryLoader {
	return &RegistryLoader{ctors: make(map[key]Constructor)}
}

// Register associates (modulePath, className) with a constructor.
// Re-registering the same pair overwrites the previous constructor —
// registration itself is not part of the spec's validated config path,
// so there is no DuplicateOperatorId-style rejection here.
func (r *RegistryLoader) Register(modulePath, className string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[key{modulePath, className}] = ctor
}

// Load resolves spec against the registry and constructs a fresh handle.
func (r *RegistryLoader) Load(spec Spec) (operator.Handle, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[key{spec.ModulePath, spec.ClassName}]
	r.mu.RUnlock()

	if !ok {
		if !r.hasModule(spec.ModulePath) {
			return nil, &LoaderError{Spec: spec, Kind: ErrModuleNotFound}
		}
		return nil, &LoaderError{Spec: spec, Kind: ErrSymbolNotFound}
	}

	h, err := ctor(spec.ClassParams)
	if err != nil {
		return nil, &LoaderError{Spec: spec, Kind: ErrConstructFailed, Err: err}
	}
	return h, nil
}

func (r *RegistryLoader) hasModule(modulePath string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k := range r.ctors {
		if k.modulePath == modulePath {
			return true
		}
	}
	return false
}
