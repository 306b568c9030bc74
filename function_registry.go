package observable

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Function represents a callable exposed to computed-field expressions.
type Function func(args ...any) (any, error)

// FunctionRegistry stores custom functions keyed by lower-cased name.
type FunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]Function
}

// NewFunctionRegistry constructs an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{
		functions: make(map[string]Function),
	}
}

// Register stores fn under name guarding against duplicates. Names follow the
// field grammar so they can be bound as expression variables.
func (r *FunctionRegistry) Register(name string, fn Function) error {
	if fn == nil {
		return fmt.Errorf("observable: function %q is nil", name)
	}
	if name == "" {
		return fmt.Errorf("observable: function name must not be empty")
	}
	if strings.ContainsAny(name, ".[] ") {
		return fmt.Errorf("observable: function name %q is not an identifier", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.functions == nil {
		r.functions = make(map[string]Function)
	}
	key := strings.ToLower(name)
	if _, exists := r.functions[key]; exists {
		return fmt.Errorf("observable: function %q already registered", name)
	}
	r.functions[key] = fn
	return nil
}

// Has reports whether name is registered.
func (r *FunctionRegistry) Has(name string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.functions[strings.ToLower(name)]
	return ok
}

// Clone returns a shallow copy of the registry.
func (r *FunctionRegistry) Clone() *FunctionRegistry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &FunctionRegistry{functions: maps.Clone(r.functions)}
}

// Call executes the function registered for name.
func (r *FunctionRegistry) Call(name string, args ...any) (any, error) {
	if r == nil {
		return nil, fmt.Errorf("observable: function registry is nil")
	}
	r.mu.RLock()
	fn := r.functions[strings.ToLower(name)]
	r.mu.RUnlock()
	if fn == nil {
		return nil, fmt.Errorf("observable: function %q not registered", name)
	}
	return fn(args...)
}

// Names returns registered function names sorted alphabetically.
func (r *FunctionRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.functions))
}

// WithFunctionRegistry exposes the functions in registry to computed fields.
func WithFunctionRegistry(registry *FunctionRegistry) Option {
	return func(cfg *instanceConfig) {
		if registry == nil {
			return
		}
		cfg.functions = registry.Clone()
	}
}

// WithCustomFunction registers fn under name for computed fields. Invalid or
// duplicate registrations are ignored.
func WithCustomFunction(name string, fn Function) Option {
	return func(cfg *instanceConfig) {
		if cfg.functions == nil {
			cfg.functions = NewFunctionRegistry()
		}
		_ = cfg.functions.Register(name, fn)
	}
}
