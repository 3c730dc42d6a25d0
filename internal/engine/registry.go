package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/bittoy/reviewpipe/internal/types"
)

// RuleFunction is a pluggable named function a FieldSelector can invoke in
// place of a dotted path, e.g. "contains_banned_word" or "user_reputation".
// A failed call is the caller's concern to interpret; the engine itself
// treats any error as an unresolved field (nil), matching spec behavior
// that a broken function call never aborts evaluation of the rest of the
// rule tree.
type RuleFunction func(ctx context.Context, obj types.ContentObject, args []any, kwargs map[string]any) (any, error)

// FunctionRegistry holds locally-registered RuleFunctions, keyed by name.
// Mirrors the teacher's RuleComponentRegistry: a mutex-guarded map with a
// duplicate-registration error and no implicit overwrite.
type FunctionRegistry struct {
	mu  sync.RWMutex
	fns map[string]RuleFunction
}

func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{fns: make(map[string]RuleFunction)}
}

// Register adds fn under name. Re-registering the same name is an error;
// callers that want to replace a function must Unregister it first.
func (r *FunctionRegistry) Register(name string, fn RuleFunction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fns[name]; ok {
		return fmt.Errorf("function already registered: %s", name)
	}
	r.fns[name] = fn
	return nil
}

// Unregister removes name, if present.
func (r *FunctionRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.fns, name)
}

// Lookup returns the function registered under name, if any.
func (r *FunctionRegistry) Lookup(name string) (RuleFunction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[name]
	return fn, ok
}

// Names returns every currently registered function name, for diagnostics.
func (r *FunctionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.fns))
	for name := range r.fns {
		out = append(out, name)
	}
	return out
}
