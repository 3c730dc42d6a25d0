package engine

import (
	"context"
	"errors"

	"github.com/bittoy/reviewpipe/internal/types"
)

var errPanicked = errors.New("rule function panicked")

// FunctionProvider resolves a named function call during rule evaluation.
// It deliberately has no error return: a function call that fails to
// resolve degrades to a nil value rather than aborting the match, the same
// way an unresolved dotted field degrades to nil.
type FunctionProvider interface {
	Execute(ctx context.Context, name string, obj types.ContentObject, args []any, kwargs map[string]any) any
}

// RemoteProvider is the narrow surface a transport-backed function source
// must expose. internal/rpcfunc.Provider satisfies this structurally so the
// engine package never imports grpc.
type RemoteProvider interface {
	Call(ctx context.Context, name string, obj types.ContentObject, args []any, kwargs map[string]any) (any, error)
}

// LocalProvider resolves functions from an in-process FunctionRegistry
// only. A call to an unregistered name, or one that returns an error,
// resolves to nil.
type LocalProvider struct {
	registry *FunctionRegistry
}

func NewLocalProvider(registry *FunctionRegistry) *LocalProvider {
	return &LocalProvider{registry: registry}
}

func (p *LocalProvider) Execute(ctx context.Context, name string, obj types.ContentObject, args []any, kwargs map[string]any) any {
	fn, ok := p.registry.Lookup(name)
	if !ok {
		return nil
	}
	v, err := safeCall(ctx, fn, obj, args, kwargs)
	if err != nil {
		return nil
	}
	return v
}

// safeCall guards against a misbehaving RuleFunction panicking and taking
// down the worker goroutine evaluating an unrelated rule.
func safeCall(ctx context.Context, fn RuleFunction, obj types.ContentObject, args []any, kwargs map[string]any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, errPanicked
		}
	}()
	return fn(ctx, obj, args, kwargs)
}

// HybridProvider checks the local registry first and falls back to a
// RemoteProvider (typically internal/rpcfunc.Provider) for names the
// registry doesn't carry. This mirrors the original implementation's
// registry-then-RPC fallback rather than requiring every deployment to
// pick one function source exclusively.
type HybridProvider struct {
	local  *LocalProvider
	remote RemoteProvider
}

func NewHybridProvider(registry *FunctionRegistry, remote RemoteProvider) *HybridProvider {
	return &HybridProvider{local: NewLocalProvider(registry), remote: remote}
}

func (p *HybridProvider) Execute(ctx context.Context, name string, obj types.ContentObject, args []any, kwargs map[string]any) any {
	if fn, ok := p.local.registry.Lookup(name); ok {
		v, err := safeCall(ctx, fn, obj, args, kwargs)
		if err != nil {
			return nil
		}
		return v
	}
	if p.remote == nil {
		return nil
	}
	v, err := p.remote.Call(ctx, name, obj, args, kwargs)
	if err != nil {
		return nil
	}
	return v
}
