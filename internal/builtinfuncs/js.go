package builtinfuncs

import (
	"context"
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/bittoy/reviewpipe/internal/engine"
	"github.com/bittoy/reviewpipe/internal/types"
)

// jsPrograms caches compiled goja programs by source text, mirroring the
// teacher's jsUdfProgramCache. Unlike the teacher's single long-lived
// goja.Runtime, a fresh *goja.Runtime is built per call: goja.Runtime is
// not safe for concurrent use and condition evaluation runs across worker
// goroutines, so only the compiled *goja.Program (immutable once built) is
// shared.
var jsPrograms sync.Map // string -> *goja.Program

// RegisterScript registers the "script" function: its "script" kwarg is a
// JavaScript source defining a top-level "main(self, args, kwargs)"
// function; the function's return value becomes the field value.
func RegisterScript(registry *engine.FunctionRegistry) error {
	return registry.Register("script", scriptFunction)
}

func scriptFunction(ctx context.Context, obj types.ContentObject, args []any, kwargs map[string]any) (any, error) {
	source, _ := kwargs["script"].(string)
	if source == "" {
		return nil, fmt.Errorf("script: missing \"script\" kwarg")
	}

	program, err := compiledScript(source)
	if err != nil {
		return nil, err
	}

	vm := goja.New()
	if _, err := vm.RunProgram(program); err != nil {
		return nil, fmt.Errorf("script: run: %w", err)
	}

	fn, ok := goja.AssertFunction(vm.Get("main"))
	if !ok {
		return nil, fmt.Errorf("script: \"main\" is not a function")
	}

	callKwargs := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		if k == "script" {
			continue
		}
		callKwargs[k] = v
	}

	result, err := fn(goja.Undefined(), vm.ToValue(obj.ToMap()), vm.ToValue(args), vm.ToValue(callKwargs))
	if err != nil {
		return nil, fmt.Errorf("script: call main: %w", err)
	}
	return result.Export(), nil
}

func compiledScript(source string) (*goja.Program, error) {
	if v, ok := jsPrograms.Load(source); ok {
		return v.(*goja.Program), nil
	}
	program, err := goja.Compile("script", source, false)
	if err != nil {
		return nil, fmt.Errorf("script: compile: %w", err)
	}
	jsPrograms.Store(source, program)
	return program, nil
}
