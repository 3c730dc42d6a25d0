// Package builtinfuncs supplies the two built-in RuleFunctions every
// deployment gets for free: "expr", backed by expr-lang for lightweight
// boolean expressions, and "script", backed by goja for anything JavaScript
// can express. Both are registered into an engine.FunctionRegistry by the
// caller (cmd/reviewpipe) rather than self-registering via init(), since a
// deployment may want to omit either.
package builtinfuncs

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/bittoy/reviewpipe/internal/engine"
	"github.com/bittoy/reviewpipe/internal/types"
)

// exprPrograms caches compiled expr-lang programs by source text, the same
// compile-once-run-many idea as the teacher's ExprFilterNode, except keyed
// per distinct script instead of held on a single node instance — a rule's
// "expr" condition compiles once no matter how many times the rule fires.
var exprPrograms sync.Map // string -> *vm.Program

// RegisterExpr registers the "expr" function: its kwarg "expr" is an
// expr-lang expression evaluated against the content object (exposed as
// "self") plus any remaining kwargs, and must return a bool.
func RegisterExpr(registry *engine.FunctionRegistry) error {
	return registry.Register("expr", exprFunction)
}

func exprFunction(ctx context.Context, obj types.ContentObject, args []any, kwargs map[string]any) (any, error) {
	source, _ := kwargs["expr"].(string)
	if source == "" {
		return nil, fmt.Errorf("expr: missing \"expr\" kwarg")
	}

	program, err := compiledExpr(source)
	if err != nil {
		return nil, err
	}

	env := map[string]any{"self": obj.ToMap()}
	for k, v := range kwargs {
		if k == "expr" {
			continue
		}
		env[k] = v
	}

	return vm.Run(program, env)
}

func compiledExpr(source string) (*vm.Program, error) {
	if v, ok := exprPrograms.Load(source); ok {
		return v.(*vm.Program), nil
	}
	program, err := expr.Compile(source, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("expr: compile: %w", err)
	}
	exprPrograms.Store(source, program)
	return program, nil
}
