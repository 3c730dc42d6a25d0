package engine

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/bittoy/reviewpipe/internal/types"
)

// Engine evaluates a Rule's trigger tree against a ContentObject. It is
// safe for concurrent use: every piece of shared state (regex cache, path
// cache) is its own lock-guarded type, and a Match call never mutates the
// Rule or ContentObject it's given.
type Engine struct {
	provider FunctionProvider
	regexes  *regexCache
	paths    *pathCache
}

// Option configures an Engine at construction time, following the
// teacher's functional-options convention for component configuration.
type Option func(*Engine)

func WithFunctionProvider(p FunctionProvider) Option {
	return func(e *Engine) { e.provider = p }
}

func WithPathCacheCapacity(n int) Option {
	return func(e *Engine) { e.paths = newPathCache(n) }
}

func New(opts ...Option) *Engine {
	e := &Engine{
		provider: NewLocalProvider(NewFunctionRegistry()),
		regexes:  newRegexCache(),
		paths:    newPathCache(1024),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// fnContext accumulates function-call results for one evaluation, keyed by
// function name. A rule tree may reference the same function call from
// multiple conditions; per spec the call executes once per evaluation and
// every reference to that name shares the result (last write wins, since
// the same name always means the same call within one event's evaluation).
type fnContext map[string]any

// Match reports whether rule's trigger tree holds against obj. The
// returned fnContext carries every resolved function-call result, for
// ReviewResult.FunctionCallResults.
func (e *Engine) Match(ctx context.Context, obj types.ContentObject, rule *types.Rule) (bool, map[string]any, error) {
	if !rule.Enabled {
		return false, nil, types.ErrRuleDisabled
	}
	fctx := fnContext{}
	start := time.Now()
	matched, err := e.evalNode(ctx, obj, rule.Trigger, fctx)
	observeMatch(time.Since(start), matched)
	if err != nil {
		return false, nil, types.NewEngineError(rule.ID, rule.TargetType, err)
	}
	return matched, fctx, nil
}

// MatchAll evaluates rules in the order given (callers pass them already
// sorted by ascending priority) and returns every matching rule plus the
// union of function-call results seen along the way. Evaluation of the
// rule list stops entirely — not just result collection — the instant a
// matching rule has Block set, so a later rule is never even evaluated.
func (e *Engine) MatchAll(ctx context.Context, obj types.ContentObject, rules []*types.Rule) ([]*types.Rule, map[string]any, error) {
	fctx := fnContext{}
	var matched []*types.Rule
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		start := time.Now()
		ok, err := e.evalNode(ctx, obj, rule.Trigger, fctx)
		observeMatch(time.Since(start), ok)
		if err != nil {
			return matched, fctx, types.NewEngineError(rule.ID, rule.TargetType, err)
		}
		if !ok {
			continue
		}
		matched = append(matched, rule)
		if rule.Block {
			break
		}
	}
	return matched, fctx, nil
}

func (e *Engine) evalNode(ctx context.Context, obj types.ContentObject, node types.RuleNode, fctx fnContext) (bool, error) {
	switch n := node.(type) {
	case *types.Condition:
		return e.evalCondition(ctx, obj, n, fctx)
	case *types.RuleGroup:
		return e.evalGroup(ctx, obj, n, fctx)
	default:
		return false, nil
	}
}

func (e *Engine) evalGroup(ctx context.Context, obj types.ContentObject, g *types.RuleGroup, fctx fnContext) (bool, error) {
	if len(g.Conditions) == 0 {
		return false, nil
	}
	switch g.Logic {
	case types.LogicNot:
		v, err := e.evalNode(ctx, obj, g.Conditions[0], fctx)
		if err != nil {
			return false, err
		}
		return !v, nil
	case types.LogicAnd:
		for _, c := range g.Conditions {
			v, err := e.evalNode(ctx, obj, c, fctx)
			if err != nil {
				return false, err
			}
			if !v {
				return false, nil
			}
		}
		return true, nil
	case types.LogicOr:
		for _, c := range g.Conditions {
			v, err := e.evalNode(ctx, obj, c, fctx)
			if err != nil {
				return false, err
			}
			if v {
				return true, nil
			}
		}
		return false, nil
	case types.LogicNand:
		for _, c := range g.Conditions {
			v, err := e.evalNode(ctx, obj, c, fctx)
			if err != nil {
				return false, err
			}
			if !v {
				return true, nil
			}
		}
		return false, nil
	case types.LogicNor:
		for _, c := range g.Conditions {
			v, err := e.evalNode(ctx, obj, c, fctx)
			if err != nil {
				return false, err
			}
			if v {
				return false, nil
			}
		}
		return true, nil
	case types.LogicXor, types.LogicXnor:
		trueCount := 0
		for _, c := range g.Conditions {
			v, err := e.evalNode(ctx, obj, c, fctx)
			if err != nil {
				return false, err
			}
			if v {
				trueCount++
			}
		}
		odd := trueCount%2 == 1
		if g.Logic == types.LogicXor {
			return odd, nil
		}
		return !odd, nil
	default:
		return false, nil
	}
}

// evalCondition resolves the condition's field and evaluates its operator.
// A null field is unconditionally false for every operator, mirroring
// original_source/src/core/engine.py's early `if field_value is None: return
// False` — this applies even to operators like "neq" and "not_in" whose
// naive negated form would otherwise treat a missing field as a match.
func (e *Engine) evalCondition(ctx context.Context, obj types.ContentObject, c *types.Condition, fctx fnContext) (bool, error) {
	field := e.resolveField(ctx, obj, c.Field, fctx)
	if field == nil {
		return false, nil
	}
	return evalOperator(e, c.Operator, field, c.Value), nil
}

func evalOperator(e *Engine, op types.OperatorType, field, value any) bool {
	switch op {
	case types.OpContains:
		return strings.Contains(stringify(field), stringify(value))
	case types.OpNotContains:
		return !strings.Contains(stringify(field), stringify(value))
	case types.OpRegex:
		pattern, ok := value.(string)
		if !ok {
			return false
		}
		re := e.regexes.compile(pattern)
		if re == nil {
			return false
		}
		return re.MatchString(stringify(field))
	case types.OpNotRegex:
		pattern, ok := value.(string)
		if !ok {
			return false
		}
		re := e.regexes.compile(pattern)
		if re == nil {
			return true
		}
		return !re.MatchString(stringify(field))
	case types.OpEq:
		return valuesEqual(field, value)
	case types.OpNeq:
		return !valuesEqual(field, value)
	case types.OpGt:
		cmp, ok := compareOrdered(field, value)
		return ok && cmp > 0
	case types.OpLt:
		cmp, ok := compareOrdered(field, value)
		return ok && cmp < 0
	case types.OpGte:
		cmp, ok := compareOrdered(field, value)
		return ok && cmp >= 0
	case types.OpLte:
		cmp, ok := compareOrdered(field, value)
		return ok && cmp <= 0
	case types.OpIn:
		v, ok := membership(field, value)
		return ok && v
	case types.OpNotIn:
		v, ok := membership(field, value)
		return ok && !v
	default:
		return false
	}
}

// resolveField resolves a FieldSelector to its value: "self" returns the
// whole content object as a map, a FunctionCall invokes the provider (once
// per name per evaluation), and anything else walks a dotted path.
func (e *Engine) resolveField(ctx context.Context, obj types.ContentObject, sel types.FieldSelector, fctx fnContext) any {
	if sel.Call != nil {
		if v, ok := fctx[sel.Call.Name]; ok {
			return v
		}
		v := e.provider.Execute(ctx, sel.Call.Name, obj, sel.Call.Args, sel.Call.Kwargs)
		fctx[sel.Call.Name] = v
		return v
	}
	if sel.IsSelf() {
		return obj.ToMap()
	}
	return e.lookup(obj.Unwrap(), e.paths.split(sel.Path))
}

// lookup walks parts over root, which is either a struct value (from
// ContentObject.Unwrap) or a map[string]any (Raw fallback). A struct field
// is matched by its json tag first, falling back to a case-insensitive
// name match, mirroring how the wire format actually names fields.
func (e *Engine) lookup(root any, parts []string) any {
	cur := root
	for _, part := range parts {
		if cur == nil {
			return nil
		}
		cur = stepInto(cur, part)
	}
	return cur
}

func stepInto(cur any, part string) any {
	switch v := cur.(type) {
	case map[string]any:
		val, ok := v[part]
		if !ok {
			return nil
		}
		return val
	}

	rv := reflect.ValueOf(cur)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Map {
		val := rv.MapIndex(reflect.ValueOf(part))
		if !val.IsValid() {
			return nil
		}
		return val.Interface()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("json")
		name := strings.Split(tag, ",")[0]
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if name == part || strings.EqualFold(f.Name, part) {
			return rv.Field(i).Interface()
		}
	}
	return nil
}
