package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bittoy/reviewpipe/internal/types"
)

func cond(path string, op types.OperatorType, value any) *types.Condition {
	return &types.Condition{Field: types.FieldSelector{Path: path}, Operator: op, Value: value}
}

func group(logic types.LogicType, nodes ...types.RuleNode) *types.RuleGroup {
	return &types.RuleGroup{Logic: logic, Conditions: nodes}
}

func postObject(content string, level int) types.ContentObject {
	return types.ContentObject{
		Kind: types.KindPost,
		Post: &types.Post{ID: 1, Fid: 7, Content: content, Author: types.Author{Level: level}},
	}
}

func rule(id int64, trigger types.RuleNode, block bool) *types.Rule {
	return &types.Rule{ID: id, Name: "r", Enabled: true, Block: block, TargetType: types.KindPost, Trigger: trigger}
}

func TestMatch_BasicContains(t *testing.T) {
	e := New()
	obj := postObject("buy cheap pills now", 1)
	r := rule(1, group(types.LogicAnd, cond("content", types.OpContains, "cheap")), false)

	matched, _, err := e.Match(context.Background(), obj, r)
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestMatch_NotOnlyEvaluatesFirstChild(t *testing.T) {
	e := New()
	obj := postObject("hello world", 1)

	calls := 0
	trackingCond := &types.Condition{
		Field:    types.FieldSelector{Call: &types.FunctionCall{Name: "track"}},
		Operator: types.OpEq,
		Value:    true,
	}
	require.NoError(t, e.provider.(*LocalProvider).registry.Register("track", func(ctx context.Context, obj types.ContentObject, args []any, kwargs map[string]any) (any, error) {
		calls++
		return true, nil
	}))

	r := rule(2, group(types.LogicNot, cond("content", types.OpContains, "hello"), trackingCond), false)

	matched, _, err := e.Match(context.Background(), obj, r)
	require.NoError(t, err)
	assert.False(t, matched, "NOT negates its single child")
	assert.Equal(t, 0, calls, "NOT must not evaluate any child beyond the first")
}

func TestMatchAll_BlockStopsEvaluationEntirely(t *testing.T) {
	e := New()
	obj := postObject("spam spam spam", 1)

	evaluatedB := false
	callback := &types.Condition{
		Field:    types.FieldSelector{Call: &types.FunctionCall{Name: "mark_b"}},
		Operator: types.OpEq,
		Value:    true,
	}
	require.NoError(t, e.provider.(*LocalProvider).registry.Register("mark_b", func(ctx context.Context, obj types.ContentObject, args []any, kwargs map[string]any) (any, error) {
		evaluatedB = true
		return true, nil
	}))

	ruleA := rule(1, group(types.LogicAnd, cond("content", types.OpContains, "spam")), true)
	ruleB := rule(2, group(types.LogicAnd, callback), false)

	matched, _, err := e.MatchAll(context.Background(), obj, []*types.Rule{ruleA, ruleB})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, int64(1), matched[0].ID)
	assert.False(t, evaluatedB, "rule B must never be evaluated once a blocking rule upstream matches")
}

func TestMatch_EmptyGroupAlwaysFalse(t *testing.T) {
	e := New()
	obj := postObject("anything", 1)
	for _, logic := range []types.LogicType{types.LogicAnd, types.LogicOr, types.LogicXor, types.LogicNand} {
		r := rule(1, &types.RuleGroup{Logic: logic}, false)
		matched, _, err := e.Match(context.Background(), obj, r)
		require.NoError(t, err)
		assert.False(t, matched, "empty group under %s must be false", logic)
	}
}

func TestMatch_IsPure(t *testing.T) {
	e := New()
	obj := postObject("repeat this content", 1)
	r := rule(1, group(types.LogicAnd, cond("content", types.OpContains, "repeat")), false)

	m1, _, err1 := e.Match(context.Background(), obj, r)
	m2, _, err2 := e.Match(context.Background(), obj, r)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, m1, m2, "evaluating the same rule against the same object twice must agree")
}

func TestMatch_NumericKindCrossesStructAndJSON(t *testing.T) {
	e := New()
	obj := postObject("x", 5)
	// Author.Level is a Go int; the rule value below decodes the way a JSON
	// document would, as float64. gte must still hold.
	r := rule(1, group(types.LogicAnd, cond("author.level", types.OpGte, float64(5))), false)

	matched, _, err := e.Match(context.Background(), obj, r)
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestMatch_NotContainsOnNilFieldIsFalse(t *testing.T) {
	e := New()
	obj := types.ContentObject{Kind: types.KindPost, Post: &types.Post{}}
	r := rule(1, group(types.LogicAnd, cond("nonexistent_field", types.OpNotContains, "admin")), false)

	matched, _, err := e.Match(context.Background(), obj, r)
	require.NoError(t, err)
	assert.False(t, matched, "not_contains against a missing field must be false, not true")
}

func TestMatch_NegativeOperatorsOnNilFieldAreFalse(t *testing.T) {
	e := New()
	obj := types.ContentObject{Kind: types.KindPost, Post: &types.Post{}}

	for _, op := range []types.OperatorType{types.OpNeq, types.OpNotIn, types.OpNotRegex} {
		r := rule(1, group(types.LogicAnd, cond("nonexistent_field", op, 5)), false)
		matched, _, err := e.Match(context.Background(), obj, r)
		require.NoError(t, err)
		assert.False(t, matched, "%s against a missing field must be false, not true", op)
	}
}
