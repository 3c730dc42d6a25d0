package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRule_JSONRoundTrip(t *testing.T) {
	original := Rule{
		ID:         42,
		Name:       "no banned words",
		Enabled:    true,
		Priority:   10,
		Block:      true,
		Fid:        7,
		TargetType: KindPost,
		Trigger: &RuleGroup{
			Logic: LogicAnd,
			Conditions: []RuleNode{
				&Condition{Field: FieldSelector{Path: "content"}, Operator: OpContains, Value: "spam"},
				&Condition{
					Field:    FieldSelector{Call: &FunctionCall{Name: "expr", Kwargs: map[string]any{"expr": "self.author.level > 3"}}},
					Operator: OpEq,
					Value:    true,
				},
			},
		},
		Actions: json.RawMessage(`[{"type":"delete"}]`),
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Rule
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, original.ID, decoded.ID)
	assert.Equal(t, original.Priority, decoded.Priority)
	assert.Equal(t, original.Block, decoded.Block)
	assert.Equal(t, original.TargetType, decoded.TargetType)

	group, ok := decoded.Trigger.(*RuleGroup)
	require.True(t, ok)
	assert.Equal(t, LogicAnd, group.Logic)
	require.Len(t, group.Conditions, 2)

	cond0, ok := group.Conditions[0].(*Condition)
	require.True(t, ok)
	assert.Equal(t, "content", cond0.Field.Path)
	assert.True(t, cond0.Field.IsSelf() == false)

	cond1, ok := group.Conditions[1].(*Condition)
	require.True(t, ok)
	require.NotNil(t, cond1.Field.Call)
	assert.Equal(t, "expr", cond1.Field.Call.Name)
}

func TestRuleGroup_EmptyConditionsMarshalAsArray(t *testing.T) {
	g := RuleGroup{Logic: LogicAnd}
	data, err := json.Marshal(g)
	require.NoError(t, err)
	assert.JSONEq(t, `{"logic":"AND","conditions":[]}`, string(data))
}

func TestFieldSelector_SelfIsBareString(t *testing.T) {
	var sel FieldSelector
	require.NoError(t, json.Unmarshal([]byte(`"self"`), &sel))
	assert.True(t, sel.IsSelf())

	data, err := json.Marshal(sel)
	require.NoError(t, err)
	assert.Equal(t, `"self"`, string(data))
}

func TestDecodeRuleNode_RejectsShapeWithoutDiscriminator(t *testing.T) {
	_, err := DecodeRuleNode(json.RawMessage(`{"foo":"bar"}`))
	assert.Error(t, err)
}
