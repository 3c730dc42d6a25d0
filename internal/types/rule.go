package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// LogicType is the boolean combinator of a RuleGroup.
type LogicType string

const (
	LogicAnd  LogicType = "AND"
	LogicOr   LogicType = "OR"
	LogicNot  LogicType = "NOT"
	LogicXor  LogicType = "XOR"
	LogicXnor LogicType = "XNOR"
	LogicNand LogicType = "NAND"
	LogicNor  LogicType = "NOR"
)

// OperatorType is the comparison a Condition applies between a resolved
// field value and Condition.Value.
type OperatorType string

const (
	OpContains    OperatorType = "contains"
	OpNotContains OperatorType = "not_contains"
	OpRegex       OperatorType = "regex"
	OpNotRegex    OperatorType = "not_regex"
	OpEq          OperatorType = "eq"
	OpNeq         OperatorType = "neq"
	OpGt          OperatorType = "gt"
	OpLt          OperatorType = "lt"
	OpGte         OperatorType = "gte"
	OpLte         OperatorType = "lte"
	OpIn          OperatorType = "in"
	OpNotIn       OperatorType = "not_in"
)

// FunctionCall names a pluggable rule function and its arguments, used as a
// Condition's field selector in place of a dotted path.
type FunctionCall struct {
	Name   string         `json:"name"`
	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

// FieldSelector is a Condition's field: either a dotted-path string (or the
// literal "self"), or a FunctionCall object. JSON encodes it as whichever
// one is present — a bare string or a nested object — rather than wrapping
// it in a discriminated envelope.
type FieldSelector struct {
	Path string
	Call *FunctionCall
}

func (f *FieldSelector) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		f.Call = nil
		return json.Unmarshal(data, &f.Path)
	}
	var call FunctionCall
	if err := json.Unmarshal(data, &call); err != nil {
		return fmt.Errorf("field selector: %w", err)
	}
	f.Path = ""
	f.Call = &call
	return nil
}

func (f FieldSelector) MarshalJSON() ([]byte, error) {
	if f.Call != nil {
		return json.Marshal(f.Call)
	}
	return json.Marshal(f.Path)
}

// IsSelf reports whether this selector is the literal "self" path.
func (f FieldSelector) IsSelf() bool {
	return f.Call == nil && f.Path == "self"
}

// RuleNode is either a Condition (leaf) or a RuleGroup (internal node).
// Go has no sealed-interface sum type, so membership is closed by the
// unexported marker method below — only this package can implement RuleNode.
type RuleNode interface {
	isRuleNode()
}

// Condition is a leaf predicate: resolve Field, compare against Value using
// Operator.
type Condition struct {
	Field    FieldSelector `json:"field"`
	Operator OperatorType  `json:"operator"`
	Value    any           `json:"value"`
}

func (*Condition) isRuleNode() {}

// RuleGroup combines child nodes (Condition or nested RuleGroup) with Logic.
// An empty Conditions list always evaluates false, regardless of Logic.
type RuleGroup struct {
	Logic      LogicType  `json:"logic"`
	Conditions []RuleNode `json:"conditions"`
}

func (*RuleGroup) isRuleNode() {}

func (g *RuleGroup) UnmarshalJSON(data []byte) error {
	var shadow struct {
		Logic      LogicType         `json:"logic"`
		Conditions []json.RawMessage `json:"conditions"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	conditions := make([]RuleNode, 0, len(shadow.Conditions))
	for _, raw := range shadow.Conditions {
		node, err := DecodeRuleNode(raw)
		if err != nil {
			return err
		}
		conditions = append(conditions, node)
	}
	g.Logic = shadow.Logic
	g.Conditions = conditions
	return nil
}

func (g RuleGroup) MarshalJSON() ([]byte, error) {
	type shadow struct {
		Logic      LogicType  `json:"logic"`
		Conditions []RuleNode `json:"conditions"`
	}
	// Conditions must never marshal as JSON null for an empty group.
	conditions := g.Conditions
	if conditions == nil {
		conditions = []RuleNode{}
	}
	return json.Marshal(shadow{Logic: g.Logic, Conditions: conditions})
}

// DecodeRuleNode picks Condition or RuleGroup based on which discriminating
// key ("operator" vs "logic") is present in raw, then decodes into it.
func DecodeRuleNode(raw json.RawMessage) (RuleNode, error) {
	var probe struct {
		Logic    *LogicType    `json:"logic"`
		Operator *OperatorType `json:"operator"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("rule node: %w", err)
	}
	switch {
	case probe.Logic != nil:
		var g RuleGroup
		if err := json.Unmarshal(raw, &g); err != nil {
			return nil, err
		}
		return &g, nil
	case probe.Operator != nil:
		var c Condition
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		return &c, nil
	default:
		return nil, fmt.Errorf("rule node: neither \"logic\" nor \"operator\" present")
	}
}

// Rule is a single review rule: metadata, scope, the boolean trigger tree,
// and an opaque action list forwarded verbatim to the action stream.
type Rule struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Enabled    bool            `json:"enabled"`
	Priority   int             `json:"priority"`
	Block      bool            `json:"block"`
	Fid        int64           `json:"fid"`
	TargetType Kind            `json:"target_type"`
	Trigger    RuleNode        `json:"trigger"`
	Actions    json.RawMessage `json:"actions"`
}

func (r *Rule) UnmarshalJSON(data []byte) error {
	var shadow struct {
		ID         int64           `json:"id"`
		Name       string          `json:"name"`
		Enabled    bool            `json:"enabled"`
		Priority   int             `json:"priority"`
		Block      bool            `json:"block"`
		Fid        int64           `json:"fid"`
		TargetType Kind            `json:"target_type"`
		Trigger    json.RawMessage `json:"trigger"`
		Actions    json.RawMessage `json:"actions"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	trigger, err := DecodeRuleNode(shadow.Trigger)
	if err != nil {
		return fmt.Errorf("rule %d trigger: %w", shadow.ID, err)
	}
	r.ID = shadow.ID
	r.Name = shadow.Name
	r.Enabled = shadow.Enabled
	r.Priority = shadow.Priority
	r.Block = shadow.Block
	r.Fid = shadow.Fid
	r.TargetType = shadow.TargetType
	r.Trigger = trigger
	r.Actions = shadow.Actions
	return nil
}

func (r Rule) MarshalJSON() ([]byte, error) {
	type shadow struct {
		ID         int64           `json:"id"`
		Name       string          `json:"name"`
		Enabled    bool            `json:"enabled"`
		Priority   int             `json:"priority"`
		Block      bool            `json:"block"`
		Fid        int64           `json:"fid"`
		TargetType Kind            `json:"target_type"`
		Trigger    RuleNode        `json:"trigger"`
		Actions    json.RawMessage `json:"actions"`
	}
	return json.Marshal(shadow{
		ID: r.ID, Name: r.Name, Enabled: r.Enabled, Priority: r.Priority,
		Block: r.Block, Fid: r.Fid, TargetType: r.TargetType,
		Trigger: r.Trigger, Actions: r.Actions,
	})
}

// ReviewResult is the payload appended to the action stream once matched
// rules are found for an event.
type ReviewResult struct {
	EventID             string         `json:"event_id"`
	Fid                 int64          `json:"fid"`
	MatchedRuleIDs      []int64        `json:"matched_rule_ids"`
	ObjectType          Kind           `json:"object_type"`
	ObjectData          map[string]any `json:"object_data"`
	FunctionCallResults map[string]any `json:"function_call_results"`
	Timestamp           float64        `json:"timestamp"`
}
