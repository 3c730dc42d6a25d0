package types

import "encoding/json"

// structToMap renders v (a struct with json tags) as a plain map by
// round-tripping it through encoding/json. Content DTOs are small and this
// runs only via ContentObject.ToMap (a dispatched match, a "self" field, a
// built-in or remote function call), so the extra marshal pass is cheap
// compared to hand-writing a mirror accessor per struct.
func structToMap(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{}
	}
	return m
}
