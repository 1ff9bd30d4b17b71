package contextwindow

import "encoding/json"

// rawString extracts a plain string from a tool_result content field for
// compression purposes. If the field is a JSON string, its decoded value is
// used; otherwise the raw JSON bytes stand in as the text to estimate and
// truncate, matching how a non-string tool_result still occupies prompt
// space byte-for-byte.
func rawString(content json.RawMessage) string {
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return s
	}
	return string(content)
}

// marshalString re-wraps a (possibly truncated) string as tool_result
// content, always emitting the JSON string form regardless of the
// original's shape — truncation only makes sense on plain text, so the
// compressed result is always representable as one.
func marshalString(s string) json.RawMessage {
	data, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`""`)
	}
	return data
}
