package agent

import (
	"encoding/json"
)

// ToolCall is a tool invocation embedded in model output, e.g.
//
//	{"tool": "remember", "args": {"text": "favorite color is blue"}}
type ToolCall struct {
	Name string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// Signature identifies a call for deduplication. encoding/json writes map
// keys in sorted order, so equal arguments always give equal signatures.
func (c ToolCall) Signature() string {
	args, err := json.Marshal(c.Args)
	if err != nil {
		args = []byte("{}")
	}
	return c.Name + ":" + string(args)
}

// Scan finds the first tool call in text. Every '{' is tried as the start
// of an object in order; the candidate ends where its brace depth returns
// to zero. Candidates that fail to parse, or parse without a "tool" key,
// are skipped. The first accepted object ends the scan, and end is the
// offset one past its closing brace.
//
// An accepted object whose tool name is empty (or not a string) means no
// call: ok is false.
func Scan(text string) (call ToolCall, end int, ok bool) {
	for start := 0; start < len(text); start++ {
		if text[start] != '{' {
			continue
		}
		closing := matchBrace(text, start)
		if closing < 0 {
			continue
		}
		obj, found := decodeCall(text[start : closing+1])
		if !found {
			continue
		}
		if obj.Name == "" {
			return ToolCall{}, 0, false
		}
		return obj, closing + 1, true
	}
	return ToolCall{}, 0, false
}

// matchBrace returns the index of the '}' that brings the depth opened at
// start back to zero, or -1 if the text ends first. Braces inside JSON
// string literals are not counted.
func matchBrace(text string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// decodeCall parses a candidate object. found reports whether it is valid
// JSON carrying a "tool" key, whatever that key's value.
func decodeCall(candidate string) (call ToolCall, found bool) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return ToolCall{}, false
	}
	name, ok := raw["tool"]
	if !ok {
		return ToolCall{}, false
	}

	_ = json.Unmarshal(name, &call.Name)
	if a, ok := raw["args"]; ok {
		_ = json.Unmarshal(a, &call.Args)
	}
	if call.Args == nil {
		call.Args = map[string]any{}
	}
	return call, true
}
