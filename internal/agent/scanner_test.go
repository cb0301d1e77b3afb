package agent

import (
	"reflect"
	"testing"
)

func TestScan(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantOK   bool
		wantName string
		wantArgs map[string]any
		wantEnd  int
	}{
		{
			name: "no braces",
			text: "Just a plain answer.",
		},
		{
			name:     "bare call",
			text:     `{"tool":"remember","args":{"text":"blue"}}`,
			wantOK:   true,
			wantName: "remember",
			wantArgs: map[string]any{"text": "blue"},
			wantEnd:  len(`{"tool":"remember","args":{"text":"blue"}}`),
		},
		{
			name:     "prose before and after",
			text:     `I'll save that. {"tool":"remember","args":{"text":"x"}} {"result": true}`,
			wantOK:   true,
			wantName: "remember",
			wantArgs: map[string]any{"text": "x"},
			wantEnd:  len(`I'll save that. {"tool":"remember","args":{"text":"x"}}`),
		},
		{
			name:     "malformed noise first",
			text:     `set {a: 1} then {"tool":"system_control","args":{"action":"mute"}}`,
			wantOK:   true,
			wantName: "system_control",
			wantArgs: map[string]any{"action": "mute"},
			wantEnd:  len(`set {a: 1} then {"tool":"system_control","args":{"action":"mute"}}`),
		},
		{
			name:     "object without tool key is skipped",
			text:     `{"x": 1} {"tool":"read_url","args":{"url":"https://example.com"}}`,
			wantOK:   true,
			wantName: "read_url",
			wantArgs: map[string]any{"url": "https://example.com"},
			wantEnd:  len(`{"x": 1} {"tool":"read_url","args":{"url":"https://example.com"}}`),
		},
		{
			name:     "unclosed outer object falls through to inner",
			text:     `{"plan": {"tool":"google_search","args":{"query":"go"}}`,
			wantOK:   true,
			wantName: "google_search",
			wantArgs: map[string]any{"query": "go"},
			wantEnd:  len(`{"plan": {"tool":"google_search","args":{"query":"go"}}`),
		},
		{
			name:     "earliest start wins over nested call",
			text:     `{"tool":"outer","args":{"inner":{"tool":"inner"}}}`,
			wantOK:   true,
			wantName: "outer",
			wantArgs: map[string]any{"inner": map[string]any{"tool": "inner"}},
			wantEnd:  len(`{"tool":"outer","args":{"inner":{"tool":"inner"}}}`),
		},
		{
			name:     "braces inside strings",
			text:     `{"tool":"execute_python","args":{"code":"print({'a': 1}) # }"}}`,
			wantOK:   true,
			wantName: "execute_python",
			wantArgs: map[string]any{"code": "print({'a': 1}) # }"},
			wantEnd:  len(`{"tool":"execute_python","args":{"code":"print({'a': 1}) # }"}}`),
		},
		{
			name:     "missing args",
			text:     `{"tool":"status"}`,
			wantOK:   true,
			wantName: "status",
			wantArgs: map[string]any{},
			wantEnd:  len(`{"tool":"status"}`),
		},
		{
			name: "empty tool name",
			text: `{"tool": "", "args": {}}`,
		},
		{
			name: "empty tool name ends the scan",
			text: `{"tool": ""} {"tool":"remember","args":{"text":"x"}}`,
		},
		{
			name: "non-string tool name",
			text: `{"tool": 7}`,
		},
		{
			name: "unbalanced",
			text: `{"tool":"remember","args":{"text":"x"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, end, ok := Scan(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("Scan() ok = %v, want %v (call %+v)", ok, tt.wantOK, call)
			}
			if !ok {
				return
			}
			if call.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", call.Name, tt.wantName)
			}
			if !reflect.DeepEqual(call.Args, tt.wantArgs) {
				t.Errorf("Args = %#v, want %#v", call.Args, tt.wantArgs)
			}
			if end != tt.wantEnd {
				t.Errorf("end = %d, want %d", end, tt.wantEnd)
			}
		})
	}
}

func TestScanEndIsOnePastClosingBrace(t *testing.T) {
	texts := []string{
		`ok {"tool":"a"}`,
		`{"tool":"a","args":{"n":{"m":1}}} trailing`,
		`{{ noise {"tool":"a"}}`,
	}
	for _, text := range texts {
		_, end, ok := Scan(text)
		if !ok {
			t.Fatalf("Scan(%q) found nothing", text)
		}
		if text[end-1] != '}' {
			t.Errorf("Scan(%q): text[end-1] = %q, want '}'", text, text[end-1])
		}
	}
}

func TestSignature(t *testing.T) {
	a := ToolCall{Name: "system_control", Args: map[string]any{"action": "set_volume", "level": 50.0}}
	b := ToolCall{Name: "system_control", Args: map[string]any{"level": 50.0, "action": "set_volume"}}
	if a.Signature() != b.Signature() {
		t.Errorf("signatures differ for equal args: %q vs %q", a.Signature(), b.Signature())
	}
	if got, want := a.Signature(), `system_control:{"action":"set_volume","level":50}`; got != want {
		t.Errorf("Signature() = %q, want %q", got, want)
	}

	c := ToolCall{Name: "system_control", Args: map[string]any{"action": "set_volume", "level": 60.0}}
	if a.Signature() == c.Signature() {
		t.Error("different args produced the same signature")
	}
}

func TestDedupGuard(t *testing.T) {
	g := newDedupGuard()
	if g.Seen("remember:{}") {
		t.Fatal("fresh guard reports a signature as seen")
	}
	g.Record("remember:{}")
	if !g.Seen("remember:{}") {
		t.Error("recorded signature not seen")
	}
	if g.Seen("remember:{\"text\":\"x\"}") {
		t.Error("unrelated signature reported as seen")
	}
}
