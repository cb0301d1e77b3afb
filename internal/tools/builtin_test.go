package tools

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"testing"

	"github.com/nugget/korb/internal/fetch"
	"github.com/nugget/korb/internal/interpreter"
	"github.com/nugget/korb/internal/sysctl"
)

type fakeMemory struct {
	added []string
	err   error
}

func (m *fakeMemory) Add(_ context.Context, text string) error {
	if m.err != nil {
		return m.err
	}
	m.added = append(m.added, text)
	return nil
}

type fakePython struct{ code string }

func (p *fakePython) Execute(_ context.Context, code string) interpreter.Result {
	p.code = code
	return interpreter.Result{Output: "hello\n", Result: "None"}
}

type fakeSearch struct {
	text string
	err  error
}

func (s *fakeSearch) Text(context.Context, string, int) (string, error) { return s.text, s.err }

type fakeReader struct{ content string }

func (r *fakeReader) Fetch(_ context.Context, rawURL string, _ int) (*fetch.Result, error) {
	if r.content == "" {
		return nil, errors.New("404")
	}
	return &fetch.Result{URL: rawURL, Content: r.content}, nil
}

type fakeLocator struct {
	pt    image.Point
	found bool
	err   error
}

func (l *fakeLocator) Locate(context.Context, string) (image.Point, bool, error) {
	return l.pt, l.found, l.err
}

type fakeWorkflows struct{ ran []string }

func (w *fakeWorkflows) Describe(_ context.Context, name string) string {
	w.ran = append(w.ran, name)
	return "Activating " + name + "..."
}

func (w *fakeWorkflows) List() []string { return []string{"focus_mode", "work_mode"} }

// fakeSystem records every call as "method:args".
type fakeSystem struct {
	calls    []string
	shotErr  error
	interact string
}

func (s *fakeSystem) record(format string, args ...any) {
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
}

func (s *fakeSystem) OpenApp(_ context.Context, name string) string {
	s.record("open:%s", name)
	return "Opening " + name
}

func (s *fakeSystem) SetVolume(_ context.Context, level int) string {
	s.record("volume:%d", level)
	return fmt.Sprintf("Volume set to %d%%", level)
}

func (s *fakeSystem) SetMute(_ context.Context, mute bool) string {
	s.record("mute:%t", mute)
	if mute {
		return "Volume muted"
	}
	return "Volume unmuted"
}

func (s *fakeSystem) WriteFile(path, content string) string {
	s.record("write:%s:%s", path, content)
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path)
}

func (s *fakeSystem) ReadFile(path string) string {
	s.record("read:%s", path)
	return "contents"
}

func (s *fakeSystem) ListFiles(path string) string {
	s.record("list:%s", path)
	return "Files in " + path + ":"
}

func (s *fakeSystem) ReplaceText(path, search, replace string) string {
	s.record("replace:%s:%s:%s", path, search, replace)
	return "Replaced 1 occurrence(s) in " + path
}

func (s *fakeSystem) Screenshot(context.Context) ([]byte, error) {
	s.record("screenshot")
	if s.shotErr != nil {
		return nil, s.shotErr
	}
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

func (s *fakeSystem) Media(_ context.Context, action string) string {
	s.record("media:%s", action)
	return "Media action executed: " + action
}

func (s *fakeSystem) Power(_ context.Context, action string) string {
	s.record("power:%s", action)
	return "Locking workstation."
}

func (s *fakeSystem) SetBrightness(_ context.Context, level int) string {
	s.record("brightness:%d", level)
	return fmt.Sprintf("Brightness set to %d%%", level)
}

func (s *fakeSystem) Window(_ context.Context, action string) string {
	s.record("window:%s", action)
	return "Window minimized"
}

func (s *fakeSystem) Interact(_ context.Context, action string, in sysctl.Interaction) string {
	coords := ""
	if in.X != nil && in.Y != nil {
		coords = fmt.Sprintf("@%d,%d", *in.X, *in.Y)
	}
	s.record("interact:%s:%s:%s:%s%s", action, in.Text, in.Key, strings.Join(in.Keys, "+"), coords)
	if s.interact != "" {
		return s.interact
	}
	if action == "click" {
		return fmt.Sprintf("Clicked at (%d, %d)", *in.X, *in.Y)
	}
	return "Typed: " + in.Text
}

func (s *fakeSystem) Status(context.Context) string {
	s.record("status")
	return "CPU: 3.0%"
}

func dispatch(t *testing.T, r *Registry, req Request) Outcome {
	t.Helper()
	out, err := r.Dispatch(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Dispatch(%s): %v", req.Name, err)
	}
	return out
}

func TestRememberSaves(t *testing.T) {
	mem := &fakeMemory{}
	r := NewDefaultRegistry(Services{Memory: mem}, nil)

	out := dispatch(t, r, Request{
		Name:     "remember",
		Args:     map[string]any{"text": "favorite color is blue"},
		Memories: []string{"User lives in Oslo"},
	})
	if out.Result != "Memory saved successfully." {
		t.Errorf("Result = %q", out.Result)
	}
	if len(mem.added) != 1 || mem.added[0] != "favorite color is blue" {
		t.Errorf("added = %v", mem.added)
	}
	want := "\n\n*Saving to memory...*\n> favorite color is blue\n\n"
	if len(out.Progress) != 1 || out.Progress[0] != want {
		t.Errorf("Progress = %q, want %q", out.Progress, want)
	}
}

func TestRememberDuplicateIntent(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		memories []string
	}{
		{"new contained in old", "Color is BLUE", []string{"My favorite color is blue"}},
		{"old contained in new", "my favorite color is blue and always was", []string{"favorite color is blue"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := &fakeMemory{}
			r := NewDefaultRegistry(Services{Memory: mem}, nil)
			out := dispatch(t, r, Request{Name: "remember", Args: map[string]any{"text": tt.text}, Memories: tt.memories})
			if out.Result != "Memory already exists. Do not re-save." {
				t.Errorf("Result = %q", out.Result)
			}
			if len(out.Progress) != 0 {
				t.Errorf("duplicate save must not show progress: %q", out.Progress)
			}
			if len(mem.added) != 0 {
				t.Errorf("added = %v", mem.added)
			}
		})
	}
}

func TestRememberFailureAndUnavailable(t *testing.T) {
	r := NewDefaultRegistry(Services{Memory: &fakeMemory{err: errors.New("disk full")}}, nil)
	out := dispatch(t, r, Request{Name: "remember", Args: map[string]any{"text": "x"}})
	if out.Result != "Error: Failed to save memory." {
		t.Errorf("Result = %q", out.Result)
	}
	if len(out.Progress) != 2 || out.Progress[1] != "\n\n*Failed to save memory.*\n\n" {
		t.Errorf("Progress = %q", out.Progress)
	}

	r = NewDefaultRegistry(Services{}, nil)
	out = dispatch(t, r, Request{Name: "remember", Args: map[string]any{"text": "x"}})
	if out.Result != MemoryUnavailable {
		t.Errorf("Result = %q, want %q", out.Result, MemoryUnavailable)
	}
	if len(out.Progress) != 1 || out.Progress[0] != "\n\n*Saving to memory...*\n> x\n\n" {
		t.Errorf("unavailable Progress = %q", out.Progress)
	}

	out = dispatch(t, r, Request{
		Name:     "remember",
		Args:     map[string]any{"text": "color is blue"},
		Memories: []string{"My favorite color is blue"},
	})
	if out.Result != "Memory already exists. Do not re-save." || len(out.Progress) != 0 {
		t.Errorf("known memory without a store = %q, %q", out.Result, out.Progress)
	}
}

func TestExecutePython(t *testing.T) {
	py := &fakePython{}
	r := NewDefaultRegistry(Services{Python: py}, nil)

	out := dispatch(t, r, Request{Name: "execute_python", Args: map[string]any{"code": "print('hello')"}})
	if out.Result != "Output:\nhello\n\nResult: None" {
		t.Errorf("Result = %q", out.Result)
	}
	wantProgress := []string{
		"\n\n*Executing Code...*\n```python\nprint('hello')\n```\n\n",
		"*Result:*\n```\nOutput:\nhello\n\nResult: None\n```\n\n",
	}
	if strings.Join(out.Progress, "|") != strings.Join(wantProgress, "|") {
		t.Errorf("Progress = %q", out.Progress)
	}

	r = NewDefaultRegistry(Services{}, nil)
	out = dispatch(t, r, Request{Name: "execute_python", Args: map[string]any{"code": "1"}})
	if out.Result != PythonUnavailable {
		t.Errorf("Result = %q", out.Result)
	}
	wantProgress = []string{
		"\n\n*Executing Code...*\n```python\n1\n```\n\n",
		"*Result:*\n```\n" + PythonUnavailable + "\n```\n\n",
	}
	if strings.Join(out.Progress, "|") != strings.Join(wantProgress, "|") {
		t.Errorf("unavailable Progress = %q", out.Progress)
	}
}

func TestGoogleSearchAndReadURL(t *testing.T) {
	r := NewDefaultRegistry(Services{
		Search: &fakeSearch{text: "1. Tokyo weather"},
		Reader: &fakeReader{content: "Example Domain"},
	}, nil)

	out := dispatch(t, r, Request{Name: "google_search", Args: map[string]any{"query": "weather in Tokyo"}})
	if out.Result != "Search Results:\n1. Tokyo weather" {
		t.Errorf("search Result = %q", out.Result)
	}
	if out.Progress[0] != "\n\n*Searching Google for 'weather in Tokyo'...*\n\n" {
		t.Errorf("search Progress = %q", out.Progress)
	}

	out = dispatch(t, r, Request{Name: "read_url", Args: map[string]any{"url": "https://example.com"}})
	if out.Result != "URL Content (https://example.com):\nExample Domain..." {
		t.Errorf("read_url Result = %q", out.Result)
	}

	r = NewDefaultRegistry(Services{Search: &fakeSearch{err: errors.New("quota")}, Reader: &fakeReader{}}, nil)
	if out := dispatch(t, r, Request{Name: "google_search", Args: map[string]any{"query": "q"}}); out.Result != "Error performing search: quota" {
		t.Errorf("search error Result = %q", out.Result)
	}
	if out := dispatch(t, r, Request{Name: "read_url", Args: map[string]any{"url": "u"}}); out.Result != "Error reading URL: 404" {
		t.Errorf("read_url error Result = %q", out.Result)
	}
}

func TestSystemControlActions(t *testing.T) {
	tests := []struct {
		args     map[string]any
		call     string
		result   string
		progress string
	}{
		{map[string]any{"app_name": "calculator"}, "open:calculator", "Opening calculator", "Opening calculator..."},
		{map[string]any{"action": "set_volume", "level": float64(50)}, "volume:50", "Volume set to 50%", "Setting volume to 50%..."},
		{map[string]any{"action": "set_volume", "level": "30"}, "volume:30", "Volume set to 30%", "Setting volume to 30%..."},
		{map[string]any{"action": "mute"}, "mute:true", "Volume muted", "Muting volume..."},
		{map[string]any{"action": "unmute"}, "mute:false", "Success: Volume has been unmuted.", "Unmuting volume..."},
		{map[string]any{"action": "write_file", "path": "a.py", "content": "x=1"}, "write:a.py:x=1", "Successfully wrote 3 bytes to a.py", "Writing file a.py..."},
		{map[string]any{"action": "read_file", "path": "a.py"}, "read:a.py", "contents", "Reading file a.py..."},
		{map[string]any{"action": "list_files"}, "list:.", "Files in .:", "Listing files in ...."},
		{map[string]any{"action": "replace_text", "path": "a.py", "search_text": "1", "replace_text": "2"}, "replace:a.py:1:2", "Replaced 1 occurrence(s) in a.py", "Patching file a.py..."},
		{map[string]any{"action": "screenshot"}, "screenshot", "Screenshot taken successfully.", "Taking screenshot..."},
		{map[string]any{"action": "media", "action_type": "next"}, "media:next", "Media action executed: next", "Media Control: next"},
		{map[string]any{"action": "power", "action_type": "lock"}, "power:lock", "Locking workstation.", "System Power: lock"},
		{map[string]any{"action": "brightness", "level": float64(80)}, "brightness:80", "Brightness set to 80%", "Setting brightness to 80%..."},
		{map[string]any{"action": "window", "action_type": "minimize"}, "window:minimize", "Window minimized", "Window Control: minimize"},
		{map[string]any{"action": "interact", "action_type": "type", "text": "Hello"}, "interact:type:Hello::", "Typed: Hello", "Simulating: type"},
		{map[string]any{"action": "interact", "action_type": "hotkey", "keys": []any{"ctrl", "c"}}, "interact:hotkey:::ctrl+c", "Typed: ", "Simulating: hotkey"},
		{map[string]any{"action": "status"}, "status", "CPU: 3.0%", "Checking system status..."},
	}
	for _, tt := range tests {
		name := fmt.Sprint(tt.args["action"])
		t.Run(name, func(t *testing.T) {
			sys := &fakeSystem{}
			r := NewDefaultRegistry(Services{System: sys}, nil)
			if _, ok := tt.args["action"]; !ok {
				tt.args["action"] = "open_app"
			}
			out := dispatch(t, r, Request{Name: "system_control", Args: tt.args})
			if out.Result != tt.result {
				t.Errorf("Result = %q, want %q", out.Result, tt.result)
			}
			if len(sys.calls) != 1 || sys.calls[0] != tt.call {
				t.Errorf("calls = %v, want [%s]", sys.calls, tt.call)
			}
			want := "\n\n*" + tt.progress + "*\n\n"
			if len(out.Progress) != 1 || out.Progress[0] != want {
				t.Errorf("Progress = %q, want %q", out.Progress, want)
			}
		})
	}
}

func TestSystemControlErrors(t *testing.T) {
	sys := &fakeSystem{shotErr: errors.New("no display")}
	r := NewDefaultRegistry(Services{System: sys}, nil)

	if out := dispatch(t, r, Request{Name: "system_control", Args: map[string]any{"action": "teleport"}}); out.Result != "Error: Unknown system control action 'teleport'" {
		t.Errorf("unknown action Result = %q", out.Result)
	}
	if out := dispatch(t, r, Request{Name: "system_control", Args: map[string]any{}}); out.Result != "Error: Unknown system control action ''" {
		t.Errorf("missing action Result = %q", out.Result)
	}
	if out := dispatch(t, r, Request{Name: "system_control", Args: map[string]any{"action": "set_volume"}}); out.Result != `Error: system_control: argument "level" is required` {
		t.Errorf("schema Result = %q", out.Result)
	}
	if out := dispatch(t, r, Request{Name: "system_control", Args: map[string]any{"action": "screenshot"}}); out.Result != "Failed to take screenshot." {
		t.Errorf("screenshot Result = %q", out.Result)
	}

	r = NewDefaultRegistry(Services{}, nil)
	if out := dispatch(t, r, Request{Name: "system_control", Args: map[string]any{"action": "mute"}}); out.Result != SystemUnavailable {
		t.Errorf("unavailable Result = %q", out.Result)
	}
}

func TestClickOnUI(t *testing.T) {
	tests := []struct {
		name     string
		svc      func(sys *fakeSystem) Services
		result   string
		progress int
	}{
		{
			name: "found and clicked",
			svc: func(sys *fakeSystem) Services {
				return Services{Vision: &fakeLocator{pt: image.Point{X: 10, Y: 20}, found: true}, System: sys}
			},
			result:   "Clicked description 'submit' at (10, 20).",
			progress: 2,
		},
		{
			name: "not found",
			svc: func(sys *fakeSystem) Services {
				return Services{Vision: &fakeLocator{}, System: sys}
			},
			result:   "Could not find UI element matching 'submit'.",
			progress: 1,
		},
		{
			name: "vision error",
			svc: func(sys *fakeSystem) Services {
				return Services{Vision: &fakeLocator{err: errors.New("model down")}, System: sys}
			},
			result:   "Could not find UI element matching 'submit'.",
			progress: 1,
		},
		{
			name: "no system control",
			svc: func(*fakeSystem) Services {
				return Services{Vision: &fakeLocator{pt: image.Point{X: 1, Y: 2}, found: true}}
			},
			result:   "Error: Vision found coordinates, but System Control unavailable for clicking.",
			progress: 2,
		},
		{
			name:     "no vision",
			svc:      func(sys *fakeSystem) Services { return Services{System: sys} },
			result:   VisionUnavailable,
			progress: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sys := &fakeSystem{}
			r := NewDefaultRegistry(tt.svc(sys), nil)
			out := dispatch(t, r, Request{Name: "click_on_ui", Args: map[string]any{"description": "submit"}})
			if out.Result != tt.result {
				t.Errorf("Result = %q, want %q", out.Result, tt.result)
			}
			if len(out.Progress) != tt.progress {
				t.Errorf("Progress = %q, want %d entries", out.Progress, tt.progress)
			}
		})
	}
}

func TestClickOnUIReportsClickFailure(t *testing.T) {
	sys := &fakeSystem{interact: "Interaction error: xdotool not found"}
	r := NewDefaultRegistry(Services{Vision: &fakeLocator{pt: image.Point{X: 1, Y: 2}, found: true}, System: sys}, nil)

	out := dispatch(t, r, Request{Name: "click_on_ui", Args: map[string]any{"description": "ok"}})
	if out.Result != "Interaction error: xdotool not found" {
		t.Errorf("Result = %q", out.Result)
	}
	if len(sys.calls) != 1 || sys.calls[0] != "interact:click:::@1,2" {
		t.Errorf("calls = %v", sys.calls)
	}
}

func TestRunWorkflow(t *testing.T) {
	w := &fakeWorkflows{}
	r := NewDefaultRegistry(Services{Workflows: w}, nil)

	out := dispatch(t, r, Request{Name: "run_workflow", Args: map[string]any{"name": "focus_mode"}})
	if out.Result != "Activating focus_mode..." {
		t.Errorf("Result = %q", out.Result)
	}
	if !strings.Contains(r.Catalog(), "(Options: focus_mode, work_mode)") {
		t.Error("catalog should list workflow names")
	}
}
