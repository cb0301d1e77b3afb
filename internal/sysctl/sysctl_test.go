package sysctl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nugget/korb/internal/config"
)

// fakeRunner records commands instead of executing them.
type fakeRunner struct {
	calls   []string
	started []string
	fail    map[string]error // keyed by command name
	onRun   func(name string, args []string)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, strings.Join(append([]string{name}, args...), " "))
	if f.onRun != nil {
		f.onRun(name, args)
	}
	return "", f.fail[name]
}

func (f *fakeRunner) Start(name string, args ...string) error {
	f.started = append(f.started, strings.Join(append([]string{name}, args...), " "))
	return f.fail[name]
}

func newController(t *testing.T, platform string) (*Controller, *fakeRunner) {
	t.Helper()
	r := &fakeRunner{fail: map[string]error{}}
	c := New(config.SysctlConfig{Workspace: t.TempDir(), Platform: platform}, r, nil)
	return c, r
}

func TestSetVolume(t *testing.T) {
	tests := []struct {
		platform string
		level    int
		want     string
		wantCmd  string
	}{
		{"linux", 50, "Volume set to 50%", "pactl set-sink-volume @DEFAULT_SINK@ 50%"},
		{"linux", 150, "Volume set to 100%", "pactl set-sink-volume @DEFAULT_SINK@ 100%"},
		{"darwin", -5, "Volume set to 0%", "osascript -e set volume output volume 0"},
		{"windows", 50, "Volume control is not supported on windows.", ""},
	}

	for _, tt := range tests {
		t.Run(tt.platform, func(t *testing.T) {
			c, r := newController(t, tt.platform)
			if got := c.SetVolume(context.Background(), tt.level); got != tt.want {
				t.Errorf("SetVolume = %q, want %q", got, tt.want)
			}
			if tt.wantCmd == "" {
				if len(r.calls) != 0 {
					t.Errorf("unexpected commands: %v", r.calls)
				}
				return
			}
			if len(r.calls) != 1 || r.calls[0] != tt.wantCmd {
				t.Errorf("calls = %v, want [%s]", r.calls, tt.wantCmd)
			}
		})
	}
}

func TestSetVolumeError(t *testing.T) {
	c, r := newController(t, "linux")
	r.fail["pactl"] = errors.New("no sink")
	got := c.SetVolume(context.Background(), 20)
	if got != "Error setting volume: no sink" {
		t.Errorf("SetVolume = %q", got)
	}
}

func TestSetMute(t *testing.T) {
	c, r := newController(t, "linux")
	if got := c.SetMute(context.Background(), true); got != "Volume muted" {
		t.Errorf("mute = %q", got)
	}
	if got := c.SetMute(context.Background(), false); got != "Volume unmuted" {
		t.Errorf("unmute = %q", got)
	}
	want := []string{
		"pactl set-sink-mute @DEFAULT_SINK@ 1",
		"pactl set-sink-mute @DEFAULT_SINK@ 0",
	}
	if strings.Join(r.calls, "|") != strings.Join(want, "|") {
		t.Errorf("calls = %v", r.calls)
	}
}

func TestOpenApp(t *testing.T) {
	tests := []struct {
		platform string
		app      string
		want     string
	}{
		{"linux", "https://example.com", "xdg-open https://example.com"},
		{"linux", "code .", "sh -c code ."},
		{"linux", "calculator", "calculator"},
		{"darwin", "Calculator", "open -a Calculator"},
		{"darwin", "https://example.com", "open https://example.com"},
		{"windows", "notepad", "cmd /c start  notepad"},
	}

	for _, tt := range tests {
		t.Run(tt.platform+"/"+tt.app, func(t *testing.T) {
			c, r := newController(t, tt.platform)
			if got := c.OpenApp(context.Background(), tt.app); got != "Opening "+tt.app {
				t.Errorf("OpenApp = %q", got)
			}
			if len(r.started) != 1 || r.started[0] != tt.want {
				t.Errorf("started = %q, want %q", r.started, tt.want)
			}
		})
	}
}

func TestOpenAppFallsBackToDesktopEntry(t *testing.T) {
	c, r := newController(t, "linux")
	r.fail["spotify"] = errors.New("not found")
	if got := c.OpenApp(context.Background(), "spotify"); got != "Opening spotify" {
		t.Errorf("OpenApp = %q", got)
	}
	if len(r.started) != 2 || r.started[1] != "gtk-launch spotify" {
		t.Errorf("started = %v", r.started)
	}

	if got := c.OpenApp(context.Background(), ""); !strings.HasPrefix(got, "Error opening app") {
		t.Errorf("empty name = %q", got)
	}
}

func TestMedia(t *testing.T) {
	c, r := newController(t, "linux")
	if got := c.Media(context.Background(), "play_pause"); got != "Media action executed: play_pause" {
		t.Errorf("Media = %q", got)
	}
	if r.calls[0] != "playerctl play-pause" {
		t.Errorf("calls = %v", r.calls)
	}
	if got := c.Media(context.Background(), "rewind"); got != "Unknown media action: rewind" {
		t.Errorf("Media unknown = %q", got)
	}
}

func TestPower(t *testing.T) {
	c, r := newController(t, "linux")
	if got := c.Power(context.Background(), "sleep"); got != "Going to sleep..." {
		t.Errorf("Power = %q", got)
	}
	if r.calls[0] != "systemctl suspend" {
		t.Errorf("calls = %v", r.calls)
	}
	if got := c.Power(context.Background(), "hibernate"); got != "Power action hibernate not supported or failed." {
		t.Errorf("Power unknown = %q", got)
	}

	r.fail["loginctl"] = errors.New("no session")
	if got := c.Power(context.Background(), "lock"); got != "Power action lock not supported or failed." {
		t.Errorf("Power failed = %q", got)
	}
}

func TestBrightnessAndWindow(t *testing.T) {
	c, r := newController(t, "linux")
	if got := c.SetBrightness(context.Background(), 70); got != "Brightness set to 70%" {
		t.Errorf("SetBrightness = %q", got)
	}
	if got := c.Window(context.Background(), "minimize"); got != "Window minimized" {
		t.Errorf("Window = %q", got)
	}
	if got := c.Window(context.Background(), "shake"); got != "Unknown window action: shake" {
		t.Errorf("Window unknown = %q", got)
	}
	want := []string{"brightnessctl set 70%", "xdotool getactivewindow windowminimize"}
	if strings.Join(r.calls, "|") != strings.Join(want, "|") {
		t.Errorf("calls = %v", r.calls)
	}
}

func TestInteract(t *testing.T) {
	x, y := 10, 20
	tests := []struct {
		name    string
		action  string
		in      Interaction
		want    string
		wantCmd string
	}{
		{"type", "type", Interaction{Text: "128*4"}, "Typed: 128*4", "xdotool type --delay 50 -- 128*4"},
		{"press", "press", Interaction{Key: "enter"}, "Pressed: enter", "xdotool key Return"},
		{"hotkey", "hotkey", Interaction{Keys: []string{"ctrl", "c"}}, "Hotkey pressed: ctrl+c", "xdotool key ctrl+c"},
		{"click", "click", Interaction{X: &x, Y: &y}, "Clicked at (10, 20)", "xdotool mousemove 10 20 click 1"},
		{"click without coords", "click", Interaction{}, "Error: Coordinates x and y required for click.", ""},
		{"unknown", "scroll", Interaction{}, "Unknown interaction: scroll", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, r := newController(t, "linux")
			if got := c.Interact(context.Background(), tt.action, tt.in); got != tt.want {
				t.Errorf("Interact = %q, want %q", got, tt.want)
			}
			if tt.wantCmd == "" {
				if len(r.calls) != 0 {
					t.Errorf("unexpected calls %v", r.calls)
				}
				return
			}
			if len(r.calls) != 1 || r.calls[0] != tt.wantCmd {
				t.Errorf("calls = %v, want %q", r.calls, tt.wantCmd)
			}
		})
	}
}

func TestAppleScriptKeys(t *testing.T) {
	tests := map[string][]string{
		`tell application "System Events" to key code 36`:                       {"enter"},
		`tell application "System Events" to keystroke "c" using {command down}`: {"cmd", "c"},
	}
	for want, keys := range tests {
		if got := appleScriptKeys(keys); got != want {
			t.Errorf("appleScriptKeys(%v) = %q, want %q", keys, got, want)
		}
	}
}

func TestFileOperations(t *testing.T) {
	c, _ := newController(t, "linux")

	if got := c.WriteFile("sub/hello.py", "print('Hello')"); got != "Successfully wrote 14 bytes to sub/hello.py" {
		t.Fatalf("WriteFile = %q", got)
	}
	if got := c.ReadFile("sub/hello.py"); got != "print('Hello')" {
		t.Errorf("ReadFile = %q", got)
	}
	if got := c.ReplaceText("sub/hello.py", "Hello", "World"); got != "Replaced 1 occurrence(s) in sub/hello.py" {
		t.Errorf("ReplaceText = %q", got)
	}
	if got := c.ReadFile("sub/hello.py"); got != "print('World')" {
		t.Errorf("ReadFile after replace = %q", got)
	}
	if got := c.ReplaceText("sub/hello.py", "Hello", "X"); got != "Error: Text 'Hello' not found in sub/hello.py" {
		t.Errorf("ReplaceText missing = %q", got)
	}
	if got := c.ListFiles("."); got != "Files in .:\nsub/" {
		t.Errorf("ListFiles = %q", got)
	}
	if got := c.ListFiles("sub"); got != "Files in sub:\nhello.py" {
		t.Errorf("ListFiles sub = %q", got)
	}
}

func TestFileOperationsStayInWorkspace(t *testing.T) {
	c, _ := newController(t, "linux")
	outside := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(outside, []byte("secret"), 0o600); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{"../secret.txt", outside, "a/../../x"} {
		if got := c.ReadFile(p); !strings.Contains(got, "escapes workspace") {
			t.Errorf("ReadFile(%q) = %q", p, got)
		}
	}
	if got := c.WriteFile("../evil.txt", "x"); !strings.Contains(got, "escapes workspace") {
		t.Errorf("WriteFile outside = %q", got)
	}
}

func TestScreenshot(t *testing.T) {
	c, r := newController(t, "linux")
	r.onRun = func(name string, args []string) {
		if name == "scrot" {
			os.WriteFile(args[len(args)-1], []byte("PNGDATA"), 0o600)
		}
	}
	data, err := c.Screenshot(context.Background())
	if err != nil {
		t.Fatalf("Screenshot: %v", err)
	}
	if string(data) != "PNGDATA" {
		t.Errorf("data = %q", data)
	}

	c, r = newController(t, "linux")
	r.fail["scrot"] = errors.New("missing")
	r.fail["import"] = errors.New("missing")
	if _, err := c.Screenshot(context.Background()); err == nil {
		t.Error("expected error when no capture tool works")
	}
}

func TestStatus(t *testing.T) {
	c, _ := newController(t, "linux")
	got := c.Status(context.Background())
	if !strings.Contains(got, "Memory:") && !strings.HasPrefix(got, "Error") {
		t.Errorf("Status = %q", got)
	}
}
