package tools

import (
	"context"
	"fmt"
	"image"

	"github.com/nugget/korb/internal/sysctl"
)

// SystemController is the host control facade. *sysctl.Controller
// satisfies it.
type SystemController interface {
	OpenApp(ctx context.Context, name string) string
	SetVolume(ctx context.Context, level int) string
	SetMute(ctx context.Context, mute bool) string
	WriteFile(path, content string) string
	ReadFile(path string) string
	ListFiles(path string) string
	ReplaceText(path, search, replace string) string
	Screenshot(ctx context.Context) ([]byte, error)
	Media(ctx context.Context, action string) string
	Power(ctx context.Context, action string) string
	SetBrightness(ctx context.Context, level int) string
	Window(ctx context.Context, action string) string
	Interact(ctx context.Context, action string, in sysctl.Interaction) string
	Status(ctx context.Context) string
}

func clickAt(pt image.Point) sysctl.Interaction {
	x, y := pt.X, pt.Y
	return sysctl.Interaction{X: &x, Y: &y}
}

func systemControlTool(sys SystemController) *Tool {
	t := &Tool{
		Name:          "system_control",
		Description:   "Control the system.",
		ActionArg:     "action",
		UnknownAction: "Error: Unknown system control action '%s'",
	}
	if sys == nil {
		t.Unavailable = SystemUnavailable
		return t
	}

	actionType := Arg{Name: "action_type", Type: TypeString, Required: true}
	level := Arg{Name: "level", Type: TypeNumber, Required: true}
	path := Arg{Name: "path", Type: TypeString, Required: true}

	t.Actions = []*Action{
		{
			Name:  "open_app",
			Usage: `{"tool": "system_control", "args": {"action": "open_app", "app_name": "calculator"}}`,
			Args:  []Arg{{Name: "app_name", Type: TypeString, Required: true}},
			Handler: func(ctx context.Context, call *Call) string {
				app := call.String("app_name")
				call.Progress(progressLine(fmt.Sprintf("Opening %s...", app)))
				return sys.OpenApp(ctx, app)
			},
		},
		{
			Name:  "set_volume",
			Usage: `{"tool": "system_control", "args": {"action": "set_volume", "level": 50}}`,
			Args:  []Arg{level},
			Handler: func(ctx context.Context, call *Call) string {
				call.Progress(progressLine(fmt.Sprintf("Setting volume to %d%%...", call.Int("level"))))
				return sys.SetVolume(ctx, call.Int("level"))
			},
		},
		{
			Name:  "mute",
			Usage: `{"tool": "system_control", "args": {"action": "mute"}}`,
			Handler: func(ctx context.Context, call *Call) string {
				call.Progress(progressLine("Muting volume..."))
				return sys.SetMute(ctx, true)
			},
		},
		{
			Name:  "unmute",
			Usage: `{"tool": "system_control", "args": {"action": "unmute"}}`,
			Handler: func(ctx context.Context, call *Call) string {
				call.Progress(progressLine("Unmuting volume..."))
				sys.SetMute(ctx, false)
				return "Success: Volume has been unmuted."
			},
		},
		{
			Name:  "write_file",
			Usage: `{"tool": "system_control", "args": {"action": "write_file", "path": "hello.py", "content": "print('Hello')"}}`,
			Args:  []Arg{path, {Name: "content", Type: TypeString, Default: ""}},
			Handler: func(_ context.Context, call *Call) string {
				p := call.String("path")
				call.Progress(progressLine(fmt.Sprintf("Writing file %s...", p)))
				return sys.WriteFile(p, call.String("content"))
			},
		},
		{
			Name:  "read_file",
			Usage: `{"tool": "system_control", "args": {"action": "read_file", "path": "hello.py"}}`,
			Args:  []Arg{path},
			Handler: func(_ context.Context, call *Call) string {
				p := call.String("path")
				call.Progress(progressLine(fmt.Sprintf("Reading file %s...", p)))
				return sys.ReadFile(p)
			},
		},
		{
			Name:  "list_files",
			Usage: `{"tool": "system_control", "args": {"action": "list_files", "path": "."}}`,
			Args:  []Arg{{Name: "path", Type: TypeString, Default: "."}},
			Handler: func(_ context.Context, call *Call) string {
				p := call.String("path")
				call.Progress(progressLine(fmt.Sprintf("Listing files in %s...", p)))
				return sys.ListFiles(p)
			},
		},
		{
			Name:  "replace_text",
			Usage: `{"tool": "system_control", "args": {"action": "replace_text", "path": "hello.py", "search_text": "Hello", "replace_text": "World"}}`,
			Args: []Arg{
				path,
				{Name: "search_text", Type: TypeString, Required: true},
				{Name: "replace_text", Type: TypeString, Default: ""},
			},
			Handler: func(_ context.Context, call *Call) string {
				p := call.String("path")
				call.Progress(progressLine(fmt.Sprintf("Patching file %s...", p)))
				return sys.ReplaceText(p, call.String("search_text"), call.String("replace_text"))
			},
		},
		{
			Name:  "screenshot",
			Usage: `{"tool": "system_control", "args": {"action": "screenshot"}}`,
			Handler: func(ctx context.Context, call *Call) string {
				call.Progress(progressLine("Taking screenshot..."))
				if shot, err := sys.Screenshot(ctx); err != nil || len(shot) == 0 {
					return "Failed to take screenshot."
				}
				return "Screenshot taken successfully."
			},
		},
		{
			Name:  "media",
			Usage: `{"tool": "system_control", "args": {"action": "media", "action_type": "play_pause"}}`,
			Note:  "Options: play_pause, next, prev, stop",
			Args:  []Arg{actionType},
			Handler: func(ctx context.Context, call *Call) string {
				sub := call.String("action_type")
				call.Progress(progressLine("Media Control: " + sub))
				return sys.Media(ctx, sub)
			},
		},
		{
			Name:  "power",
			Usage: `{"tool": "system_control", "args": {"action": "power", "action_type": "sleep"}}`,
			Note:  "Options: shutdown, restart, sleep, lock",
			Args:  []Arg{actionType},
			Handler: func(ctx context.Context, call *Call) string {
				sub := call.String("action_type")
				call.Progress(progressLine("System Power: " + sub))
				return sys.Power(ctx, sub)
			},
		},
		{
			Name:  "brightness",
			Usage: `{"tool": "system_control", "args": {"action": "brightness", "level": 100}}`,
			Args:  []Arg{level},
			Handler: func(ctx context.Context, call *Call) string {
				call.Progress(progressLine(fmt.Sprintf("Setting brightness to %d%%...", call.Int("level"))))
				return sys.SetBrightness(ctx, call.Int("level"))
			},
		},
		{
			Name:  "window",
			Usage: `{"tool": "system_control", "args": {"action": "window", "action_type": "minimize"}}`,
			Note:  "Options: minimize, maximize, restore",
			Args:  []Arg{actionType},
			Handler: func(ctx context.Context, call *Call) string {
				sub := call.String("action_type")
				call.Progress(progressLine("Window Control: " + sub))
				return sys.Window(ctx, sub)
			},
		},
		{
			Name:  "interact",
			Usage: `{"tool": "system_control", "args": {"action": "interact", "action_type": "type", "text": "Hello"}}`,
			Note:  `Options: type with "text", press with "key", hotkey with "keys", click with "x" and "y"`,
			Args: []Arg{
				actionType,
				{Name: "text", Type: TypeString},
				{Name: "key", Type: TypeString},
				{Name: "keys", Type: TypeList},
				{Name: "x", Type: TypeNumber},
				{Name: "y", Type: TypeNumber},
				{Name: "interval", Type: TypeNumber},
			},
			Handler: func(ctx context.Context, call *Call) string {
				sub := call.String("action_type")
				call.Progress(progressLine("Simulating: " + sub))
				in := sysctl.Interaction{
					Text:     call.String("text"),
					Key:      call.String("key"),
					Keys:     call.Strings("keys"),
					Interval: call.Float("interval"),
				}
				if call.Has("x") && call.Has("y") {
					x, y := call.Int("x"), call.Int("y")
					in.X, in.Y = &x, &y
				}
				return sys.Interact(ctx, sub, in)
			},
		},
		{
			Name:  "status",
			Usage: `{"tool": "system_control", "args": {"action": "status"}}`,
			Note:  "CPU, memory, load and uptime",
			Handler: func(ctx context.Context, call *Call) string {
				call.Progress(progressLine("Checking system status..."))
				return sys.Status(ctx)
			},
		},
	}
	return t
}
