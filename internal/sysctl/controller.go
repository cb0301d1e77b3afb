// Package sysctl is the host system-control facade: volume, applications,
// media keys, power, windows, input simulation, screenshots and files.
//
// Every action returns a human-readable result string; failures are
// rendered into that string rather than returned, so the caller can hand
// the result straight back to the model.
package sysctl

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"

	"github.com/nugget/korb/internal/config"
)

// Controller executes system-control actions through a Runner.
type Controller struct {
	runner    Runner
	platform  string
	workspace string
	logger    *slog.Logger
}

// New creates a Controller. A nil runner uses ExecRunner rooted at the
// workspace. cfg.Platform overrides runtime.GOOS.
func New(cfg config.SysctlConfig, runner Runner, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	workspace := cfg.Workspace
	if workspace == "" {
		workspace = "."
	}
	if runner == nil {
		runner = ExecRunner{Dir: workspace}
	}
	platform := cfg.Platform
	if platform == "" {
		platform = runtime.GOOS
	}
	return &Controller{
		runner:    runner,
		platform:  platform,
		workspace: workspace,
		logger:    logger,
	}
}

// Platform returns the operating system commands are built for.
func (c *Controller) Platform() string {
	return c.platform
}

func (c *Controller) run(ctx context.Context, name string, args ...string) error {
	c.logger.Debug("sysctl command", "cmd", name, "args", args)
	_, err := c.runner.Run(ctx, name, args...)
	return err
}

func (c *Controller) unsupported(what string) string {
	return fmt.Sprintf("%s is not supported on %s.", what, c.platform)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// OpenApp opens an application, URL or file. Names containing spaces are
// run as a shell command line (e.g. "code .").
func (c *Controller) OpenApp(_ context.Context, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Error opening app: no application name given"
	}

	var err error
	switch c.platform {
	case "linux":
		switch {
		case isURL(name):
			err = c.runner.Start("xdg-open", name)
		case strings.Contains(name, " "):
			err = c.runner.Start("sh", "-c", name)
		default:
			err = c.runner.Start(name)
			if err != nil {
				err = c.runner.Start("gtk-launch", name)
			}
		}
	case "darwin":
		switch {
		case isURL(name):
			err = c.runner.Start("open", name)
		case strings.Contains(name, " "):
			err = c.runner.Start("sh", "-c", name)
		default:
			err = c.runner.Start("open", "-a", name)
		}
	case "windows":
		err = c.runner.Start("cmd", "/c", "start", "", name)
	default:
		return c.unsupported("App launching")
	}

	if err != nil {
		c.logger.Warn("open app failed", "app", name, "error", err)
		return fmt.Sprintf("Error opening app: %v", err)
	}
	return fmt.Sprintf("Opening %s", name)
}

func clampPercent(level int) int {
	return max(0, min(100, level))
}

// SetVolume sets the output volume to level percent, clamped to 0-100.
func (c *Controller) SetVolume(ctx context.Context, level int) string {
	level = clampPercent(level)

	var err error
	switch c.platform {
	case "linux":
		err = c.run(ctx, "pactl", "set-sink-volume", "@DEFAULT_SINK@", strconv.Itoa(level)+"%")
	case "darwin":
		err = c.run(ctx, "osascript", "-e", fmt.Sprintf("set volume output volume %d", level))
	default:
		return c.unsupported("Volume control")
	}

	if err != nil {
		return fmt.Sprintf("Error setting volume: %v", err)
	}
	return fmt.Sprintf("Volume set to %d%%", level)
}

// SetMute mutes or unmutes the output device.
func (c *Controller) SetMute(ctx context.Context, mute bool) string {
	var err error
	switch c.platform {
	case "linux":
		state := "0"
		if mute {
			state = "1"
		}
		err = c.run(ctx, "pactl", "set-sink-mute", "@DEFAULT_SINK@", state)
	case "darwin":
		script := "set volume without output muted"
		if mute {
			script = "set volume with output muted"
		}
		err = c.run(ctx, "osascript", "-e", script)
	default:
		return c.unsupported("Mute control")
	}

	if err != nil {
		return fmt.Sprintf("Error setting mute: %v", err)
	}
	if mute {
		return "Volume muted"
	}
	return "Volume unmuted"
}

var mediaCommands = map[string]struct{ playerctl, music string }{
	"play_pause": {"play-pause", "playpause"},
	"next":       {"next", "next track"},
	"prev":       {"previous", "previous track"},
	"stop":       {"stop", "stop"},
}

// Media sends a playback command: play_pause, next, prev or stop.
func (c *Controller) Media(ctx context.Context, action string) string {
	cmd, ok := mediaCommands[action]
	if !ok {
		return fmt.Sprintf("Unknown media action: %s", action)
	}

	var err error
	switch c.platform {
	case "linux":
		err = c.run(ctx, "playerctl", cmd.playerctl)
	case "darwin":
		err = c.run(ctx, "osascript", "-e", fmt.Sprintf(`tell application "Music" to %s`, cmd.music))
	default:
		return c.unsupported("Media control")
	}

	if err != nil {
		return fmt.Sprintf("Error executing media action %s: %v", action, err)
	}
	return fmt.Sprintf("Media action executed: %s", action)
}

// SetBrightness sets the display brightness to level percent.
func (c *Controller) SetBrightness(ctx context.Context, level int) string {
	level = clampPercent(level)

	var err error
	switch c.platform {
	case "linux":
		err = c.run(ctx, "brightnessctl", "set", strconv.Itoa(level)+"%")
	case "darwin":
		err = c.run(ctx, "brightness", strconv.FormatFloat(float64(level)/100, 'f', 2, 64))
	default:
		return c.unsupported("Brightness control")
	}

	if err != nil {
		return fmt.Sprintf("Error setting brightness: %v", err)
	}
	return fmt.Sprintf("Brightness set to %d%%", level)
}

type powerAction struct {
	linux  []string
	darwin []string
	result string
}

var powerActions = map[string]powerAction{
	"shutdown": {
		linux:  []string{"systemctl", "poweroff"},
		darwin: []string{"osascript", "-e", `tell application "System Events" to shut down`},
		result: "Shutting down.",
	},
	"restart": {
		linux:  []string{"systemctl", "reboot"},
		darwin: []string{"osascript", "-e", `tell application "System Events" to restart`},
		result: "Restarting.",
	},
	"sleep": {
		linux:  []string{"systemctl", "suspend"},
		darwin: []string{"pmset", "sleepnow"},
		result: "Going to sleep...",
	},
	"lock": {
		linux:  []string{"loginctl", "lock-session"},
		darwin: []string{"pmset", "displaysleepnow"},
		result: "Locking workstation.",
	},
}

// Power performs shutdown, restart, sleep or lock.
func (c *Controller) Power(ctx context.Context, action string) string {
	pa, ok := powerActions[action]
	if !ok {
		return fmt.Sprintf("Power action %s not supported or failed.", action)
	}

	var argv []string
	switch c.platform {
	case "linux":
		argv = pa.linux
	case "darwin":
		argv = pa.darwin
	default:
		return fmt.Sprintf("Power action %s not supported or failed.", action)
	}

	if err := c.run(ctx, argv[0], argv[1:]...); err != nil {
		c.logger.Warn("power action failed", "action", action, "error", err)
		return fmt.Sprintf("Power action %s not supported or failed.", action)
	}
	return pa.result
}

// Window minimizes, maximizes or restores the focused window.
func (c *Controller) Window(ctx context.Context, action string) string {
	if c.platform != "linux" {
		return c.unsupported("Window control")
	}

	var err error
	var result string
	switch action {
	case "minimize":
		err = c.run(ctx, "xdotool", "getactivewindow", "windowminimize")
		result = "Window minimized"
	case "maximize":
		err = c.run(ctx, "wmctrl", "-r", ":ACTIVE:", "-b", "add,maximized_vert,maximized_horz")
		result = "Window maximized"
	case "restore":
		err = c.run(ctx, "wmctrl", "-r", ":ACTIVE:", "-b", "remove,maximized_vert,maximized_horz")
		result = "Window restored"
	default:
		return fmt.Sprintf("Unknown window action: %s", action)
	}

	if err != nil {
		return fmt.Sprintf("Error controlling window: %v", err)
	}
	return result
}
