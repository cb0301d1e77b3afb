package sysctl

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Interaction carries the arguments of a simulated input action.
type Interaction struct {
	Text     string   // type
	Key      string   // press
	Keys     []string // hotkey, e.g. ["ctrl", "c"]
	X, Y     *int     // click
	Interval float64  // seconds between typed characters; 0 uses 0.05
}

// Interact simulates keyboard or mouse input. action is one of type,
// press, hotkey or click.
func (c *Controller) Interact(ctx context.Context, action string, in Interaction) string {
	if c.platform != "linux" && c.platform != "darwin" {
		return c.unsupported("Input simulation")
	}

	var err error
	var result string
	switch action {
	case "type":
		err = c.typeText(ctx, in)
		result = fmt.Sprintf("Typed: %s", in.Text)
	case "press":
		if in.Key == "" {
			return "Interaction error: key is required"
		}
		err = c.pressKeys(ctx, []string{in.Key})
		result = fmt.Sprintf("Pressed: %s", in.Key)
	case "hotkey":
		if len(in.Keys) == 0 {
			return "Interaction error: keys are required"
		}
		err = c.pressKeys(ctx, in.Keys)
		result = fmt.Sprintf("Hotkey pressed: %s", strings.Join(in.Keys, "+"))
	case "click":
		if in.X == nil || in.Y == nil {
			return "Error: Coordinates x and y required for click."
		}
		err = c.Click(ctx, *in.X, *in.Y)
		result = fmt.Sprintf("Clicked at (%d, %d)", *in.X, *in.Y)
	default:
		return fmt.Sprintf("Unknown interaction: %s", action)
	}

	if err != nil {
		return fmt.Sprintf("Interaction error: %v", err)
	}
	return result
}

func (c *Controller) typeText(ctx context.Context, in Interaction) error {
	interval := in.Interval
	if interval <= 0 {
		interval = 0.05
	}
	if c.platform == "darwin" {
		return c.run(ctx, "osascript", "-e",
			fmt.Sprintf(`tell application "System Events" to keystroke %s`, strconv.Quote(in.Text)))
	}
	delay := strconv.Itoa(int(interval * 1000))
	return c.run(ctx, "xdotool", "type", "--delay", delay, "--", in.Text)
}

// xdotoolKeys maps common key names to X keysym names.
var xdotoolKeys = map[string]string{
	"enter":     "Return",
	"return":    "Return",
	"esc":       "Escape",
	"escape":    "Escape",
	"tab":       "Tab",
	"space":     "space",
	"backspace": "BackSpace",
	"delete":    "Delete",
	"up":        "Up",
	"down":      "Down",
	"left":      "Left",
	"right":     "Right",
	"win":       "super",
	"cmd":       "super",
	"playpause": "XF86AudioPlay",
}

func (c *Controller) pressKeys(ctx context.Context, keys []string) error {
	if c.platform == "darwin" {
		return c.run(ctx, "osascript", "-e", appleScriptKeys(keys))
	}
	mapped := make([]string, len(keys))
	for i, k := range keys {
		if x, ok := xdotoolKeys[strings.ToLower(k)]; ok {
			mapped[i] = x
		} else {
			mapped[i] = k
		}
	}
	return c.run(ctx, "xdotool", "key", strings.Join(mapped, "+"))
}

var appleKeyCodes = map[string]int{
	"enter":  36,
	"return": 36,
	"tab":    48,
	"space":  49,
	"esc":    53,
	"escape": 53,
}

var appleModifiers = map[string]string{
	"ctrl":  "control down",
	"cmd":   "command down",
	"win":   "command down",
	"alt":   "option down",
	"shift": "shift down",
}

// appleScriptKeys builds a System Events keystroke for a key chord.
func appleScriptKeys(keys []string) string {
	var mods []string
	key := ""
	for _, k := range keys {
		if m, ok := appleModifiers[strings.ToLower(k)]; ok {
			mods = append(mods, m)
			continue
		}
		key = strings.ToLower(k)
	}

	var b strings.Builder
	b.WriteString(`tell application "System Events" to `)
	if code, ok := appleKeyCodes[key]; ok {
		fmt.Fprintf(&b, "key code %d", code)
	} else {
		fmt.Fprintf(&b, "keystroke %s", strconv.Quote(key))
	}
	if len(mods) > 0 {
		fmt.Fprintf(&b, " using {%s}", strings.Join(mods, ", "))
	}
	return b.String()
}

// Click moves the pointer to (x, y) and clicks the primary button.
func (c *Controller) Click(ctx context.Context, x, y int) error {
	switch c.platform {
	case "linux":
		return c.run(ctx, "xdotool", "mousemove", strconv.Itoa(x), strconv.Itoa(y), "click", "1")
	case "darwin":
		return c.run(ctx, "cliclick", fmt.Sprintf("c:%d,%d", x, y))
	default:
		return fmt.Errorf("click not supported on %s", c.platform)
	}
}
