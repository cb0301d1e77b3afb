// Package workflow runs named macros: fixed sequences of system-control
// steps such as "set volume, open the editor, start music".
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nugget/korb/internal/config"
)

// ErrNotFound is returned by Run for an unknown workflow name.
var ErrNotFound = errors.New("workflow not found")

// Step is one action of a workflow.
type Step = config.WorkflowStep

// Controller is the subset of the system-control facade workflows use.
// *sysctl.Controller satisfies it.
type Controller interface {
	OpenApp(ctx context.Context, name string) string
	SetVolume(ctx context.Context, level int) string
	Media(ctx context.Context, action string) string
	Power(ctx context.Context, action string) string
}

// Defaults returns the built-in workflows.
func Defaults() map[string][]Step {
	return map[string][]Step{
		"work_mode": {
			{Action: "set_volume", Level: 30},
			{Action: "open_application", AppName: "code ."},
			{Action: "open_application", AppName: "http://localhost:3000"},
			{Action: "open_application", AppName: "http://localhost:8000/docs"},
			{Action: "open_application", AppName: "https://open.spotify.com/playlist/37i9dQZF1DX6tGWj8KW8Ww"},
		},
		"gaming_mode": {
			{Action: "set_volume", Level: 100},
			{Action: "open_application", AppName: "steam"},
		},
		"focus_mode": {
			{Action: "set_volume", Level: 50},
			{Action: "open_application", AppName: "https://www.youtube.com/watch?v=CBSlu_VMS9U"},
		},
		"sleep_mode": {
			{Action: "set_volume", Level: 0},
			{Action: "media", ActionType: "stop"},
			{Action: "power", ActionType: "sleep"},
		},
	}
}

// Runner executes workflows against a Controller. Runs are serialized so
// two macros never interleave their steps.
type Runner struct {
	ctrl      Controller
	delay     time.Duration
	workflows map[string][]Step
	logger    *slog.Logger

	mu sync.Mutex
}

// New creates a Runner with the built-in workflows plus any configured in
// cfg.Workflows, which replace built-ins of the same name.
func New(cfg config.SysctlConfig, ctrl Controller, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	flows := Defaults()
	for name, steps := range cfg.Workflows {
		flows[Normalize(name)] = steps
	}
	return &Runner{
		ctrl:      ctrl,
		delay:     cfg.WorkflowDelay,
		workflows: flows,
		logger:    logger,
	}
}

// Normalize maps a user-supplied name to a workflow key: lower case with
// spaces replaced by underscores.
func Normalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// List returns the workflow names in sorted order.
func (r *Runner) List() []string {
	names := make([]string, 0, len(r.workflows))
	for name := range r.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Steps returns a copy of the named workflow's steps.
func (r *Runner) Steps(name string) ([]Step, bool) {
	steps, ok := r.workflows[Normalize(name)]
	if !ok {
		return nil, false
	}
	return append([]Step(nil), steps...), true
}

// Run executes the named workflow and returns one line per step, headed by
// "Activating <name>...". A cancelled context stops the run between steps.
func (r *Runner) Run(ctx context.Context, name string) (string, error) {
	key := Normalize(name)
	steps, ok := r.workflows[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Info("workflow started", "workflow", key, "steps", len(steps))
	lines := []string{fmt.Sprintf("Activating %s...", key)}
	for i, step := range steps {
		if ctx.Err() != nil {
			lines = append(lines, fmt.Sprintf("Stopped before step %d: %v", i+1, ctx.Err()))
			break
		}
		if res := r.runStep(ctx, step); res != "" {
			lines = append(lines, res)
		}
		if i < len(steps)-1 && !sleepCtx(ctx, r.delay) {
			lines = append(lines, fmt.Sprintf("Stopped after step %d: %v", i+1, ctx.Err()))
			break
		}
	}
	r.logger.Info("workflow finished", "workflow", key)
	return strings.Join(lines, "\n"), nil
}

// Describe runs the named workflow and renders ErrNotFound as the
// user-facing message listing the available names.
func (r *Runner) Describe(ctx context.Context, name string) string {
	out, err := r.Run(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return fmt.Sprintf("Error: Workflow '%s' not found. Available: %s",
			Normalize(name), strings.Join(r.List(), ", "))
	}
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return out
}

func (r *Runner) runStep(ctx context.Context, step Step) (result string) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("workflow step panicked", "action", step.Action, "panic", p)
			result = fmt.Sprintf("Step failed (%s): %v", step.Action, p)
		}
	}()

	switch step.Action {
	case "open_application":
		return r.ctrl.OpenApp(ctx, step.AppName)
	case "set_volume":
		return r.ctrl.SetVolume(ctx, step.Level)
	case "media":
		return r.ctrl.Media(ctx, step.ActionType)
	case "power":
		return r.ctrl.Power(ctx, step.ActionType)
	case "wait":
		secs := step.Seconds
		if secs <= 0 {
			secs = 1
		}
		if !sleepCtx(ctx, time.Duration(secs*float64(time.Second))) {
			return fmt.Sprintf("Step failed (wait): %v", ctx.Err())
		}
		return fmt.Sprintf("Waited %ss", strconv.FormatFloat(secs, 'f', -1, 64))
	default:
		return fmt.Sprintf("Unknown action: %s", step.Action)
	}
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
