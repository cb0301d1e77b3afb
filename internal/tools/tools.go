// Package tools defines the tools available to the agent.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
)

// ArgType is the declared type of a tool argument.
type ArgType string

const (
	TypeString ArgType = "string"
	TypeNumber ArgType = "number"
	TypeBool   ArgType = "bool"
	TypeList   ArgType = "list" // list of strings
)

// Arg declares one argument of a tool action.
type Arg struct {
	Name     string
	Type     ArgType
	Required bool
	Default  any
}

// Handler runs a tool action and returns the result fed back to the model.
// Failures are reported in the result text, not as Go errors.
type Handler func(ctx context.Context, call *Call) string

// Action is one dispatchable entry: a tool, or one sub-action of a tool.
type Action struct {
	Name    string // sub-action name; empty for tools without sub-actions
	Usage   string // example call shown in the tool catalog
	Note    string // optional hint appended to the usage line
	Args    []Arg
	Handler Handler
}

// Tool groups the actions reachable under one tool name.
type Tool struct {
	Name        string
	Description string

	// ActionArg names the argument that selects a sub-action ("action"
	// for system_control). Empty means the tool has a single action.
	ActionArg string

	// UnknownAction formats the result for an unrecognized sub-action.
	// The verb receives the action name.
	UnknownAction string

	// Unavailable, when non-empty, marks the tool as registered but not
	// backed by a service; every call returns this text.
	Unavailable string

	// Fallback, when set, runs in place of the handler while the tool is
	// unavailable. It receives the unvalidated call and the Unavailable
	// text, may stream progress, and returns the result.
	Fallback func(call *Call, unavailable string) string

	Actions []*Action
}

// Request is a tool invocation parsed from model output.
type Request struct {
	Name      string
	Args      map[string]any
	SessionID string
	// Memories are the long-term memories retrieved for the current user
	// message. The remember tool checks them for duplicates.
	Memories []string
}

// Outcome is what a dispatch produced.
type Outcome struct {
	Result   string
	Progress []string
}

// Call is the validated invocation handed to a Handler.
type Call struct {
	Tool      string
	Action    string
	Args      map[string]any
	SessionID string
	Memories  []string

	progress []string
	emit     func(string) error
	emitErr  error
}

// Progress streams a short status line to the user immediately.
func (c *Call) Progress(text string) {
	c.progress = append(c.progress, text)
	if c.emit != nil && c.emitErr == nil {
		c.emitErr = c.emit(text)
	}
}

// String returns a string argument, or "" when absent.
func (c *Call) String(name string) string {
	s, _ := c.Args[name].(string)
	return s
}

// Float returns a numeric argument, or 0 when absent.
func (c *Call) Float(name string) float64 {
	f, _ := c.Args[name].(float64)
	return f
}

// Int returns a numeric argument rounded to the nearest integer.
func (c *Call) Int(name string) int {
	return int(math.Round(c.Float(name)))
}

// Bool returns a boolean argument, or false when absent.
func (c *Call) Bool(name string) bool {
	b, _ := c.Args[name].(bool)
	return b
}

// Strings returns a list argument.
func (c *Call) Strings(name string) []string {
	l, _ := c.Args[name].([]string)
	return l
}

// Has reports whether an argument was supplied or defaulted.
func (c *Call) Has(name string) bool {
	_, ok := c.Args[name]
	return ok
}

// Auditor records tool invocations. *memory.SQLiteStore satisfies it.
type Auditor interface {
	RecordToolCall(sessionID, toolName, arguments string) (string, error)
	CompleteToolCall(id, result string) error
}

// Registry holds available tools.
type Registry struct {
	tools   map[string]*Tool
	order   []string
	auditor Auditor
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
	}
}

// SetAuditor enables tool-call auditing.
func (r *Registry) SetAuditor(a Auditor) {
	r.auditor = a
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Has reports whether a tool called name is registered, available or not.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Lookup resolves a tool name and sub-action to its entry.
func (r *Registry) Lookup(name, action string) (*Tool, *Action, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if t.Unavailable != "" {
		return t, nil, &ErrToolUnavailable{ToolName: name}
	}
	if t.ActionArg == "" {
		if len(t.Actions) == 0 {
			return t, nil, &ErrToolUnavailable{ToolName: name}
		}
		return t, t.Actions[0], nil
	}
	for _, a := range t.Actions {
		if a.Name == action {
			return t, a, nil
		}
	}
	return t, nil, fmt.Errorf("%w: %s %q", ErrUnknownAction, name, action)
}

// Dispatch validates and runs one tool call. Progress text is passed to
// emit as it is produced. The only error results are ErrUnknownTool and
// an error returned by emit; every other failure is rendered into
// Outcome.Result.
func (r *Registry) Dispatch(ctx context.Context, req Request, emit func(string) error) (Outcome, error) {
	args := req.Args
	if args == nil {
		args = map[string]any{}
	}

	var action string
	if t := r.tools[req.Name]; t != nil && t.ActionArg != "" {
		action = argText(args[t.ActionArg])
	}

	t, a, err := r.Lookup(req.Name, action)
	var unavailable *ErrToolUnavailable
	switch {
	case errors.Is(err, ErrUnknownTool):
		return Outcome{}, err
	case errors.As(err, &unavailable):
		r.logger.Info("tool unavailable", "tool", req.Name)
		text := t.Unavailable
		if text == "" {
			text = fmt.Sprintf("Error: %s is not available.", t.Name)
		}
		if t.Fallback == nil {
			return Outcome{Result: text}, nil
		}
		call := &Call{Tool: t.Name, Args: args, SessionID: req.SessionID, Memories: req.Memories, emit: emit}
		result := t.Fallback(call, text)
		return Outcome{Result: result, Progress: call.progress}, call.emitErr
	case errors.Is(err, ErrUnknownAction):
		return Outcome{Result: unknownActionText(t, action)}, nil
	}

	validated, err := validate(t.Name, a.Args, args)
	if err != nil {
		r.logger.Info("tool arguments rejected", "tool", t.Name, "action", action, "error", err)
		return Outcome{Result: "Error: " + err.Error()}, nil
	}

	call := &Call{
		Tool:      t.Name,
		Action:    a.Name,
		Args:      validated,
		SessionID: req.SessionID,
		Memories:  req.Memories,
		emit:      emit,
	}

	auditID := r.audit(req)
	start := time.Now()
	r.logger.Info("tool dispatch", "tool", t.Name, "action", a.Name)

	result := r.run(ctx, a, call)

	r.logger.Debug("tool finished", "tool", t.Name, "action", a.Name,
		"elapsed", time.Since(start).Round(time.Millisecond), "result_len", len(result))
	if auditID != "" {
		if err := r.auditor.CompleteToolCall(auditID, result); err != nil {
			r.logger.Warn("tool audit completion failed", "tool", t.Name, "error", err)
		}
	}

	return Outcome{Result: result, Progress: call.progress}, call.emitErr
}

func (r *Registry) run(ctx context.Context, a *Action, call *Call) (result string) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "tool", call.Tool, "action", call.Action, "panic", p)
			result = fmt.Sprintf("Error: %s: %v", call.Tool, p)
		}
	}()
	return a.Handler(ctx, call)
}

func (r *Registry) audit(req Request) string {
	if r.auditor == nil || req.SessionID == "" {
		return ""
	}
	argsJSON, _ := json.Marshal(req.Args)
	id, err := r.auditor.RecordToolCall(req.SessionID, req.Name, string(argsJSON))
	if err != nil {
		r.logger.Warn("tool audit failed", "tool", req.Name, "error", err)
		return ""
	}
	return id
}

func unknownActionText(t *Tool, action string) string {
	if t.UnknownAction != "" {
		return fmt.Sprintf(t.UnknownAction, action)
	}
	return fmt.Sprintf("Error: %s: unknown action '%s'", t.Name, action)
}

// Catalog renders the tool list for the system prompt, one block per
// tool in registration order. Unavailable tools are omitted.
func (r *Registry) Catalog() string {
	var b strings.Builder
	for _, name := range r.order {
		t := r.tools[name]
		if t.Unavailable != "" {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		for _, a := range t.Actions {
			if a.Usage == "" {
				continue
			}
			b.WriteString("  Format: ")
			b.WriteString(a.Usage)
			if a.Note != "" {
				b.WriteString(" (")
				b.WriteString(a.Note)
				b.WriteString(")")
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// validate checks args against the schema and returns a copy with values
// coerced to their declared types and defaults filled in. Arguments not
// in the schema pass through unchanged.
func validate(tool string, schema []Arg, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	for _, spec := range schema {
		v, present := args[spec.Name]
		if !present || v == nil {
			if spec.Required {
				return nil, &ArgError{Tool: tool, Arg: spec.Name, Reason: "is required"}
			}
			delete(out, spec.Name)
			if spec.Default != nil {
				out[spec.Name] = spec.Default
			}
			continue
		}
		coerced, ok := coerce(spec.Type, v)
		if !ok {
			return nil, &ArgError{Tool: tool, Arg: spec.Name, Reason: "must be a " + string(spec.Type)}
		}
		out[spec.Name] = coerced
	}
	return out, nil
}

// coerce converts a decoded JSON value to typ. Models often quote numbers
// and booleans, so their string forms are accepted.
func coerce(typ ArgType, v any) (any, bool) {
	switch typ {
	case TypeString:
		switch x := v.(type) {
		case string:
			return x, true
		case float64, bool:
			return argText(x), true
		}
	case TypeNumber:
		switch x := v.(type) {
		case float64:
			return x, true
		case int:
			return float64(x), true
		case json.Number:
			f, err := x.Float64()
			return f, err == nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(x), "%"), 64)
			return f, err == nil
		}
	case TypeBool:
		switch x := v.(type) {
		case bool:
			return x, true
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			return b, err == nil
		}
	case TypeList:
		switch x := v.(type) {
		case []string:
			return x, true
		case []any:
			out := make([]string, 0, len(x))
			for _, item := range x {
				out = append(out, argText(item))
			}
			return out, true
		case string:
			return strings.Split(x, "+"), true
		}
	default:
		return v, true
	}
	return nil, false
}

// argText renders a scalar argument as text.
func argText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
