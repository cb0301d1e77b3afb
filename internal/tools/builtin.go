package tools

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"github.com/nugget/korb/internal/fetch"
	"github.com/nugget/korb/internal/interpreter"
)

// MemoryStore saves long-term memories. *facts.Store satisfies it.
type MemoryStore interface {
	Add(ctx context.Context, text string) error
}

// CodeRunner executes python code. *interpreter.Python satisfies it.
type CodeRunner interface {
	Execute(ctx context.Context, code string) interpreter.Result
}

// WebSearcher returns formatted search results. *search.Manager
// satisfies it.
type WebSearcher interface {
	Text(ctx context.Context, query string, count int) (string, error)
}

// PageReader fetches page text. *fetch.Fetcher satisfies it.
type PageReader interface {
	Fetch(ctx context.Context, rawURL string, maxChars int) (*fetch.Result, error)
}

// ElementLocator finds a UI element on screen. *vision.Locator
// satisfies it.
type ElementLocator interface {
	Locate(ctx context.Context, description string) (image.Point, bool, error)
}

// WorkflowRunner runs named macros. *workflow.Runner satisfies it.
type WorkflowRunner interface {
	Describe(ctx context.Context, name string) string
	List() []string
}

// Services are the collaborators the builtin tools call. A nil field
// leaves its tool registered but unavailable.
type Services struct {
	Memory    MemoryStore
	Python    CodeRunner
	Search    WebSearcher
	Reader    PageReader
	System    SystemController
	Vision    ElementLocator
	Workflows WorkflowRunner
}

// Unavailability messages returned when a service is not configured.
const (
	MemoryUnavailable      = "Error: Memory Service not available."
	PythonUnavailable      = "Error: Code Interpreter not available."
	SystemUnavailable      = "Error: System Control Service not available."
	VisionUnavailable      = "Error: Vision Service not available."
	WorkflowsUnavailable   = "Error: Workflow Service not available."
	searchUnavailableError = "no search provider configured"
)

// NewDefaultRegistry creates a registry with every builtin tool.
func NewDefaultRegistry(svc Services, logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	r.RegisterBuiltins(svc)
	return r
}

// RegisterBuiltins registers remember, execute_python, google_search,
// read_url, system_control, click_on_ui and run_workflow.
func (r *Registry) RegisterBuiltins(svc Services) {
	r.Register(rememberTool(svc.Memory, r.logger))
	r.Register(pythonTool(svc.Python))
	r.Register(searchTool(svc.Search))
	r.Register(readURLTool(svc.Reader))
	r.Register(systemControlTool(svc.System))
	r.Register(clickTool(svc.Vision, svc.System, r.logger))
	r.Register(workflowTool(svc.Workflows))
}

func progressLine(text string) string {
	return "\n\n*" + text + "*\n\n"
}

const memoryExists = "Memory already exists. Do not re-save."

func savingLine(text string) string {
	return fmt.Sprintf("\n\n*Saving to memory...*\n> %s\n\n", text)
}

func executingLine(code string) string {
	return fmt.Sprintf("\n\n*Executing Code...*\n```python\n%s\n```\n\n", code)
}

func resultBlock(out string) string {
	return fmt.Sprintf("*Result:*\n```\n%s\n```\n\n", out)
}

func lookingLine(desc string) string {
	return progressLine(fmt.Sprintf("Looking for '%s'...", desc))
}

func rememberTool(store MemoryStore, logger *slog.Logger) *Tool {
	t := &Tool{
		Name:        "remember",
		Description: `Save a fact to long-term memory. Use this when the user says "remember that..." or "my favorite X is Y".`,
		Actions: []*Action{{
			Usage: `{"tool": "remember", "args": {"text": "fact to remember"}}`,
			Args:  []Arg{{Name: "text", Type: TypeString, Required: true}},
			Handler: func(ctx context.Context, call *Call) string {
				text := call.String("text")
				if isKnownMemory(text, call.Memories) {
					return memoryExists
				}
				call.Progress(savingLine(text))
				if err := store.Add(ctx, text); err != nil {
					logger.Warn("remember failed", "error", err)
					call.Progress(progressLine("Failed to save memory."))
					return "Error: Failed to save memory."
				}
				return "Memory saved successfully."
			},
		}},
	}
	if store == nil {
		t.Unavailable = MemoryUnavailable
		t.Fallback = func(call *Call, unavailable string) string {
			text := call.String("text")
			if isKnownMemory(text, call.Memories) {
				return memoryExists
			}
			call.Progress(savingLine(text))
			return unavailable
		}
	}
	return t
}

// isKnownMemory reports whether text overlaps an already retrieved
// memory, compared case-insensitively as substrings in either direction.
func isKnownMemory(text string, memories []string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, m := range memories {
		ml := strings.ToLower(m)
		if strings.Contains(ml, lower) || strings.Contains(lower, ml) {
			return true
		}
	}
	return false
}

func pythonTool(py CodeRunner) *Tool {
	t := &Tool{
		Name:        "execute_python",
		Description: "Execute Python code.",
		Actions: []*Action{{
			Usage: `{"tool": "execute_python", "args": {"code": "print('hello')"}}`,
			Args:  []Arg{{Name: "code", Type: TypeString, Required: true}},
			Handler: func(ctx context.Context, call *Call) string {
				call.Progress(executingLine(call.String("code")))
				out := py.Execute(ctx, call.String("code")).String()
				call.Progress(resultBlock(out))
				return out
			},
		}},
	}
	if py == nil {
		t.Unavailable = PythonUnavailable
		t.Fallback = func(call *Call, unavailable string) string {
			call.Progress(executingLine(call.String("code")))
			call.Progress(resultBlock(unavailable))
			return unavailable
		}
	}
	return t
}

func searchTool(s WebSearcher) *Tool {
	return &Tool{
		Name:        "google_search",
		Description: "Search the web.",
		Actions: []*Action{{
			Usage: `{"tool": "google_search", "args": {"query": "weather in Tokyo"}}`,
			Args:  []Arg{{Name: "query", Type: TypeString, Required: true}},
			Handler: func(ctx context.Context, call *Call) string {
				query := call.String("query")
				call.Progress(progressLine(fmt.Sprintf("Searching Google for '%s'...", query)))
				if s == nil {
					return "Error performing search: " + searchUnavailableError
				}
				results, err := s.Text(ctx, query, 0)
				if err != nil {
					return fmt.Sprintf("Error performing search: %v", err)
				}
				return "Search Results:\n" + results
			},
		}},
	}
}

func readURLTool(reader PageReader) *Tool {
	return &Tool{
		Name:        "read_url",
		Description: "Read content from a URL.",
		Actions: []*Action{{
			Usage: `{"tool": "read_url", "args": {"url": "https://example.com"}}`,
			Args:  []Arg{{Name: "url", Type: TypeString, Required: true}},
			Handler: func(ctx context.Context, call *Call) string {
				url := call.String("url")
				call.Progress(progressLine(fmt.Sprintf("Reading URL %s...", url)))
				if reader == nil {
					return "Error reading URL: no fetcher configured"
				}
				res, err := reader.Fetch(ctx, url, fetch.DefaultMaxChars)
				if err != nil {
					return fmt.Sprintf("Error reading URL: %v", err)
				}
				return fmt.Sprintf("URL Content (%s):\n%s...", url, res.Content)
			},
		}},
	}
}

func clickTool(vision ElementLocator, sys SystemController, logger *slog.Logger) *Tool {
	t := &Tool{
		Name:        "click_on_ui",
		Description: "Click a UI element by description.",
		Actions: []*Action{{
			Usage: `{"tool": "click_on_ui", "args": {"description": "the blue submit button"}}`,
			Args:  []Arg{{Name: "description", Type: TypeString, Required: true}},
			Handler: func(ctx context.Context, call *Call) string {
				desc := call.String("description")
				call.Progress(lookingLine(desc))

				pt, found, err := vision.Locate(ctx, desc)
				if err != nil {
					logger.Warn("vision lookup failed", "description", desc, "error", err)
				}
				if err != nil || !found {
					return fmt.Sprintf("Could not find UI element matching '%s'.", desc)
				}

				call.Progress(progressLine(fmt.Sprintf("Clicking at (%d, %d)...", pt.X, pt.Y)))
				if sys == nil {
					return "Error: Vision found coordinates, but System Control unavailable for clicking."
				}
				if res := sys.Interact(ctx, "click", clickAt(pt)); !strings.HasPrefix(res, "Clicked at") {
					return res
				}
				return fmt.Sprintf("Clicked description '%s' at (%d, %d).", desc, pt.X, pt.Y)
			},
		}},
	}
	if vision == nil {
		t.Unavailable = VisionUnavailable
		t.Fallback = func(call *Call, unavailable string) string {
			call.Progress(lookingLine(call.String("description")))
			return unavailable
		}
	}
	return t
}

func workflowTool(w WorkflowRunner) *Tool {
	t := &Tool{
		Name:        "run_workflow",
		Description: "Run a named workflow that performs several system actions at once.",
		Actions: []*Action{{
			Usage: `{"tool": "run_workflow", "args": {"name": "focus_mode"}}`,
			Args:  []Arg{{Name: "name", Type: TypeString, Required: true}},
			Handler: func(ctx context.Context, call *Call) string {
				name := call.String("name")
				call.Progress(progressLine(fmt.Sprintf("Running workflow %s...", name)))
				return w.Describe(ctx, name)
			},
		}},
	}
	if w == nil {
		t.Unavailable = WorkflowsUnavailable
	} else if names := w.List(); len(names) > 0 {
		t.Actions[0].Note = "Options: " + strings.Join(names, ", ")
	}
	return t
}
