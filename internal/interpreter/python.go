// Package interpreter runs model-supplied Python snippets for the
// execute_python tool.
package interpreter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/nugget/korb/internal/config"
)

// DefaultTimeout bounds one execution.
const DefaultTimeout = 30 * time.Second

// maxOutputBytes caps captured stdout and stderr.
const maxOutputBytes = 64 * 1024

// resultMarker separates program output from the repr of the final
// expression on stdout.
const resultMarker = "\x00KORB_RESULT\x00"

// wrapper executes the snippet, then prints the value of its last
// expression after resultMarker unless it is None.
const wrapper = `
import ast, sys
_src = sys.stdin.read()
_tree = ast.parse(_src, "<korb>", "exec")
_last = None
if _tree.body and isinstance(_tree.body[-1], ast.Expr):
    _last = ast.Expression(_tree.body.pop().value)
_ns = {"__name__": "__main__"}
exec(compile(_tree, "<korb>", "exec"), _ns)
if _last is not None:
    _val = eval(compile(_last, "<korb>", "eval"), _ns)
    if _val is not None:
        sys.stdout.flush()
        sys.stdout.write(%q + repr(_val))
`

// Result is the outcome of one execution.
type Result struct {
	Output string `json:"output"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// String renders the result the way the execute_python tool reports it.
func (r Result) String() string {
	s := fmt.Sprintf("Output:\n%s\nResult: %s", r.Output, r.Result)
	if r.Error != "" {
		s += "\nError: " + r.Error
	}
	return s
}

// Python executes code with a local interpreter.
type Python struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Python executor from configuration.
func New(cfg config.InterpreterConfig, logger *slog.Logger) *Python {
	if logger == nil {
		logger = slog.Default()
	}
	binary := cfg.Python
	if binary == "" {
		binary = "python3"
	}
	timeout := DefaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	return &Python{binary: binary, timeout: timeout, logger: logger}
}

// Execute runs code and captures its output. Failures to run the
// interpreter and exceptions raised by the code are both reported in
// Result.Error.
func (p *Python) Execute(ctx context.Context, code string) Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.binary, "-c", fmt.Sprintf(wrapper, resultMarker))
	cmd.Stdin = strings.NewReader(code)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	p.logger.Debug("python executed", "elapsed", time.Since(start), "error", err)

	var res Result
	out := stdout.String()
	if i := strings.LastIndex(out, resultMarker); i >= 0 {
		res.Result = out[i+len(resultMarker):]
		out = out[:i]
	}
	res.Output = truncate(out)

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Error = fmt.Sprintf("execution timed out after %s", p.timeout)
	case err != nil:
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		res.Error = truncate(lastTraceLine(msg))
	}
	return res
}

// lastTraceLine keeps the exception line of a Python traceback.
func lastTraceLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > 1 && strings.HasPrefix(lines[0], "Traceback") {
		return lines[len(lines)-1]
	}
	return s
}

func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + "\n[... output truncated ...]"
}
