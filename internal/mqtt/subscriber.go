package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// WorkflowRunner runs a workflow by name and returns its report.
// *workflow.Runner satisfies it.
type WorkflowRunner interface {
	Describe(ctx context.Context, name string) string
}

// workflowName extracts the workflow from a command payload, either a
// bare name or {"name": "..."}.
func workflowName(payload []byte) string {
	text := strings.TrimSpace(string(payload))
	if strings.HasPrefix(text, "{") {
		var cmd struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal([]byte(text), &cmd); err != nil {
			return ""
		}
		return strings.TrimSpace(cmd.Name)
	}
	return text
}

// commandWindow admits at most limit commands per window. Drops are
// logged once when the window that saw them closes.
type commandWindow struct {
	limit  int
	length time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	start    time.Time
	admitted int
	dropped  int
}

func newCommandWindow(limit int, length time.Duration, logger *slog.Logger) *commandWindow {
	return &commandWindow{limit: limit, length: length, logger: logger, now: time.Now}
}

func (w *commandWindow) allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if now.Sub(w.start) >= w.length {
		if w.dropped > 0 {
			w.logger.Warn("mqtt commands dropped by rate limit",
				"admitted", w.admitted, "dropped", w.dropped, "window", w.length.String())
		}
		w.start, w.admitted, w.dropped = now, 0, 0
	}
	if w.admitted >= w.limit {
		w.dropped++
		return false
	}
	w.admitted++
	return true
}
