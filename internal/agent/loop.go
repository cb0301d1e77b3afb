// Package agent implements the orchestration loop. It streams model output
// to the caller, detects a tool call embedded in the text, dispatches it and
// feeds the result back as the next turn until the model answers. Attempts
// that produce nothing visible are retried without the injected context.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/korb/internal/config"
	"github.com/nugget/korb/internal/events"
	"github.com/nugget/korb/internal/llm"
	"github.com/nugget/korb/internal/memory"
	"github.com/nugget/korb/internal/prompts"
	"github.com/nugget/korb/internal/tools"
)

// ErrTurnLimit is returned when every turn of an attempt ended in a tool
// call and the model never produced a final answer.
var ErrTurnLimit = errors.New("turn limit reached without a final answer")

// Status is how a generation ended.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusUnknownTool Status = "unknown_tool"
	StatusTurnLimit   Status = "turn_limit"
	StatusExhausted   Status = "exhausted"
	StatusFailed      Status = "failed"
)

// Event is one item of the stream sent to the caller: either visible text
// or, on the unknown-tool path only, a command for the caller to handle.
type Event struct {
	Text    string    `json:"text,omitempty"`
	Command *ToolCall `json:"command,omitempty"`
}

// Request is one user message to answer.
type Request struct {
	// SessionID selects the transcript. An empty ID runs without history
	// and persists nothing.
	SessionID string
	Message   string
	Images    []llm.Image

	// DocumentContext is text retrieved from uploaded documents.
	DocumentContext string

	// UserMessageSaved is set by callers that already recorded the user
	// message in the transcript.
	UserMessageSaved bool
}

// Outcome summarizes a finished generation.
type Outcome struct {
	RequestID string `json:"request_id"`
	Status    Status `json:"status"`

	// Text is the assistant message written to the transcript.
	Text      string    `json:"text"`
	Command   *ToolCall `json:"command,omitempty"`
	Attempts  int       `json:"attempts"`
	Turns     int       `json:"turns"`
	ToolCalls int       `json:"tool_calls"`
}

// MemorySearcher retrieves long-term memories relevant to a message.
type MemorySearcher interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// Dispatcher executes tool calls. *tools.Registry satisfies it.
type Dispatcher interface {
	Has(name string) bool
	Dispatch(ctx context.Context, req tools.Request, emit func(string) error) (tools.Outcome, error)
}

// Deps are the collaborators of a Loop. Only Transcript is required.
type Deps struct {
	Transcript memory.Transcript
	Memories   MemorySearcher
	Tools      Dispatcher
	Locks      *SessionLocks
	Events     *events.Bus
	Logger     *slog.Logger
}

// Loop runs generations. It holds no per-request state and is safe for
// concurrent use.
type Loop struct {
	transcript memory.Transcript
	memories   MemorySearcher
	tools      Dispatcher
	locks      *SessionLocks
	events     *events.Bus
	logger     *slog.Logger
}

// NewLoop creates a Loop.
func NewLoop(d Deps) *Loop {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		transcript: d.Transcript,
		memories:   d.Memories,
		tools:      d.Tools,
		locks:      d.Locks,
		events:     d.Events,
		logger:     logger,
	}
}

// emitError marks a failure of the caller's emit function, after which
// nothing more is sent.
type emitError struct{ err error }

func (e *emitError) Error() string { return "emit: " + e.err.Error() }
func (e *emitError) Unwrap() error { return e.err }

// Generate answers req, passing every event to emit in order. The returned
// error is ErrTurnLimit for the turn-limit outcome, or the failure that
// ended the generation; in the latter case the caller has already received
// an apology chunk carrying the error text, unless emit itself failed.
func (l *Loop) Generate(ctx context.Context, opts Options, req Request, emit func(Event) error) (*Outcome, error) {
	opts = opts.withDefaults()
	id, _ := uuid.NewV7()
	out := &Outcome{RequestID: id.String()}
	log := l.logger.With("request_id", out.RequestID, "session", req.SessionID)

	if req.SessionID != "" {
		unlock, err := l.locks.Lock(ctx, req.SessionID)
		if err != nil {
			out.Status = StatusFailed
			return out, fmt.Errorf("wait for session %s: %w", req.SessionID, err)
		}
		defer unlock()
	}

	provider := ""
	if opts.Provider != nil {
		provider = opts.Provider.Name()
	}
	start := time.Now()
	log.Info("generation started", "provider", provider, "message_len", len(req.Message), "images", len(req.Images))
	l.events.Emit(events.SourceAgent, events.KindRequestStart, map[string]any{
		"request_id": out.RequestID,
		"session_id": req.SessionID,
		"provider":   provider,
	})

	g := &generation{loop: l, opts: opts, req: req, out: out, log: log, emit: emit}
	err := g.run(ctx)
	if err != nil && !errors.Is(err, ErrTurnLimit) {
		out.Status = StatusFailed
		log.Error("generation failed", "error", err)
		var ee *emitError
		if !errors.As(err, &ee) && ctx.Err() == nil {
			if eerr := emit(Event{Text: prompts.ErrorReply(err)}); eerr != nil {
				log.Debug("error reply not delivered", "error", eerr)
			}
		}
	}

	elapsed := time.Since(start)
	log.Info("generation finished",
		"status", out.Status,
		"attempts", out.Attempts,
		"turns", out.Turns,
		"tool_calls", out.ToolCalls,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	l.events.Emit(events.SourceAgent, events.KindRequestComplete, map[string]any{
		"request_id": out.RequestID,
		"status":     string(out.Status),
		"attempts":   out.Attempts,
		"turns":      out.Turns,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	return out, err
}

// generation is the state of one Generate call.
type generation struct {
	loop     *Loop
	opts     Options
	req      Request
	out      *Outcome
	log      *slog.Logger
	emit     func(Event) error
	memories []string
}

func (g *generation) run(ctx context.Context) error {
	if g.opts.Provider == nil {
		return errors.New("no model provider configured")
	}

	if !g.req.UserMessageSaved {
		if err := g.persist(memory.RoleUser, g.req.Message); err != nil {
			return fmt.Errorf("save user message: %w", err)
		}
	}

	g.memories = g.searchMemories(ctx)
	content := buildContent(g.opts.Profile, g.req.DocumentContext, g.memories, g.req.Message)

	for attempt := range g.opts.MaxRetries {
		g.out.Attempts = attempt + 1
		message := content
		if attempt > 0 {
			message = retryContent(g.memories, g.req.Message)
		}

		done, err := g.attempt(ctx, attempt, message)
		if err != nil || done {
			return err
		}

		if attempt < g.opts.MaxRetries-1 {
			g.log.Debug("empty attempt, retrying without context", "attempt", attempt+1)
			if err := g.send(prompts.RetryNotice); err != nil {
				return err
			}
		}
	}

	g.log.Warn("no response after all attempts", "attempts", g.out.Attempts)
	if err := g.send(prompts.EmptyResponseFallback); err != nil {
		return err
	}
	return g.finish(StatusExhausted, prompts.EmptyResponseFallback, nil)
}

// attempt runs the turn loop once. done is false when nothing visible was
// produced and the next attempt should run.
func (g *generation) attempt(ctx context.Context, n int, message string) (done bool, err error) {
	history, err := g.history()
	if err != nil {
		return false, err
	}

	guard := newDedupGuard()
	images := g.req.Images
	var text strings.Builder
	say := func(s string) error {
		if s == "" {
			return nil
		}
		text.WriteString(s)
		return g.send(s)
	}

	for turn := range g.opts.MaxTurns {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		g.out.Turns++
		g.log.Debug("model turn", "attempt", n+1, "turn", turn+1, "history", len(history))
		g.loop.events.Emit(events.SourceAgent, events.KindTurn, map[string]any{
			"request_id": g.out.RequestID,
			"attempt":    n + 1,
			"turn":       turn + 1,
		})

		reply, err := g.stream(ctx, history, message, images, say)
		if err != nil {
			return false, fmt.Errorf("turn %d: %w", turn+1, err)
		}

		call, end, found := Scan(reply)
		if !found {
			if text.Len() == 0 {
				return false, nil
			}
			return true, g.finish(StatusCompleted, text.String(), nil)
		}

		sig := call.Signature()
		if guard.Seen(sig) {
			g.log.Info("duplicate tool call suppressed", "tool", call.Name)
			message = prompts.DuplicateToolCall
			images = nil
			continue
		}
		guard.Record(sig)

		// Anything after the JSON is dropped so the model never sees
		// its own invented tool output.
		history = append(history, llm.Message{Role: llm.RoleModel, Content: reply[:end]})
		if turn == 0 {
			history = append(history, llm.Message{Role: llm.RoleUser, Content: message})
		}

		result, err := g.dispatch(ctx, call, say)
		if errors.Is(err, tools.ErrUnknownTool) {
			g.log.Info("unknown tool, returning command to caller", "tool", call.Name)
			if err := g.emit(Event{Command: &call}); err != nil {
				return true, &emitError{err}
			}
			return true, g.finish(StatusUnknownTool, text.String(), &call)
		}
		if err != nil {
			return true, err
		}

		message = prompts.ToolResult(result)
		images = nil
	}

	g.log.Warn("turn limit reached", "turns", g.opts.MaxTurns)
	if err := g.finish(StatusTurnLimit, text.String(), nil); err != nil {
		return true, err
	}
	if err := g.send(prompts.TurnLimitNotice(g.opts.MaxTurns)); err != nil {
		return true, err
	}
	return true, ErrTurnLimit
}

// stream runs one model round-trip, passing each non-empty fragment to say.
// It returns the text of this turn.
func (g *generation) stream(ctx context.Context, history []llm.Message, message string, images []llm.Image, say func(string) error) (string, error) {
	s, err := g.opts.Provider.StreamChat(ctx, history, message, images)
	if err != nil {
		return "", err
	}
	defer s.Close()

	var reply strings.Builder
	for s.Next() {
		chunk := s.Current()
		if chunk == "" {
			continue
		}
		g.log.Log(ctx, config.LevelTrace, "stream chunk", "len", len(chunk))
		reply.WriteString(chunk)
		if err := say(chunk); err != nil {
			return reply.String(), err
		}
	}
	return reply.String(), s.Err()
}

func (g *generation) dispatch(ctx context.Context, call ToolCall, say func(string) error) (string, error) {
	if g.loop.tools == nil || !g.loop.tools.Has(call.Name) {
		return "", fmt.Errorf("%w: %s", tools.ErrUnknownTool, call.Name)
	}

	g.out.ToolCalls++
	g.loop.events.Emit(events.SourceAgent, events.KindToolCall, map[string]any{
		"request_id": g.out.RequestID,
		"tool":       call.Name,
	})
	start := time.Now()

	res, err := g.loop.tools.Dispatch(ctx, tools.Request{
		Name:      call.Name,
		Args:      call.Args,
		SessionID: g.req.SessionID,
		Memories:  g.memories,
	}, say)
	if err != nil {
		return "", err
	}

	g.loop.events.Emit(events.SourceAgent, events.KindToolDone, map[string]any{
		"request_id":  g.out.RequestID,
		"tool":        call.Name,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return res.Result, nil
}

func (g *generation) send(text string) error {
	if err := g.emit(Event{Text: text}); err != nil {
		return &emitError{err}
	}
	return nil
}

// finish records the terminal state and writes the assistant message.
func (g *generation) finish(status Status, text string, cmd *ToolCall) error {
	g.out.Status = status
	g.out.Text = text
	g.out.Command = cmd
	if err := g.persist(memory.RoleModel, text); err != nil {
		return fmt.Errorf("save reply: %w", err)
	}
	return nil
}

func (g *generation) persist(role, content string) error {
	if g.req.SessionID == "" || g.loop.transcript == nil {
		return nil
	}
	return g.loop.transcript.Append(g.req.SessionID, role, content)
}

// history loads the transcript as model history. The user message being
// answered is sent separately, so a trailing copy of it is dropped.
func (g *generation) history() ([]llm.Message, error) {
	if g.req.SessionID == "" || g.loop.transcript == nil {
		return nil, nil
	}
	stored, err := g.loop.transcript.Load(g.req.SessionID, g.opts.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if n := len(stored); n > 0 && stored[n-1].Role == memory.RoleUser && stored[n-1].Content == g.req.Message {
		stored = stored[:n-1]
	}

	history := make([]llm.Message, 0, len(stored)+2)
	for _, m := range stored {
		role := llm.RoleUser
		if m.Role == memory.RoleModel {
			role = llm.RoleModel
		}
		history = append(history, llm.Message{Role: role, Content: m.Content})
	}
	return history, nil
}

func (g *generation) searchMemories(ctx context.Context) []string {
	if g.loop.memories == nil {
		return nil
	}
	found, err := g.loop.memories.Search(ctx, g.req.Message, g.opts.MemoryResults)
	if err != nil {
		g.log.Warn("memory search failed", "error", err)
		return nil
	}
	return found
}
