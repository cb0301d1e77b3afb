package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/korb/internal/agent"
	"github.com/nugget/korb/internal/llm"
	"github.com/nugget/korb/internal/memory"
	"github.com/nugget/korb/internal/prompts"
	"github.com/nugget/korb/internal/research"
)

// maxUploadBytes bounds chat attachments and document uploads.
const maxUploadBytes = 32 << 20

// chatInput is one user message regardless of transport.
type chatInput struct {
	Message   string
	SessionID string
	Images    []llm.Image
}

// chat routes a message through the search, research or document
// pre-processing and runs the orchestrator. Every event reaches emit in
// order; command events are executed first when the command is one the
// server knows how to run.
func (s *Server) chat(ctx context.Context, in chatInput, emit func(agent.Event) error) (*agent.Outcome, error) {
	opts, err := s.deps.Options()
	if err != nil {
		if ctx.Err() == nil {
			_ = emit(agent.Event{Text: prompts.ErrorReply(err)})
		}
		return nil, fmt.Errorf("build options: %w", err)
	}

	forward := func(ev agent.Event) error {
		if ev.Command != nil {
			s.executeCommand(ctx, *ev.Command)
		}
		return emit(ev)
	}

	req := agent.Request{
		SessionID: in.SessionID,
		Message:   in.Message,
		Images:    in.Images,
	}

	if query, ok := research.DetectSearch(in.Message); ok && s.deps.Research != nil {
		s.logger.Info("search intent detected", "session", in.SessionID, "query", query)
		req.Message = s.deps.Research.SearchContext(ctx, in.Message, query)
		req.Images = nil
	} else if topic, ok := research.DetectResearch(in.Message); ok && s.deps.Research != nil {
		s.logger.Info("research mode", "session", in.SessionID, "topic", topic)
		if s.deps.Sessions != nil && in.SessionID != "" {
			if err := s.deps.Sessions.Append(in.SessionID, memory.RoleUser, in.Message); err != nil {
				s.logger.Warn("failed to persist research request", "session", in.SessionID, "error", err)
			} else {
				req.UserMessageSaved = true
			}
		}
		prompt, err := s.deps.Research.Report(ctx, topic, func(text string) error {
			return emit(agent.Event{Text: text})
		})
		if err != nil {
			s.logger.Error("research failed", "topic", topic, "error", err)
			if ctx.Err() == nil {
				_ = emit(agent.Event{Text: prompts.ErrorReply(err)})
			}
			return nil, fmt.Errorf("research %q: %w", topic, err)
		}
		req.Message = prompt
		req.Images = nil
	} else if s.deps.Knowledge != nil {
		docs, err := s.deps.Knowledge.Retrieve(ctx, in.Message, s.deps.KnowledgeResults)
		if err != nil {
			s.logger.Warn("knowledge retrieval failed", "error", err)
		}
		req.DocumentContext = docs
	}

	outcome, err := s.deps.Loop.Generate(ctx, opts, req, forward)
	if errors.Is(err, agent.ErrTurnLimit) {
		// The user already saw the partial answer and the notice.
		s.logger.Warn("generation hit the turn limit", "session", in.SessionID, "turns", outcome.Turns)
		return outcome, nil
	}
	return outcome, err
}

// executeCommand runs the few commands the web client has always had
// the server perform itself. Others are only forwarded.
func (s *Server) executeCommand(ctx context.Context, call agent.ToolCall) {
	if s.deps.Commands == nil {
		return
	}

	var result string
	switch call.Name {
	case "set_volume":
		result = s.deps.Commands.SetVolume(ctx, intArg(call.Args, "level", 50))
	case "mute_volume":
		result = s.deps.Commands.SetMute(ctx, true)
	case "open_application":
		name, _ := call.Args["app_name"].(string)
		result = s.deps.Commands.OpenApp(ctx, name)
	default:
		return
	}
	s.logger.Info("executed client command", "tool", call.Name, "result", result)
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}

// parseChatForm reads the multipart (or urlencoded) chat form: message,
// session_id and an optional image in "file".
func parseChatForm(w http.ResponseWriter, r *http.Request) (chatInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return chatInput{}, fmt.Errorf("parse form: %w", err)
	}

	in := chatInput{
		Message:   r.FormValue("message"),
		SessionID: strings.TrimSpace(r.FormValue("session_id")),
	}
	if strings.TrimSpace(in.Message) == "" {
		return chatInput{}, errors.New("message is required")
	}
	if in.SessionID == "" {
		return chatInput{}, errors.New("session_id is required")
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return in, nil
	}
	if err != nil {
		return chatInput{}, fmt.Errorf("read file: %w", err)
	}
	defer file.Close()

	img, err := readImage(file, header)
	if err != nil {
		return chatInput{}, err
	}
	in.Images = []llm.Image{img}
	return in, nil
}

func readImage(file multipart.File, header *multipart.FileHeader) (llm.Image, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return llm.Image{}, fmt.Errorf("read file: %w", err)
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return llm.Image{Data: data, MimeType: mimeType}, nil
}

// handleChat streams a generation as server-sent events: text chunks as
// `data: {"text": ...}` and unknown-tool commands as `event: command`.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	in, err := parseChatForm(w, r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	rc := http.NewResponseController(w)

	emit := func(ev agent.Event) error {
		if err := writeSSE(w, ev); err != nil {
			return err
		}
		flusher.Flush()
		// Reset the write deadline after every event so long tool
		// loops do not hit the server's WriteTimeout.
		if err := rc.SetWriteDeadline(time.Now().Add(120 * time.Second)); err != nil {
			s.logger.Debug("failed to reset write deadline", "error", err)
		}
		return nil
	}

	outcome, err := s.chat(r.Context(), in, emit)
	if err != nil {
		s.logger.Error("chat failed", "session", in.SessionID, "error", err)
		return
	}
	s.logger.Debug("chat finished",
		"session", in.SessionID,
		"request_id", outcome.RequestID,
		"status", outcome.Status,
	)
}

// writeSSE renders one event in the wire format the web client reads.
func writeSSE(w io.Writer, ev agent.Event) error {
	if ev.Command != nil {
		data, err := json.Marshal(ev.Command)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "event: command\ndata: %s\n\n", data)
		return err
	}
	data, err := json.Marshal(map[string]string{"text": ev.Text})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
