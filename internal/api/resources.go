package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/nugget/korb/internal/events"
	"github.com/nugget/korb/internal/facts"
	"github.com/nugget/korb/internal/memory"
	"github.com/nugget/korb/internal/settings"
	"github.com/nugget/korb/internal/workflow"
)

func (s *Server) handleSettingsGet(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Settings == nil {
		s.unavailable(w, "Settings Service")
		return
	}
	current, err := s.deps.Settings.Load()
	if err != nil {
		s.logger.Error("failed to load settings", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	writeJSON(w, current, s.logger)
}

// handleSettingsUpdate merges the posted keys over the stored settings.
func (s *Server) handleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Settings == nil {
		s.unavailable(w, "Settings Service")
		return
	}
	var patch map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&patch); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	updated, err := s.deps.Settings.Update(patch)
	if err != nil {
		s.logger.Warn("settings update rejected", "error", err)
		code := http.StatusBadRequest
		if !errors.Is(err, settings.ErrUnknownSetting) && !isDecodeError(err) {
			code = http.StatusInternalServerError
		}
		s.errorResponse(w, code, err.Error())
		return
	}
	writeJSON(w, updated, s.logger)
}

// isDecodeError reports whether err came from decoding a settings value
// rather than from storage.
func isDecodeError(err error) bool {
	var syntax *json.SyntaxError
	var typ *json.UnmarshalTypeError
	return errors.As(err, &syntax) || errors.As(err, &typ)
}

func (s *Server) handleMemoriesList(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Memories == nil {
		s.unavailable(w, "Memory Service")
		return
	}
	all, err := s.deps.Memories.All()
	if err != nil {
		s.logger.Error("failed to list memories", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list memories")
		return
	}
	if all == nil {
		all = []facts.Memory{}
	}
	writeJSON(w, map[string]any{"memories": all}, s.logger)
}

func (s *Server) handleMemoriesClear(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Memories == nil {
		s.unavailable(w, "Memory Service")
		return
	}
	if err := s.deps.Memories.Clear(); err != nil {
		s.logger.Error("failed to clear memories", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to clear memories")
		return
	}
	writeJSON(w, map[string]string{"message": "All memories cleared"}, s.logger)
}

// formTitle reads "title" from a form or a JSON body.
func formTitle(r *http.Request) string {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err != nil {
			return ""
		}
		return strings.TrimSpace(body.Title)
	}
	return strings.TrimSpace(r.FormValue("title"))
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		s.unavailable(w, "Session Store")
		return
	}
	title := formTitle(r)
	if title == "" {
		title = memory.DefaultTitle
	}
	sess, err := s.deps.Sessions.CreateSession(title)
	if err != nil {
		s.logger.Error("failed to create session", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, map[string]string{"id": sess.ID, "title": sess.Title}, s.logger)
}

func (s *Server) handleSessionList(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Sessions == nil {
		s.unavailable(w, "Session Store")
		return
	}
	sessions, err := s.deps.Sessions.ListSessions()
	if err != nil {
		s.logger.Error("failed to list sessions", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*memory.Session{}
	}
	writeJSON(w, sessions, s.logger)
}

// handleSessionGet returns the whole transcript. An unknown session has
// no messages rather than being an error, matching how sessions are
// created lazily by the first chat message.
func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		s.unavailable(w, "Session Store")
		return
	}
	id := r.PathValue("id")
	msgs, err := s.deps.Sessions.Load(id, 0)
	if err != nil && !errors.Is(err, memory.ErrSessionNotFound) {
		s.logger.Error("failed to load session", "session", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if msgs == nil {
		msgs = []memory.Message{}
	}
	writeJSON(w, map[string]any{"messages": msgs}, s.logger)
}

func (s *Server) handleSessionRename(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		s.unavailable(w, "Session Store")
		return
	}
	id := r.PathValue("id")
	title := formTitle(r)
	if title == "" {
		s.errorResponse(w, http.StatusBadRequest, "title is required")
		return
	}
	if err := s.deps.Sessions.RenameSession(id, title); err != nil {
		if errors.Is(err, memory.ErrSessionNotFound) {
			s.errorResponse(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("failed to rename session", "session", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to rename session")
		return
	}
	writeJSON(w, map[string]string{"id": id, "title": title}, s.logger)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		s.unavailable(w, "Session Store")
		return
	}
	id := r.PathValue("id")
	if err := s.deps.Sessions.DeleteSession(id); err != nil && !errors.Is(err, memory.ErrSessionNotFound) {
		s.logger.Error("failed to delete session", "session", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	writeJSON(w, map[string]string{"message": "Session deleted"}, s.logger)
}

// handleUpload ingests one document from the multipart field "file".
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Knowledge == nil {
		s.unavailable(w, "Knowledge Base")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "failed to read file")
		return
	}
	msg, err := s.deps.Knowledge.Ingest(r.Context(), header.Filename, content)
	if err != nil {
		s.logger.Error("document ingest failed", "file", header.Filename, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("document uploaded", "file", header.Filename, "bytes", len(content))
	writeJSON(w, map[string]string{"message": msg}, s.logger)
}

func (s *Server) handleKnowledgeClear(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Knowledge == nil {
		s.unavailable(w, "Knowledge Base")
		return
	}
	if err := s.deps.Knowledge.Clear(); err != nil {
		s.logger.Error("failed to clear knowledge base", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to clear knowledge base")
		return
	}
	writeJSON(w, map[string]string{"message": "Knowledge base cleared successfully"}, s.logger)
}

func (s *Server) handleWorkflowList(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Workflows == nil {
		s.unavailable(w, "Workflow Service")
		return
	}
	writeJSON(w, map[string]any{"workflows": s.deps.Workflows.List()}, s.logger)
}

// handleWorkflowRun runs a workflow synchronously and returns its step
// report.
func (s *Server) handleWorkflowRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Workflows == nil {
		s.unavailable(w, "Workflow Service")
		return
	}
	name := workflow.Normalize(r.PathValue("name"))
	if !slices.Contains(s.deps.Workflows.List(), name) {
		s.errorResponse(w, http.StatusNotFound, "workflow not found: "+name)
		return
	}

	report := s.deps.Workflows.Describe(r.Context(), name)
	s.deps.Events.Emit(events.SourceWorkflow, events.KindWorkflowRun, map[string]any{
		"workflow": name,
		"via":      "api",
	})
	writeJSON(w, map[string]string{"workflow": name, "result": report}, s.logger)
}
