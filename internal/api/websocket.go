package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/korb/internal/agent"
	"github.com/nugget/korb/internal/events"
	"github.com/nugget/korb/internal/llm"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsImage is an attachment inside a WebSocket chat request. Data is
// base64 in JSON.
type wsImage struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// wsRequest is one chat message sent by the client.
type wsRequest struct {
	Message   string    `json:"message"`
	SessionID string    `json:"session_id"`
	Images    []wsImage `json:"images,omitempty"`
}

// wsMessage is every frame the server sends. Type is one of "text",
// "command", "done", "error" or "event".
type wsMessage struct {
	Type    string          `json:"type"`
	Text    string          `json:"text,omitempty"`
	Command *agent.ToolCall `json:"command,omitempty"`
	Outcome *agent.Outcome  `json:"outcome,omitempty"`
	Event   *events.Event   `json:"event,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(msg wsMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

// handleWebSocket serves chat over a WebSocket. Requests on one
// connection are handled in order; bus events are relayed as "event"
// frames while the connection is open.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ws := &wsConn{conn: conn}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if s.deps.Events != nil {
		sub := s.deps.Events.Subscribe(events.DefaultBuffer)
		defer s.deps.Events.Unsubscribe(sub)
		go s.relayEvents(ctx, ws, sub)
	}

	s.logger.Info("websocket client connected", "remote", r.RemoteAddr)
	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("websocket client disconnected", "remote", r.RemoteAddr)
			} else {
				s.logger.Debug("websocket read failed", "remote", r.RemoteAddr, "error", err)
			}
			return
		}
		s.serveWebSocketChat(ctx, ws, req)
	}
}

func (s *Server) serveWebSocketChat(ctx context.Context, ws *wsConn, req wsRequest) {
	in := chatInput{
		Message:   req.Message,
		SessionID: strings.TrimSpace(req.SessionID),
	}
	if strings.TrimSpace(in.Message) == "" {
		_ = ws.send(wsMessage{Type: "error", Error: "message is required"})
		return
	}
	for _, img := range req.Images {
		in.Images = append(in.Images, llm.Image{Data: img.Data, MimeType: img.MimeType})
	}

	emit := func(ev agent.Event) error {
		if ev.Command != nil {
			return ws.send(wsMessage{Type: "command", Command: ev.Command})
		}
		return ws.send(wsMessage{Type: "text", Text: ev.Text})
	}

	outcome, err := s.chat(ctx, in, emit)
	if err != nil {
		s.logger.Error("websocket chat failed", "session", in.SessionID, "error", err)
		_ = ws.send(wsMessage{Type: "error", Error: err.Error(), Outcome: outcome})
		return
	}
	_ = ws.send(wsMessage{Type: "done", Outcome: outcome})
}

func (s *Server) relayEvents(ctx context.Context, ws *wsConn, sub <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			if err := ws.send(wsMessage{Type: "event", Event: &e}); err != nil {
				s.logger.Debug("websocket event relay stopped", "error", err)
				return
			}
		}
	}
}
