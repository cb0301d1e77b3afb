// Package memory stores the durable per-session conversation transcript.
//
// The transcript is what the model sees as history on the next request.
// The orchestrator appends to it at most twice per user turn: the user
// message and the final assistant text. Streamed chunks are never stored
// individually.
package memory

import (
	"errors"
	"time"
)

// Roles stored in the transcript.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// ErrSessionNotFound is returned for operations on an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// Message is one transcript entry.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a titled conversation.
type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Transcript is the narrow surface the orchestrator needs.
type Transcript interface {
	// Append adds a message, creating the session if needed.
	Append(sessionID, role, content string) error
	// Load returns the most recent limit messages in chronological order.
	// A limit of zero or less returns the whole transcript.
	Load(sessionID string, limit int) ([]Message, error)
}

// SessionStore adds session management for the API and CLI.
type SessionStore interface {
	Transcript
	CreateSession(title string) (*Session, error)
	GetSession(id string) (*Session, error)
	ListSessions() ([]*Session, error)
	RenameSession(id, title string) error
	DeleteSession(id string) error
}

// DefaultTitle is used for sessions created implicitly by Append.
const DefaultTitle = "New Chat"
