// Package llm provides the model adapters that produce token streams and
// embedding vectors for the assistant.
package llm

import (
	"context"
	"errors"
)

// Role identifies the author of a conversation message. The assistant's
// transcript uses "model" for its own turns; adapters translate it to
// whatever the backend calls the assistant.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one transcript entry as sent to a model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Image is an inline image attached to the outgoing user message.
type Image struct {
	Data     []byte
	MimeType string
}

// Settings configures a provider for subsequent calls.
type Settings struct {
	SystemInstruction string
	Model             string
	APIKey            string
	BaseURL           string
	MaxTokens         int
}

// Stream is a finite, non-restartable sequence of text fragments.
// Callers must Close the stream, including when they stop reading early.
type Stream interface {
	// Next advances to the next fragment. It returns false at the end of
	// the stream or on error; check Err afterwards.
	Next() bool
	// Current returns the fragment Next advanced to.
	Current() string
	Err() error
	Close() error
}

// Provider is the capability set every model backend implements.
type Provider interface {
	Name() string
	Configure(s Settings) error
	// StreamChat sends history followed by message and streams the reply.
	StreamChat(ctx context.Context, history []Message, message string, images []Image) (Stream, error)
	// Embed returns an embedding vector, or ErrEmbeddingsUnsupported.
	Embed(ctx context.Context, text string) ([]float32, error)
}

var (
	// ErrEmbeddingsUnsupported is returned by Embed when a backend has no
	// embedding endpoint configured.
	ErrEmbeddingsUnsupported = errors.New("embeddings not supported by provider")

	// ErrNotConfigured is returned when a provider is used before Configure.
	ErrNotConfigured = errors.New("provider not configured")

	// ErrUnknownProvider is returned by the factory for unregistered names.
	ErrUnknownProvider = errors.New("unknown provider")
)
