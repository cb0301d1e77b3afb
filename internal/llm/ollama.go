package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nugget/korb/internal/embeddings"
	"github.com/nugget/korb/internal/httpkit"
)

// OllamaProvider streams chat completions from an Ollama server.
type OllamaProvider struct {
	httpClient *http.Client
	embedder   embeddings.Embedder
	logger     *slog.Logger

	mu       sync.RWMutex
	settings Settings
}

// NewOllamaProvider creates an Ollama provider. embedder may be nil, in
// which case Embed returns ErrEmbeddingsUnsupported.
func NewOllamaProvider(embedder embeddings.Embedder, logger *slog.Logger) *OllamaProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaProvider{
		httpClient: newOllamaHTTPClient(logger),
		embedder:   embedder,
		logger:     logger,
	}
}

// newOllamaHTTPClient disables the overall timeout since generation length
// is unbounded, and allows slow first responses while weights load.
func newOllamaHTTPClient(logger *slog.Logger) *http.Client {
	return httpkit.NewClient(
		httpkit.WithTimeout(0),
		httpkit.WithResponseHeaderTimeout(5*time.Minute),
		httpkit.WithRetry(2, time.Second),
		httpkit.WithLogger(logger),
	)
}

func (p *OllamaProvider) Name() string { return "ollama" }

// Configure stores settings for subsequent calls.
func (p *OllamaProvider) Configure(s Settings) error {
	if s.BaseURL == "" {
		s.BaseURL = "http://localhost:11434"
	}
	if s.Model == "" {
		return fmt.Errorf("ollama: %w: model is required", ErrNotConfigured)
	}
	p.mu.Lock()
	p.settings = s
	p.mu.Unlock()
	return nil
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaChatChunk struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

// StreamChat posts to /api/chat with streaming enabled and returns a
// stream over the NDJSON response.
func (p *OllamaProvider) StreamChat(ctx context.Context, history []Message, message string, images []Image) (Stream, error) {
	p.mu.RLock()
	s := p.settings
	p.mu.RUnlock()
	if s.Model == "" {
		return nil, fmt.Errorf("ollama: %w", ErrNotConfigured)
	}

	msgs := make([]ollamaMessage, 0, len(history)+2)
	if s.SystemInstruction != "" {
		msgs = append(msgs, ollamaMessage{Role: "system", Content: s.SystemInstruction})
	}
	for _, m := range history {
		msgs = append(msgs, ollamaMessage{Role: ollamaRole(m.Role), Content: m.Content})
	}
	user := ollamaMessage{Role: "user", Content: message}
	for _, img := range images {
		user.Images = append(user.Images, base64.StdEncoding.EncodeToString(img.Data))
	}
	msgs = append(msgs, user)

	body, err := json.Marshal(ollamaChatRequest{Model: s.Model, Messages: msgs, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	p.logger.Debug("ollama chat request", "model", s.Model, "history", len(history), "images", len(images))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 1024))
	}

	return &ollamaStream{body: resp.Body, dec: json.NewDecoder(resp.Body)}, nil
}

// Embed delegates to the configured embedding client.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.embedder == nil {
		return nil, ErrEmbeddingsUnsupported
	}
	return p.embedder.Embed(ctx, text)
}

func ollamaRole(r Role) string {
	if r == RoleModel {
		return "assistant"
	}
	return string(r)
}

type ollamaStream struct {
	body    io.ReadCloser
	dec     *json.Decoder
	current string
	err     error
	done    bool
}

func (s *ollamaStream) Next() bool {
	for !s.done {
		var chunk ollamaChatChunk
		if err := s.dec.Decode(&chunk); err != nil {
			s.done = true
			if err != io.EOF {
				s.err = fmt.Errorf("decode stream chunk: %w", err)
			}
			return false
		}
		if chunk.Error != "" {
			s.done = true
			s.err = fmt.Errorf("ollama: %s", chunk.Error)
			return false
		}
		if chunk.Done {
			s.done = true
		}
		if chunk.Message.Content != "" {
			s.current = chunk.Message.Content
			return true
		}
	}
	return false
}

func (s *ollamaStream) Current() string { return s.current }
func (s *ollamaStream) Err() error      { return s.err }

func (s *ollamaStream) Close() error {
	s.done = true
	httpkit.DrainAndClose(s.body, 4096)
	return nil
}
