package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/nugget/korb/internal/embeddings"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicProvider streams Messages API responses.
type AnthropicProvider struct {
	embedder embeddings.Embedder
	logger   *slog.Logger

	mu       sync.RWMutex
	settings Settings
	client   *anthropic.Client
}

// NewAnthropicProvider creates an Anthropic provider. The Messages API has
// no embedding endpoint; embedder supplies one when non-nil.
func NewAnthropicProvider(embedder embeddings.Embedder, logger *slog.Logger) *AnthropicProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicProvider{embedder: embedder, logger: logger}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Configure builds the SDK client from s.
func (p *AnthropicProvider) Configure(s Settings) error {
	if strings.TrimSpace(s.APIKey) == "" {
		return fmt.Errorf("anthropic: %w: api key is required", ErrNotConfigured)
	}
	if s.Model == "" {
		return fmt.Errorf("anthropic: %w: model is required", ErrNotConfigured)
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = defaultAnthropicMaxTokens
	}

	opts := []aoption.RequestOption{aoption.WithAPIKey(strings.TrimSpace(s.APIKey))}
	if s.BaseURL != "" {
		opts = append(opts, aoption.WithBaseURL(strings.TrimSpace(s.BaseURL)))
	}
	client := anthropic.NewClient(opts...)

	p.mu.Lock()
	p.settings = s
	p.client = &client
	p.mu.Unlock()
	return nil
}

// StreamChat opens a streaming Messages request.
func (p *AnthropicProvider) StreamChat(ctx context.Context, history []Message, message string, images []Image) (Stream, error) {
	p.mu.RLock()
	s, client := p.settings, p.client
	p.mu.RUnlock()
	if client == nil {
		return nil, fmt.Errorf("anthropic: %w", ErrNotConfigured)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.Model),
		MaxTokens: int64(s.MaxTokens),
		Messages:  anthropicMessages(history, message, images),
	}
	if s.SystemInstruction != "" {
		params.System = []anthropic.TextBlockParam{{Text: s.SystemInstruction}}
	}

	p.logger.Debug("anthropic stream request", "model", s.Model, "history", len(history), "images", len(images))
	return &anthropicStream{stream: client.Messages.NewStreaming(ctx, params)}, nil
}

// Embed delegates to the configured embedding client.
func (p *AnthropicProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.embedder == nil {
		return nil, ErrEmbeddingsUnsupported
	}
	return p.embedder.Embed(ctx, text)
}

// anthropicMessages converts the transcript. The Messages API requires
// alternating roles, so consecutive messages from the same role are merged.
func anthropicMessages(history []Message, message string, images []Image) []anthropic.MessageParam {
	type turn struct {
		role   Role
		blocks []anthropic.ContentBlockParamUnion
	}
	var turns []turn
	add := func(role Role, blocks ...anthropic.ContentBlockParamUnion) {
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].blocks = append(turns[n-1].blocks, blocks...)
			return
		}
		turns = append(turns, turn{role: role, blocks: blocks})
	}

	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		add(m.Role, anthropic.NewTextBlock(m.Content))
	}

	var user []anthropic.ContentBlockParamUnion
	for _, img := range images {
		user = append(user, anthropic.NewImageBlockBase64(img.MimeType, base64.StdEncoding.EncodeToString(img.Data)))
	}
	user = append(user, anthropic.NewTextBlock(message))
	add(RoleUser, user...)

	out := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		if t.role == RoleModel {
			out = append(out, anthropic.NewAssistantMessage(t.blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(t.blocks...))
		}
	}
	return out
}

type anthropicStream struct {
	stream  *ssestream.Stream[anthropic.MessageStreamEventUnion]
	current string
}

func (s *anthropicStream) Next() bool {
	for s.stream.Next() {
		ev := s.stream.Current()
		delta, ok := ev.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
			s.current = text.Text
			return true
		}
	}
	return false
}

func (s *anthropicStream) Current() string { return s.current }
func (s *anthropicStream) Err() error      { return s.stream.Err() }
func (s *anthropicStream) Close() error    { return s.stream.Close() }
