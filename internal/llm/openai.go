package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

const defaultOpenAIEmbeddingModel = openai.EmbeddingModelTextEmbedding3Small

// OpenAIProvider streams Chat Completions and serves embeddings from any
// OpenAI-compatible endpoint.
type OpenAIProvider struct {
	logger *slog.Logger

	mu       sync.RWMutex
	settings Settings
	client   *openai.Client
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(logger *slog.Logger) *OpenAIProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIProvider{logger: logger}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Configure builds the SDK client from s.
func (p *OpenAIProvider) Configure(s Settings) error {
	if strings.TrimSpace(s.APIKey) == "" && s.BaseURL == "" {
		return fmt.Errorf("openai: %w: api key is required", ErrNotConfigured)
	}
	if s.Model == "" {
		return fmt.Errorf("openai: %w: model is required", ErrNotConfigured)
	}

	opts := []ooption.RequestOption{ooption.WithAPIKey(strings.TrimSpace(s.APIKey))}
	if s.BaseURL != "" {
		opts = append(opts, ooption.WithBaseURL(strings.TrimSpace(s.BaseURL)))
	}
	client := openai.NewClient(opts...)

	p.mu.Lock()
	p.settings = s
	p.client = &client
	p.mu.Unlock()
	return nil
}

// StreamChat opens a streaming Chat Completions request.
func (p *OpenAIProvider) StreamChat(ctx context.Context, history []Message, message string, images []Image) (Stream, error) {
	p.mu.RLock()
	s, client := p.settings, p.client
	p.mu.RUnlock()
	if client == nil {
		return nil, fmt.Errorf("openai: %w", ErrNotConfigured)
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if s.SystemInstruction != "" {
		msgs = append(msgs, openai.SystemMessage(s.SystemInstruction))
	}
	for _, m := range history {
		if m.Role == RoleModel {
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		} else {
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	if len(images) == 0 {
		msgs = append(msgs, openai.UserMessage(message))
	} else {
		parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(message)}
		for _, img := range images {
			url := fmt.Sprintf("data:%s;base64,%s", img.MimeType, base64.StdEncoding.EncodeToString(img.Data))
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
		}
		msgs = append(msgs, openai.UserMessage(parts))
	}

	p.logger.Debug("openai stream request", "model", s.Model, "history", len(history), "images", len(images))
	stream := client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(s.Model),
		Messages: msgs,
	})
	return &openaiStream{stream: stream}, nil
}

// Embed calls the embeddings endpoint.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil {
		return nil, fmt.Errorf("openai: %w", ErrNotConfigured)
	}

	resp, err := client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: defaultOpenAIEmbeddingModel,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, f := range resp.Data[0].Embedding {
		vec[i] = float32(f)
	}
	return vec, nil
}

type openaiStream struct {
	stream  *ssestream.Stream[openai.ChatCompletionChunk]
	current string
}

func (s *openaiStream) Next() bool {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			s.current = text
			return true
		}
	}
	return false
}

func (s *openaiStream) Current() string { return s.current }
func (s *openaiStream) Err() error      { return s.stream.Err() }
func (s *openaiStream) Close() error    { return s.stream.Close() }
