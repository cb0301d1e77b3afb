// Package embeddings generates and compares text embedding vectors.
package embeddings

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/nugget/korb/internal/httpkit"
)

// Embedder produces an embedding vector for a piece of text. The Ollama
// client below and every llm.Provider satisfy it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "nomic-embed-text"

// Config points the client at an Ollama server.
type Config struct {
	BaseURL string
	Model   string
}

// Client calls Ollama's /api/embeddings endpoint.
type Client struct {
	endpoint string
	model    string
	http     *http.Client
}

func New(cfg Config) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/api/embeddings",
		model:    model,
		http:     httpkit.NewClient(httpkit.WithTimeout(30 * time.Second)),
	}
}

// Model reports the embedding model in use.
func (c *Client) Model() string { return c.model }

// Embed returns the vector for text. An empty vector from the server is an
// error, since it would match nothing.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
	}{c.model, text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings: HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embeddings: decode: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("embeddings: empty vector from model %s", c.model)
	}
	return out.Embedding, nil
}

// CosineSimilarity computes cosine similarity between two vectors.
// Vectors of different length, or zero vectors, score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Scored pairs a candidate index with its similarity to the query.
type Scored struct {
	Index int
	Score float32
}

// TopK returns up to k candidates most similar to query, best first.
// Candidates scoring below minScore are dropped.
func TopK(query []float32, vectors [][]float32, k int, minScore float32) []Scored {
	scores := make([]Scored, 0, len(vectors))
	for i, v := range vectors {
		s := CosineSimilarity(query, v)
		if s < minScore {
			continue
		}
		scores = append(scores, Scored{Index: i, Score: s})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if k >= 0 && len(scores) > k {
		scores = scores[:k]
	}
	return scores
}

// Encode packs a vector as little-endian float32 bytes for BLOB storage.
func Encode(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Decode reverses Encode. A blob whose length is not a multiple of four
// decodes to nil.
func Decode(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
