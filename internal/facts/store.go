// Package facts provides long-term memory storage for things the user asked
// the assistant to remember.
package facts

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/korb/internal/embeddings"
)

// DefaultMinScore is the minimum cosine similarity a memory needs to be
// returned by a semantic search.
const DefaultMinScore float32 = 0.3

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Memory is a single remembered statement.
type Memory struct {
	ID        uuid.UUID `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Embedding []float32 `json:"-"`
}

// Store manages memory persistence. When an embedder is configured,
// Search ranks memories by similarity; otherwise it falls back to
// case-insensitive substring matching.
type Store struct {
	db       *sql.DB
	embedder embeddings.Embedder
	minScore float32
	logger   *slog.Logger
}

// NewStore creates a memory store on an existing database connection.
// embedder may be nil.
func NewStore(db *sql.DB, embedder embeddings.Embedder, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:       db,
		embedder: embedder,
		minScore: DefaultMinScore,
		logger:   logger,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			text TEXT NOT NULL,
			embedding BLOB,
			created_at TEXT NOT NULL
		);
	`)
	return err
}

// SetMinScore overrides the similarity threshold used by Search.
func (s *Store) SetMinScore(score float32) {
	s.minScore = score
}

// Add stores text as a new memory. An embedding failure is logged and the
// memory is stored without a vector so substring search can still find it.
func (s *Store) Add(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("empty memory")
	}

	var blob any
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			s.logger.Warn("memory embedding failed, storing without vector", "error", err)
		} else if enc := embeddings.Encode(vec); enc != nil {
			blob = enc
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate id: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories (id, text, embedding, created_at) VALUES (?, ?, ?, ?)`,
		id.String(), text, blob, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}

	s.logger.Debug("memory stored", "id", id, "embedded", blob != nil)
	return nil
}

// Search returns up to limit memory texts relevant to query, best first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, query)
		if err == nil {
			return s.semanticSearch(vec, limit)
		}
		s.logger.Warn("query embedding failed, using substring search", "error", err)
	}
	return s.substringSearch(ctx, query, limit)
}

func (s *Store) semanticSearch(query []float32, limit int) ([]string, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}

	var texts []string
	var vectors [][]float32
	for _, m := range all {
		if m.Embedding == nil {
			continue
		}
		texts = append(texts, m.Text)
		vectors = append(vectors, m.Embedding)
	}

	var out []string
	for _, sc := range embeddings.TopK(query, vectors, limit, s.minScore) {
		out = append(out, texts[sc.Index])
	}
	return out, nil
}

func (s *Store) substringSearch(ctx context.Context, query string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT text FROM memories
		WHERE instr(lower(text), lower(?)) > 0
		ORDER BY seq DESC
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, text)
	}
	return out, rows.Err()
}

// All returns every stored memory, oldest first.
func (s *Store) All() ([]Memory, error) {
	rows, err := s.db.Query(`SELECT id, text, embedding, created_at FROM memories ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		var m Memory
		var idStr, createdStr string
		var blob []byte
		if err := rows.Scan(&idStr, &m.Text, &blob, &createdStr); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.ID, _ = uuid.Parse(idStr)
		m.CreatedAt, _ = time.Parse(timeLayout, createdStr)
		m.Embedding = embeddings.Decode(blob)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Delete removes a single memory.
func (s *Store) Delete(id uuid.UUID) error {
	result, err := s.db.Exec(`DELETE FROM memories WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("memory not found: %s", id)
	}
	return nil
}

// Clear removes every memory.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM memories`); err != nil {
		return fmt.Errorf("clear memories: %w", err)
	}
	return nil
}

// Stats returns memory statistics.
func (s *Store) Stats() map[string]any {
	var total, embedded int
	_ = s.db.QueryRow(`SELECT COUNT(*), COUNT(embedding) FROM memories`).Scan(&total, &embedded)
	return map[string]any{
		"total":    total,
		"embedded": embedded,
	}
}
