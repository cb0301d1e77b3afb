// Package knowledge stores uploaded documents as embedded chunks and
// retrieves the chunks most relevant to a question.
package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/korb/internal/embeddings"
)

// DefaultResults is the number of chunks Retrieve returns when n <= 0.
const DefaultResults = 3

// UnsupportedFormat is returned by Ingest for files it cannot read.
const UnsupportedFormat = "Unsupported file format."

var textExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".py":   true,
	".js":   true,
	".ts":   true,
	".tsx":  true,
	".json": true,
	".css":  true,
	".html": true,
	".go":   true,
	".yaml": true,
	".yml":  true,
}

// Supported reports whether a file with this name can be ingested.
func Supported(filename string) bool {
	return textExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Source summarizes one ingested document.
type Source struct {
	Filename   string    `json:"filename"`
	Chunks     int       `json:"chunks"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Store persists document chunks and their embeddings.
type Store struct {
	db        *sql.DB
	embedder  embeddings.Embedder
	chunkSize int
	logger    *slog.Logger
}

// NewStore creates a knowledge store on an existing database connection.
// Without an embedder, retrieval ranks chunks by keyword overlap.
func NewStore(db *sql.DB, embedder embeddings.Embedder, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:        db,
		embedder:  embedder,
		chunkSize: DefaultChunkSize,
		logger:    logger,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS knowledge_chunks (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			source TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			section TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			embedding BLOB,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_knowledge_source ON knowledge_chunks(source);
	`)
	return err
}

// Ingest splits content into chunks and stores them under filename,
// replacing any earlier upload with the same name. The returned string is
// the user-facing summary.
func (s *Store) Ingest(ctx context.Context, filename string, content []byte) (string, error) {
	if !Supported(filename) {
		return UnsupportedFormat, nil
	}

	var chunks []Chunk
	if strings.EqualFold(filepath.Ext(filename), ".md") {
		chunks = ChunkMarkdown(content, s.chunkSize)
	} else {
		for _, piece := range ChunkText(string(content), s.chunkSize) {
			chunks = append(chunks, Chunk{Content: piece})
		}
	}

	blobs := make([]any, len(chunks))
	if s.embedder != nil {
		for i, c := range chunks {
			vec, err := s.embedder.Embed(ctx, c.Content)
			if err != nil {
				s.logger.Warn("chunk embedding failed", "source", filename, "chunk", i, "error", err)
				continue
			}
			if enc := embeddings.Encode(vec); enc != nil {
				blobs[i] = enc
			}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE source = ?`, filename); err != nil {
		return "", fmt.Errorf("replace %s: %w", filename, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for i, c := range chunks {
		id, _ := uuid.NewV7()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO knowledge_chunks (id, source, chunk_index, section, content, embedding, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, id.String(), filename, i, c.Section, c.Content, blobs[i], now)
		if err != nil {
			return "", fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	s.logger.Info("document ingested", "source", filename, "chunks", len(chunks))
	return fmt.Sprintf("Successfully ingested %s with %d chunks.", filename, len(chunks)), nil
}

type storedChunk struct {
	content   string
	embedding []float32
}

// Retrieve returns the n chunks most relevant to query joined by blank
// lines, or "" when nothing matches.
func (s *Store) Retrieve(ctx context.Context, query string, n int) (string, error) {
	if n <= 0 {
		n = DefaultResults
	}

	rows, err := s.db.QueryContext(ctx, `SELECT content, embedding FROM knowledge_chunks ORDER BY seq`)
	if err != nil {
		return "", fmt.Errorf("query chunks: %w", err)
	}
	var all []storedChunk
	for rows.Next() {
		var c storedChunk
		var blob []byte
		if err := rows.Scan(&c.content, &blob); err != nil {
			rows.Close()
			return "", fmt.Errorf("scan chunk: %w", err)
		}
		c.embedding = embeddings.Decode(blob)
		all = append(all, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(all) == 0 {
		return "", nil
	}

	var picked []string
	if s.embedder != nil {
		if vec, err := s.embedder.Embed(ctx, query); err == nil {
			picked = rankByEmbedding(vec, all, n)
		} else {
			s.logger.Warn("query embedding failed, using keyword ranking", "error", err)
		}
	}
	if picked == nil {
		picked = rankByKeywords(query, all, n)
	}
	return strings.Join(picked, "\n\n"), nil
}

func rankByEmbedding(query []float32, all []storedChunk, n int) []string {
	var contents []string
	var vectors [][]float32
	for _, c := range all {
		if c.embedding == nil {
			continue
		}
		contents = append(contents, c.content)
		vectors = append(vectors, c.embedding)
	}
	if len(vectors) == 0 {
		return nil
	}
	var out []string
	for _, sc := range embeddings.TopK(query, vectors, n, -1) {
		out = append(out, contents[sc.Index])
	}
	return out
}

// rankByKeywords scores chunks by how many distinct query words they
// contain. Words shorter than three characters are ignored.
func rankByKeywords(query string, all []storedChunk, n int) []string {
	seen := map[string]bool{}
	var words []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len(w) < 3 || seen[w] {
			continue
		}
		seen[w] = true
		words = append(words, w)
	}

	type scored struct {
		idx   int
		score int
	}
	var hits []scored
	for i, c := range all {
		lower := strings.ToLower(c.content)
		score := 0
		for _, w := range words {
			if strings.Contains(lower, w) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{idx: i, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	out := []string{}
	for i := 0; i < len(hits) && i < n; i++ {
		out = append(out, all[hits[i].idx].content)
	}
	return out
}

// Remove deletes every chunk of filename and reports how many were removed.
func (s *Store) Remove(filename string) (int, error) {
	result, err := s.db.Exec(`DELETE FROM knowledge_chunks WHERE source = ?`, filename)
	if err != nil {
		return 0, fmt.Errorf("remove %s: %w", filename, err)
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// Clear removes all ingested documents.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM knowledge_chunks`); err != nil {
		return fmt.Errorf("clear knowledge: %w", err)
	}
	return nil
}

// Sources lists ingested documents in upload order.
func (s *Store) Sources() ([]Source, error) {
	rows, err := s.db.Query(`
		SELECT source, COUNT(*), MIN(created_at), MIN(seq) AS first
		FROM knowledge_chunks
		GROUP BY source
		ORDER BY first
	`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		var src Source
		var created string
		var first int64
		if err := rows.Scan(&src.Filename, &src.Chunks, &created, &first); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		src.IngestedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, src)
	}
	return out, rows.Err()
}
