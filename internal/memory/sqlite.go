package memory

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a SQLite-backed SessionStore. It also records tool
// invocations for later inspection.
type SQLiteStore struct {
	db *sql.DB
}

// OpenDB opens the shared korb database with WAL and a busy timeout.
// All SQLite-backed stores accept the returned handle.
func OpenDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// NewSQLiteStore creates the schema on db if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);

	CREATE TABLE IF NOT EXISTS tool_calls (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		arguments TEXT NOT NULL,
		result TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		duration_ms INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// CreateSession starts a new titled session.
func (s *SQLiteStore) CreateSession(title string) (*Session, error) {
	if title == "" {
		title = DefaultTitle
	}
	now := time.Now()
	sess := &Session{ID: uuid.NewString(), Title: title, CreatedAt: now, UpdatedAt: now}

	_, err := s.db.Exec(`INSERT INTO sessions (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.Title, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// GetSession returns a session with its message count.
func (s *SQLiteStore) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT s.id, s.title, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s WHERE s.id = ?`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return sess, nil
}

// ListSessions returns sessions, most recently updated first.
func (s *SQLiteStore) ListSessions() ([]*Session, error) {
	rows, err := s.db.Query(`
		SELECT s.id, s.title, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s ORDER BY s.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var sess Session
	var created, updated string
	if err := row.Scan(&sess.ID, &sess.Title, &created, &updated, &sess.MessageCount); err != nil {
		return nil, err
	}
	sess.CreatedAt = parseTime(created)
	sess.UpdatedAt = parseTime(updated)
	return &sess, nil
}

// RenameSession changes a session title.
func (s *SQLiteStore) RenameSession(id, title string) error {
	res, err := s.db.Exec(`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`,
		title, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteSession removes a session, its messages and its tool calls.
func (s *SQLiteStore) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM tool_calls WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete tool calls: %w", err)
	}
	return tx.Commit()
}

// Append adds a message, creating the session if needed.
func (s *SQLiteStore) Append(sessionID, role, content string) error {
	now := formatTime(time.Now())
	msgID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("message id: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO sessions (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		sessionID, DefaultTitle, now, now); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msgID.String(), sessionID, role, content, now); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return tx.Commit()
}

// Load returns up to limit of the most recent messages, oldest first.
func (s *SQLiteStore) Load(sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, role, content, created_at FROM (
			SELECT seq, id, session_id, role, content, created_at
			FROM messages WHERE session_id = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var ts string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = parseTime(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ToolCall is a recorded tool invocation.
type ToolCall struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	ToolName    string     `json:"tool_name"`
	Arguments   string     `json:"arguments"`
	Result      string     `json:"result,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms,omitempty"`
}

// RecordToolCall stores the start of a tool invocation and returns its ID.
func (s *SQLiteStore) RecordToolCall(sessionID, toolName, arguments string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("tool call id: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO tool_calls (id, session_id, tool_name, arguments, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		id.String(), sessionID, toolName, arguments, formatTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("record tool call: %w", err)
	}
	return id.String(), nil
}

// CompleteToolCall stores the result of a tool invocation.
func (s *SQLiteStore) CompleteToolCall(id, result string) error {
	now := time.Now()
	var started string
	if err := s.db.QueryRow(`SELECT started_at FROM tool_calls WHERE id = ?`, id).Scan(&started); err != nil {
		return fmt.Errorf("find tool call %s: %w", id, err)
	}
	duration := now.Sub(parseTime(started)).Milliseconds()

	_, err := s.db.Exec(`
		UPDATE tool_calls SET result = ?, completed_at = ?, duration_ms = ? WHERE id = ?`,
		result, formatTime(now), duration, id)
	if err != nil {
		return fmt.Errorf("complete tool call: %w", err)
	}
	return nil
}

// ToolCalls returns the most recent tool calls for a session, newest first.
func (s *SQLiteStore) ToolCalls(sessionID string, limit int) ([]ToolCall, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, tool_name, arguments, COALESCE(result, ''),
		       started_at, completed_at, COALESCE(duration_ms, 0)
		FROM tool_calls WHERE session_id = ?
		ORDER BY started_at DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query tool calls: %w", err)
	}
	defer rows.Close()

	var out []ToolCall
	for rows.Next() {
		var tc ToolCall
		var started string
		var completed sql.NullString
		if err := rows.Scan(&tc.ID, &tc.SessionID, &tc.ToolName, &tc.Arguments, &tc.Result,
			&started, &completed, &tc.DurationMs); err != nil {
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		tc.StartedAt = parseTime(started)
		if completed.Valid {
			t := parseTime(completed.String)
			tc.CompletedAt = &t
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// Stats returns store counters for the health endpoint.
func (s *SQLiteStore) Stats() map[string]any {
	var sessions, messages, toolCalls int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&sessions)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&messages)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM tool_calls`).Scan(&toolCalls)
	return map[string]any{
		"sessions":   sessions,
		"messages":   messages,
		"tool_calls": toolCalls,
		"storage":    "sqlite",
	}
}
