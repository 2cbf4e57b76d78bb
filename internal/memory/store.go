package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/bowerhall/pawd/internal/llm"
)

// Store persists conversation sessions, the alias table that maps a raw
// channel key to the active session, and learned facts.
type Store struct {
	db         *sql.DB
	summarizer llm.LLM
}

// Message is one stored conversation turn.
type Message struct {
	Role      string
	Content   string
	Metadata  map[string]string
	CreatedAt time.Time
}

// SessionInfo summarizes one session for listing and resume.
type SessionInfo struct {
	SessionKey   string
	Title        string
	Preview      string
	MessageCount int
	IsActive     bool
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_key TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    metadata TEXT,
    created_at DATETIME DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_key, id);

CREATE TABLE IF NOT EXISTS sessions (
    session_key TEXT PRIMARY KEY,
    base_key TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT (datetime('now')),
    updated_at DATETIME DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_sessions_base ON sessions(base_key);

CREATE TABLE IF NOT EXISTS session_aliases (
    base_key TEXT PRIMARY KEY,
    target_key TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS facts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    sender_id TEXT NOT NULL,
    field TEXT NOT NULL,
    value TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 1.0,
    created_at DATETIME DEFAULT (datetime('now')),
    UNIQUE(sender_id, field)
);
`

// Open opens (or creates) the store at path. Pass ":memory:" in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}

	// an in-memory database exists per connection, so the pool must
	// not grow past one
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing database connection (used by tests).
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

// DB exposes the underlying connection so sibling stores (cron, health)
// can share one database file.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ResolveSessionKey follows the alias table: a chat that switched or
// renamed sessions serializes against the aliased key, not the raw one.
func (s *Store) ResolveSessionKey(raw string) (string, error) {
	var target string
	err := s.db.QueryRow(`SELECT target_key FROM session_aliases WHERE base_key = ?`, raw).Scan(&target)
	if err == sql.ErrNoRows {
		return raw, nil
	}
	if err != nil {
		return raw, err
	}
	return target, nil
}

// SetSessionAlias points a base key at a (possibly new) session key.
func (s *Store) SetSessionAlias(baseKey, targetKey string) error {
	_, err := s.db.Exec(`
		INSERT INTO session_aliases (base_key, target_key) VALUES (?, ?)
		ON CONFLICT(base_key) DO UPDATE SET target_key = excluded.target_key`,
		baseKey, targetKey)
	if err != nil {
		return err
	}

	// Register the session row so it shows up in listings even before
	// the first message.
	_, err = s.db.Exec(`
		INSERT INTO sessions (session_key, base_key) VALUES (?, ?)
		ON CONFLICT(session_key) DO NOTHING`,
		targetKey, baseKey)
	return err
}

// RemoveSessionAlias resets a base key to its default session.
func (s *Store) RemoveSessionAlias(baseKey string) error {
	_, err := s.db.Exec(`DELETE FROM session_aliases WHERE base_key = ?`, baseKey)
	return err
}

// AddToSession appends one turn and keeps the session index current.
func (s *Store) AddToSession(sessionKey, role, content string, metadata map[string]string) error {
	var meta any
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		meta = string(raw)
	}

	_, err := s.db.Exec(
		`INSERT INTO messages (session_key, role, content, metadata) VALUES (?, ?, ?, ?)`,
		sessionKey, role, content, meta,
	)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (session_key, base_key, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(session_key) DO UPDATE SET updated_at = datetime('now')`,
		sessionKey, sessionKey)
	return err
}

// GetSessionHistory returns the most recent messages in chronological
// order. limit <= 0 returns everything.
func (s *Store) GetSessionHistory(sessionKey string, limit int) ([]Message, error) {
	query := `
		SELECT role, content, metadata, created_at FROM (
			SELECT id, role, content, metadata, created_at
			FROM messages WHERE session_key = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Query(query, sessionKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		var m Message
		var meta sql.NullString
		var createdAt string
		if err := rows.Scan(&m.Role, &m.Content, &meta, &createdAt); err != nil {
			return nil, err
		}
		if meta.Valid && meta.String != "" {
			json.Unmarshal([]byte(meta.String), &m.Metadata)
		}
		m.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ListSessionsForChat lists every session reachable from a base key, the
// active one (per the alias table) first marked.
func (s *Store) ListSessionsForChat(baseKey string) ([]SessionInfo, error) {
	active, err := s.ResolveSessionKey(baseKey)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT s.session_key, s.title,
		       COALESCE((SELECT content FROM messages m WHERE m.session_key = s.session_key ORDER BY m.id LIMIT 1), ''),
		       (SELECT COUNT(*) FROM messages m WHERE m.session_key = s.session_key)
		FROM sessions s
		WHERE s.base_key = ? OR s.session_key = ?
		ORDER BY s.updated_at DESC`,
		baseKey, baseKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionInfo
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.SessionKey, &info.Title, &info.Preview, &info.MessageCount); err != nil {
			return nil, err
		}
		info.Preview = truncateRunes(info.Preview, 60)
		info.IsActive = info.SessionKey == active
		sessions = append(sessions, info)
	}
	return sessions, rows.Err()
}

// truncateRunes cuts on a rune boundary so a multibyte character is
// never split mid-sequence.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// ClearSession deletes a session's messages, returning how many were
// removed. The session row survives so the title sticks.
func (s *Store) ClearSession(sessionKey string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM messages WHERE session_key = ?`, sessionKey)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// UpdateSessionTitle renames a session. Returns false when the session is
// not in the index.
func (s *Store) UpdateSessionTitle(sessionKey, title string) (bool, error) {
	res, err := s.db.Exec(`UPDATE sessions SET title = ? WHERE session_key = ?`, title, sessionKey)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteSession removes a session and its messages entirely.
func (s *Store) DeleteSession(sessionKey string) (bool, error) {
	if _, err := s.db.Exec(`DELETE FROM messages WHERE session_key = ?`, sessionKey); err != nil {
		return false, err
	}
	res, err := s.db.Exec(`DELETE FROM sessions WHERE session_key = ?`, sessionKey)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
