// Package health keeps a durable log of backend faults so failures can
// be inspected after the fact.
package health

import (
	"database/sql"
	"fmt"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS error_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_key TEXT NOT NULL,
	source TEXT NOT NULL,
	message TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_error_log_session ON error_log(session_key);
CREATE INDEX IF NOT EXISTS idx_error_log_created ON error_log(created_at);
`

type ErrorLog struct {
	db *sql.DB
}

type Entry struct {
	ID         int64
	SessionKey string
	Source     string
	Message    string
	CreatedAt  time.Time
}

func NewErrorLog(db *sql.DB) (*ErrorLog, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create error log schema: %w", err)
	}
	return &ErrorLog{db: db}, nil
}

// Record stores one fault. Errors here are swallowed by callers; the
// log must never take down a turn.
func (l *ErrorLog) Record(sessionKey, source, message string) error {
	_, err := l.db.Exec(
		`INSERT INTO error_log (session_key, source, message, created_at) VALUES (?, ?, ?, ?)`,
		sessionKey, source, message, time.Now().UTC(),
	)
	return err
}

// Recent returns the newest entries, newest first.
func (l *ErrorLog) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := l.db.Query(
		`SELECT id, session_key, source, message, created_at FROM error_log ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.SessionKey, &e.Source, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than the retention window and reports how
// many were removed.
func (l *ErrorLog) Prune(olderThan time.Duration) (int, error) {
	res, err := l.db.Exec(`DELETE FROM error_log WHERE created_at < ?`, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
