// Package trigger persists scheduled proactive triggers. A trigger
// fires as a synthetic inbound message addressed to its channel and
// chat, so it flows through the same pipeline as user messages.
package trigger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type Trigger struct {
	ID        int64
	Keyword   string // what this trigger is about, included in the prompt
	Schedule  string // five-field cron expression
	Channel   string
	ChatID    string
	ExpiresAt *time.Time // nil means never
	NextRun   time.Time
	CreatedAt time.Time
}

type Store struct {
	db *sql.DB
}

// standard 5-field cron expressions
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// timeLayout matches sqlite's datetime('now') output so next_run and
// expires_at compare correctly against it. Always UTC.
const timeLayout = "2006-01-02 15:04:05"

func storeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

const schema = `
CREATE TABLE IF NOT EXISTS triggers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    keyword TEXT NOT NULL,
    schedule TEXT NOT NULL,
    channel TEXT NOT NULL,
    chat_id TEXT NOT NULL,
    expires_at DATETIME,
    next_run DATETIME NOT NULL,
    created_at DATETIME DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_triggers_next_run ON triggers(next_run);
CREATE INDEX IF NOT EXISTS idx_triggers_chat ON triggers(channel, chat_id);
`

func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create trigger schema: %w", err)
	}
	return s, nil
}

func (s *Store) Create(keyword, schedule, channel, chatID string, expiresAt *time.Time) (*Trigger, error) {
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule: %w", err)
	}
	nextRun := sched.Next(time.Now())

	var expires any
	if expiresAt != nil {
		expires = storeTime(*expiresAt)
	}

	result, err := s.db.Exec(`
		INSERT INTO triggers (keyword, schedule, channel, chat_id, expires_at, next_run)
		VALUES (?, ?, ?, ?, ?, ?)`,
		keyword, schedule, channel, chatID, expires, storeTime(nextRun))
	if err != nil {
		return nil, err
	}

	id, _ := result.LastInsertId()
	return &Trigger{
		ID:        id,
		Keyword:   keyword,
		Schedule:  schedule,
		Channel:   channel,
		ChatID:    chatID,
		ExpiresAt: expiresAt,
		NextRun:   nextRun,
		CreatedAt: time.Now(),
	}, nil
}

// GetDue returns triggers whose next run has passed and that have not
// expired.
func (s *Store) GetDue() ([]Trigger, error) {
	rows, err := s.db.Query(`
		SELECT id, keyword, schedule, channel, chat_id, expires_at, next_run, created_at
		FROM triggers
		WHERE next_run <= datetime('now')
		AND (expires_at IS NULL OR expires_at > datetime('now'))`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTriggers(rows)
}

func (s *Store) GetByChat(channel, chatID string) ([]Trigger, error) {
	rows, err := s.db.Query(`
		SELECT id, keyword, schedule, channel, chat_id, expires_at, next_run, created_at
		FROM triggers
		WHERE channel = ? AND chat_id = ?
		AND (expires_at IS NULL OR expires_at > datetime('now'))
		ORDER BY next_run ASC`,
		channel, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTriggers(rows)
}

func (s *Store) UpdateNextRun(id int64, nextRun time.Time) error {
	_, err := s.db.Exec(`UPDATE triggers SET next_run = ? WHERE id = ?`, storeTime(nextRun), id)
	return err
}

func (s *Store) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM triggers WHERE id = ?`, id)
	return err
}

// DeleteByKeyword removes a chat's trigger by keyword and reports
// whether one existed.
func (s *Store) DeleteByKeyword(keyword, channel, chatID string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM triggers WHERE keyword = ? AND channel = ? AND chat_id = ?`,
		keyword, channel, chatID)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *Store) DeleteExpired() (int, error) {
	result, err := s.db.Exec(`DELETE FROM triggers WHERE expires_at IS NOT NULL AND expires_at <= datetime('now')`)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// ComputeNextRun calculates the next fire time for a schedule.
func ComputeNextRun(schedule string) (time.Time, error) {
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(time.Now()), nil
}

func scanTriggers(rows *sql.Rows) ([]Trigger, error) {
	var triggers []Trigger

	for rows.Next() {
		var t Trigger
		var expiresAt, nextRun, createdAt *string

		err := rows.Scan(&t.ID, &t.Keyword, &t.Schedule, &t.Channel, &t.ChatID, &expiresAt, &nextRun, &createdAt)
		if err != nil {
			return nil, err
		}

		if expiresAt != nil {
			ts, _ := time.Parse(timeLayout, *expiresAt)
			t.ExpiresAt = &ts
		}
		if nextRun != nil {
			t.NextRun, _ = time.Parse(timeLayout, *nextRun)
		}
		if createdAt != nil {
			t.CreatedAt, _ = time.Parse(timeLayout, *createdAt)
		}

		triggers = append(triggers, t)
	}

	return triggers, rows.Err()
}
