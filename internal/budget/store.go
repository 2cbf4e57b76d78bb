package budget

import (
	"database/sql"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS usage (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost_usd REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage(timestamp);
CREATE INDEX IF NOT EXISTS idx_usage_model ON usage(model);
`

// Store persists per-turn usage rows so spend survives restarts and can
// be summarized for status reports.
type Store struct {
	db       *sql.DB
	timezone *time.Location
}

func NewStore(db *sql.DB, timezone *time.Location) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}

	tz := timezone
	if tz == nil {
		tz = time.UTC
	}
	return &Store{db: db, timezone: tz}, nil
}

func (s *Store) Record(provider, model string, inputTokens, outputTokens int) error {
	cost := CalculateCost(model, inputTokens, outputTokens)

	_, err := s.db.Exec(
		`INSERT INTO usage (timestamp, provider, model, input_tokens, output_tokens, cost_usd) VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().In(s.timezone), provider, model, inputTokens, outputTokens, cost,
	)
	return err
}

type Summary struct {
	TotalRequests     int
	TotalInputTokens  int
	TotalOutputTokens int
	TotalCostUSD      float64
}

func (s *Store) SummaryRange(from, to time.Time) (*Summary, error) {
	row := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cost_usd), 0)
		FROM usage
		WHERE timestamp >= ? AND timestamp < ?
	`, from, to)

	var sum Summary
	if err := row.Scan(&sum.TotalRequests, &sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.TotalCostUSD); err != nil {
		return nil, err
	}
	return &sum, nil
}

func (s *Store) Today() (*Summary, error) {
	start, end := s.todayRange()
	return s.SummaryRange(start, end)
}

// TodayTokens returns the total tokens recorded since local midnight.
func (s *Store) TodayTokens() (int, error) {
	start, end := s.todayRange()

	row := s.db.QueryRow(`
		SELECT COALESCE(SUM(input_tokens + output_tokens), 0)
		FROM usage
		WHERE timestamp >= ? AND timestamp < ?
	`, start, end)

	var tokens int
	if err := row.Scan(&tokens); err != nil {
		return 0, err
	}
	return tokens, nil
}

func (s *Store) todayRange() (time.Time, time.Time) {
	now := time.Now().In(s.timezone)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.timezone)
	return start, start.Add(24 * time.Hour)
}
