package memory

import "time"

// Fact is one durable statement learned about a sender.
type Fact struct {
	ID         int64
	SenderID   string
	Field      string
	Value      string
	Confidence float64
	CreatedAt  time.Time
}

// AddFact stores or supersedes a fact. A later fact for the same
// sender+field replaces the earlier value.
func (s *Store) AddFact(senderID, field, value string, confidence float64) error {
	_, err := s.db.Exec(`
		INSERT INTO facts (sender_id, field, value, confidence) VALUES (?, ?, ?, ?)
		ON CONFLICT(sender_id, field) DO UPDATE SET
			value = excluded.value,
			confidence = excluded.confidence,
			created_at = datetime('now')`,
		senderID, field, value, confidence)
	return err
}

// FactsBySender returns everything known about one sender, oldest first.
func (s *Store) FactsBySender(senderID string) ([]Fact, error) {
	rows, err := s.db.Query(`
		SELECT id, sender_id, field, value, confidence, created_at
		FROM facts WHERE sender_id = ? ORDER BY id`,
		senderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		var f Fact
		var createdAt string
		if err := rows.Scan(&f.ID, &f.SenderID, &f.Field, &f.Value, &f.Confidence, &createdAt); err != nil {
			return nil, err
		}
		f.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}
