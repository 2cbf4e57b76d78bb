package trigger

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func TestCreateValidatesSchedule(t *testing.T) {
	s := newTestStore(t)

	tr, err := s.Create("heartbeat", "0 9 * * *", "telegram", "100", nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if tr.ID == 0 {
		t.Error("no id assigned")
	}
	if tr.NextRun.IsZero() || !tr.NextRun.After(time.Now()) {
		t.Errorf("next run not in the future: %v", tr.NextRun)
	}

	if _, err := s.Create("bad", "not a schedule", "telegram", "100", nil); err == nil {
		t.Error("invalid schedule accepted")
	}
}

func TestGetDue(t *testing.T) {
	s := newTestStore(t)

	tr, err := s.Create("meds", "*/5 * * * *", "telegram", "100", nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	due, err := s.GetDue()
	if err != nil {
		t.Fatalf("get due failed: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("freshly created trigger already due: %v", due)
	}

	if err := s.UpdateNextRun(tr.ID, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	due, err = s.GetDue()
	if err != nil {
		t.Fatalf("get due failed: %v", err)
	}
	if len(due) != 1 || due[0].Keyword != "meds" {
		t.Fatalf("expected one due trigger, got %v", due)
	}
	if due[0].Channel != "telegram" || due[0].ChatID != "100" {
		t.Errorf("chat routing lost: %+v", due[0])
	}
}

func TestExpiredTriggersNeverDue(t *testing.T) {
	s := newTestStore(t)

	past := time.Now().Add(-time.Hour)
	tr, err := s.Create("old", "* * * * *", "telegram", "100", &past)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	s.UpdateNextRun(tr.ID, time.Now().Add(-time.Minute))

	due, err := s.GetDue()
	if err != nil {
		t.Fatalf("get due failed: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("expired trigger fired: %v", due)
	}

	n, err := s.DeleteExpired()
	if err != nil {
		t.Fatalf("delete expired failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired deletion, got %d", n)
	}
}

func TestGetByChatScoped(t *testing.T) {
	s := newTestStore(t)

	s.Create("a", "0 9 * * *", "telegram", "100", nil)
	s.Create("b", "0 10 * * *", "telegram", "100", nil)
	s.Create("other", "0 9 * * *", "discord", "200", nil)

	triggers, err := s.GetByChat("telegram", "100")
	if err != nil {
		t.Fatalf("get by chat failed: %v", err)
	}
	if len(triggers) != 2 {
		t.Fatalf("expected 2 triggers, got %d", len(triggers))
	}
	for _, tr := range triggers {
		if tr.Channel != "telegram" || tr.ChatID != "100" {
			t.Errorf("wrong chat leaked in: %+v", tr)
		}
	}
}

func TestDeleteByKeyword(t *testing.T) {
	s := newTestStore(t)

	s.Create("meds", "0 9 * * *", "telegram", "100", nil)
	s.Create("meds", "0 9 * * *", "discord", "200", nil)

	removed, err := s.DeleteByKeyword("meds", "telegram", "100")
	if err != nil || !removed {
		t.Fatalf("delete failed: removed=%v err=%v", removed, err)
	}

	removed, _ = s.DeleteByKeyword("meds", "telegram", "100")
	if removed {
		t.Error("second delete reported success")
	}

	// The other chat's trigger survives.
	left, _ := s.GetByChat("discord", "200")
	if len(left) != 1 {
		t.Errorf("wrong chat's trigger deleted: %v", left)
	}
}

func TestComputeNextRun(t *testing.T) {
	next, err := ComputeNextRun("*/10 * * * *")
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if !next.After(time.Now()) || time.Until(next) > 10*time.Minute {
		t.Errorf("implausible next run: %v", next)
	}

	if _, err := ComputeNextRun("banana"); err == nil {
		t.Error("invalid schedule accepted")
	}
}
