// Package budget tracks daily token spend across backends and warns
// before the configured ceiling is reached.
package budget

import (
	"sync"
	"time"

	"github.com/bowerhall/pawd/internal/logger"
)

type Config struct {
	DailyLimit int
	WarnAt     float64
	Timezone   *time.Location
}

type Tracker struct {
	mu         sync.Mutex
	dailyLimit int
	warnAt     float64
	tokens     int
	lastReset  time.Time
	onWarn     func(used, limit int)
	onExceeded func(used, limit int)
	warnSent   bool
	timezone   *time.Location
	store      *Store
}

func NewTracker(cfg Config, onWarn, onExceeded func(used, limit int)) *Tracker {
	tz := cfg.Timezone
	if tz == nil {
		tz = time.UTC
	}

	return &Tracker{
		dailyLimit: cfg.DailyLimit,
		warnAt:     cfg.WarnAt,
		lastReset:  time.Now().In(tz),
		onWarn:     onWarn,
		onExceeded: onExceeded,
		timezone:   tz,
	}
}

// SetStore attaches the persistent usage store and seeds today's count
// from it, so restarts do not reset the daily window.
func (t *Tracker) SetStore(s *Store) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.store = s
	if s == nil {
		return
	}

	tokens, err := s.TodayTokens()
	if err != nil {
		logger.Error("failed to load today's usage", "error", err)
		return
	}
	t.tokens = tokens
	if float64(t.tokens) >= float64(t.dailyLimit)*t.warnAt {
		t.warnSent = true
	}
}

func (t *Tracker) Store() *Store {
	return t.store
}

// Record persists one turn's usage and adds it to the running count.
// Returns false once the daily limit is exceeded.
func (t *Tracker) Record(provider, model string, inputTokens, outputTokens int) bool {
	if t.store != nil {
		if err := t.store.Record(provider, model, inputTokens, outputTokens); err != nil {
			// usage tracking must never block a response
			logger.Error("failed to record usage", "error", err)
		}
	}

	return t.Add(inputTokens + outputTokens)
}

func (t *Tracker) Add(tokens int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkReset()
	t.tokens += tokens

	if t.tokens >= t.dailyLimit {
		if t.onExceeded != nil {
			t.onExceeded(t.tokens, t.dailyLimit)
		}
		return false
	}

	if !t.warnSent && float64(t.tokens) >= float64(t.dailyLimit)*t.warnAt {
		t.warnSent = true
		if t.onWarn != nil {
			t.onWarn(t.tokens, t.dailyLimit)
		}
	}

	return true
}

func (t *Tracker) Usage() (used, limit int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkReset()
	return t.tokens, t.dailyLimit
}

// must hold lock
func (t *Tracker) checkReset() {
	now := time.Now().In(t.timezone)
	if now.YearDay() != t.lastReset.YearDay() || now.Year() != t.lastReset.Year() {
		t.tokens = 0
		t.warnSent = false
		t.lastReset = now
	}
}
