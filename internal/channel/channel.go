// Package channel connects chat surfaces (Telegram, Discord, a local
// CLI) to the message bus. Adapters publish inbound messages and
// register an outbound handler; they never talk to the agent directly.
package channel

import (
	"context"
	"strings"
	"sync"
)

// Adapter is one chat surface.
type Adapter interface {
	Name() string
	Start(ctx context.Context) error
}

// Canceller aborts the in-flight turn for a session. Returns false when
// nothing was running.
type Canceller interface {
	CancelSession(sessionKey string) bool
}

var stopWords = map[string]bool{
	"stop":   true,
	"cancel": true,
	"abort":  true,
	"esc":    true,
}

// isStopWord reports whether the message is a bare interrupt request.
func isStopWord(text string) bool {
	return stopWords[strings.ToLower(strings.TrimSpace(text))]
}

// accumulator buffers stream chunks per chat until the stream-end
// arrives, since chat APIs deliver whole messages.
type accumulator struct {
	mu   sync.Mutex
	bufs map[string]*strings.Builder
}

func newAccumulator() *accumulator {
	return &accumulator{bufs: make(map[string]*strings.Builder)}
}

func (a *accumulator) add(chatID, chunk string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.bufs[chatID]
	if !ok {
		b = &strings.Builder{}
		a.bufs[chatID] = b
	}
	b.WriteString(chunk)
}

// flush returns the buffered text for a chat and resets it.
func (a *accumulator) flush(chatID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.bufs[chatID]
	if !ok {
		return ""
	}
	delete(a.bufs, chatID)
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
