package backend

import (
	"context"
	"sync"
)

// Kind tags an AgentEvent. The set is closed: event projection in the
// agent loop switches exhaustively over these values.
type Kind string

const (
	KindMessage      Kind = "message"
	KindThinking     Kind = "thinking"
	KindThinkingDone Kind = "thinking_done"
	KindTokenUsage   Kind = "token_usage"
	KindToolUse      Kind = "tool_use"
	KindToolResult   Kind = "tool_result"
	KindError        Kind = "error"
	KindDone         Kind = "done"
)

// AgentEvent is the unit of streamed backend output. Every backend maps
// its vendor protocol onto this contract.
type AgentEvent struct {
	Kind    Kind
	Content string
	Meta    map[string]any
}

// HistoryEntry is one prior turn handed to a backend.
type HistoryEntry struct {
	Role    string
	Content string
}

// Request carries everything a backend needs for one turn.
type Request struct {
	Content      string
	SystemPrompt string
	History      []HistoryEntry
	SessionKey   string
	Channel      string
	ChatID       string
	SenderID     string
}

// Backend runs conversational turns against one reasoning engine.
// Stop is engine-wide: it aborts whatever the backend is currently
// producing, best-effort and idempotent.
type Backend interface {
	Name() string
	Run(ctx context.Context, req Request) *Stream
	Stop()
}

// Stream is a lazy sequence of AgentEvents. The producer goroutine closes
// the events channel when done; consumers must call Close on every exit
// path to release the producer.
type Stream struct {
	events chan AgentEvent
	cancel context.CancelFunc
	once   sync.Once
}

// NewStream returns a stream and the context the producer must honor.
func NewStream(ctx context.Context) (*Stream, context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	return &Stream{
		events: make(chan AgentEvent, 16),
		cancel: cancel,
	}, runCtx
}

// Events returns the receive side. The channel closes when the producer
// finishes.
func (s *Stream) Events() <-chan AgentEvent {
	return s.events
}

// Emit sends one event, giving up if the consumer is gone. Returns false
// when the producer should stop.
func (s *Stream) Emit(ctx context.Context, ev AgentEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Finish closes the event channel. Producer-side only, call exactly once
// after the final event.
func (s *Stream) Finish() {
	close(s.events)
}

// Close cancels the producer and drains remaining events so the producer
// goroutine can exit. Safe to call multiple times.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.cancel()
		for range s.events {
		}
	})
}
