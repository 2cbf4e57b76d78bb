package agent

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/bowerhall/pawd/internal/backend"
	"github.com/bowerhall/pawd/internal/bootstrap"
	"github.com/bowerhall/pawd/internal/budget"
	"github.com/bowerhall/pawd/internal/bus"
	"github.com/bowerhall/pawd/internal/commands"
	"github.com/bowerhall/pawd/internal/config"
	"github.com/bowerhall/pawd/internal/health"
	"github.com/bowerhall/pawd/internal/llm"
	"github.com/bowerhall/pawd/internal/logger"
	"github.com/bowerhall/pawd/internal/memory"
	"github.com/bowerhall/pawd/internal/security"
)

// maxLearnTasks bounds concurrent background fact-extraction tasks so
// sustained load cannot grow them without limit.
const maxLearnTasks = 8

// Loop consumes inbound messages from the bus, gates them through the
// global limiter and per-session locks, and drives one turn pipeline per
// message.
type Loop struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	memory   *memory.Store
	builder  *bootstrap.Builder
	scanner  *security.Scanner
	router   *backend.Router
	commands *commands.Handler

	errlog    *health.ErrorLog // optional
	budget    *budget.Tracker  // optional
	extractor llm.LLM          // optional, powers auto-learn

	sem   *semaphore.Weighted
	locks *lockTable

	mu     sync.Mutex
	active map[string]*activeTurn

	turnSeq    atomic.Int64
	learnTasks atomic.Int64
}

// activeTurn is a cancellation handle for one in-flight pipeline.
type activeTurn struct {
	id     int64
	cancel context.CancelFunc
}

func NewLoop(
	cfg *config.Config,
	messageBus *bus.MessageBus,
	store *memory.Store,
	builder *bootstrap.Builder,
	scanner *security.Scanner,
	router *backend.Router,
	cmdHandler *commands.Handler,
) *Loop {
	capacity := cfg.MaxConcurrent
	if capacity <= 0 {
		capacity = 5
	}

	return &Loop{
		cfg:      cfg,
		bus:      messageBus,
		memory:   store,
		builder:  builder,
		scanner:  scanner,
		router:   router,
		commands: cmdHandler,
		sem:      semaphore.NewWeighted(int64(capacity)),
		locks:    newLockTable(),
		active:   make(map[string]*activeTurn),
	}
}

// SetErrorLog installs the durable error log for backend faults.
func (l *Loop) SetErrorLog(el *health.ErrorLog) {
	l.errlog = el
}

// SetBudget installs the daily token budget fed from token_usage events.
func (l *Loop) SetBudget(b *budget.Tracker) {
	l.budget = b
}

// SetExtractor enables background fact extraction after completed turns.
func (l *Loop) SetExtractor(model llm.LLM) {
	l.extractor = model
}

// Run is the dispatch loop: poll, spawn, repeat. It returns when ctx is
// cancelled. Per-message errors never surface here; they are contained
// inside the spawned turn.
func (l *Loop) Run(ctx context.Context) {
	logger.Info("agent loop started", "capacity", l.cfg.MaxConcurrent)

	for {
		if ctx.Err() != nil {
			logger.Info("agent loop stopped")
			return
		}

		msg := l.bus.ConsumeInbound(ctx, l.cfg.PollTimeout)
		if msg == nil {
			continue
		}

		l.dispatch(ctx, *msg)
	}
}

// dispatch spawns one turn pipeline and tracks it for cancellation. The
// registry entry is removed by a completion hook on every outcome.
func (l *Loop) dispatch(ctx context.Context, msg bus.InboundMessage) {
	sessionKey := msg.SessionKey()
	turnCtx, cancel := context.WithCancel(ctx)

	turn := &activeTurn{id: l.turnSeq.Add(1), cancel: cancel}

	l.mu.Lock()
	l.active[sessionKey] = turn
	l.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			l.mu.Lock()
			// A newer turn for the same key may have replaced us.
			if cur, ok := l.active[sessionKey]; ok && cur.id == turn.id {
				delete(l.active, sessionKey)
			}
			l.mu.Unlock()
		}()

		l.processMessage(turnCtx, msg)
	}()
}

// CancelSession stops in-flight processing for a session: the shared
// backend is told to stop producing (engine-wide, not per-session) and
// the session's pipeline, if any, is cancelled. Returns false when
// nothing was running; the caller should then synthesize a stream-end so
// the UI does not hang.
func (l *Loop) CancelSession(sessionKey string) bool {
	l.router.Stop()

	l.mu.Lock()
	turn, ok := l.active[sessionKey]
	l.mu.Unlock()

	if !ok {
		return false
	}

	turn.cancel()
	logger.Info("cancelled turn", "session", sessionKey)
	return true
}

// ActiveSessions reports how many turns are currently registered.
func (l *Loop) ActiveSessions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// processMessage runs one turn under both concurrency gates. Acquisition
// order is always global-then-session so a held session lock never waits
// on an exhausted global limiter.
func (l *Loop) processMessage(ctx context.Context, msg bus.InboundMessage) {
	sessionKey := msg.SessionKey()
	logger.Debug("processing message", "session", sessionKey)

	// Resolve aliases so chats pointing at the same session serialize
	// against the same lock.
	resolved, err := l.memory.ResolveSessionKey(sessionKey)
	if err != nil {
		logger.Error("session key resolution failed", "session", sessionKey, "error", err)
		resolved = sessionKey
	}

	if err := l.sem.Acquire(ctx, 1); err != nil {
		logger.Debug("turn cancelled before global slot", "session", sessionKey)
		return
	}
	defer l.sem.Release(1)

	release, err := l.locks.acquire(ctx, resolved)
	if err != nil {
		logger.Debug("turn cancelled before session lock", "session", sessionKey)
		return
	}
	defer release()

	l.runPipeline(ctx, msg, resolved)
}
