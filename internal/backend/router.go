package backend

import (
	"context"
	"sort"
	"sync"

	"github.com/bowerhall/pawd/internal/logger"
)

// Factory builds a backend on first use.
type Factory func() (Backend, error)

// Router selects the configured backend lazily and falls back to the
// default when the requested one is unavailable.
type Router struct {
	mu        sync.Mutex
	factories map[string]Factory
	active    func() string // reads the configured backend name
	fallback  string

	current     Backend
	currentName string
}

func NewRouter(active func() string, fallback string) *Router {
	return &Router{
		factories: make(map[string]Factory),
		active:    active,
		fallback:  fallback,
	}
}

func (r *Router) Register(name string, fn Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = fn
}

// Names returns all registered backend names, sorted.
func (r *Router) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a backend name is registered.
func (r *Router) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.factories[name]
	return ok
}

// CurrentName returns the name of the backend that would serve the next
// turn.
func (r *Router) CurrentName() string {
	name := r.active()
	if !r.Has(name) {
		return r.fallback
	}
	return name
}

// Run resolves the active backend and starts a turn. When no backend can
// be built the returned stream carries a single error event followed by
// done, so callers project it like any other turn.
func (r *Router) Run(ctx context.Context, req Request) *Stream {
	b, err := r.resolve()
	if err != nil {
		stream, runCtx := NewStream(ctx)
		go func() {
			defer stream.Finish()
			stream.Emit(runCtx, AgentEvent{Kind: KindError, Content: "no agent backend available: " + err.Error()})
			stream.Emit(runCtx, AgentEvent{Kind: KindDone})
		}()
		return stream
	}
	return b.Run(ctx, req)
}

// Stop aborts whatever the current backend is producing. Engine-wide, not
// scoped to one session.
func (r *Router) Stop() {
	r.mu.Lock()
	b := r.current
	r.mu.Unlock()
	if b != nil {
		b.Stop()
	}
}

// Reset drops the cached backend so the next Run re-reads settings.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.current.Stop()
	}
	r.current = nil
	r.currentName = ""
}

func (r *Router) resolve() (Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := r.active()
	if _, ok := r.factories[name]; !ok {
		if name != "" {
			logger.Warn("backend unavailable, using fallback", "requested", name, "fallback", r.fallback)
		}
		name = r.fallback
	}

	if r.current != nil && r.currentName == name {
		return r.current, nil
	}

	fn, ok := r.factories[name]
	if !ok {
		return nil, errUnknownBackend(name)
	}

	b, err := fn()
	if err != nil {
		return nil, err
	}

	if r.current != nil {
		r.current.Stop()
	}
	r.current = b
	r.currentName = name
	logger.Info("backend ready", "name", name)
	return b, nil
}

type errUnknownBackend string

func (e errUnknownBackend) Error() string {
	return "unknown backend: " + string(e)
}
