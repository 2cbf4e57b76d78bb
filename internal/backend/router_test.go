package backend

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// stubBackend emits a single canned reply per run.
type stubBackend struct {
	name    string
	reply   string
	runs    atomic.Int32
	stopped atomic.Int32
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Run(ctx context.Context, req Request) *Stream {
	s.runs.Add(1)
	stream, runCtx := NewStream(ctx)
	go func() {
		defer stream.Finish()
		stream.Emit(runCtx, AgentEvent{Kind: KindMessage, Content: s.reply})
		stream.Emit(runCtx, AgentEvent{Kind: KindDone})
	}()
	return stream
}

func (s *stubBackend) Stop() { s.stopped.Add(1) }

func TestRouterUsesActiveBackend(t *testing.T) {
	a := &stubBackend{name: "a", reply: "from a"}
	b := &stubBackend{name: "b", reply: "from b"}

	active := "b"
	r := NewRouter(func() string { return active }, "a")
	r.Register("a", func() (Backend, error) { return a, nil })
	r.Register("b", func() (Backend, error) { return b, nil })

	events := collect(t, r.Run(context.Background(), Request{Content: "hi"}))
	if events[0].Content != "from b" {
		t.Errorf("wrong backend served: %q", events[0].Content)
	}
	if r.CurrentName() != "b" {
		t.Errorf("CurrentName = %q", r.CurrentName())
	}
}

func TestRouterFallsBackOnUnknownName(t *testing.T) {
	a := &stubBackend{name: "a", reply: "from a"}

	r := NewRouter(func() string { return "missing" }, "a")
	r.Register("a", func() (Backend, error) { return a, nil })

	events := collect(t, r.Run(context.Background(), Request{Content: "hi"}))
	if events[0].Content != "from a" {
		t.Errorf("fallback not used: %q", events[0].Content)
	}
	if r.CurrentName() != "a" {
		t.Errorf("CurrentName = %q", r.CurrentName())
	}
}

func TestRouterNoBackendYieldsErrorStream(t *testing.T) {
	r := NewRouter(func() string { return "nope" }, "also-missing")

	events := collect(t, r.Run(context.Background(), Request{Content: "hi"}))
	if len(events) != 2 || events[0].Kind != KindError || events[1].Kind != KindDone {
		t.Fatalf("expected error then done, got %v", kinds(events))
	}
	if !strings.Contains(events[0].Content, "no agent backend available") {
		t.Errorf("unexpected error: %q", events[0].Content)
	}
}

func TestRouterFactoryErrorYieldsErrorStream(t *testing.T) {
	r := NewRouter(func() string { return "bad" }, "bad")
	r.Register("bad", func() (Backend, error) { return nil, errors.New("no api key") })

	events := collect(t, r.Run(context.Background(), Request{Content: "hi"}))
	if events[0].Kind != KindError || !strings.Contains(events[0].Content, "no api key") {
		t.Errorf("factory error lost: %v", events)
	}
}

func TestRouterCachesUntilReset(t *testing.T) {
	a := &stubBackend{name: "a", reply: "ok"}
	builds := 0

	r := NewRouter(func() string { return "a" }, "a")
	r.Register("a", func() (Backend, error) {
		builds++
		return a, nil
	})

	collect(t, r.Run(context.Background(), Request{}))
	collect(t, r.Run(context.Background(), Request{}))
	if builds != 1 {
		t.Errorf("backend rebuilt without reset: %d builds", builds)
	}

	r.Reset()
	if a.stopped.Load() == 0 {
		t.Error("reset did not stop the cached backend")
	}

	collect(t, r.Run(context.Background(), Request{}))
	if builds != 2 {
		t.Errorf("expected rebuild after reset, got %d builds", builds)
	}
}

func TestRouterSwitchStopsPrevious(t *testing.T) {
	a := &stubBackend{name: "a", reply: "from a"}
	b := &stubBackend{name: "b", reply: "from b"}

	active := "a"
	r := NewRouter(func() string { return active }, "a")
	r.Register("a", func() (Backend, error) { return a, nil })
	r.Register("b", func() (Backend, error) { return b, nil })

	collect(t, r.Run(context.Background(), Request{}))
	active = "b"
	collect(t, r.Run(context.Background(), Request{}))

	if a.stopped.Load() == 0 {
		t.Error("previous backend not stopped on switch")
	}
	if b.runs.Load() != 1 {
		t.Errorf("new backend runs = %d", b.runs.Load())
	}
}

func TestRouterNamesSorted(t *testing.T) {
	r := NewRouter(func() string { return "" }, "a")
	r.Register("zeta", func() (Backend, error) { return nil, nil })
	r.Register("alpha", func() (Backend, error) { return nil, nil })

	names := r.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("names not sorted: %v", names)
	}
	if !r.Has("zeta") || r.Has("omega") {
		t.Error("Has answered wrong")
	}
}

func TestStreamCloseReleasesProducer(t *testing.T) {
	stream, runCtx := NewStream(context.Background())

	produced := make(chan int, 1)
	go func() {
		n := 0
		for {
			if !stream.Emit(runCtx, AgentEvent{Kind: KindMessage, Content: "x"}) {
				break
			}
			n++
		}
		produced <- n
		stream.Finish()
	}()

	// Take one event, then walk away mid-stream.
	<-stream.Events()
	stream.Close()
	stream.Close() // idempotent

	select {
	case <-produced:
	case <-time.After(3 * time.Second):
		t.Fatal("producer never released")
	}
}
