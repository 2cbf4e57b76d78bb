package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bowerhall/pawd/internal/bus"
	"github.com/bowerhall/pawd/internal/config"
	"github.com/bowerhall/pawd/internal/memory"
)

func newTestBuilder(t *testing.T, cfg *config.Config) (*Builder, *memory.Store) {
	t.Helper()
	store, err := memory.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if cfg == nil {
		cfg = &config.Config{Timezone: "UTC"}
	}
	return NewBuilder(cfg, store), store
}

func telegramMsg(content string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:  bus.ChannelTelegram,
		SenderID: "7",
		ChatID:   "100",
		Content:  content,
	}
}

func TestBuildDefaultPersona(t *testing.T) {
	b, _ := newTestBuilder(t, &config.Config{Timezone: "UTC", EssencePath: t.TempDir()})

	prompt, err := b.Build(context.Background(), telegramMsg("hi"))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if !strings.Contains(prompt, "You are Paw") {
		t.Errorf("default persona missing: %q", prompt)
	}
	if !strings.Contains(prompt, "Current time:") {
		t.Error("time section missing")
	}
	if !strings.Contains(prompt, "Channel: telegram") {
		t.Error("channel section missing")
	}
}

func TestBuildReadsPersonaFile(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "SOUL.md"), []byte("You are Marrow, keeper of bones."), 0o644)

	b, _ := newTestBuilder(t, &config.Config{Timezone: "UTC", EssencePath: dir})

	prompt, _ := b.Build(context.Background(), telegramMsg("hi"))
	if !strings.Contains(prompt, "keeper of bones") {
		t.Errorf("persona file not used: %q", prompt)
	}
	if strings.Contains(prompt, "You are Paw") {
		t.Error("default persona leaked alongside the file")
	}
}

func TestBuildIncludesFacts(t *testing.T) {
	b, store := newTestBuilder(t, nil)

	store.AddFact("7", "city", "Lisbon", 0.9)
	store.AddFact("7", "dog", "Biscuit", 0.8)

	prompt, _ := b.Build(context.Background(), telegramMsg("hi"))
	if !strings.Contains(prompt, "city: Lisbon") || !strings.Contains(prompt, "dog: Biscuit") {
		t.Errorf("facts missing: %q", prompt)
	}

	// Another sender's prompt must not see them.
	other := telegramMsg("hi")
	other.SenderID = "8"
	prompt, _ = b.Build(context.Background(), other)
	if strings.Contains(prompt, "Lisbon") {
		t.Error("facts leaked across senders")
	}
}

func TestBuildCancelledContext(t *testing.T) {
	b, _ := newTestBuilder(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := b.Build(ctx, telegramMsg("hi")); err == nil {
		t.Error("expected error from cancelled context")
	}
}
