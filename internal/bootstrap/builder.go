// Package bootstrap assembles the per-turn system prompt from the
// persona file, remembered facts, and the current time.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bowerhall/pawd/internal/bus"
	"github.com/bowerhall/pawd/internal/config"
	"github.com/bowerhall/pawd/internal/logger"
	"github.com/bowerhall/pawd/internal/memory"
)

const defaultPersona = `You are Paw, a personal assistant reachable over chat. Be concise, warm, and direct.`

type Builder struct {
	cfg    *config.Config
	memory *memory.Store
}

func NewBuilder(cfg *config.Config, store *memory.Store) *Builder {
	return &Builder{cfg: cfg, memory: store}
}

// Build produces the system prompt for one turn. Every section degrades
// independently; a missing persona file or fact lookup failure never
// fails the turn.
func (b *Builder) Build(ctx context.Context, msg bus.InboundMessage) (string, error) {
	var sections []string

	sections = append(sections, b.loadPersona())

	now := time.Now()
	if loc, err := time.LoadLocation(b.cfg.Timezone); err == nil {
		now = now.In(loc)
	}
	sections = append(sections, fmt.Sprintf("Current time: %s", now.Format("Monday, January 2, 2006 at 15:04 MST")))
	sections = append(sections, fmt.Sprintf("Channel: %s", msg.Channel))

	if facts := b.loadFacts(msg.SenderID); facts != "" {
		sections = append(sections, facts)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.Join(sections, "\n\n"), nil
}

func (b *Builder) loadPersona() string {
	path := filepath.Join(b.cfg.EssencePath, "SOUL.md")
	soul, err := os.ReadFile(path)
	if err != nil {
		logger.Debug("no persona file, using default", "path", path)
		return defaultPersona
	}
	return string(soul)
}

func (b *Builder) loadFacts(senderID string) string {
	facts, err := b.memory.FactsBySender(senderID)
	if err != nil {
		logger.Error("fact lookup failed", "sender", senderID, "error", err)
		return ""
	}
	if len(facts) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("What you remember about this person:\n")
	for _, f := range facts {
		fmt.Fprintf(&sb, "- %s: %s\n", f.Field, f.Value)
	}
	return strings.TrimRight(sb.String(), "\n")
}
