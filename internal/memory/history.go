package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/bowerhall/pawd/internal/llm"
	"github.com/bowerhall/pawd/internal/logger"
)

// CompactionConfig bounds how much history reaches the backend.
type CompactionConfig struct {
	RecentWindow int  // messages passed through verbatim
	CharBudget   int  // total character budget for the result
	SummaryChars int  // cap on the synthesized summary block
	LLMSummarize bool // summarize the overflow with the summarizer LLM
}

func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		RecentWindow: 20,
		CharBudget:   24000,
		SummaryChars: 1500,
	}
}

// SetSummarizer installs the LLM used for overflow summarization.
func (s *Store) SetSummarizer(model llm.LLM) {
	s.summarizer = model
}

const summarizePrompt = `Summarize the following conversation excerpt in at most %d characters. Keep names, decisions, and open tasks. Plain prose, no preamble.

%s`

// GetCompactedHistory returns recent turns verbatim with older overflow
// collapsed into a single system summary entry. The result always fits
// the character budget.
func (s *Store) GetCompactedHistory(ctx context.Context, sessionKey string, cfg CompactionConfig) ([]Message, error) {
	if cfg.RecentWindow <= 0 {
		cfg = DefaultCompactionConfig()
	}

	all, err := s.GetSessionHistory(sessionKey, 0)
	if err != nil {
		return nil, err
	}

	if len(all) <= cfg.RecentWindow {
		return trimToBudget(all, cfg.CharBudget), nil
	}

	older := all[:len(all)-cfg.RecentWindow]
	recent := all[len(all)-cfg.RecentWindow:]

	summary := s.summarizeOverflow(ctx, older, cfg)
	if summary != "" {
		compacted := make([]Message, 0, len(recent)+1)
		compacted = append(compacted, Message{
			Role:    "system",
			Content: "[Earlier conversation summary]\n" + summary,
		})
		compacted = append(compacted, recent...)
		return trimToBudget(compacted, cfg.CharBudget), nil
	}

	return trimToBudget(recent, cfg.CharBudget), nil
}

func (s *Store) summarizeOverflow(ctx context.Context, older []Message, cfg CompactionConfig) string {
	if cfg.SummaryChars <= 0 {
		return ""
	}

	var b strings.Builder
	for _, m := range older {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	excerpt := b.String()

	if cfg.LLMSummarize && s.summarizer != nil {
		prompt := fmt.Sprintf(summarizePrompt, cfg.SummaryChars, excerpt)
		summary, err := s.summarizer.Chat(ctx, "", []llm.Message{{Role: "user", Content: prompt}})
		if err == nil && summary != "" {
			if len(summary) > cfg.SummaryChars {
				summary = summary[:cfg.SummaryChars]
			}
			return summary
		}
		logger.Debug("llm summarization failed, using truncation", "error", err)
	}

	if len(excerpt) > cfg.SummaryChars {
		excerpt = excerpt[:cfg.SummaryChars]
	}
	return excerpt
}

// trimToBudget drops oldest messages until the total content length fits.
func trimToBudget(messages []Message, budget int) []Message {
	if budget <= 0 {
		return messages
	}

	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}

	for len(messages) > 1 && total > budget {
		total -= len(messages[0].Content)
		messages = messages[1:]
	}
	return messages
}
