package agent

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/bowerhall/pawd/internal/backend"
	"github.com/bowerhall/pawd/internal/bus"
	"github.com/bowerhall/pawd/internal/logger"
	"github.com/bowerhall/pawd/internal/memory"
	"github.com/bowerhall/pawd/internal/security"
)

// interruptionMarker is appended to a partial reply when the turn is
// cancelled mid-stream, so the stored history shows the cut.
const interruptionMarker = "\n\n[Response interrupted]"

const blockedReply = "That message looked like a prompt injection attempt, so I did not process it."

const welcomeMessage = "Welcome! I'm Paw. Type /help (or !help) to see available commands."

// runPipeline executes one full turn: command interception, safety scan,
// context assembly, backend run with event projection, persistence.
// Every path out of the streaming stage emits exactly one stream-end.
func (l *Loop) runPipeline(ctx context.Context, msg bus.InboundMessage, resolved string) {
	// Commands short-circuit before the backend is ever involved.
	if l.commands != nil && l.commands.IsCommand(msg.Content) {
		if resp := l.commands.Handle(msg); resp != nil {
			l.bus.PublishOutbound(*resp)
			l.sendStreamEnd(msg, nil)
		}
		return
	}

	// One-time greeting on a chat's very first message, checked before
	// the inbound message is persisted. Internal channels never get it.
	if l.cfg.WelcomeHint && msg.Channel != bus.ChannelCLI && msg.Channel != bus.ChannelSystem {
		if existing, err := l.memory.GetSessionHistory(resolved, 1); err == nil && len(existing) == 0 {
			l.bus.PublishOutbound(bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: welcomeMessage,
			})
		}
	}

	content := msg.Content
	source := msg.Metadata["source"]
	if source == "" {
		source = msg.Channel
	}

	if l.cfg.InjectionScan && l.scanner != nil {
		res := l.scanner.Scan(content, source)
		if res.ThreatLevel == security.ThreatHigh && l.cfg.DeepScanLLM {
			res = l.scanner.DeepScan(ctx, content, source)
		}
		if res.ThreatLevel == security.ThreatHigh {
			logger.Warn("blocked inbound message",
				"session", resolved, "patterns", strings.Join(res.MatchedPatterns, ","))
			l.bus.PublishSystem(bus.SystemEvent{
				EventType: "security_block",
				Data:      map[string]any{"session": resolved, "patterns": res.MatchedPatterns},
			})
			l.bus.PublishOutbound(bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: blockedReply,
			})
			return
		}
		content = res.SanitizedContent
	}

	if err := l.memory.AddToSession(resolved, "user", content, inboundMetadata(msg)); err != nil {
		logger.Error("failed to persist inbound message", "session", resolved, "error", err)
	}

	// Attached files are referenced by path so tools can read them.
	if len(msg.Media) > 0 {
		content += fmt.Sprintf("\n[Media files on disk: %s]", strings.Join(msg.Media, ", "))
	}

	systemPrompt, history, err := l.assembleContext(ctx, msg, resolved)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Error("context assembly failed", "session", resolved, "error", err)
	}

	req := backend.Request{
		Content:      content,
		SystemPrompt: systemPrompt,
		History:      history,
		SessionKey:   resolved,
		Channel:      msg.Channel,
		ChatID:       msg.ChatID,
		SenderID:     msg.SenderID,
	}
	userText := content
	l.streamTurn(ctx, msg, resolved, req, userText)
}

// assembleContext builds the system prompt and compacted history
// concurrently. A failure in either leg degrades to empty rather than
// aborting the turn.
func (l *Loop) assembleContext(ctx context.Context, msg bus.InboundMessage, resolved string) (string, []backend.HistoryEntry, error) {
	var (
		systemPrompt string
		messages     []memory.Message
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if l.builder == nil {
			return nil
		}
		var err error
		systemPrompt, err = l.builder.Build(gctx, msg)
		return err
	})
	g.Go(func() error {
		var err error
		messages, err = l.memory.GetCompactedHistory(gctx, resolved, memory.CompactionConfig{
			RecentWindow: l.cfg.Compaction.RecentWindow,
			CharBudget:   l.cfg.Compaction.CharBudget,
			SummaryChars: l.cfg.Compaction.SummaryChars,
			LLMSummarize: l.cfg.Compaction.LLMSummarize,
		})
		return err
	})
	err := g.Wait()

	history := make([]backend.HistoryEntry, 0, len(messages))
	for _, m := range messages {
		history = append(history, backend.HistoryEntry{Role: m.Role, Content: m.Content})
	}
	return systemPrompt, history, err
}

// streamTurn runs the backend and projects its events onto the bus.
// Exactly one stream-end leaves here, on success, fault, and
// cancellation alike.
func (l *Loop) streamTurn(ctx context.Context, msg bus.InboundMessage, resolved string, req backend.Request, userText string) {
	stream := l.router.Run(ctx, req)
	defer stream.Close()

	var (
		reply     strings.Builder
		media     []string
		cancelled bool
		faulted   bool
	)

events:
	for {
		select {
		case <-ctx.Done():
			cancelled = true
			break events
		case ev, ok := <-stream.Events():
			if !ok {
				break events
			}
			switch ev.Kind {
			case backend.KindMessage:
				chunk := security.Redact(ev.Content)
				reply.WriteString(chunk)
				l.bus.PublishOutbound(bus.OutboundMessage{
					Channel:       msg.Channel,
					ChatID:        msg.ChatID,
					Content:       chunk,
					IsStreamChunk: true,
				})

			case backend.KindThinking:
				l.bus.PublishSystem(bus.SystemEvent{
					EventType: "thinking",
					Data:      map[string]any{"content": ev.Content, "session": resolved},
				})

			case backend.KindThinkingDone:
				l.bus.PublishSystem(bus.SystemEvent{
					EventType: "thinking_done",
					Data:      map[string]any{"session": resolved},
				})

			case backend.KindTokenUsage:
				l.bus.PublishSystem(bus.SystemEvent{
					EventType: "token_usage",
					Data:      mergeMeta(ev.Meta, map[string]any{"session": resolved}),
				})
				l.recordUsage(ev.Meta)

			case backend.KindToolUse:
				l.bus.PublishSystem(bus.SystemEvent{
					EventType: "tool_start",
					Data:      map[string]any{"tool": ev.Content, "session": resolved},
				})

			case backend.KindToolResult:
				l.bus.PublishSystem(bus.SystemEvent{
					EventType: "tool_result",
					Data:      map[string]any{"session": resolved, "result": preview(ev.Content, 200), "status": "success"},
				})
				media = append(media, extractMediaTags(ev.Content)...)

			case backend.KindError:
				faulted = true
				l.router.Stop()
				logger.Error("backend fault", "session", resolved, "error", ev.Content)
				if l.errlog != nil {
					l.errlog.Record(resolved, l.router.CurrentName(), ev.Content)
				}
				l.bus.PublishSystem(bus.SystemEvent{
					EventType: "tool_result",
					Data:      map[string]any{"name": "agent", "result": ev.Content, "status": "error", "session": resolved},
				})
				// The error chunk reaches the user but is never stored
				// as assistant content.
				chunk := security.Redact("Something went wrong: " + ev.Content)
				l.bus.PublishOutbound(bus.OutboundMessage{
					Channel:       msg.Channel,
					ChatID:        msg.ChatID,
					Content:       chunk,
					IsStreamChunk: true,
				})

			case backend.KindDone:
				break events
			}
		}
	}

	replyText := reply.String()
	if cancelled && replyText != "" {
		replyText += interruptionMarker
	}

	// Tool results carry explicit media tags; the reply text may also
	// name generated files without tagging them.
	media = append(media, extractGeneratedPaths(replyText)...)
	l.sendStreamEnd(msg, dedupePaths(media))

	if replyText != "" {
		if err := l.memory.AddToSession(resolved, "assistant", replyText, nil); err != nil {
			logger.Error("failed to persist reply", "session", resolved, "error", err)
		}
	}

	if !cancelled && !faulted && replyText != "" {
		l.maybeLearn(msg.SenderID, userText, replyText)
	}
}

// sendStreamEnd flushes the turn boundary to the message's channel.
func (l *Loop) sendStreamEnd(msg bus.InboundMessage, media []string) {
	l.bus.PublishOutbound(bus.OutboundMessage{
		Channel:     msg.Channel,
		ChatID:      msg.ChatID,
		IsStreamEnd: true,
		Media:       media,
	})
}

func (l *Loop) recordUsage(meta map[string]any) {
	if l.budget == nil {
		return
	}
	model, _ := meta["model"].(string)
	l.budget.Record(l.router.CurrentName(), model, metaInt(meta, "input_tokens"), metaInt(meta, "output_tokens"))
}

func inboundMetadata(msg bus.InboundMessage) map[string]string {
	md := map[string]string{"sender_id": msg.SenderID}
	for k, v := range msg.Metadata {
		md[k] = v
	}
	return md
}

func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func mergeMeta(meta map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(meta)+len(extra))
	for k, v := range meta {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func preview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
