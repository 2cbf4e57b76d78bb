package backend

import (
	"context"
	"sync"

	"github.com/bowerhall/pawd/internal/llm"
	"github.com/bowerhall/pawd/internal/logger"
	"github.com/bowerhall/pawd/internal/tools"
)

const maxToolIterations = 10

const stuckReply = "I'm having trouble completing this request. Please try again."

// Engine is a Backend over one chat model plus the tool registry. Tool
// visibility is re-read from the profile on every run so /tools takes
// effect immediately.
type Engine struct {
	name     string
	model    llm.LLM
	modelID  string
	registry *tools.Registry
	profile  func() string

	mu      sync.Mutex
	cancels map[int64]context.CancelFunc
	seq     int64
}

func NewEngine(name string, model llm.LLM, modelID string, registry *tools.Registry, profile func() string) *Engine {
	return &Engine{
		name:     name,
		model:    model,
		modelID:  modelID,
		registry: registry,
		profile:  profile,
		cancels:  make(map[int64]context.CancelFunc),
	}
}

func (e *Engine) Name() string {
	return e.name
}

// Stop aborts every run this engine currently has in flight.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, cancel := range e.cancels {
		cancel()
		delete(e.cancels, id)
	}
}

func (e *Engine) Run(ctx context.Context, req Request) *Stream {
	runCtx, cancel := context.WithCancel(ctx)
	stream, prodCtx := NewStream(runCtx)

	e.mu.Lock()
	e.seq++
	id := e.seq
	e.cancels[id] = cancel
	e.mu.Unlock()

	go func() {
		defer func() {
			stream.Finish()
			cancel()
			e.mu.Lock()
			delete(e.cancels, id)
			e.mu.Unlock()
		}()
		e.run(prodCtx, stream, req)
	}()

	return stream
}

func (e *Engine) run(ctx context.Context, stream *Stream, req Request) {
	ctx = tools.WithSession(ctx, tools.Session{
		Channel:  req.Channel,
		ChatID:   req.ChatID,
		SenderID: req.SenderID,
	})

	messages := make([]llm.Message, 0, len(req.History)+1)
	for _, h := range req.History {
		messages = append(messages, llm.Message{Role: h.Role, Content: h.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: req.Content})

	availableTools := e.registry.ToolsFor(e.profile())

	for i := 0; i < maxToolIterations; i++ {
		logger.Debug("engine iteration", "backend", e.name, "iteration", i, "messages", len(messages))

		resp, err := e.model.ChatWithTools(ctx, req.SystemPrompt, messages, availableTools)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			stream.Emit(ctx, AgentEvent{Kind: KindError, Content: err.Error()})
			stream.Emit(ctx, AgentEvent{Kind: KindDone})
			return
		}

		if resp.Usage != nil {
			ok := stream.Emit(ctx, AgentEvent{Kind: KindTokenUsage, Meta: map[string]any{
				"model":         e.modelID,
				"input_tokens":  resp.Usage.PromptTokens,
				"output_tokens": resp.Usage.CompletionTokens,
			}})
			if !ok {
				return
			}
		}

		if len(resp.ToolCalls) == 0 {
			if resp.Content != "" {
				if !stream.Emit(ctx, AgentEvent{Kind: KindMessage, Content: resp.Content}) {
					return
				}
			}
			stream.Emit(ctx, AgentEvent{Kind: KindDone})
			return
		}

		// Interim text that arrives alongside tool calls still reaches
		// the user as part of the streamed reply.
		if resp.Content != "" {
			if !stream.Emit(ctx, AgentEvent{Kind: KindMessage, Content: resp.Content + "\n"}) {
				return
			}
		}

		messages = append(messages, llm.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

		for _, tc := range resp.ToolCalls {
			if !stream.Emit(ctx, AgentEvent{Kind: KindToolUse, Content: tc.Name, Meta: map[string]any{"args": tc.Arguments}}) {
				return
			}

			result, err := e.registry.Execute(ctx, tc.Name, tc.Arguments)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				result = "Error: " + err.Error()
			}

			if !stream.Emit(ctx, AgentEvent{Kind: KindToolResult, Content: result, Meta: map[string]any{"tool": tc.Name}}) {
				return
			}

			messages = append(messages, llm.Message{Role: "tool", Content: result, ToolCallID: tc.ID})
		}
	}

	logger.Warn("engine hit max tool iterations", "backend", e.name, "max", maxToolIterations)
	stream.Emit(ctx, AgentEvent{Kind: KindMessage, Content: stuckReply})
	stream.Emit(ctx, AgentEvent{Kind: KindDone})
}
