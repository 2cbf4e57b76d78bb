package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bowerhall/pawd/internal/llm"
	"github.com/bowerhall/pawd/internal/trigger"
)

func RegisterTriggerTools(registry *Registry, store *trigger.Store) {
	setTool := llm.Tool{
		Name:        "set_trigger",
		Description: "Schedule a recurring trigger for this chat. When it fires you wake up with the keyword and decide what to do: a check-in, a reminder, or a task. Use keyword 'heartbeat' for periodic check-ins.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"keyword": map[string]any{
					"type":        "string",
					"description": "Short keyword describing the trigger (e.g. 'heartbeat', 'meds', 'standup')",
				},
				"schedule": map[string]any{
					"type":        "string",
					"description": "Cron expression: minute hour day-of-month month day-of-week. Examples: '0 20 * * *' (8pm daily), '0 9 * * 1-5' (9am weekdays)",
				},
				"expires_in": map[string]any{
					"type":        "string",
					"description": "When to auto-delete. Examples: '2 weeks', '1 month', '3 days'. Omit for permanent.",
				},
			},
			"required": []string{"keyword", "schedule"},
		},
	}

	registry.Register(setTool, false, func(ctx context.Context, args string) (string, error) {
		var params struct {
			Keyword   string `json:"keyword"`
			Schedule  string `json:"schedule"`
			ExpiresIn string `json:"expires_in"`
		}
		if err := json.Unmarshal([]byte(args), &params); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}

		sess, ok := SessionFromContext(ctx)
		if !ok || sess.ChatID == "" {
			return "", fmt.Errorf("no chat context available")
		}

		var expiresAt *time.Time
		if params.ExpiresIn != "" {
			expiresAt = parseExpiry(params.ExpiresIn)
		}

		t, err := store.Create(params.Keyword, params.Schedule, sess.Channel, sess.ChatID, expiresAt)
		if err != nil {
			return "", fmt.Errorf("failed to create trigger: %w", err)
		}

		expiryInfo := ""
		if expiresAt != nil {
			expiryInfo = fmt.Sprintf(" (expires %s)", expiresAt.Format("Jan 2, 2006"))
		}
		return fmt.Sprintf("Trigger '%s' scheduled. Next: %s%s",
			t.Keyword, t.NextRun.Format("Mon Jan 2 3:04 PM"), expiryInfo), nil
	})

	listTool := llm.Tool{
		Name:        "list_triggers",
		Description: "List all active scheduled triggers for this chat.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}

	registry.Register(listTool, true, func(ctx context.Context, args string) (string, error) {
		sess, ok := SessionFromContext(ctx)
		if !ok || sess.ChatID == "" {
			return "", fmt.Errorf("no chat context available")
		}

		triggers, err := store.GetByChat(sess.Channel, sess.ChatID)
		if err != nil {
			return "", fmt.Errorf("failed to list triggers: %w", err)
		}
		if len(triggers) == 0 {
			return "No active scheduled triggers.", nil
		}

		var sb strings.Builder
		sb.WriteString("Active scheduled triggers:\n")
		for _, t := range triggers {
			fmt.Fprintf(&sb, "- %s (%s), next %s\n", t.Keyword, t.Schedule, t.NextRun.Format("Mon Jan 2 3:04 PM"))
		}
		return strings.TrimRight(sb.String(), "\n"), nil
	})

	deleteTool := llm.Tool{
		Name:        "delete_trigger",
		Description: "Delete a scheduled trigger for this chat by keyword.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"keyword": map[string]any{"type": "string", "description": "Keyword of the trigger to delete"},
			},
			"required": []string{"keyword"},
		},
	}

	registry.Register(deleteTool, false, func(ctx context.Context, args string) (string, error) {
		var params struct {
			Keyword string `json:"keyword"`
		}
		if err := json.Unmarshal([]byte(args), &params); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}

		sess, ok := SessionFromContext(ctx)
		if !ok || sess.ChatID == "" {
			return "", fmt.Errorf("no chat context available")
		}

		removed, err := store.DeleteByKeyword(params.Keyword, sess.Channel, sess.ChatID)
		if err != nil {
			return "", fmt.Errorf("failed to delete trigger: %w", err)
		}
		if !removed {
			return fmt.Sprintf("No trigger named '%s' in this chat.", params.Keyword), nil
		}
		return fmt.Sprintf("Trigger '%s' deleted.", params.Keyword), nil
	})
}

// parseExpiry turns "2 weeks" style durations into an absolute time.
// Returns nil when the phrase is not understood.
func parseExpiry(s string) *time.Time {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	if len(fields) != 2 {
		return nil
	}

	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return nil
	}

	var d time.Duration
	switch strings.TrimSuffix(fields[1], "s") {
	case "hour":
		d = time.Duration(n) * time.Hour
	case "day":
		d = time.Duration(n) * 24 * time.Hour
	case "week":
		d = time.Duration(n) * 7 * 24 * time.Hour
	case "month":
		d = time.Duration(n) * 30 * 24 * time.Hour
	default:
		return nil
	}

	t := time.Now().Add(d)
	return &t
}
