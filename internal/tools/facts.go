package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bowerhall/pawd/internal/llm"
	"github.com/bowerhall/pawd/internal/memory"
)

// RegisterFactTools lets the backend read and write remembered facts
// about the person it is talking to.
func RegisterFactTools(registry *Registry, store *memory.Store) {
	recall := llm.Tool{
		Name:        "recall_facts",
		Description: "List everything remembered about a person. Use when you need background you might have stored earlier.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sender_id": map[string]any{"type": "string", "description": "The person's sender id"},
			},
			"required": []string{"sender_id"},
		},
	}

	registry.Register(recall, true, func(ctx context.Context, args string) (string, error) {
		var params struct {
			SenderID string `json:"sender_id"`
		}
		if err := json.Unmarshal([]byte(args), &params); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}

		facts, err := store.FactsBySender(params.SenderID)
		if err != nil {
			return "", err
		}
		if len(facts) == 0 {
			return "Nothing remembered about this person yet.", nil
		}

		var sb strings.Builder
		for _, f := range facts {
			fmt.Fprintf(&sb, "%s: %s\n", f.Field, f.Value)
		}
		return strings.TrimRight(sb.String(), "\n"), nil
	})

	remember := llm.Tool{
		Name:        "remember_fact",
		Description: "Store one fact about a person for future conversations. Overwrites any earlier value for the same field.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sender_id": map[string]any{"type": "string", "description": "The person's sender id"},
				"field":     map[string]any{"type": "string", "description": "Short key, e.g. name, city"},
				"value":     map[string]any{"type": "string", "description": "The fact itself"},
			},
			"required": []string{"sender_id", "field", "value"},
		},
	}

	registry.Register(remember, false, func(ctx context.Context, args string) (string, error) {
		var params struct {
			SenderID string `json:"sender_id"`
			Field    string `json:"field"`
			Value    string `json:"value"`
		}
		if err := json.Unmarshal([]byte(args), &params); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		if params.Field == "" || params.Value == "" {
			return "", fmt.Errorf("field and value are required")
		}

		if err := store.AddFact(params.SenderID, params.Field, params.Value, 1.0); err != nil {
			return "", err
		}
		return fmt.Sprintf("Remembered %s = %s", params.Field, params.Value), nil
	})
}
