package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bowerhall/pawd/internal/llm"
	"github.com/bowerhall/pawd/internal/logger"
)

const extractPrompt = `You are a fact extractor. Analyze the exchange and extract facts worth remembering about the user: preferences, personal information, life details, standing instructions.

Return a JSON array of facts. Each fact should have:
- "field": short key (e.g., "name", "city", "communication_style")
- "value": the actual information
- "confidence": 0.0-1.0 based on how certain the fact is

Only extract facts that are explicitly stated or strongly implied. Do not invent facts.
If no facts are worth remembering, return an empty array: []

Example output:
[
  {"field": "name", "value": "John", "confidence": 0.95},
  {"field": "humor_preference", "value": "likes dad jokes", "confidence": 0.9}
]

Exchange:
%s

Extract facts (JSON only, no explanation):`

const learnTimeout = 60 * time.Second

type extractedFact struct {
	Field      string  `json:"field"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// maybeLearn spawns a background fact-extraction task for the completed
// exchange. The task runs outside the turn's slot and lock so it never
// delays the next message; an atomic counter caps how many run at once.
func (l *Loop) maybeLearn(senderID, userMessage, reply string) {
	if !l.cfg.AutoLearn || l.extractor == nil {
		return
	}
	if l.learnTasks.Add(1) > maxLearnTasks {
		l.learnTasks.Add(-1)
		logger.Debug("skipping fact extraction, too many in flight")
		return
	}

	go func() {
		defer l.learnTasks.Add(-1)
		ctx, cancel := context.WithTimeout(context.Background(), learnTimeout)
		defer cancel()
		l.learnExchange(ctx, senderID, userMessage, reply)
	}()
}

// learnExchange extracts facts only from the latest exchange, not the
// whole buffer, so nothing is re-extracted on the next turn.
func (l *Loop) learnExchange(ctx context.Context, senderID, userMessage, reply string) {
	exchange := fmt.Sprintf("user: %s\nassistant: %s\n", userMessage, reply)
	prompt := fmt.Sprintf(extractPrompt, exchange)

	response, err := l.extractor.Chat(ctx, "", []llm.Message{{Role: "user", Content: prompt}})
	if err != nil {
		logger.Error("fact extraction failed", "error", err)
		return
	}

	facts, err := parseExtractedFacts(response)
	if err != nil {
		logger.Error("fact parsing failed", "error", err, "response", response)
		return
	}
	if len(facts) == 0 {
		logger.Debug("no facts extracted")
		return
	}

	for _, fact := range facts {
		if fact.Field == "" || fact.Value == "" {
			continue
		}
		if err := l.memory.AddFact(senderID, fact.Field, fact.Value, fact.Confidence); err != nil {
			logger.Error("failed to store fact", "error", err, "field", fact.Field)
			continue
		}
		logger.Info("fact remembered", "sender", senderID, "field", fact.Field, "value", fact.Value)
	}
}

func parseExtractedFacts(response string) ([]extractedFact, error) {
	response = strings.TrimSpace(response)

	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array found")
	}

	var facts []extractedFact
	if err := json.Unmarshal([]byte(response[start:end+1]), &facts); err != nil {
		return nil, err
	}
	return facts, nil
}
