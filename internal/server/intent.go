package server

import (
	"context"
	"encoding/json"
	"log"
	"strings"
)

const (
	intentDataEntry   = "data_entry"
	intentChartChange = "chart_change_request"
)

const intentConfidenceFloor = 0.2

// classifyIntent labels the user's message before extraction runs. It
// never fails the turn: an AI error, unparseable reply, unknown label,
// or low confidence all fall back to data_entry, because dropping real
// data is worse than a missed chart tweak.
func (a *App) classifyIntent(ctx context.Context, message string, history []ChatTurn) string {
	response, err := a.ai.Query(ctx, AIModelRequest{
		Model:        a.cfg.OpenAIModel,
		SystemPrompt: intentSystemPrompt,
		Conversation: history,
		UserPrompt:   message,
		JSONResponse: true,
	})
	if err != nil {
		log.Printf("intent classification failed, defaulting to data_entry: %v", err)
		return intentDataEntry
	}

	raw := extractJSONObject(response.Answer)
	var parsed struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		log.Printf("intent reply was not valid JSON, defaulting to data_entry: %v", err)
		return intentDataEntry
	}

	intent := strings.ToLower(strings.TrimSpace(parsed.Intent))
	switch intent {
	case intentDataEntry, intentChartChange:
	default:
		return intentDataEntry
	}
	if parsed.Confidence < intentConfidenceFloor {
		return intentDataEntry
	}
	return intent
}
