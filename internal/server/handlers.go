package server

import (
	"encoding/json"
	"strconv"
	"strings"
)

// MetricValue is the persisted shape for one metric on one day. Keys are
// invented by the model at runtime, so the schema stays an open map and only
// the value object is typed.
type MetricValue struct {
	Value float64  `json:"value"`
	Goal  *float64 `json:"goal,omitempty"`
}

// DaySchema maps metric keys to their recorded values for a single date.
type DaySchema map[string]MetricValue

// SchemaExample records the value shape a key used when first seen. It is a
// template for prompting, not a running value.
type SchemaExample struct {
	Example MetricValue `json:"example"`
}

// CumulativeSchema is the per-user memory of every metric key ever observed.
type CumulativeSchema map[string]SchemaExample

type DayRecord struct {
	ID        string    `json:"id,omitempty"`
	Date      string    `json:"date"`
	DaySchema DaySchema `json:"day_schema"`
}

type SeriesPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

type chartChange struct {
	Key       string `json:"key"`
	ChartType string `json:"chartType"`
}

type metricUpdate struct {
	Date  string   `json:"date"`
	Key   string   `json:"key"`
	Value float64  `json:"value"`
	Goal  *float64 `json:"goal,omitempty"`
}

// parsedActions is the structured result of interpreting one user utterance.
type parsedActions struct {
	ChartChanges []chartChange  `json:"chartChanges"`
	Updates      []metricUpdate `json:"updates"`
}

type saveDayRequest struct {
	Date      string    `json:"date"`
	DaySchema DaySchema `json:"day_schema"`
}

type processDayRequest struct {
	Description string `json:"description"`
	Date        string `json:"date"`
}

type demoProcessRequest struct {
	Description      string           `json:"description"`
	Date             string           `json:"date"`
	Conversation     []ChatTurn       `json:"conversation"`
	CumulativeSchema CumulativeSchema `json:"cumulative_schema"`
}

type tokenRequest struct {
	ExpiresInSeconds int `json:"expires_in_seconds"`
}

func mustMarshalJSON(input any) string {
	encoded, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

// extractJSONObject tolerates the usual model framing around a JSON object:
// code fences and lead-in prose before the first brace.
func extractJSONObject(answer string) string {
	candidate := strings.TrimSpace(answer)
	if candidate == "" {
		return ""
	}
	if strings.HasPrefix(candidate, "```") {
		candidate = strings.TrimSpace(strings.TrimPrefix(candidate, "```json"))
		candidate = strings.TrimSpace(strings.TrimPrefix(candidate, "```"))
		candidate = strings.TrimSpace(strings.TrimSuffix(candidate, "```"))
	}
	if !strings.HasPrefix(candidate, "{") {
		start := strings.Index(candidate, "{")
		end := strings.LastIndex(candidate, "}")
		if start >= 0 && end > start {
			candidate = strings.TrimSpace(candidate[start : end+1])
		}
	}
	return candidate
}
