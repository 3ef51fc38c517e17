package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"time"
)

var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// parseUserActions runs the extraction model over the message and
// sanitizes its output. A reply that is not strict JSON, or an update
// carrying an unparseable date, fails the whole turn; nothing is saved.
func (a *App) parseUserActions(ctx context.Context, message string, referenceDate time.Time, schema CumulativeSchema, history []ChatTurn) (parsedActions, string, error) {
	response, err := a.ai.Query(ctx, AIModelRequest{
		Model:        a.cfg.OpenAIModel,
		SystemPrompt: buildActionsPrompt(referenceDate.Format("2006-01-02"), schema),
		Conversation: history,
		UserPrompt:   message,
		JSONResponse: true,
	})
	if err != nil {
		return parsedActions{}, "", err
	}

	actions, err := sanitizeActions(response.Answer, referenceDate, schema)
	if err != nil {
		return parsedActions{}, "", err
	}
	return actions, response.Answer, nil
}

func sanitizeActions(answer string, referenceDate time.Time, schema CumulativeSchema) (parsedActions, error) {
	raw := extractJSONObject(answer)
	var actions parsedActions
	if err := json.Unmarshal([]byte(raw), &actions); err != nil {
		return parsedActions{}, fmt.Errorf("model reply is not valid JSON: %w", err)
	}

	today := startOfUTCDay(referenceDate)
	todayISO := today.Format("2006-01-02")

	sanitizedUpdates := make([]metricUpdate, 0, len(actions.Updates))
	for _, update := range actions.Updates {
		if update.Key == "" {
			continue
		}
		if !isoDatePattern.MatchString(update.Date) {
			return parsedActions{}, fmt.Errorf("model emitted invalid date %q for key %q", update.Date, update.Key)
		}
		parsed, err := time.ParseInLocation("2006-01-02", update.Date, time.UTC)
		if err != nil {
			return parsedActions{}, fmt.Errorf("model emitted invalid date %q for key %q", update.Date, update.Key)
		}
		if parsed.After(today) {
			update.Date = todayISO
		}
		if update.Goal == nil {
			if entry, ok := schema[update.Key]; ok && entry.Example.Goal != nil {
				goal := *entry.Example.Goal
				update.Goal = &goal
			}
		}
		sanitizedUpdates = append(sanitizedUpdates, update)
	}

	sanitizedChanges := make([]chartChange, 0, len(actions.ChartChanges))
	for _, change := range actions.ChartChanges {
		chartType := normalizeChartType(change.ChartType)
		if change.Key == "" || chartType == "" {
			log.Printf("dropping chart change with key=%q chartType=%q", change.Key, change.ChartType)
			continue
		}
		sanitizedChanges = append(sanitizedChanges, chartChange{Key: change.Key, ChartType: chartType})
	}

	return parsedActions{ChartChanges: sanitizedChanges, Updates: sanitizedUpdates}, nil
}

// recommendChartTypes asks the model for display suggestions for keys
// with no configured chart type. Failures degrade to no suggestions.
func (a *App) recommendChartTypes(ctx context.Context, keys []string) map[string]string {
	if len(keys) == 0 {
		return map[string]string{}
	}

	response, err := a.ai.Query(ctx, AIModelRequest{
		Model:        a.cfg.OpenAIModel,
		SystemPrompt: buildChartRecommendationPrompt(keys),
		UserPrompt:   "Recommend chart types for the listed keys.",
		JSONResponse: true,
	})
	if err != nil {
		log.Printf("chart recommendation failed: %v", err)
		return map[string]string{}
	}

	parsed := parseJSONStringMap([]byte(extractJSONObject(response.Answer)))
	recommendations := make(map[string]string, len(keys))
	for _, key := range keys {
		chartType := normalizeChartType(toString(parsed[key]))
		if chartType == "" || chartType == "Pie" {
			continue
		}
		recommendations[key] = chartType
	}
	return recommendations
}
