package server

import (
	"fmt"
	"strings"
)

const daySchemaSystemPrompt = `You are a personal analytics assistant. Users describe their day in
natural language and you extract structured daily metrics from it.

Metric keys are generalized snake_case names, for example run_distance,
sleep_hours, meditation, coffee_cups. Values are numbers. Times of day
are encoded as military-time integers (7 AM is 700, 9:30 PM is 2130).
Events that either happened or did not happen are recorded as value 1
when they happened. A metric may optionally carry a numeric goal.`

const intentSystemPrompt = daySchemaSystemPrompt + `

Classify the intent of the user's latest message. The possible intents
are:
  data_entry           - the user is reporting metrics about their day
    ("ran 3 miles today", "slept 8 hours", "meditated this morning",
     "had two coffees and woke up at 7")
  chart_change_request - the user is asking to change how a metric is
    displayed
    ("make sleep a bar chart", "show meditation as a tracker",
     "switch running to a progress circle")

Respond with STRICT JSON only, no prose and no code fences:
{"intent": "<data_entry|chart_change_request>", "confidence": <number between 0 and 1>}`

const chartTypeEnumPrompt = `The valid chart types are exactly: Line, Bar, Pie, ProgressBar,
ProgressCircle, Tracker, ActivityCalendar. Pie may only be used when the
user explicitly asks for a pie chart.`

// buildActionsPrompt is the main extraction prompt. referenceDate is the
// server's notion of today in YYYY-MM-DD and anchors relative dates.
func buildActionsPrompt(referenceDate string, schema CumulativeSchema) string {
	var b strings.Builder
	b.WriteString(daySchemaSystemPrompt)
	b.WriteString("\n\n")
	b.WriteString(chartTypeEnumPrompt)
	b.WriteString("\n\nToday's date is ")
	b.WriteString(referenceDate)
	b.WriteString(`. Resolve relative dates ("yesterday", "last Tuesday",
"this morning") against today's date. Never produce a date in the
future; anything that would resolve to a future date belongs to today.

`)
	if len(schema) > 0 {
		b.WriteString("The user's existing metric keys, with an example value for each:\n")
		for key, entry := range schema {
			if entry.Example.Goal != nil {
				b.WriteString(fmt.Sprintf("  %s: value %g, goal %g\n", key, entry.Example.Value, *entry.Example.Goal))
			} else {
				b.WriteString(fmt.Sprintf("  %s: value %g\n", key, entry.Example.Value))
			}
		}
		b.WriteString(`Reuse an existing key whenever the message refers to the same metric,
and keep the same shape: if the existing key carries a goal, include a
goal in your update.

`)
	}
	b.WriteString(`Extract every metric the message reports and every chart change the
message explicitly requests. Only include chartChanges when the user
explicitly asks for a display change; never invent them.

Respond with STRICT JSON only, no prose and no code fences:
{
  "chartChanges": [{"key": "<metric key>", "chartType": "<chart type>"}],
  "updates": [{"date": "YYYY-MM-DD", "key": "<metric key>", "value": <number>, "goal": <number, optional>}]
}
Use empty arrays when there is nothing to report.`)
	return b.String()
}

// buildChartRecommendationPrompt asks for display suggestions for metric
// keys that have no configured chart type yet.
func buildChartRecommendationPrompt(keys []string) string {
	var b strings.Builder
	b.WriteString(daySchemaSystemPrompt)
	b.WriteString("\n\n")
	b.WriteString(chartTypeEnumPrompt)
	b.WriteString("\n\nRecommend the best chart type for each of these metric keys:\n")
	for _, key := range keys {
		b.WriteString("  ")
		b.WriteString(key)
		b.WriteString("\n")
	}
	b.WriteString(`Prefer ProgressBar or ProgressCircle for metrics the user tracks
against a goal. Do not recommend Pie here; it is reserved for explicit
user requests.

Respond with STRICT JSON only, no prose and no code fences, mapping each
key to a chart type:
{"<metric key>": "<chart type>"}`)
	return b.String()
}
