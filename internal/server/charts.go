package server

import "strings"

const defaultChartType = "Line"

var validChartTypes = map[string]string{
	"line":             "Line",
	"bar":              "Bar",
	"pie":              "Pie",
	"progressbar":      "ProgressBar",
	"progresscircle":   "ProgressCircle",
	"tracker":          "Tracker",
	"activitycalendar": "ActivityCalendar",
}

// normalizeChartType maps a model-emitted chart type to its canonical
// form. Returns "" when the value is not a known chart type.
func normalizeChartType(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "_", "")
	key = strings.ReplaceAll(key, "-", "")
	key = strings.ReplaceAll(key, " ", "")
	return validChartTypes[key]
}

// resolveChartType picks the configured type for a metric key, falling
// back to the default when nothing is configured.
func resolveChartType(configured map[string]string, key string) string {
	if chartType, ok := configured[key]; ok && chartType != "" {
		return chartType
	}
	return defaultChartType
}
