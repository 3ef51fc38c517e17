package server

import "time"

// buildContinuousSeries turns sparse per-day values into a gapless daily
// series from the earliest recorded date through today. Days with no
// record contribute a zero point so charts never skip dates. No records
// means an empty series.
func buildContinuousSeries(records map[string]float64, today time.Time) []SeriesPoint {
	if len(records) == 0 {
		return []SeriesPoint{}
	}

	earliest := ""
	for date := range records {
		if earliest == "" || date < earliest {
			earliest = date
		}
	}

	start, err := parseDate(earliest)
	if err != nil {
		return []SeriesPoint{}
	}
	end := startOfUTCDay(today)
	if end.Before(start) {
		end = start
	}

	var series []SeriesPoint
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		date := day.Format("2006-01-02")
		series = append(series, SeriesPoint{Date: date, Value: records[date]})
	}
	return series
}
