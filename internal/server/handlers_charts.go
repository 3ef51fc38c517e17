package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
)

type chartConfigRecord struct {
	KeyName   string `json:"keyName"`
	ChartType string `json:"chartType"`
}

func (a *App) getChartTypeConfigs(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Not authenticated")
		return
	}

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT "keyName", "chartType" FROM "ChartTypeConfig" WHERE "userId" = $1 ORDER BY "keyName" ASC`,
		user.ID,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load chart configs")
		return
	}
	defer rows.Close()

	configs := []chartConfigRecord{}
	for rows.Next() {
		var record chartConfigRecord
		if err := rows.Scan(&record.KeyName, &record.ChartType); err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to read chart config row")
			return
		}
		configs = append(configs, record)
	}
	if err := rows.Err(); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to read chart config rows")
		return
	}
	c.JSON(http.StatusOK, gin.H{"configs": configs})
}

func (a *App) getChartSeries(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Not authenticated")
		return
	}

	key := strings.TrimSpace(c.Query("key"))
	if key == "" {
		writeError(c, http.StatusBadRequest, "key query parameter is required")
		return
	}

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT id, date, "daySchemaJson" FROM "Day" WHERE "userId" = $1 ORDER BY date ASC`,
		user.ID,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load days")
		return
	}
	defer rows.Close()

	days, err := scanDayRows(rows)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}

	// Every recorded day contributes a point, zero when it lacks the key,
	// so the series always spans from the user's earliest day.
	values := map[string]float64{}
	for _, day := range days {
		value := 0.0
		if metric, ok := day.DaySchema[key]; ok {
			value = metric.Value
		}
		values[day.Date] = value
	}

	storedType, err := loadChartTypeConfig(c.Request.Context(), a.db, user.ID, key)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load chart config")
		return
	}
	configured := map[string]string{}
	if storedType != "" {
		configured[key] = storedType
	}
	chartType := resolveChartType(configured, key)

	c.JSON(http.StatusOK, gin.H{
		"key":       key,
		"chartType": chartType,
		"series":    buildContinuousSeries(values, time.Now().UTC()),
	})
}

// loadChartTypeConfig returns the stored chart type for a key, or "" when
// none is configured. Only a real database failure is an error.
func loadChartTypeConfig(ctx context.Context, q dbQuerier, userID, key string) (string, error) {
	var chartType string
	err := q.QueryRow(
		ctx,
		`SELECT "chartType" FROM "ChartTypeConfig" WHERE "userId" = $1 AND "keyName" = $2`,
		userID,
		key,
	).Scan(&chartType)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return chartType, nil
}
