package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
)

func (a *App) getAllDays(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Not authenticated")
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
	c.JSON(http.StatusOK, gin.H{"days": days})
}

func (a *App) getRecentDays(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Not authenticated")
		return
	}

	limit := 7
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 365 {
			writeError(c, http.StatusBadRequest, "limit must be an integer between 1 and 365")
			return
		}
		limit = parsed
	}

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT id, date, "daySchemaJson" FROM "Day" WHERE "userId" = $1 ORDER BY date DESC LIMIT $2`,
		user.ID,
		limit,
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

	// Query is newest-first for the LIMIT; callers want oldest-first.
	for i, j := 0, len(days)-1; i < j; i, j = i+1, j-1 {
		days[i], days[j] = days[j], days[i]
	}
	c.JSON(http.StatusOK, gin.H{"days": days})
}

func (a *App) saveDay(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var req saveDayRequest
	if !mustJSON(c, &req) {
		return
	}
	if _, err := parseDate(req.Date); err != nil {
		writeError(c, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	if len(req.DaySchema) == 0 {
		writeError(c, http.StatusBadRequest, "day_schema must not be empty")
		return
	}

	ctx := c.Request.Context()
	tx, err := a.db.Begin(ctx)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to save day")
		return
	}
	defer tx.Rollback(ctx)

	if err := upsertDay(ctx, tx, user.ID, req.Date, req.DaySchema); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to save day")
		return
	}
	if err := tx.Commit(ctx); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to save day")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved", "date": req.Date})
}

func (a *App) processDay(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Not authenticated")
		return
	}
	if strings.TrimSpace(a.cfg.OpenAIAPIKey) == "" {
		writeError(c, http.StatusBadRequest, "OPENAI_API_KEY is not configured")
		return
	}

	var req processDayRequest
	if !mustJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		writeError(c, http.StatusBadRequest, "description must not be empty")
		return
	}

	referenceDate := time.Now().UTC()
	if strings.TrimSpace(req.Date) != "" {
		parsed, err := parseDate(req.Date)
		if err != nil {
			writeError(c, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		if parsed.After(startOfUTCDay(referenceDate)) {
			writeError(c, http.StatusBadRequest, "date must not be in the future")
			return
		}
		referenceDate = parsed
	}

	result, err := a.processTurn(c.Request.Context(), user.ID, req.Description, referenceDate)
	if err != nil {
		log.Printf("turn failed for user=%s: %v", truncate(user.ID, 8), err)
		writeError(c, http.StatusInternalServerError, fmt.Sprintf("Failed to process description: %v", err))
		return
	}
	c.JSON(http.StatusOK, result)
}

func scanDayRows(rows pgx.Rows) ([]DayRecord, error) {
	days := []DayRecord{}
	for rows.Next() {
		var record DayRecord
		var raw []byte
		if err := rows.Scan(&record.ID, &record.Date, &raw); err != nil {
			return nil, fmt.Errorf("failed to read day row: %w", err)
		}
		record.DaySchema = DaySchema{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &record.DaySchema); err != nil {
				return nil, fmt.Errorf("stored day schema for %s is corrupt: %w", record.Date, err)
			}
		}
		days = append(days, record)
	}
	return days, rows.Err()
}
