package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// demoProcess runs the turn pipeline for signed-out visitors. The request
// carries the visitor's conversation and cumulative schema, the response
// carries everything back; nothing touches the database.
func (a *App) demoProcess(c *gin.Context) {
	if strings.TrimSpace(a.cfg.OpenAIAPIKey) == "" {
		writeError(c, http.StatusBadRequest, "OPENAI_API_KEY is not configured")
		return
	}

	var req demoProcessRequest
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

	result, err := a.processDemoTurn(c.Request.Context(), req, referenceDate)
	if err != nil {
		writeError(c, http.StatusInternalServerError, fmt.Sprintf("Failed to process description: %v", err))
		return
	}
	c.JSON(http.StatusOK, result)
}
