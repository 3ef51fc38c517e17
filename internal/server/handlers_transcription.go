package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (a *App) createTranscription(c *gin.Context) {
	if _, ok := authUserFromContext(c); !ok {
		writeError(c, http.StatusUnauthorized, "Not authenticated")
		return
	}
	if strings.TrimSpace(a.cfg.AssemblyAIAPIKey) == "" {
		writeError(c, http.StatusBadRequest, "ASSEMBLYAI_API_KEY is not configured")
		return
	}

	fileHeader, err := c.FormFile("media_file")
	if err != nil {
		writeError(c, http.StatusBadRequest, "media_file is required")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		writeError(c, http.StatusBadRequest, "media_file could not be read")
		return
	}
	defer file.Close()

	text, err := a.stt.Transcribe(c.Request.Context(), file)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": text})
}

func (a *App) createRealtimeToken(c *gin.Context) {
	if _, ok := authUserFromContext(c); !ok {
		writeError(c, http.StatusUnauthorized, "Not authenticated")
		return
	}
	if strings.TrimSpace(a.cfg.AssemblyAIAPIKey) == "" {
		writeError(c, http.StatusBadRequest, "ASSEMBLYAI_API_KEY is not configured")
		return
	}

	req := tokenRequest{ExpiresInSeconds: 60}
	if c.Request.ContentLength > 0 {
		if !mustJSON(c, &req) {
			return
		}
	}

	token, err := a.stt.CreateRealtimeToken(c.Request.Context(), req.ExpiresInSeconds)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
