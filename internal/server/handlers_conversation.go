package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// getConversation returns the user's transcript, creating an empty one on
// first read so the client always has a row to append to.
func (a *App) getConversation(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Not authenticated")
		return
	}

	ctx := c.Request.Context()
	var raw []byte
	err := a.db.QueryRow(
		ctx,
		`SELECT "messagesJson" FROM "Conversation" WHERE "userId" = $1`,
		user.ID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := a.db.Exec(
			ctx,
			`INSERT INTO "Conversation" (id, "userId", "messagesJson", "updatedAt")
			 VALUES ($1, $2, '[]'::jsonb, NOW())
			 ON CONFLICT ("userId") DO NOTHING`,
			uuid.NewString(),
			user.ID,
		); err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to create conversation")
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": []ChatTurn{}})
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load conversation")
		return
	}

	messages := []ChatTurn{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &messages); err != nil {
			writeError(c, http.StatusInternalServerError, "Stored conversation is corrupt")
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}
