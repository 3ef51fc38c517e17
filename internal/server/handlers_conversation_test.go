package server

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestGetConversationCreatesEmptyOnFirstRead(t *testing.T) {
	resetDatabase(t)
	userID := seedUser(t, "")
	token := signToken(t, userID, nil)
	router := newTestRouter(t)

	rec := performRequest(t, router, http.MethodGet, "/api/v1/conversation", token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get conversation failed: %d %s", rec.Code, rec.Body.String())
	}
	body := decodeJSONMap(t, rec)
	messages, _ := body["messages"].([]any)
	if len(messages) != 0 {
		t.Fatalf("expected empty conversation, got %v", messages)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var count int
	if err := testPool.QueryRow(
		ctx,
		`SELECT COUNT(*) FROM "Conversation" WHERE "userId" = $1`,
		userID,
	).Scan(&count); err != nil {
		t.Fatalf("count conversations: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the empty conversation row to be created, got %d", count)
	}
}

func TestGetConversationReturnsHistory(t *testing.T) {
	resetDatabase(t)
	userID := seedUser(t, "")
	token := signToken(t, userID, nil)
	today := time.Now().UTC().Format("2006-01-02")

	ai := &scriptedAIClient{answers: []string{
		`{"intent": "data_entry", "confidence": 0.9}`,
		`{"chartChanges": [], "updates": [{"date": "` + today + `", "key": "sleep_hours", "value": 8}]}`,
		`{}`,
	}}
	router := newTestApp(t, ai).Router()

	rec := performRequest(t, router, http.MethodPost, "/api/v1/days/process", token, map[string]any{
		"description": "slept 8 hours",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("process day failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = performRequest(t, router, http.MethodGet, "/api/v1/conversation", token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get conversation failed: %d %s", rec.Code, rec.Body.String())
	}
	body := decodeJSONMap(t, rec)
	messages, _ := body["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected user + assistant messages, got %d", len(messages))
	}
	first, _ := messages[0].(map[string]any)
	second, _ := messages[1].(map[string]any)
	if first["role"] != "user" || first["content"] != "slept 8 hours" {
		t.Fatalf("unexpected first message: %v", first)
	}
	if second["role"] != "assistant" {
		t.Fatalf("unexpected second message: %v", second)
	}
}
