package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"daylens/backend/internal/config"
)

func completionBody(content string) string {
	return `{
		"id": "chatcmpl-test",
		"object": "chat.completion",
		"model": "gpt-4o",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": ` + mustMarshalJSON(content) + `}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 6, "total_tokens": 18}
	}`
}

func newChatClient(baseURL string, maxRetries int) *OpenAIChatClient {
	client := NewOpenAIChatClient(config.Config{
		OpenAIAPIKey:     "test",
		OpenAIModel:      "gpt-4o",
		OpenAIBaseURL:    baseURL,
		AIMaxRetries:     maxRetries,
		AITimeoutSeconds: 2,
	})
	client.retryDelay = 10 * time.Millisecond
	return client
}

func TestOpenAIChatClientRetriesOnServerError(t *testing.T) {
	t.Parallel()

	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&attempts, 1)
		w.Header().Set("Content-Type", "application/json")
		if current == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":{"message":"temporary upstream issue"}}`))
			return
		}
		_, _ = w.Write([]byte(completionBody("retry ok")))
	}))
	defer server.Close()

	client := newChatClient(server.URL+"/v1", 1)

	resp, err := client.Query(context.Background(), AIModelRequest{UserPrompt: "hello"})
	if err != nil {
		t.Fatalf("expected retry to succeed, got err=%v", err)
	}
	if resp.Answer != "retry ok" {
		t.Fatalf("unexpected answer: %q", resp.Answer)
	}
	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestOpenAIChatClientSendsJSONResponseFormat(t *testing.T) {
	t.Parallel()

	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("failed to decode request payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody(`{"updates":[]}`)))
	}))
	defer server.Close()

	client := newChatClient(server.URL+"/v1", 0)

	_, err := client.Query(context.Background(), AIModelRequest{
		SystemPrompt: "extract metrics",
		UserPrompt:   "slept 8 hours",
		JSONResponse: true,
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	format, _ := payload["response_format"].(map[string]any)
	if format == nil || format["type"] != "json_object" {
		t.Fatalf("expected response_format json_object, got %v", payload["response_format"])
	}
	messages, _ := payload["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(messages))
	}
}

func TestOpenAIChatClientForwardsConversationHistory(t *testing.T) {
	t.Parallel()

	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("failed to decode request payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody("ok")))
	}))
	defer server.Close()

	client := newChatClient(server.URL+"/v1", 0)

	_, err := client.Query(context.Background(), AIModelRequest{
		SystemPrompt: "system",
		Conversation: []ChatTurn{
			{Role: "user", Content: "ran 2 miles"},
			{Role: "assistant", Content: `{"updates":[]}`},
			{Role: "tool", Content: "ignored"},
		},
		UserPrompt: "ran 3 miles today",
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	messages, _ := payload["messages"].([]any)
	if len(messages) != 4 {
		t.Fatalf("expected system + 2 history + user, got %d", len(messages))
	}
}

func TestOpenAIChatClientRequiresAPIKey(t *testing.T) {
	t.Parallel()

	client := NewOpenAIChatClient(config.Config{OpenAIModel: "gpt-4o"})
	if _, err := client.Query(context.Background(), AIModelRequest{UserPrompt: "hello"}); err == nil {
		t.Fatalf("expected error without an API key")
	}
}

func TestOpenAIChatClientRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	client := NewOpenAIChatClient(config.Config{OpenAIAPIKey: "test", OpenAIModel: "gpt-4o"})
	if _, err := client.Query(context.Background(), AIModelRequest{}); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestMockAIClientContracts(t *testing.T) {
	t.Parallel()

	mock := MockAIClient{Model: "mock"}

	resp, err := mock.Query(context.Background(), AIModelRequest{SystemPrompt: intentSystemPrompt, UserPrompt: "ran 3 miles"})
	if err != nil {
		t.Fatalf("mock query failed: %v", err)
	}
	var intentReply map[string]any
	if err := json.Unmarshal([]byte(resp.Answer), &intentReply); err != nil {
		t.Fatalf("mock intent reply is not JSON: %v", err)
	}
	if intentReply["intent"] != "data_entry" {
		t.Fatalf("unexpected mock intent: %v", intentReply["intent"])
	}

	resp, err = mock.Query(context.Background(), AIModelRequest{SystemPrompt: buildActionsPrompt("2026-08-30", CumulativeSchema{}), UserPrompt: "ran 3 miles"})
	if err != nil {
		t.Fatalf("mock query failed: %v", err)
	}
	var actions parsedActions
	if err := json.Unmarshal([]byte(resp.Answer), &actions); err != nil {
		t.Fatalf("mock actions reply is not JSON: %v", err)
	}
}
