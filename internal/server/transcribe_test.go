package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"daylens/backend/internal/config"
)

func newTestAssemblyAIClient(baseURL string) *AssemblyAIClient {
	client := NewAssemblyAIClient(config.Config{
		AssemblyAIAPIKey:  "test-key",
		AssemblyAIBaseURL: baseURL,
		STTTimeoutSeconds: 5,
	})
	client.pollInterval = 5 * time.Millisecond
	return client
}

func TestAssemblyAIClientTranscribe(t *testing.T) {
	t.Parallel()

	polls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "test-key" {
			t.Errorf("expected raw API key auth header, got %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v2/upload":
			body, _ := io.ReadAll(r.Body)
			if string(body) != "fake audio bytes" {
				t.Errorf("expected raw audio body, got %q", string(body))
			}
			_, _ = w.Write([]byte(`{"upload_url": "https://cdn.example.com/upload/abc"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v2/transcript":
			var payload map[string]any
			_ = json.NewDecoder(r.Body).Decode(&payload)
			if payload["audio_url"] != "https://cdn.example.com/upload/abc" {
				t.Errorf("unexpected audio_url: %v", payload["audio_url"])
			}
			if payload["speaker_labels"] != true {
				t.Errorf("expected speaker_labels=true")
			}
			_, _ = w.Write([]byte(`{"id": "transcript-1", "status": "queued"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v2/transcript/transcript-1":
			polls++
			if polls < 3 {
				_, _ = w.Write([]byte(`{"id": "transcript-1", "status": "processing"}`))
				return
			}
			_, _ = w.Write([]byte(`{"id": "transcript-1", "status": "completed", "text": "I ran three miles today."}`))
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestAssemblyAIClient(server.URL)

	text, err := client.Transcribe(context.Background(), strings.NewReader("fake audio bytes"))
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if text != "I ran three miles today." {
		t.Fatalf("unexpected transcript: %q", text)
	}
	if polls < 3 {
		t.Fatalf("expected polling until completion, got %d polls", polls)
	}
}

func TestAssemblyAIClientTranscriptError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/v2/upload":
			_, _ = w.Write([]byte(`{"upload_url": "https://cdn.example.com/upload/abc"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v2/transcript":
			_, _ = w.Write([]byte(`{"id": "transcript-2", "status": "queued"}`))
		default:
			_, _ = w.Write([]byte(`{"id": "transcript-2", "status": "error", "error": "unsupported codec"}`))
		}
	}))
	defer server.Close()

	client := newTestAssemblyAIClient(server.URL)

	_, err := client.Transcribe(context.Background(), strings.NewReader("bad audio"))
	if err == nil || !strings.Contains(err.Error(), "unsupported codec") {
		t.Fatalf("expected codec error, got %v", err)
	}
}

func TestAssemblyAIClientRealtimeToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/realtime/token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["expires_in"] != float64(60) {
			t.Errorf("expected expires_in=60, got %v", payload["expires_in"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token": "realtime-token-xyz"}`))
	}))
	defer server.Close()

	client := newTestAssemblyAIClient(server.URL)

	token, err := client.CreateRealtimeToken(context.Background(), 0)
	if err != nil {
		t.Fatalf("token request failed: %v", err)
	}
	if token != "realtime-token-xyz" {
		t.Fatalf("unexpected token: %q", token)
	}
}

func TestAssemblyAIClientRequiresAPIKey(t *testing.T) {
	t.Parallel()

	client := NewAssemblyAIClient(config.Config{})
	if _, err := client.Transcribe(context.Background(), strings.NewReader("audio")); err == nil {
		t.Fatalf("expected error without an API key")
	}
	if _, err := client.CreateRealtimeToken(context.Background(), 60); err == nil {
		t.Fatalf("expected error without an API key")
	}
}
