package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"daylens/backend/internal/config"
)

type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader) (string, error)
	CreateRealtimeToken(ctx context.Context, expiresInSeconds int) (string, error)
}

// AssemblyAIClient talks to the AssemblyAI v2 REST API: upload the audio,
// create a transcript job, then poll until the job settles.
type AssemblyAIClient struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	jobTimeout   time.Duration
}

func NewAssemblyAIClient(cfg config.Config) *AssemblyAIClient {
	timeoutSeconds := cfg.STTTimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = 120
	}
	return &AssemblyAIClient{
		apiKey:       strings.TrimSpace(cfg.AssemblyAIAPIKey),
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.AssemblyAIBaseURL), "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollInterval: 2 * time.Second,
		jobTimeout:   time.Duration(timeoutSeconds) * time.Second,
	}
}

func (c *AssemblyAIClient) Transcribe(ctx context.Context, audio io.Reader) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("ASSEMBLYAI_API_KEY is not configured")
	}

	uploadURL, err := c.uploadAudio(ctx, audio)
	if err != nil {
		return "", err
	}

	transcriptID, err := c.createTranscript(ctx, uploadURL)
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(c.jobTimeout)
	for {
		status, text, errorDetail, err := c.getTranscript(ctx, transcriptID)
		if err != nil {
			return "", err
		}
		switch status {
		case "completed":
			return text, nil
		case "error":
			return "", fmt.Errorf("transcription failed: %s", errorDetail)
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("transcription timed out after %s (id=%s)", c.jobTimeout, transcriptID)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

func (c *AssemblyAIClient) CreateRealtimeToken(ctx context.Context, expiresInSeconds int) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("ASSEMBLYAI_API_KEY is not configured")
	}
	if expiresInSeconds <= 0 {
		expiresInSeconds = 60
	}

	payload := map[string]any{"expires_in": expiresInSeconds}
	statusCode, body, err := c.postJSON(ctx, "/v2/realtime/token", payload)
	if err != nil {
		return "", err
	}
	if statusCode < 200 || statusCode >= 300 {
		return "", fmt.Errorf("assemblyai token error (%d): %s", statusCode, strings.TrimSpace(string(body)))
	}

	parsed := parseJSONStringMap(body)
	token := strings.TrimSpace(toString(parsed["token"]))
	if token == "" {
		return "", errors.New("assemblyai token response is empty")
	}
	return token, nil
}

func (c *AssemblyAIClient) uploadAudio(ctx context.Context, audio io.Reader) (string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/upload", audio)
	if err != nil {
		return "", err
	}
	request.Header.Set("Authorization", c.apiKey)
	request.Header.Set("Content-Type", "application/octet-stream")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return "", err
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", fmt.Errorf("assemblyai upload error (%d): %s", response.StatusCode, strings.TrimSpace(string(body)))
	}

	parsed := parseJSONStringMap(body)
	uploadURL := strings.TrimSpace(toString(parsed["upload_url"]))
	if uploadURL == "" {
		return "", errors.New("assemblyai upload response missing upload_url")
	}
	return uploadURL, nil
}

func (c *AssemblyAIClient) createTranscript(ctx context.Context, audioURL string) (string, error) {
	payload := map[string]any{
		"audio_url":      audioURL,
		"speaker_labels": true,
	}
	statusCode, body, err := c.postJSON(ctx, "/v2/transcript", payload)
	if err != nil {
		return "", err
	}
	if statusCode < 200 || statusCode >= 300 {
		return "", fmt.Errorf("assemblyai transcript error (%d): %s", statusCode, strings.TrimSpace(string(body)))
	}

	parsed := parseJSONStringMap(body)
	transcriptID := strings.TrimSpace(toString(parsed["id"]))
	if transcriptID == "" {
		return "", errors.New("assemblyai transcript response missing id")
	}
	return transcriptID, nil
}

func (c *AssemblyAIClient) getTranscript(ctx context.Context, transcriptID string) (status, text, errorDetail string, err error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/transcript/"+transcriptID, nil)
	if err != nil {
		return "", "", "", err
	}
	request.Header.Set("Authorization", c.apiKey)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", "", "", err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return "", "", "", err
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", "", "", fmt.Errorf("assemblyai poll error (%d): %s", response.StatusCode, strings.TrimSpace(string(body)))
	}

	parsed := parseJSONStringMap(body)
	status = strings.ToLower(strings.TrimSpace(toString(parsed["status"])))
	text = strings.TrimSpace(toString(parsed["text"]))
	errorDetail = strings.TrimSpace(toString(parsed["error"]))
	return status, text, errorDetail, nil
}

func (c *AssemblyAIClient) postJSON(ctx context.Context, path string, payload any) (int, []byte, error) {
	bodyRaw, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyRaw))
	if err != nil {
		return 0, nil, err
	}
	request.Header.Set("Authorization", c.apiKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return 0, nil, err
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return 0, nil, err
	}
	return response.StatusCode, responseBody, nil
}
