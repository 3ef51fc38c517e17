package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"daylens/backend/internal/config"
)

type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type AIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type AIModelRequest struct {
	Model        string
	SystemPrompt string
	Conversation []ChatTurn
	UserPrompt   string
	JSONResponse bool
}

type AIModelResponse struct {
	Answer string
	Model  string
	Usage  AIUsage
}

type AIClient interface {
	Query(ctx context.Context, req AIModelRequest) (AIModelResponse, error)
}

// OpenAIChatClient wraps the chat-completion API with retry and a per-attempt
// timeout. JSONResponse requests use the json_object response format so the
// answer is always a single JSON object string.
type OpenAIChatClient struct {
	client     *openai.Client
	model      string
	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration
	configured bool
}

func NewOpenAIChatClient(cfg config.Config) *OpenAIChatClient {
	apiKey := strings.TrimSpace(cfg.OpenAIAPIKey)
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL := strings.TrimSpace(cfg.OpenAIBaseURL); baseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(baseURL, "/")
	}

	maxRetries := cfg.AIMaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	timeoutSeconds := cfg.AITimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}

	return &OpenAIChatClient{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      strings.TrimSpace(cfg.OpenAIModel),
		maxRetries: maxRetries,
		retryDelay: 2 * time.Second,
		timeout:    time.Duration(timeoutSeconds) * time.Second,
		configured: apiKey != "",
	}
}

func (c *OpenAIChatClient) Query(ctx context.Context, req AIModelRequest) (AIModelResponse, error) {
	if !c.configured {
		return AIModelResponse{}, errors.New("OPENAI_API_KEY is not configured")
	}
	requestModel := strings.TrimSpace(req.Model)
	if requestModel == "" {
		requestModel = c.model
	}
	if requestModel == "" {
		return AIModelResponse{}, errors.New("OPENAI_MODEL is not configured")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Conversation)+2)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: strings.TrimSpace(req.SystemPrompt),
		})
	}
	for _, turn := range req.Conversation {
		role := strings.ToLower(strings.TrimSpace(turn.Role))
		if role != "user" && role != "assistant" && role != "system" {
			continue
		}
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: content,
		})
	}
	if strings.TrimSpace(req.UserPrompt) != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: strings.TrimSpace(req.UserPrompt),
		})
	}
	if len(messages) == 0 {
		return AIModelResponse{}, errors.New("AI request input is empty")
	}

	completionRequest := openai.ChatCompletionRequest{
		Model:    requestModel,
		Messages: messages,
	}
	if req.JSONResponse {
		completionRequest.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return AIModelResponse{}, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.client.CreateChatCompletion(attemptCtx, completionRequest)
		cancel()
		if err != nil {
			lastErr = fmt.Errorf("attempt %d: %w", attempt+1, err)
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("attempt %d: no completion choices returned", attempt+1)
			continue
		}
		answer := strings.TrimSpace(resp.Choices[0].Message.Content)
		if answer == "" {
			lastErr = fmt.Errorf("attempt %d: completion content is empty", attempt+1)
			continue
		}

		model := strings.TrimSpace(resp.Model)
		if model == "" {
			model = requestModel
		}
		return AIModelResponse{
			Answer: answer,
			Model:  model,
			Usage: AIUsage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		}, nil
	}

	return AIModelResponse{}, fmt.Errorf("chat completion failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// MockAIClient returns canned structured answers for local development
// without an API key. It only understands the JSON contracts used by the
// pipeline and answers everything else with an empty action set.
type MockAIClient struct {
	Model string
}

func (m MockAIClient) Query(_ context.Context, req AIModelRequest) (AIModelResponse, error) {
	prompt := strings.ToLower(req.SystemPrompt)

	answer := `{"chartChanges":[],"updates":[]}`
	if strings.Contains(prompt, `"intent"`) {
		answer = `{"intent":"data_entry","confidence":0.9}`
	} else if strings.Contains(prompt, "recommend the best chart type") {
		answer = `{}`
	}

	model := strings.TrimSpace(m.Model)
	if model == "" {
		model = "mock-chat"
	}
	return AIModelResponse{
		Answer: answer,
		Model:  model,
		Usage: AIUsage{
			PromptTokens:     120,
			CompletionTokens: 40,
			TotalTokens:      160,
		},
	}, nil
}
