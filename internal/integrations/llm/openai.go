package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"contentguard/internal/httpx"
)

const openAIChatCompletionsURL = "https://api.openai.com/v1/chat/completions"

// StatusError is a non-2xx reply from an HTTP provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}

type OpenAIClient struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewOpenAI(apiKey, model string, logger *slog.Logger) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingCredential
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &OpenAIClient{
		apiKey:     apiKey,
		model:      model,
		endpoint:   openAIChatCompletionsURL,
		httpClient: httpx.ExternalHTTPClient(),
		logger:     logger,
	}, nil
}

func (c *OpenAIClient) Provider() string { return "openai" }
func (c *OpenAIClient) Model() string    { return c.model }

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	bodyBytes, err := json.Marshal(openAIRequest{
		Model:    c.model,
		Messages: []openAIMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var out openAIResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return "", &StatusError{Provider: "openai", StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		}
		return "", fmt.Errorf("parsing openai response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || out.Error != nil {
		msg := http.StatusText(resp.StatusCode)
		if out.Error != nil {
			msg = out.Error.Message
		}
		return "", &StatusError{Provider: "openai", StatusCode: resp.StatusCode, Message: msg}
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("no choices in openai response")
	}

	choice := out.Choices[0]
	if strings.TrimSpace(choice.Message.Content) == "" {
		return "", fmt.Errorf("openai: %w (finish_reason=%q)", ErrEmptyResponse, choice.FinishReason)
	}

	var tokensIn, tokensOut int64
	if out.Usage != nil {
		tokensIn, tokensOut = out.Usage.PromptTokens, out.Usage.CompletionTokens
	}
	c.logger.Debug("openai response", "model", c.model, "response_chars", len(choice.Message.Content), "finish_reason", choice.FinishReason, "tokens_in", tokensIn, "tokens_out", tokensOut)
	return choice.Message.Content, nil
}
