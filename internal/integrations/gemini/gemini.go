package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-pro"
)

// Generation parameters are fixed; callers only choose the prompt.
const (
	temperature = 0.2
	topP        = 0.8
	topK        = 40
)

const maxErrorBodyChars = 512

var ErrMissingCredential = errors.New("gemini: no API key configured")

type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func New(apiKey string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingCredential
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Client{
		apiKey:     apiKey,
		model:      DefaultModel,
		baseURL:    DefaultBaseURL,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Provider() string { return "gemini" }
func (c *Client) Model() string    { return c.model }

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type generationConfig struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"topP"`
	TopK        int     `json:"topK"`
}

type Candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// Response is the decoded generateContent reply. Raw keeps the body as
// received so callers can pass it through untouched.
type Response struct {
	Candidates []Candidate     `json:"candidates"`
	Raw        json.RawMessage `json:"-"`
}

// Text joins the text parts of the first candidate with single spaces.
func (r *Response) Text() string {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}
	var texts []string
	for _, p := range r.Candidates[0].Content.Parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, " ")
}

func newRequestBody(prompt string) generateRequest {
	return generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature: temperature,
			TopP:        topP,
			TopK:        topK,
		},
	}
}

// GenerateContent sends one prompt and returns the decoded response. A
// response without candidates is an ErrorKindUnexpectedFormat error.
func (c *Client) GenerateContent(ctx context.Context, prompt string) (*Response, error) {
	bodyBytes, err := json.Marshal(newRequestBody(prompt))
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	c.logger.Debug("gemini request", "model", c.model, "prompt_chars", len(prompt))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Kind:       ErrorKindHTTPStatus,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(respBody), maxErrorBodyChars),
		}
	}

	var out Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &Error{Kind: ErrorKindDecode, Body: truncate(string(respBody), maxErrorBodyChars), Err: err}
	}
	out.Raw = json.RawMessage(respBody)

	if len(out.Candidates) == 0 {
		return nil, &Error{Kind: ErrorKindUnexpectedFormat, Body: truncate(string(respBody), maxErrorBodyChars), Raw: out.Raw}
	}

	c.logger.Debug("gemini response", "model", c.model, "candidates", len(out.Candidates), "response_chars", len(respBody))
	return &out, nil
}

// Generate returns the text of the first candidate. An empty text is an
// ErrorKindUnexpectedFormat error.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.GenerateContent(ctx, prompt)
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", &Error{Kind: ErrorKindUnexpectedFormat, Body: truncate(string(resp.Raw), maxErrorBodyChars), Raw: resp.Raw}
	}
	return text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + fmt.Sprintf("... [truncated, total_length=%d]", len(s))
}

// GenerateRaw is Generate without the empty-text check; it also returns the
// raw response body.
func (c *Client) GenerateRaw(ctx context.Context, prompt string) (string, json.RawMessage, error) {
	resp, err := c.GenerateContent(ctx, prompt)
	if err != nil {
		return "", nil, err
	}
	return resp.Text(), resp.Raw, nil
}
