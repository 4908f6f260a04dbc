package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"contentguard/internal/integrations/gemini"
	"contentguard/internal/integrations/llm"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"

	DefaultTimeout = 30 * time.Second
)

const (
	ErrMsgEmptyInput = "Empty input text provided."
	ErrMsgNoAPIKey   = "No API key available. Please provide an API key for the remote provider."
)

const promptTemplate = "Please moderate the following content and identify if it contains harmful, offensive, or inappropriate material. Provide a detailed analysis of any problematic content found, categorizing issues as: hate speech, violence, sexual content, harassment, or other harmful content. If the content is safe, indicate that as well.\n\nContent to moderate:\n%s"

var harmfulTerms = []string{
	"harmful",
	"offensive",
	"inappropriate",
	"hate speech",
	"violence",
	"sexual content",
	"harassment",
}

type Result struct {
	RawResponse     json.RawMessage `json:"raw_response"`
	ProcessedOutput string          `json:"processed_output"`
	IsHarmful       bool            `json:"is_harmful"`
}

// Report is the outcome of one moderation request. Exactly one of Result and
// Error is set.
type Report struct {
	Status      string          `json:"status"`
	Result      *Result         `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	RawResponse json.RawMessage `json:"raw_response,omitempty"`
}

func (r Report) OK() bool { return r.Status == StatusSuccess }

func errorReport(msg string) Report {
	return Report{Status: StatusError, Error: msg}
}

// rawGenerator is implemented by providers that can hand back the full
// response body.
type rawGenerator interface {
	GenerateRaw(ctx context.Context, prompt string) (string, json.RawMessage, error)
}

type Moderator struct {
	gen     llm.Generator
	timeout time.Duration
	logger  *slog.Logger
}

func New(gen llm.Generator, timeout time.Duration, logger *slog.Logger) *Moderator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Moderator{gen: gen, timeout: timeout, logger: logger}
}

func Prompt(text string) string {
	return fmt.Sprintf(promptTemplate, text)
}

// IsHarmful applies the keyword heuristic to a moderation reply.
func IsHarmful(output string) bool {
	lower := strings.ToLower(output)
	for _, term := range harmfulTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// Moderate asks the remote model for a detailed report on text. It never
// returns an error; failures are error reports.
func (m *Moderator) Moderate(ctx context.Context, text string) Report {
	if strings.TrimSpace(text) == "" {
		return errorReport(ErrMsgEmptyInput)
	}
	if m == nil || m.gen == nil {
		return errorReport(ErrMsgNoAPIKey)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	provider := displayName(m.gen.Provider())
	m.logger.Info("sending content for moderation", "provider", m.gen.Provider(), "chars", len(text))

	var output string
	var raw json.RawMessage
	var err error
	if rg, ok := m.gen.(rawGenerator); ok {
		output, raw, err = rg.GenerateRaw(ctx, Prompt(text))
	} else {
		output, err = m.gen.Generate(ctx, Prompt(text))
		if err == nil {
			raw, err = json.Marshal(output)
		}
	}
	if err != nil {
		report := errorReport(errorMessage(provider, err))
		var gerr *gemini.Error
		if errors.As(err, &gerr) && gerr.Kind == gemini.ErrorKindUnexpectedFormat && len(gerr.Raw) > 0 {
			report.RawResponse = gerr.Raw
		}
		m.logger.Error("moderation request failed", "provider", m.gen.Provider(), "kind", errorKind(err), "error", err)
		return report
	}

	harmful := IsHarmful(output)
	m.logger.Debug("moderation complete", "provider", m.gen.Provider(), "is_harmful", harmful, "response_chars", len(output))
	return Report{
		Status: StatusSuccess,
		Result: &Result{
			RawResponse:     raw,
			ProcessedOutput: output,
			IsHarmful:       harmful,
		},
	}
}

func displayName(provider string) string {
	switch provider {
	case "gemini":
		return "Gemini"
	case "anthropic":
		return "Anthropic"
	case "openai":
		return "OpenAI"
	default:
		return provider
	}
}

type failureKind int

const (
	failureOther failureKind = iota
	failureTimeout
	failureCanceled
	failureConnection
	failureHTTP
	failureDecode
	failureFormat
)

func (k failureKind) String() string {
	return [...]string{"other", "timeout", "canceled", "connection", "http_status", "decode", "unexpected_format"}[k]
}

func errorKind(err error) failureKind {
	var gerr *gemini.Error
	if errors.As(err, &gerr) {
		switch gerr.Kind {
		case gemini.ErrorKindTimeout:
			return failureTimeout
		case gemini.ErrorKindCanceled:
			return failureCanceled
		case gemini.ErrorKindConnection:
			return failureConnection
		case gemini.ErrorKindHTTPStatus:
			return failureHTTP
		case gemini.ErrorKindDecode:
			return failureDecode
		case gemini.ErrorKindUnexpectedFormat:
			return failureFormat
		}
	}
	var serr *llm.StatusError
	var aerr *anthropic.Error
	if errors.As(err, &serr) || errors.As(err, &aerr) {
		return failureHTTP
	}
	if errors.Is(err, llm.ErrEmptyResponse) {
		return failureFormat
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	if errors.Is(err, context.Canceled) {
		return failureCanceled
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return failureTimeout
		}
		return failureConnection
	}
	return failureOther
}

func statusCode(err error) int {
	var gerr *gemini.Error
	if errors.As(err, &gerr) {
		return gerr.StatusCode
	}
	var serr *llm.StatusError
	if errors.As(err, &serr) {
		return serr.StatusCode
	}
	var aerr *anthropic.Error
	if errors.As(err, &aerr) {
		return aerr.StatusCode
	}
	return 0
}

func errorMessage(provider string, err error) string {
	switch errorKind(err) {
	case failureTimeout:
		return fmt.Sprintf("Request to %s API timed out. Please try again later.", provider)
	case failureCanceled:
		return "Request canceled."
	case failureConnection:
		return fmt.Sprintf("Failed to connect to %s API. Please check your internet connection.", provider)
	case failureHTTP:
		code := statusCode(err)
		return fmt.Sprintf("HTTP error from %s API: %d %s", provider, code, http.StatusText(code))
	case failureDecode:
		return fmt.Sprintf("Failed to parse response from %s API.", provider)
	case failureFormat:
		return fmt.Sprintf("Unexpected response format from %s API", provider)
	default:
		return fmt.Sprintf("Unexpected error: %v", err)
	}
}

// Format renders a report for the terminal. Verbose output is the indented
// JSON report.
func Format(r Report, verbose bool) string {
	if !r.OK() {
		return "ERROR: " + r.Error
	}
	if verbose {
		data, err := json.MarshalIndent(r, "", "  ")
		if err == nil {
			return string(data)
		}
	}
	if r.Result.IsHarmful {
		return "MODERATION RESULT: POTENTIALLY HARMFUL CONTENT DETECTED\n\n" + r.Result.ProcessedOutput
	}
	return "MODERATION RESULT: CONTENT APPEARS SAFE\n\n" + r.Result.ProcessedOutput
}
