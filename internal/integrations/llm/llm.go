package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"

	"contentguard/internal/config"
	"contentguard/internal/httpx"
	"contentguard/internal/integrations/gemini"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	defaultOpenAIModel    = "gpt-4o-mini"
)

var ErrMissingCredential = errors.New("llm: no API key configured for remote provider")

// ErrEmptyResponse means the provider answered without any usable text, e.g.
// a content filter blocked the completion.
var ErrEmptyResponse = errors.New("llm: response contained no text")

// Generator sends a single prompt to a hosted model and returns its text reply.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Provider() string
	Model() string
}

// New builds the generator selected by cfg.RemoteProvider.
func New(cfg config.Config, logger *slog.Logger) (Generator, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if !cfg.RemoteEnabled() {
		return nil, fmt.Errorf("%w (provider=%s)", ErrMissingCredential, cfg.RemoteProvider)
	}
	logger = logger.With("provider", cfg.RemoteProvider)

	switch cfg.RemoteProvider {
	case config.ProviderAnthropic:
		return NewAnthropic(cfg.AnthropicAPIKey, cfg.RemoteModel, logger)
	case config.ProviderOpenAI:
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.RemoteModel, logger)
	case config.ProviderGemini, "":
		return gemini.New(cfg.GeminiAPIKey, logger,
			gemini.WithModel(cfg.RemoteModel),
			gemini.WithBaseURL(cfg.GeminiBaseURL),
			gemini.WithHTTPClient(httpx.ExternalHTTPClient()),
		)
	default:
		return nil, fmt.Errorf("unknown remote provider %q", cfg.RemoteProvider)
	}
}

// Retryable reports whether a Generate error is transient: timeouts,
// connection failures, 429 and 5xx responses.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var gerr *gemini.Error
	if errors.As(err, &gerr) {
		return gerr.Retryable()
	}
	var aerr *anthropic.Error
	if errors.As(err, &aerr) {
		return retryableStatus(aerr.StatusCode)
	}
	var serr *StatusError
	if errors.As(err, &serr) {
		return retryableStatus(serr.StatusCode)
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
