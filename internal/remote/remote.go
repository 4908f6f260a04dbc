package remote

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"contentguard/internal/domain"
	"contentguard/internal/integrations/gemini"
	"contentguard/internal/integrations/llm"
	"contentguard/internal/retry"
)

const (
	DefaultTimeout = 30 * time.Second

	// Confidence reported for every remote decision. The service is asked
	// for a bare YES/NO, so there is no probability to carry.
	Confidence = 0.8

	promptPrefix = "Analyze this text for harmful content. Respond only 'YES' or 'NO': "
)

// Classifier asks a hosted model for a YES/NO harmfulness decision. A nil
// Classifier, or one without a generator, never has an opinion.
type Classifier struct {
	gen     llm.Generator
	timeout time.Duration
	retry   retry.Config
	logger  *slog.Logger
}

type Option func(*Classifier)

func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(c *Classifier) {
		if n >= 0 {
			c.retry.MaxRetries = n
		}
	}
}

func WithRetryConfig(cfg retry.Config) Option {
	return func(c *Classifier) { c.retry = cfg }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func New(gen llm.Generator, opts ...Option) *Classifier {
	c := &Classifier{
		gen:     gen,
		timeout: DefaultTimeout,
		retry:   retry.DefaultConfig(),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Classifier) Enabled() bool {
	return c != nil && c.gen != nil
}

// Provider returns the name of the backing provider, or "" when disabled.
func (c *Classifier) Provider() string {
	if !c.Enabled() {
		return ""
	}
	return c.gen.Provider()
}

func Prompt(text string) string {
	return promptPrefix + text
}

// Decide maps a free-text reply to a label: any "YES" anywhere, in any case,
// means HARMFUL. Classify never calls it with an empty reply.
func Decide(response string) domain.Result {
	if strings.Contains(strings.ToUpper(response), "YES") {
		return domain.Result{Label: domain.LabelHarmful, Confidence: Confidence}
	}
	return domain.Result{Label: domain.LabelSafe, Confidence: Confidence}
}

// Classify returns the remote opinion on text, or nil when the remote side is
// disabled or fails for any reason. Failures are logged, never returned.
func (c *Classifier) Classify(ctx context.Context, text string) *domain.Result {
	if !c.Enabled() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := retry.Do(ctx, c.retry, llm.Retryable, c.logger, c.gen.Provider(), func(ctx context.Context) (string, error) {
		return c.gen.Generate(ctx, Prompt(text))
	})
	if err == nil && strings.TrimSpace(resp) == "" {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		c.logger.Warn("remote classification unavailable",
			"provider", c.gen.Provider(),
			"model", c.gen.Model(),
			"kind", errorKind(err),
			"elapsed", time.Since(start),
			"error", err,
		)
		return nil
	}

	result := Decide(resp)
	c.logger.Debug("remote classification",
		"provider", c.gen.Provider(),
		"label", result.Label,
		"elapsed", time.Since(start),
	)
	return &result
}

func errorKind(err error) string {
	if kind := gemini.KindOf(err); kind != "" {
		return string(kind)
	}
	switch {
	case errors.Is(err, llm.ErrEmptyResponse):
		return "empty_response"
	case llm.Retryable(err):
		return "transient"
	default:
		return "error"
	}
}
