package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"contentguard/internal/domain"
)

var ErrEmptyInput = errors.New("input text is empty")

// LocalClassifier must always produce an opinion; an error fails the request.
type LocalClassifier interface {
	Classify(ctx context.Context, text string) (domain.Result, error)
}

// RemoteClassifier may decline to give an opinion by returning nil.
type RemoteClassifier interface {
	Classify(ctx context.Context, text string) *domain.Result
	Provider() string
}

// Recorder persists finished analyses.
type Recorder interface {
	RecordAnalysis(ctx context.Context, a domain.Analysis) error
}

type Analyzer struct {
	local    LocalClassifier
	remote   RemoteClassifier
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Analyzer)

// WithRemote sets the remote classifier. Without one, verdicts are local only.
func WithRemote(r RemoteClassifier) Option {
	return func(a *Analyzer) { a.remote = r }
}

func WithRecorder(r Recorder) Option {
	return func(a *Analyzer) { a.recorder = r }
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func New(local LocalClassifier, opts ...Option) *Analyzer {
	a := &Analyzer{
		local:  local,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RemoteProvider names the remote backend, or "" when there is none.
func (a *Analyzer) RemoteProvider() string {
	if a.remote == nil {
		return ""
	}
	return a.remote.Provider()
}

// Analyze classifies text with both classifiers in parallel and combines the
// results. Only a local failure or an empty input is an error.
func (a *Analyzer) Analyze(ctx context.Context, text string) (domain.Analysis, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Analysis{}, ErrEmptyInput
	}

	start := a.now()
	var local domain.Result
	var remote *domain.Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := a.local.Classify(gctx, text)
		if err != nil {
			return fmt.Errorf("local classifier: %w", err)
		}
		local = res
		return nil
	})
	if a.remote != nil {
		g.Go(func() error {
			remote = a.remote.Classify(gctx, text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.logger.Error("analysis failed", "error", err)
		return domain.Analysis{}, err
	}

	analysis := domain.Analysis{
		ID:        uuid.NewString(),
		Text:      text,
		Local:     local,
		Remote:    remote,
		Verdict:   Combine(local, remote),
		Duration:  a.now().Sub(start),
		CreatedAt: start,
	}
	if remote != nil {
		analysis.RemoteProvider = a.remote.Provider()
	}

	a.logger.Info("analysis complete",
		"id", analysis.ID,
		"verdict", analysis.Verdict.Label,
		"confidence", analysis.Verdict.Confidence,
		"local", local.Label,
		"remote_available", remote != nil,
		"elapsed", analysis.Duration,
	)

	if a.recorder != nil {
		if err := a.recorder.RecordAnalysis(ctx, analysis); err != nil {
			a.logger.Warn("recording analysis failed", "id", analysis.ID, "error", err)
		}
	}
	return analysis, nil
}

// AnalyzeLegacy returns the flat 0/1 shape.
func (a *Analyzer) AnalyzeLegacy(ctx context.Context, text string) (domain.LegacyResult, error) {
	analysis, err := a.Analyze(ctx, text)
	if err != nil {
		return domain.LegacyResult{}, err
	}
	return analysis.Legacy(), nil
}
