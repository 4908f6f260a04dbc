package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"contentguard/internal/analyzer"
	"contentguard/internal/config"
	"contentguard/internal/httpx"
	"contentguard/internal/integrations/llm"
	"contentguard/internal/localmodel"
	"contentguard/internal/remote"
	"contentguard/internal/storage/sqlite"
)

const usage = `Usage: contentguard <command> [flags]

Commands:
  analyze   classify text with the local model and the remote model (default)
  moderate  ask the remote model for a detailed moderation report
  serve     run the HTTP API, the Slack bot and the digest scheduler
  history   list recent analyses from the history store

Run 'contentguard <command> -h' for the flags of a command.
`

// streams are the process's standard streams, swappable in tests.
type streams struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

func Main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(Run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// Run dispatches to a subcommand and returns the process exit code.
func Run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	s := streams{in: in, out: out, errOut: errOut}

	cmd := "analyze"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "analyze":
		err = runAnalyze(ctx, args, s)
	case "moderate":
		err = runModerate(ctx, args, s)
	case "serve":
		err = runServe(ctx, args, s)
	case "history":
		err = runHistory(ctx, args, s)
	case "help":
		fmt.Fprint(out, usage)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	var exit exitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &exit):
		return exit.code
	default:
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return 1
	}
}

// exitError ends the process with code after the command has already
// reported the problem.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// SetupLogger builds the process logger. format is "text" or "json".
func SetupLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func loggerFor(cfg config.Config, verbose bool, defaultFormat string, w io.Writer) *slog.Logger {
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	format := cfg.LogFormat
	if format == "" {
		format = defaultFormat
	}
	return SetupLogger(level, format, w)
}

func loadConfig(apiKey string) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	if apiKey != "" {
		cfg.SetRemoteAPIKey(apiKey)
	}
	return cfg, nil
}

// services are the components shared by analyze and serve.
type services struct {
	analyzer *analyzer.Analyzer
	model    localmodel.Model
	gen      llm.Generator
	store    *sqlite.Store
}

func (s *services) Close() {
	if s.store != nil {
		s.store.Close()
	}
	if s.model != nil {
		s.model.Close()
	}
}

// buildServices loads the local model (required), the remote generator
// (optional) and the history store (when db_path is set).
func buildServices(cfg config.Config, logger *slog.Logger) (*services, error) {
	httpx.ConfigureExternalHTTPClient(cfg.RemoteTimeout())

	model, err := localmodel.Load(cfg.LocalModelPath)
	if err != nil {
		return nil, fmt.Errorf("loading local model from %s: %w", cfg.LocalModelPath, err)
	}
	logger.Info("local model loaded", "path", cfg.LocalModelPath, "runtime", model.Runtime(), "labels", model.Labels())
	local := localmodel.NewClassifier(model, logger.With("component", "localmodel"))

	svc := &services{model: model}
	opts := []analyzer.Option{analyzer.WithLogger(logger.With("component", "analyzer"))}

	gen, err := llm.New(cfg, logger.With("component", "llm"))
	switch {
	case errors.Is(err, llm.ErrMissingCredential):
		logger.Warn("no API key for remote provider, remote classification disabled", "provider", cfg.RemoteProvider)
	case err != nil:
		svc.Close()
		return nil, fmt.Errorf("initializing remote provider: %w", err)
	default:
		svc.gen = gen
		rc := remote.New(gen,
			remote.WithTimeout(cfg.RemoteTimeout()),
			remote.WithMaxRetries(cfg.RemoteMaxRetries),
			remote.WithLogger(logger.With("component", "remote")),
		)
		opts = append(opts, analyzer.WithRemote(rc))
		logger.Info("remote classifier enabled", "provider", gen.Provider(), "model", gen.Model())
	}

	if cfg.HistoryEnabled() {
		db, err := sqlite.InitDB(cfg.DBPath)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("opening history database: %w", err)
		}
		svc.store = sqlite.NewStore(db)
		opts = append(opts, analyzer.WithRecorder(svc.store))
		logger.Info("history enabled", "db_path", cfg.DBPath)
	}

	svc.analyzer = analyzer.New(local, opts...)
	return svc, nil
}
