package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"contentguard/internal/cli"
	"contentguard/internal/integrations/llm"
	"contentguard/internal/moderation"
	"contentguard/internal/storage/sqlite"
)

func stringFlag(fs *flag.FlagSet, p *string, usage string, names ...string) {
	for _, name := range names {
		fs.StringVar(p, name, "", usage)
	}
}

func boolFlag(fs *flag.FlagSet, p *bool, usage string, names ...string) {
	for _, name := range names {
		fs.BoolVar(p, name, false, usage)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitError{code: 0}
		}
		return exitError{code: 2}
	}
	return nil
}

// resolveInput picks the text from --file, then --text, then positional
// arguments, and otherwise prompts once on stdin.
func resolveInput(text, file string, positional []string, s streams, prompt string) (string, error) {
	if file != "" {
		return cli.ReadInputFile(file)
	}
	if text != "" {
		return text, nil
	}
	if len(positional) > 0 {
		return strings.Join(positional, " "), nil
	}
	if prompt == "" {
		return "", nil
	}
	return cli.PromptOnce(s.in, s.out, prompt)
}

func runAnalyze(ctx context.Context, args []string, s streams) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.SetOutput(s.errOut)
	var text, file, apiKey, output string
	var interactive, verbose bool
	stringFlag(fs, &text, "text to analyze (prompted for when no input is given)", "text", "t")
	stringFlag(fs, &file, "read the text to analyze from a file", "file", "f")
	boolFlag(fs, &interactive, "start an interactive session", "interactive", "i")
	stringFlag(fs, &apiKey, "API key of the remote provider", "api-key", "k")
	stringFlag(fs, &output, "save the analysis as JSON to this path", "output", "o")
	boolFlag(fs, &verbose, "show the per-source breakdown and debug logs", "verbose", "v")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	cfg, err := loadConfig(apiKey)
	if err != nil {
		return err
	}
	logger := loggerFor(cfg, verbose, "text", s.errOut)

	svc, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	if interactive {
		session := &cli.Session{
			Title:  "Content Analysis",
			Action: "analysis",
			Busy:   "Analyzing content...",
			In:     s.in,
			Out:    s.out,
			Handler: func(ctx context.Context, input string) (string, error) {
				a, err := svc.analyzer.Analyze(ctx, input)
				if err != nil {
					return "", err
				}
				return cli.FormatAnalysis(a, verbose), nil
			},
		}
		return session.Run(ctx)
	}

	input, err := resolveInput(text, file, fs.Args(), s, "Enter text to analyze: ")
	if err != nil {
		return err
	}
	analysis, err := svc.analyzer.Analyze(ctx, input)
	if err != nil {
		return err
	}

	fmt.Fprintln(s.out)
	fmt.Fprint(s.out, cli.FormatAnalysis(analysis, verbose))

	if output != "" {
		if err := cli.SaveOutput(output, analysis); err != nil {
			logger.Error("saving results failed", "path", output, "error", err)
		} else {
			logger.Info("results saved", "path", output)
		}
	}
	return nil
}

func runModerate(ctx context.Context, args []string, s streams) error {
	fs := flag.NewFlagSet("moderate", flag.ContinueOnError)
	fs.SetOutput(s.errOut)
	var input, file, apiKey, output string
	var interactive, verbose bool
	stringFlag(fs, &input, "text to moderate", "input", "i")
	stringFlag(fs, &file, "read the text to moderate from a file", "file", "f")
	boolFlag(fs, &interactive, "start an interactive session", "interactive")
	stringFlag(fs, &apiKey, "API key of the remote provider", "api-key", "k")
	stringFlag(fs, &output, "save the report as JSON to this path", "output", "o")
	boolFlag(fs, &verbose, "print the full JSON report and debug logs", "verbose", "v")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	sources := 0
	for _, set := range []bool{input != "", file != "", interactive} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		fmt.Fprintln(s.errOut, "exactly one of --input, --file or --interactive is required")
		fs.Usage()
		return exitError{code: 2}
	}

	cfg, err := loadConfig(apiKey)
	if err != nil {
		return err
	}
	logger := loggerFor(cfg, verbose, "text", s.errOut)

	gen, err := llm.New(cfg, logger.With("component", "llm"))
	if err != nil {
		if errors.Is(err, llm.ErrMissingCredential) {
			return fmt.Errorf("%w: pass --api-key or set the provider's API key", err)
		}
		return fmt.Errorf("initializing remote provider: %w", err)
	}
	logger.Info("remote provider initialized", "provider", gen.Provider(), "model", gen.Model())
	mod := moderation.New(gen, cfg.RemoteTimeout(), logger.With("component", "moderation"))

	if interactive {
		session := &cli.Session{
			Title:  "Content Moderation",
			Action: "moderation assessment",
			Busy:   "Analyzing content...",
			In:     s.in,
			Out:    s.out,
			Handler: func(ctx context.Context, text string) (string, error) {
				return moderation.Format(mod.Moderate(ctx, text), verbose), nil
			},
		}
		return session.Run(ctx)
	}

	text, err := resolveInput(input, file, nil, s, "")
	if err != nil {
		return err
	}
	if file != "" {
		logger.Info("loaded input", "path", file, "chars", len(text))
	}

	report := mod.Moderate(ctx, text)
	fmt.Fprintln(s.out, moderation.Format(report, verbose))

	if output != "" {
		if err := cli.SaveOutput(output, report); err != nil {
			logger.Error("saving results failed", "path", output, "error", err)
		} else {
			logger.Info("results saved", "path", output)
		}
	}
	return nil
}

func runHistory(ctx context.Context, args []string, s streams) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(s.errOut)
	limit := fs.Int("limit", sqlite.DefaultListLimit, "number of analyses to list")
	fs.IntVar(limit, "n", sqlite.DefaultListLimit, "number of analyses to list")
	asJSON := fs.Bool("json", false, "print the analyses as JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	cfg, err := loadConfig("")
	if err != nil {
		return err
	}
	if !cfg.HistoryEnabled() {
		return errors.New("history is disabled: set db_path in config.yaml or DB_PATH")
	}

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening history database: %w", err)
	}
	store := sqlite.NewStore(db)
	defer store.Close()

	analyses, err := store.Recent(ctx, *limit)
	if err != nil {
		return fmt.Errorf("listing history: %w", err)
	}
	if *asJSON {
		return cli.WriteJSON(s.out, analyses)
	}
	fmt.Fprint(s.out, cli.FormatHistory(analyses, cfg.Location))
	return nil
}
