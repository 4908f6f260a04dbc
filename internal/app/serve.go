package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/sync/errgroup"

	"contentguard/internal/api"
	"contentguard/internal/config"
	"contentguard/internal/digest"
	slackbot "contentguard/internal/integrations/slack"
	"contentguard/internal/moderation"
	"contentguard/internal/ratelimit"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context, args []string, s streams) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(s.errOut)
	var addr, apiKey string
	var verbose bool
	stringFlag(fs, &addr, "listen address (overrides http_addr)", "addr")
	stringFlag(fs, &apiKey, "API key of the remote provider", "api-key", "k")
	boolFlag(fs, &verbose, "debug logging", "verbose", "v")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	cfg, err := loadConfig(apiKey)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.HTTPAddr = addr
	}
	logger := loggerFor(cfg, verbose, "json", s.errOut)

	svc, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	// Interfaces stay nil when the backing component is missing.
	var (
		apiModerator   api.Moderator
		slackModerator slackbot.Moderator
		history        api.History
		slackStats     slackbot.StatsSource
	)
	if svc.gen != nil {
		mod := moderation.New(svc.gen, cfg.RemoteTimeout(), logger.With("component", "moderation"))
		apiModerator, slackModerator = mod, mod
	}
	if svc.store != nil {
		history, slackStats = svc.store, svc.store
	}

	handler := api.NewHandler(svc.analyzer, apiModerator, history, ratelimit.New(nil), logger.With("component", "api"))
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RemoteTimeout() + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var workers []worker
	if cfg.SlackConfigured() {
		workers, err = slackWorkers(cfg, svc, slackModerator, slackStats, logger)
		if err != nil {
			return err
		}
	} else {
		logger.Info("slack bot disabled (slack_bot_token and slack_app_token not set)")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server starting", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", "error", err)
		}
		return nil
	})
	for _, w := range workers {
		g.Go(func() error { return w(gctx) })
	}

	err = g.Wait()
	logger.Info("server stopped")
	return err
}

// worker runs until ctx is done.
type worker func(ctx context.Context) error

func slackWorkers(cfg config.Config, svc *services, mod slackbot.Moderator, stats slackbot.StatsSource, logger *slog.Logger) ([]worker, error) {
	client := slack.New(cfg.SlackBotToken, slack.OptionAppLevelToken(cfg.SlackAppToken))
	bot := slackbot.New(client, svc.analyzer, mod, stats, cfg.Location, logger.With("component", "slack"))

	workers := []worker{func(ctx context.Context) error {
		logger.Info("slack bot starting")
		if err := bot.Run(ctx, client); err != nil && ctx.Err() == nil {
			return fmt.Errorf("slack bot: %w", err)
		}
		return nil
	}}

	switch {
	case cfg.DigestSchedule == "":
		logger.Info("digest disabled (digest_schedule not set)")
	case !cfg.DigestEnabled():
		logger.Warn("digest disabled: slack_digest_channel_id not set")
	case svc.store == nil:
		logger.Warn("digest disabled: history is disabled (db_path not set)")
	default:
		sched, err := digest.New(cfg.DigestSchedule, cfg.SlackDigestChannelID, svc.store, bot, cfg.Location, logger.With("component", "digest"))
		if err != nil {
			return nil, err
		}
		workers = append(workers, func(ctx context.Context) error {
			sched.Run(ctx)
			return nil
		})
	}
	return workers, nil
}
