package slackbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"contentguard/internal/analyzer"
	"contentguard/internal/domain"
	"contentguard/internal/moderation"
)

const (
	CommandModerate       = "/moderate"
	CommandModerateReport = "/moderate-report"
	CommandStats          = "/moderation-stats"
	CommandHelp           = "/moderation-help"

	defaultStatsDays = 7
	maxStatsDays     = 365
	maxEchoChars     = 200
)

type Analyzer interface {
	Analyze(ctx context.Context, text string) (domain.Analysis, error)
}

type Moderator interface {
	Moderate(ctx context.Context, text string) moderation.Report
}

type StatsSource interface {
	Stats(ctx context.Context, since time.Time) (domain.AnalysisStats, error)
}

// Poster is the subset of *slack.Client the bot writes through.
type Poster interface {
	PostEphemeral(channelID, userID string, options ...slack.MsgOption) (string, error)
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
}

type Bot struct {
	api       Poster
	analyzer  Analyzer
	moderator Moderator
	stats     StatsSource
	logger    *slog.Logger
	location  *time.Location
	now       func() time.Time
}

// New builds a bot. moderator and stats may be nil; their commands then
// reply that the feature is not configured.
func New(api Poster, an Analyzer, moderator Moderator, stats StatsSource, loc *time.Location, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Bot{
		api:       api,
		analyzer:  an,
		moderator: moderator,
		stats:     stats,
		logger:    logger,
		location:  loc,
		now:       time.Now,
	}
}

// Run connects over Socket Mode and serves slash commands until ctx is done.
// It returns once the event loop has stopped.
func (b *Bot) Run(ctx context.Context, api *slack.Client) error {
	client := socketmode.New(api)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.serveEvents(ctx, client.Events, func(req socketmode.Request) { client.Ack(req) })
	}()

	err := client.RunContext(ctx)
	cancel()
	<-done
	return err
}

// serveEvents dispatches socket mode events until ctx is done or events is
// closed.
func (b *Bot) serveEvents(ctx context.Context, events <-chan socketmode.Event, ack func(socketmode.Request)) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeConnected:
				b.logger.Info("slack bot connected via socket mode")
			case socketmode.EventTypeSlashCommand:
				if evt.Request != nil {
					ack(*evt.Request)
				}
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				b.logger.Info("slash command received", "command", cmd.Command, "user", cmd.UserID, "channel", cmd.ChannelID)
				go b.HandleSlashCommand(ctx, cmd)
			}
		}
	}
}

func (b *Bot) HandleSlashCommand(ctx context.Context, cmd slack.SlashCommand) {
	switch cmd.Command {
	case CommandModerate:
		b.handleModerate(ctx, cmd)
	case CommandModerateReport:
		b.handleModerateReport(ctx, cmd)
	case CommandStats:
		b.handleStats(ctx, cmd)
	case CommandHelp:
		b.postEphemeral(cmd, HelpText())
	default:
		b.logger.Debug("ignoring unknown slash command", "command", cmd.Command)
	}
}

func (b *Bot) handleModerate(ctx context.Context, cmd slack.SlashCommand) {
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		b.postEphemeral(cmd, fmt.Sprintf("Usage: `%s <text to check>`", CommandModerate))
		return
	}

	analysis, err := b.analyzer.Analyze(ctx, text)
	if err != nil {
		if errors.Is(err, analyzer.ErrEmptyInput) {
			b.postEphemeral(cmd, fmt.Sprintf("Usage: `%s <text to check>`", CommandModerate))
			return
		}
		b.logger.Error("slack moderate failed", "user", cmd.UserID, "error", err)
		b.postEphemeral(cmd, fmt.Sprintf("Error analyzing text: %v", err))
		return
	}
	b.postEphemeral(cmd, FormatAnalysisMessage(analysis))
	b.logger.Info("slack moderate answered", "user", cmd.UserID, "analysis_id", analysis.ID, "verdict", analysis.Verdict.Label)
}

func (b *Bot) handleModerateReport(ctx context.Context, cmd slack.SlashCommand) {
	if b.moderator == nil {
		b.postEphemeral(cmd, "Detailed moderation reports are not configured.")
		return
	}
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		b.postEphemeral(cmd, fmt.Sprintf("Usage: `%s <text to check>`", CommandModerateReport))
		return
	}
	report := b.moderator.Moderate(ctx, text)
	b.postEphemeral(cmd, FormatReportMessage(report))
}

func (b *Bot) handleStats(ctx context.Context, cmd slack.SlashCommand) {
	if b.stats == nil {
		b.postEphemeral(cmd, "History is disabled, so there are no stats. Set `db_path` to enable it.")
		return
	}
	days, err := ParseStatsDays(cmd.Text)
	if err != nil {
		b.postEphemeral(cmd, fmt.Sprintf("Usage: `%s [days]` (%v)", CommandStats, err))
		return
	}
	since := b.now().In(b.location).AddDate(0, 0, -days)
	stats, err := b.stats.Stats(ctx, since)
	if err != nil {
		b.logger.Error("slack stats failed", "error", err)
		b.postEphemeral(cmd, fmt.Sprintf("Error loading stats: %v", err))
		return
	}
	b.postEphemeral(cmd, FormatStatsMessage(stats, fmt.Sprintf("Last %d days", days)))
}

// PostStats posts a stats message to a channel.
func (b *Bot) PostStats(channelID string, stats domain.AnalysisStats, window string) error {
	_, _, err := b.api.PostMessage(channelID, slack.MsgOptionText(FormatStatsMessage(stats, window), false))
	return err
}

func (b *Bot) postEphemeral(cmd slack.SlashCommand, text string) {
	_, err := b.api.PostEphemeral(cmd.ChannelID, cmd.UserID, slack.MsgOptionText(text, false))
	if err != nil {
		b.logger.Error("posting ephemeral failed", "channel", cmd.ChannelID, "user", cmd.UserID, "error", err)
	}
}

// ParseStatsDays reads the optional day window of /moderation-stats.
func ParseStatsDays(arg string) (int, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return defaultStatsDays, nil
	}
	arg = strings.TrimSuffix(strings.ToLower(arg), "d")
	days, err := strconv.Atoi(arg)
	if err != nil || days < 1 || days > maxStatsDays {
		return 0, fmt.Errorf("days must be a number between 1 and %d", maxStatsDays)
	}
	return days, nil
}
