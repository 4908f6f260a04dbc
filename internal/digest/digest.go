package digest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"contentguard/internal/config"
	"contentguard/internal/domain"
)

const Window = 24 * time.Hour

type StatsSource interface {
	Stats(ctx context.Context, since time.Time) (domain.AnalysisStats, error)
}

// Poster posts a stats summary to a channel.
type Poster interface {
	PostStats(channelID string, stats domain.AnalysisStats, window string) error
}

type Scheduler struct {
	schedule  cron.Schedule
	spec      string
	channelID string
	stats     StatsSource
	poster    Poster
	location  *time.Location
	logger    *slog.Logger
	now       func() time.Time
}

// ParseSchedule parses a standard 5-field cron expression
// (minute hour day-of-month month day-of-week) or a descriptor like "@daily",
// with the same rules config validation applies.
func ParseSchedule(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty digest schedule")
	}
	sched, err := config.ParseSchedule(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing digest schedule %q: %w", spec, err)
	}
	return sched, nil
}

func New(spec, channelID string, stats StatsSource, poster Poster, loc *time.Location, logger *slog.Logger) (*Scheduler, error) {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	if channelID == "" {
		return nil, fmt.Errorf("digest channel is not set")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		schedule:  sched,
		spec:      strings.TrimSpace(spec),
		channelID: channelID,
		stats:     stats,
		poster:    poster,
		location:  loc,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Next returns the first run time strictly after t, in the scheduler's timezone.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.location))
}

// RunOnce posts the stats of the last 24 hours.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	since := s.now().Add(-Window)
	stats, err := s.stats.Stats(ctx, since)
	if err != nil {
		return fmt.Errorf("loading digest stats: %w", err)
	}
	if err := s.poster.PostStats(s.channelID, stats, "Last 24 hours"); err != nil {
		return fmt.Errorf("posting digest: %w", err)
	}
	s.logger.Info("digest posted", "channel", s.channelID, "analyses", stats.Total, "harmful", stats.Harmful)
	return nil
}

// Run blocks until ctx is done, posting a digest at every scheduled time.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("digest scheduled", "cron", s.spec, "channel", s.channelID)
	for {
		now := s.now().In(s.location)
		next := s.Next(now)
		wait := next.Sub(now)
		s.logger.Info("next digest", "at", next.Format("Mon Jan 2 15:04"), "in", wait.Round(time.Minute))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("digest scheduler stopped")
			return
		case <-timer.C:
		}

		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error("digest failed", "error", err)
		}
	}
}
