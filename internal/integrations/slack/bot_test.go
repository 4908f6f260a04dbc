package slackbot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"contentguard/internal/analyzer"
	"contentguard/internal/domain"
	"contentguard/internal/moderation"
)

type postedMessage struct {
	channel string
	user    string
	text    string
}

type fakePoster struct {
	mu        sync.Mutex
	ephemeral []postedMessage
	messages  []postedMessage
}

// messageText renders MsgOptions the same way slack-go encodes them.
func messageText(options []slack.MsgOption) string {
	_, values, err := slack.UnsafeApplyMsgOptions("token", "C1", "https://slack.com/api/", options...)
	if err != nil {
		return ""
	}
	return values.Get("text")
}

func (f *fakePoster) PostEphemeral(channelID, userID string, options ...slack.MsgOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ephemeral = append(f.ephemeral, postedMessage{channel: channelID, user: userID, text: messageText(options)})
	return "ts", nil
}

func (f *fakePoster) PostMessage(channelID string, options ...slack.MsgOption) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, postedMessage{channel: channelID, text: messageText(options)})
	return channelID, "ts", nil
}

func (f *fakePoster) lastEphemeral(t *testing.T) postedMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ephemeral) == 0 {
		t.Fatal("no ephemeral message posted")
	}
	return f.ephemeral[len(f.ephemeral)-1]
}

type fakeAnalyzer struct {
	analysis domain.Analysis
	err      error
	got      string
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, text string) (domain.Analysis, error) {
	f.got = text
	if f.err != nil {
		return domain.Analysis{}, f.err
	}
	a := f.analysis
	a.Text = text
	return a, nil
}

type fakeModerator struct{ report moderation.Report }

func (f fakeModerator) Moderate(ctx context.Context, text string) moderation.Report { return f.report }

type fakeStats struct {
	stats domain.AnalysisStats
	since time.Time
}

func (f *fakeStats) Stats(ctx context.Context, since time.Time) (domain.AnalysisStats, error) {
	f.since = since
	return f.stats, nil
}

func slashCommand(command, text string) slack.SlashCommand {
	return slack.SlashCommand{Command: command, Text: text, ChannelID: "C1", UserID: "U1"}
}

func TestHandleModerate(t *testing.T) {
	poster := &fakePoster{}
	an := &fakeAnalyzer{analysis: domain.Analysis{
		ID:             "a1",
		Local:          domain.Result{Label: domain.LabelHarmful, Confidence: 0.9},
		Remote:         &domain.Result{Label: domain.LabelSafe, Confidence: 0.8},
		Verdict:        domain.Verdict{Label: domain.LabelHarmful, Confidence: 0.8},
		RemoteProvider: "gemini",
	}}
	bot := New(poster, an, nil, nil, time.UTC, nil)

	bot.HandleSlashCommand(context.Background(), slashCommand(CommandModerate, "  you are terrible  "))

	if an.got != "you are terrible" {
		t.Fatalf("analyzer got %q", an.got)
	}
	msg := poster.lastEphemeral(t)
	if msg.channel != "C1" || msg.user != "U1" {
		t.Fatalf("reply sent to wrong target: %+v", msg)
	}
	for _, want := range []string{"Harmful Content", "80.00%", "Local: HARMFUL (90.00%)", "Remote (gemini): SAFE (80.00%)", "you are terrible"} {
		if !strings.Contains(msg.text, want) {
			t.Fatalf("reply missing %q: %s", want, msg.text)
		}
	}
}

func TestHandleModerateErrors(t *testing.T) {
	poster := &fakePoster{}
	bot := New(poster, &fakeAnalyzer{err: analyzer.ErrEmptyInput}, nil, nil, time.UTC, nil)

	bot.HandleSlashCommand(context.Background(), slashCommand(CommandModerate, "   "))
	if msg := poster.lastEphemeral(t); !strings.Contains(msg.text, "Usage:") {
		t.Fatalf("expected usage reply, got %q", msg.text)
	}

	bot = New(poster, &fakeAnalyzer{err: errors.New("local classifier: broken")}, nil, nil, time.UTC, nil)
	bot.HandleSlashCommand(context.Background(), slashCommand(CommandModerate, "hi"))
	if msg := poster.lastEphemeral(t); !strings.Contains(msg.text, "Error analyzing text") {
		t.Fatalf("expected error reply, got %q", msg.text)
	}
}

func TestHandleModerateReport(t *testing.T) {
	poster := &fakePoster{}
	report := moderation.Report{Status: moderation.StatusSuccess, Result: &moderation.Result{ProcessedOutput: "Contains harassment.", IsHarmful: true}}
	bot := New(poster, &fakeAnalyzer{}, fakeModerator{report: report}, nil, time.UTC, nil)

	bot.HandleSlashCommand(context.Background(), slashCommand(CommandModerateReport, "text"))
	msg := poster.lastEphemeral(t)
	if !strings.Contains(msg.text, "Potentially harmful") || !strings.Contains(msg.text, "Contains harassment.") {
		t.Fatalf("unexpected report reply: %q", msg.text)
	}

	bot = New(poster, &fakeAnalyzer{}, nil, nil, time.UTC, nil)
	bot.HandleSlashCommand(context.Background(), slashCommand(CommandModerateReport, "text"))
	if msg := poster.lastEphemeral(t); !strings.Contains(msg.text, "not configured") {
		t.Fatalf("expected not configured reply, got %q", msg.text)
	}
}

func TestHandleStats(t *testing.T) {
	poster := &fakePoster{}
	stats := &fakeStats{stats: domain.AnalysisStats{Total: 4, Harmful: 1, Safe: 3, Disagreements: 1, AvgConfidence: 0.61}}
	bot := New(poster, &fakeAnalyzer{}, nil, stats, time.UTC, nil)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	bot.now = func() time.Time { return now }

	bot.HandleSlashCommand(context.Background(), slashCommand(CommandStats, "30"))
	if !stats.since.Equal(now.AddDate(0, 0, -30)) {
		t.Fatalf("unexpected window start %s", stats.since)
	}
	msg := poster.lastEphemeral(t)
	for _, want := range []string{"Last 30 days", "Analyses: 4", "Harmful: 1 (25.0%)", "disagreements: 1", "0.61"} {
		if !strings.Contains(msg.text, want) {
			t.Fatalf("stats reply missing %q: %s", want, msg.text)
		}
	}

	bot.HandleSlashCommand(context.Background(), slashCommand(CommandStats, "forever"))
	if msg := poster.lastEphemeral(t); !strings.Contains(msg.text, "Usage:") {
		t.Fatalf("expected usage reply, got %q", msg.text)
	}

	noHistory := New(poster, &fakeAnalyzer{}, nil, nil, time.UTC, nil)
	noHistory.HandleSlashCommand(context.Background(), slashCommand(CommandStats, ""))
	if msg := poster.lastEphemeral(t); !strings.Contains(msg.text, "History is disabled") {
		t.Fatalf("expected history disabled reply, got %q", msg.text)
	}
}

func TestHandleHelpAndUnknown(t *testing.T) {
	poster := &fakePoster{}
	bot := New(poster, &fakeAnalyzer{}, nil, nil, time.UTC, nil)

	bot.HandleSlashCommand(context.Background(), slashCommand("/report", "x"))
	if len(poster.ephemeral) != 0 {
		t.Fatal("unknown commands must be ignored")
	}
	bot.HandleSlashCommand(context.Background(), slashCommand(CommandHelp, ""))
	if msg := poster.lastEphemeral(t); !strings.Contains(msg.text, "/moderate <text>") {
		t.Fatalf("unexpected help: %q", msg.text)
	}
}

func TestServeEventsDispatchesAndStopsOnCancel(t *testing.T) {
	poster := &fakePoster{}
	bot := New(poster, &fakeAnalyzer{}, nil, nil, time.UTC, nil)

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan socketmode.Event)
	acked := make(chan string, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		bot.serveEvents(ctx, events, func(req socketmode.Request) { acked <- req.EnvelopeID })
	}()

	events <- socketmode.Event{Type: socketmode.EventTypeConnected}
	events <- socketmode.Event{
		Type:    socketmode.EventTypeSlashCommand,
		Data:    slashCommand(CommandHelp, ""),
		Request: &socketmode.Request{EnvelopeID: "env-1"},
	}
	select {
	case id := <-acked:
		if id != "env-1" {
			t.Fatalf("acked envelope %q", id)
		}
	case <-time.After(time.Second):
		t.Fatal("slash command was not acknowledged")
	}

	// The events channel stays open, as it does when the socket client
	// returns without closing it.
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event loop did not stop after cancel")
	}
}

func TestServeEventsStopsWhenChannelCloses(t *testing.T) {
	bot := New(&fakePoster{}, &fakeAnalyzer{}, nil, nil, time.UTC, nil)
	events := make(chan socketmode.Event)
	close(events)

	done := make(chan struct{})
	go func() {
		defer close(done)
		bot.serveEvents(context.Background(), events, func(socketmode.Request) {})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event loop did not stop after the channel closed")
	}
}

func TestParseStatsDays(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "", want: 7},
		{in: "14", want: 14},
		{in: " 30d ", want: 30},
		{in: "0", wantErr: true},
		{in: "400", wantErr: true},
		{in: "week", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseStatsDays(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseStatsDays(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if !tt.wantErr && got != tt.want {
			t.Fatalf("ParseStatsDays(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestPostStats(t *testing.T) {
	poster := &fakePoster{}
	bot := New(poster, &fakeAnalyzer{}, nil, nil, time.UTC, nil)
	if err := bot.PostStats("C9", domain.AnalysisStats{}, "Last 24 hours"); err != nil {
		t.Fatalf("PostStats failed: %v", err)
	}
	if len(poster.messages) != 1 || poster.messages[0].channel != "C9" {
		t.Fatalf("unexpected posts: %+v", poster.messages)
	}
	if !strings.Contains(poster.messages[0].text, "No analyses recorded") {
		t.Fatalf("empty stats should say so: %q", poster.messages[0].text)
	}
}
