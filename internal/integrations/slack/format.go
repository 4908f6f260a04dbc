package slackbot

import (
	"fmt"
	"strings"

	"contentguard/internal/domain"
	"contentguard/internal/moderation"
)

const maxReportChars = 2800

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func FormatAnalysisMessage(a domain.Analysis) string {
	var sb strings.Builder
	if a.Verdict.Harmful() {
		sb.WriteString(fmt.Sprintf(":warning: *Harmful Content* (%s)\n", pct(a.Verdict.Confidence)))
	} else {
		sb.WriteString(fmt.Sprintf(":white_check_mark: *Safe Content* (%s)\n", pct(a.Verdict.Confidence)))
	}
	sb.WriteString(fmt.Sprintf(">Text: _%s_\n", truncateRunes(strings.ReplaceAll(a.Text, "\n", " "), maxEchoChars)))
	sb.WriteString(fmt.Sprintf(">Local: %s (%s)\n", a.Local.Label, pct(a.Local.Confidence)))
	if a.Remote != nil {
		sb.WriteString(fmt.Sprintf(">Remote (%s): %s (%s)\n", a.RemoteProvider, a.Remote.Label, pct(a.Remote.Confidence)))
	} else {
		sb.WriteString(">Remote: not available\n")
	}
	return sb.String()
}

func FormatReportMessage(r moderation.Report) string {
	if !r.OK() {
		return "Error: " + r.Error
	}
	header := ":white_check_mark: *Content appears safe*"
	if r.Result.IsHarmful {
		header = ":warning: *Potentially harmful content detected*"
	}
	return header + "\n\n" + truncateRunes(r.Result.ProcessedOutput, maxReportChars)
}

func FormatStatsMessage(s domain.AnalysisStats, window string) string {
	var sb strings.Builder
	sb.WriteString("*Moderation Stats*\n\n")
	sb.WriteString(fmt.Sprintf("*%s*\n", window))
	sb.WriteString(fmt.Sprintf("- Analyses: %d\n", s.Total))
	if s.Total == 0 {
		sb.WriteString("- No analyses recorded in this window.\n")
		return sb.String()
	}
	harmfulRate := 100.0 * float64(s.Harmful) / float64(s.Total)
	sb.WriteString(fmt.Sprintf("- Harmful: %d (%.1f%%)\n", s.Harmful, harmfulRate))
	sb.WriteString(fmt.Sprintf("- Safe: %d\n", s.Safe))
	sb.WriteString(fmt.Sprintf("- Local/remote disagreements: %d\n", s.Disagreements))
	sb.WriteString(fmt.Sprintf("- Remote unavailable: %d\n", s.RemoteUnavailable))
	sb.WriteString(fmt.Sprintf("- Avg verdict confidence: %.2f\n", s.AvgConfidence))
	return sb.String()
}

func HelpText() string {
	lines := []string{
		"*Content Moderation Commands*",
		"",
		"`/moderate <text>` - Classify text as safe or harmful.",
		"`/moderate-report <text>` - Ask the remote model for a detailed moderation report.",
		"`/moderation-stats [days]` - Show moderation stats (default 7 days).",
		"`/moderation-help` - Show this help.",
		"",
		"All replies are only visible to you.",
	}
	return strings.Join(lines, "\n")
}
