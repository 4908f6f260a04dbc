package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"contentguard/internal/domain"
)

const rule = "----------------------------------------"

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

// FormatVerdict renders the one-line verdict.
func FormatVerdict(v domain.Verdict) string {
	label := "Safe Content"
	if v.Harmful() {
		label = "Harmful Content"
	}
	return fmt.Sprintf("Final Verdict: %s (%s)", label, percent(v.Confidence))
}

// FormatAnalysis renders an analysis for the terminal. Verbose output lists
// both sources with their labels; the short form shows the local confidence
// and the remote decision.
func FormatAnalysis(a domain.Analysis, verbose bool) string {
	var b strings.Builder
	b.WriteString("Analysis Results:\n")
	b.WriteString(rule + "\n")
	b.WriteString(FormatVerdict(a.Verdict) + "\n")

	remoteName := "Remote"
	if a.RemoteProvider != "" {
		remoteName = fmt.Sprintf("Remote (%s)", a.RemoteProvider)
	}

	if verbose {
		b.WriteString("\nDetailed Breakdown:\n")
		fmt.Fprintf(&b, "Local: %s (%s)\n", a.Local.Label, percent(a.Local.Confidence))
		if a.Remote != nil {
			fmt.Fprintf(&b, "%s: %s (%s)\n", remoteName, a.Remote.Label, percent(a.Remote.Confidence))
		} else {
			b.WriteString("Remote: Not available\n")
		}
		return b.String()
	}

	fmt.Fprintf(&b, "Local Confidence: %s\n", percent(a.Local.Confidence))
	switch {
	case a.Remote == nil:
		b.WriteString("Remote Decision: Not available\n")
	case a.Remote.Label == domain.LabelHarmful:
		fmt.Fprintf(&b, "%s Decision: Harmful\n", remoteName)
	default:
		fmt.Fprintf(&b, "%s Decision: Safe\n", remoteName)
	}
	return b.String()
}

// ReadInputFile returns the trimmed contents of path.
func ReadInputFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading input file %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveOutput writes v to path as indented JSON.
func SaveOutput(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("saving results to %s: %w", path, err)
	}
	return nil
}

// WriteJSON writes v to w as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// FormatHistory renders stored analyses one per line, newest first.
func FormatHistory(analyses []domain.Analysis, loc *time.Location) string {
	if len(analyses) == 0 {
		return "No analyses recorded yet.\n"
	}
	if loc == nil {
		loc = time.Local
	}
	var b strings.Builder
	for _, a := range analyses {
		remote := "n/a"
		if a.Remote != nil {
			remote = string(a.Remote.Label)
		}
		text := strings.Join(strings.Fields(a.Text), " ")
		if runes := []rune(text); len(runes) > historyPreviewChars {
			text = string(runes[:historyPreviewChars]) + "..."
		}
		fmt.Fprintf(&b, "%s  %-7s %7s  local=%s remote=%s  %s\n",
			a.CreatedAt.In(loc).Format("2006-01-02 15:04:05"),
			a.Verdict.Label, percent(a.Verdict.Confidence),
			a.Local.Label, remote, text)
	}
	return b.String()
}
