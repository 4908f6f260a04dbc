package domain

import (
	"fmt"
	"time"
)

type Label string

const (
	LabelSafe    Label = "SAFE"
	LabelHarmful Label = "HARMFUL"
)

func (l Label) Valid() bool {
	return l == LabelSafe || l == LabelHarmful
}

// Flag returns the 0/1 encoding used by the legacy result shape.
func (l Label) Flag() int {
	if l == LabelHarmful {
		return 1
	}
	return 0
}

func ParseLabel(s string) (Label, error) {
	switch Label(s) {
	case LabelSafe, LabelHarmful:
		return Label(s), nil
	default:
		return "", fmt.Errorf("unknown label %q", s)
	}
}

// Result is a single classifier's opinion. Confidence is the probability of
// HARMFUL for the local model and a fixed placeholder for the remote model.
type Result struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Verdict is the combined result handed back to callers.
type Verdict struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
}

func VerdictOf(r Result) Verdict {
	return Verdict{Label: r.Label, Confidence: r.Confidence}
}

func (v Verdict) Harmful() bool {
	return v.Label == LabelHarmful
}

// LegacyResult keeps the flat shape older consumers parse.
type LegacyResult struct {
	BertProbability float64 `json:"bert_probability"`
	BertPrediction  int     `json:"bert_prediction"`
	GeminiDecision  int     `json:"gemini_decision"`
	FinalVerdict    int     `json:"final_verdict"`
}

type Analysis struct {
	ID             string        `json:"id"`
	Text           string        `json:"text"`
	Local          Result        `json:"local"`
	Remote         *Result       `json:"remote"`
	Verdict        Verdict       `json:"verdict"`
	RemoteProvider string        `json:"remote_provider,omitempty"`
	Duration       time.Duration `json:"duration_ns"`
	CreatedAt      time.Time     `json:"created_at"`
}

func (a Analysis) Legacy() LegacyResult {
	out := LegacyResult{
		BertProbability: a.Local.Confidence,
		BertPrediction:  a.Local.Label.Flag(),
		FinalVerdict:    a.Verdict.Label.Flag(),
	}
	if a.Remote != nil {
		out.GeminiDecision = a.Remote.Label.Flag()
	}
	return out
}

type AnalysisStats struct {
	Total             int     `json:"total"`
	Harmful           int     `json:"harmful"`
	Safe              int     `json:"safe"`
	RemoteUnavailable int     `json:"remote_unavailable"`
	Disagreements     int     `json:"disagreements"`
	AvgConfidence     float64 `json:"avg_confidence"`
}
