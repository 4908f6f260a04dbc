package localmodel

import (
	"context"
	"errors"
	"log/slog"

	"contentguard/internal/domain"
)

// Classifier wraps a loaded Model. It is safe for concurrent use.
type Classifier struct {
	model  Model
	logger *slog.Logger
}

func NewClassifier(model Model, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Classifier{model: model, logger: logger}
}

// Classify labels text HARMFUL when the harmful class is strictly the more
// probable one. Confidence is always the harmful-class probability.
func (c *Classifier) Classify(ctx context.Context, text string) (domain.Result, error) {
	if c == nil || c.model == nil {
		return domain.Result{}, errors.New("local model not loaded")
	}

	probs, err := c.model.Probabilities(ctx, text)
	if err != nil {
		return domain.Result{}, err
	}
	h := c.model.HarmfulIndex()
	pHarmful, pSafe := probs[h], probs[1-h]

	label := domain.LabelSafe
	if pHarmful > pSafe {
		label = domain.LabelHarmful
	}
	c.logger.Debug("local classification", "runtime", c.model.Runtime(), "p_harmful", pHarmful, "label", label)
	return domain.Result{Label: label, Confidence: pHarmful}, nil
}
