package analyzer

import (
	"math"

	"contentguard/internal/domain"
)

// Combine merges the local result with the optional remote one. Without a
// remote opinion the local result stands. Agreement averages the two
// confidences. Disagreement always resolves to HARMFUL with the lower of the
// two confidences.
func Combine(local domain.Result, remote *domain.Result) domain.Verdict {
	if remote == nil {
		return domain.VerdictOf(local)
	}
	if local.Label == remote.Label {
		return domain.Verdict{
			Label:      local.Label,
			Confidence: (local.Confidence + remote.Confidence) / 2,
		}
	}
	return domain.Verdict{
		Label:      domain.LabelHarmful,
		Confidence: math.Min(local.Confidence, remote.Confidence),
	}
}
