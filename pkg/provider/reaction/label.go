package reaction

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Label is one of the closed set of emotion/animation labels the
// frontend avatar understands. Any value outside this set is rejected
// at the adapter boundary, never downstream.
type Label string

const (
	LabelIdle        Label = "idle"
	LabelQuestion    Label = "question"
	LabelNodding     Label = "nodding"
	LabelShakingHead Label = "shaking_head"
	LabelExcited     Label = "excited"
	LabelThinking    Label = "thinking"
	LabelConfused    Label = "confused"
	LabelSpeaking    Label = "speaking"
	LabelSlow        Label = "slow"
)

// FallbackLabel is returned whenever classification fails, times out,
// or produces something outside the known set.
const FallbackLabel = LabelSpeaking

// Labels lists every valid label in a stable order.
var Labels = []Label{
	LabelIdle,
	LabelQuestion,
	LabelNodding,
	LabelShakingHead,
	LabelExcited,
	LabelThinking,
	LabelConfused,
	LabelSpeaking,
	LabelSlow,
}

// IsValid reports whether l is a member of the closed label set.
func (l Label) IsValid() bool {
	for _, known := range Labels {
		if l == known {
			return true
		}
	}
	return false
}

// maxEditDistance is the largest Levenshtein distance at which a raw
// classifier response is still snapped to a known label.
const maxEditDistance = 2

// Normalize maps a raw classifier response onto the closed label set.
// The raw text is lowercased, trimmed of surrounding punctuation, and
// spaces are folded to underscores. Exact matches win; otherwise a
// prefix match ("slow down" → slow) or a near match by Levenshtein
// distance ("noding" → nodding) is accepted. The second return value
// is false when no known label is close enough.
func Normalize(raw string) (Label, bool) {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	cleaned = strings.Trim(cleaned, `."'!?,`)
	cleaned = strings.ReplaceAll(cleaned, " ", "_")
	if cleaned == "" {
		return "", false
	}

	if l := Label(cleaned); l.IsValid() {
		return l, true
	}

	for _, known := range Labels {
		if strings.HasPrefix(cleaned, string(known)) {
			return known, true
		}
	}

	best := Label("")
	bestDist := maxEditDistance + 1
	for _, known := range Labels {
		if d := matchr.Levenshtein(cleaned, string(known)); d < bestDist {
			best = known
			bestDist = d
		}
	}
	if bestDist <= maxEditDistance {
		return best, true
	}
	return "", false
}
