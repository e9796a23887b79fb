package reaction

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Policy thresholds passed to the external classifier as advisory
// guidance. They shape the request only; the classifier is an opaque
// service and the orchestrator cannot verify compliance post hoc.
const (
	// highWPS is the words-per-second rate above which the prompt asks
	// for a "slow" reaction.
	highWPS = 5

	// highFillers is the per-utterance filler count above which the
	// prompt asks for a "confused" reaction.
	highFillers = 4

	// changeRatePercent asks the classifier to switch away from the
	// current emotion only a minority of the time, to keep the avatar
	// from flickering between reactions.
	changeRatePercent = 40
)

// BuildPrompt renders the classification prompt for one utterance: the
// label vocabulary, the advisory policy lines, the serialised
// participant context, and the utterance text itself.
func BuildPrompt(text string, pc Context) (string, error) {
	pc.Version = ContextVersion
	ctxJSON, err := json.MarshalIndent(pc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("reaction: marshal context: %w", err)
	}

	labels := make([]string, len(Labels))
	for i, l := range Labels {
		labels[i] = string(l)
	}

	var b strings.Builder
	b.WriteString("Analyze the emotion of the following speech given the speaker's profile.\n\n")
	fmt.Fprintf(&b, "Profile:\n%s\n\n", ctxJSON)
	fmt.Fprintf(&b, "Text: %q\n\n", text)
	b.WriteString("Guidance:\n")
	fmt.Fprintf(&b, "- Prefer %q when words_per_second is %d or higher.\n", LabelSlow, highWPS)
	fmt.Fprintf(&b, "- Prefer %q when filler_words is %d or higher.\n", LabelConfused, highFillers)
	fmt.Fprintf(&b, "- Change the emotion away from current_emotion only about %d%% of the time.\n\n", changeRatePercent)
	fmt.Fprintf(&b, "Respond with one word only from: %s.", strings.Join(labels, ", "))
	return b.String(), nil
}
