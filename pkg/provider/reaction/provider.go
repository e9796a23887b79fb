// Package reaction defines the reaction classifier boundary: the closed
// emotion/animation label set, the versioned participant context that is
// serialised for the external classifier, and the Adapter that turns an
// unreliable remote classifier into a call that always yields a valid
// label within a bounded time.
//
// Classifier backends (any-llm, openai) live in subpackages and return
// the raw model response; all normalisation, timeout handling, and
// fallback behaviour is the Adapter's job so that no caller ever sees a
// label outside the known set.
package reaction

import "context"

// ContextVersion is the schema version of [Context]. Bump it when the
// serialised shape changes so the external classifier prompt can be
// kept in step.
const ContextVersion = 1

// Context is an immutable snapshot of a participant's profile taken at
// classification time. It is the typed contract serialised into the
// classifier prompt — never a free-form map.
type Context struct {
	Version                int               `json:"version"`
	Identity               string            `json:"identity"`
	Profession             string            `json:"profession"`
	Memory                 map[string]string `json:"memory,omitempty"`
	ComprehensionThreshold float64           `json:"comprehension_threshold"`
	WordsPerSecond         int               `json:"words_per_second"`
	FillerWords            int               `json:"filler_words"`
	Interest               float64           `json:"interest"`
	Confidence             float64           `json:"confidence"`
	CurrentEmotion         Label             `json:"current_emotion"`
}

// Classifier is the abstraction over an external reaction classifier.
//
// Classify sends the utterance text plus the participant context and
// returns the raw label text produced by the service. Implementations
// must respect ctx cancellation; they do not need to validate the
// response against the label set — the [Adapter] does that.
//
// Implementations must be safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, text string, pc Context) (string, error)
}
